package http

import "time"

type HttpOpts func(*clientConfig)

func WithConnClientTimeout(timeout time.Duration) HttpOpts {
	return func(c *clientConfig) {
		c.dialTimeout = timeout
	}
}

// WithRequestTimeout bounds a whole exchange including reading the body.
// Zero leaves only the context deadline in charge.
func WithRequestTimeout(timeout time.Duration) HttpOpts {
	return func(c *clientConfig) {
		c.requestTimeout = timeout
	}
}

// WithStreaming drops the whole-exchange timeout so that token streams are
// limited by the caller's context instead of being cut mid-answer.
func WithStreaming() HttpOpts {
	return WithRequestTimeout(0)
}

func WithClientKeepAlive(keepAlive time.Duration) HttpOpts {
	return func(c *clientConfig) {
		c.keepAlive = keepAlive
	}
}

func WithResponseHeaderTimeout(timeout time.Duration) HttpOpts {
	return func(c *clientConfig) {
		c.responseHeaderTimeout = timeout
	}
}

func WithIdleConnTimeout(timeout time.Duration) HttpOpts {
	return func(c *clientConfig) {
		c.idleConnTimeout = timeout
	}
}

func WithMaxIdleConnsPerHost(n int) HttpOpts {
	return func(c *clientConfig) {
		c.maxIdleConnsPerHost = n
	}
}

func WithTransport(transport TransportFunc) HttpOpts {
	return func(c *clientConfig) {
		c.transports = append(c.transports, transport)
	}
}
