package http

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"
)

// headerTransport sets a header on outgoing requests unless the caller has
// already set it.
type headerTransport struct {
	name      string
	value     func(*http.Request) string
	transport http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(t.name) != "" {
		return t.transport.RoundTrip(req)
	}
	v := t.value(req)
	if v == "" {
		return t.transport.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	clone.Header.Set(t.name, v)
	return t.transport.RoundTrip(clone)
}

func withHeader(name string, value func(*http.Request) string) HttpOpts {
	return WithTransport(func(rt http.RoundTripper) http.RoundTripper {
		return &headerTransport{name: name, value: value, transport: rt}
	})
}

// WithAuthToken sends token as a bearer credential.
func WithAuthToken(token string) HttpOpts {
	if token == "" {
		return func(*clientConfig) {}
	}
	return withHeader(HeaderAuthorization, func(*http.Request) string { return "Bearer " + token })
}

// WithAPIKeyHeader sends key verbatim in the named header, for services that
// do not speak bearer auth.
func WithAPIKeyHeader(header, key string) HttpOpts {
	if header == "" || key == "" {
		return func(*clientConfig) {}
	}
	return withHeader(header, func(*http.Request) string { return key })
}

// WithRequestID forwards the id of the inbound HTTP request so downstream
// logs can be joined with ours.
func WithRequestID() HttpOpts {
	return withHeader(HeaderRequestID, func(req *http.Request) string {
		return middleware.GetReqID(req.Context())
	})
}

// WithUserAgent identifies the backend to the services it calls.
func WithUserAgent(ua string) HttpOpts {
	return withHeader("User-Agent", func(*http.Request) string { return ua })
}
