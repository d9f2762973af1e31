package common

import (
	"net/http"

	"github.com/futig/rag-chat-backend/internal/config"
	pkgHTTP "github.com/futig/rag-chat-backend/pkg/http"
	"go.uber.org/zap"
)

const userAgent = "rag-chat-backend/1.0"

func httpOptions(cfg config.HTTPClientConfig) []pkgHTTP.HttpOpts {
	return []pkgHTTP.HttpOpts{
		pkgHTTP.WithRequestTimeout(cfg.RequestTimeout),
		pkgHTTP.WithConnClientTimeout(cfg.ConnTimeout),
		pkgHTTP.WithClientKeepAlive(cfg.KeepAlive),
		pkgHTTP.WithIdleConnTimeout(cfg.IdleConnTimeout),
		pkgHTTP.WithResponseHeaderTimeout(cfg.ResponseHeaderTimeout),
		pkgHTTP.WithRequestLogging(),
		pkgHTTP.WithRequestID(),
		pkgHTTP.WithUserAgent(userAgent),
	}
}

// NewBaseConnector returns a JSON connector for the configured service. The
// token goes into AuthHeader when one is configured, bearer auth otherwise.
func NewBaseConnector(cfg config.HTTPClientConfig, logger *zap.Logger) *pkgHTTP.Connector {
	connCfg := &pkgHTTP.ConnectorConfig{
		Logger:  logger,
		BaseURL: cfg.Url,
	}

	auth := pkgHTTP.WithAuthToken(cfg.Token)
	if cfg.AuthHeader != "" {
		auth = pkgHTTP.WithAPIKeyHeader(cfg.AuthHeader, cfg.Token)
	}
	return pkgHTTP.NewConnector(connCfg, append(httpOptions(cfg), auth)...)
}

// NewHTTPClient returns a client for SDKs that set their own auth headers.
func NewHTTPClient(cfg config.HTTPClientConfig, extra ...pkgHTTP.HttpOpts) *http.Client {
	return pkgHTTP.NewClient(append(httpOptions(cfg), extra...)...)
}
