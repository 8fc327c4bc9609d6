package utils

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient returns a pooled client. A nil wrap keeps the default
// transport; otherwise wrap decorates it (request logging, tracing).
func NewHTTPClient(timeout time.Duration, wrap ...func(http.RoundTripper) http.RoundTripper) *http.Client {
	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	for _, w := range wrap {
		if w != nil {
			transport = w(transport)
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
