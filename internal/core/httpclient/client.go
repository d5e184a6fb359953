// Package httpclient configures the HTTP client used to call the raster
// statistics service.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound returns a pooled client tuned for many small valuecount
// requests against a single upstream. The generous timeout covers pixel
// counting over large areas.
func NewOutbound() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   120 * time.Second,
	}
}
