package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Default returns the shared client used by HTTP reputation sources and
// webhook notifiers. Timeouts are deliberately tight: a slow feed must never
// stall an assessment beyond its per-source budget.
func Default() *http.Client {
	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: 15 * time.Second}
}
