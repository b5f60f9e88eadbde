package upload

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	clientsMu sync.Mutex
	clients   = map[time.Duration]*http.Client{}
)

// SharedHTTPClient returns the pooled HTTP client for upload and
// reachability traffic with the given timeout. Uploads and HEAD checks hit
// the same host, so every caller asking for the same timeout shares one
// client and its connection pool.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientsMu.Lock()
	defer clientsMu.Unlock()
	if c, ok := clients[timeout]; ok {
		return c
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	c := &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
	clients[timeout] = c
	return c
}
