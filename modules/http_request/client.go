package http_request

import (
	"net/http"
	"time"
)

// NewClient returns the pooled *http.Client shared by every http node of the
// process. Per-request deadlines come from the node's context, so the client
// itself carries no timeout.
func NewClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// CloseClient gracefully closes any idle connections of a client created by
// NewClient.
func CloseClient(client *http.Client) {
	if client != nil {
		client.CloseIdleConnections()
	}
}
