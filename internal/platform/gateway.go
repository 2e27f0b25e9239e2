// Package platform implements the executors that carry subtasks to the
// downstream content, approval and analytics services.
package platform

import (
	"fmt"
	"net/http"
	"time"

	"thrivesend/internal/engine"
	"thrivesend/internal/pkg/httpclient"
)

// Gateway is the shared HTTP surface of the downstream platform. All
// executors go through it so auth, timeouts and failure classification
// live in one place.
type Gateway struct {
	client *httpclient.Client
}

// NewGateway builds a gateway for the platform at baseURL.
func NewGateway(baseURL, apiKey string, timeout time.Duration) *Gateway {
	c := httpclient.New().WithBaseURL(baseURL)
	if apiKey != "" {
		c = c.WithBearerToken(apiKey)
	}
	if timeout > 0 {
		c = c.WithTimeout(timeout)
	}
	return &Gateway{client: c}
}

// classify converts an HTTP response into the execution error taxonomy:
// 429 and 5xx are transient, any other non-2xx is permanent.
func classify(resp *httpclient.Response, action string) error {
	if resp.OK() {
		return nil
	}
	err := fmt.Errorf("%s: downstream returned %d: %s", action, resp.StatusCode, truncBody(resp.Body))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return engine.Retryable(err)
	}
	return engine.Terminal(err)
}

func truncBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
