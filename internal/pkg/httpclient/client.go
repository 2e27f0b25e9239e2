package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps resty for HTTP calls to the downstream content and
// analytics services. Retry policy lives with the caller, not here.
type Client struct {
	r *resty.Client
}

// Response carries the body together with the status code so callers
// can classify failures.
type Response struct {
	StatusCode int
	Body       []byte
}

// New creates a new HTTP client with sensible defaults.
func New() *Client {
	r := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(0)

	return &Client{r: r}
}

// WithTimeout sets a custom timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.r.SetTimeout(d)
	return c
}

// WithBearerToken sets a bearer token for authentication.
func (c *Client) WithBearerToken(token string) *Client {
	c.r.SetAuthToken(token)
	return c
}

// WithHeader sets a custom header.
func (c *Client) WithHeader(key, value string) *Client {
	c.r.SetHeader(key, value)
	return c
}

// WithBaseURL sets the base URL prepended to request paths.
func (c *Client) WithBaseURL(url string) *Client {
	c.r.SetBaseURL(url)
	return c
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	resp, err := c.r.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	return wrap(resp), nil
}

// Post sends a POST request with JSON body.
func (c *Client) Post(ctx context.Context, url string, body interface{}) (*Response, error) {
	req := c.r.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(url)
	if err != nil {
		return nil, err
	}
	return wrap(resp), nil
}

// Put sends a PUT request with JSON body.
func (c *Client) Put(ctx context.Context, url string, body interface{}) (*Response, error) {
	resp, err := c.r.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Put(url)
	if err != nil {
		return nil, err
	}
	return wrap(resp), nil
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, url string) (*Response, error) {
	resp, err := c.r.R().SetContext(ctx).Delete(url)
	if err != nil {
		return nil, err
	}
	return wrap(resp), nil
}

func wrap(resp *resty.Response) *Response {
	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}
