package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"ouilookup/internal/log"
)

// Client defines the interface for a source of a single registry file.
type Client interface {
	// Fetch opens the remote file. The caller must close the returned body.
	Fetch(ctx context.Context) (io.ReadCloser, error)

	// Stats returns historical client stats.
	Stats() Stats

	// String describes the source for logging and error reporting.
	String() string
}

// Stats formalizes stats tracked per-client.
type Stats struct {
	// SuccessfulFetches is the number of times the client has successfully opened its file.
	SuccessfulFetches int
	// FailedFetches is the number of times the client has failed to open its file.
	FailedFetches int
}

// HTTPClient downloads a file from a single URL, retrying transient failures.
type HTTPClient struct {
	url        string
	client     *retryablehttp.Client
	stats      Stats
	statsMutex sync.RWMutex
}

// HTTPClientOpts formalizes HTTP client configuration options.
type HTTPClientOpts struct {
	// Timeout bounds each individual request attempt, including reading the body.
	Timeout time.Duration
	// MaxRetries is the number of times a failed request is retried before giving up.
	MaxRetries int
	// RetryWaitMin and RetryWaitMax bound the backoff between retries.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Logger receives the retry log lines of the underlying client.
	Logger log.Logger
}

// NewHTTPClient creates a client downloading from url.
func NewHTTPClient(url string, opts HTTPClientOpts) *HTTPClient {
	// Sane option defaults
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = time.Second
	}

	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = 30 * time.Second
	}

	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = opts.Timeout
	client.RetryMax = opts.MaxRetries
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.Logger = NewLeveledLogger(opts.Logger)

	return &HTTPClient{url: url, client: client}
}

// Fetch issues a GET request for the file. Any status other than 200 is an error.
func (c *HTTPClient) Fetch(ctx context.Context) (io.ReadCloser, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("client: error creating request: url=%s err=%v", c.url, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("client: error downloading file: url=%s err=%w", c.url, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.recordFailure()
		return nil, fmt.Errorf("client: unexpected response status: url=%s status=%d", c.url, resp.StatusCode)
	}

	c.statsMutex.Lock()
	c.stats.SuccessfulFetches++
	c.statsMutex.Unlock()

	return resp.Body, nil
}

// Stats returns the client's fetch stats.
func (c *HTTPClient) Stats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()

	return c.stats
}

// String returns the client's URL.
func (c *HTTPClient) String() string {
	return c.url
}

func (c *HTTPClient) recordFailure() {
	c.statsMutex.Lock()
	c.stats.FailedFetches++
	c.statsMutex.Unlock()
}
