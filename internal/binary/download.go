package binary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "kryer-install/dev"
)

const (
	maxJSONBody  = 10 << 20 // release metadata responses
	maxRedirects = 10
)

// RetryPolicy bounds retries of transient fetch failures: transport errors,
// 5xx and 429 responses. The zero value and the default make one attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy makes a single attempt.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: 8 * time.Second}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// backoff returns the delay before attempt n (n >= 1): 1x, 2x, 4x BaseDelay,
// capped at MaxDelay.
func (p RetryPolicy) backoff(n int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(n-1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Client fetches release metadata and assets over HTTP.
type Client struct {
	http      *http.Client
	userAgent string
	token     string
	apiHost   string
	retry     RetryPolicy
	log       Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithUserAgent sets the identifying User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithToken sends token as a bearer credential to apiHost only. Asset
// downloads that redirect to object storage never carry it.
func WithToken(token, apiURL string) ClientOption {
	return func(c *Client) {
		c.token = token
		if u, err := url.Parse(apiURL); err == nil {
			c.apiHost = u.Host
		}
	}
}

// WithRetryPolicy enables retries of transient failures.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient creates a client with a single-attempt retry policy.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: DefaultUserAgent,
		retry:     DefaultRetryPolicy,
		log:       noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchJSON GETs url and decodes the JSON body into v.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, v any) error {
	return c.fetchJSON(ctx, rawURL, nil, v)
}

// fetchJSON validates the body against schema, when given, before decoding.
func (c *Client) fetchJSON(ctx context.Context, rawURL string, schema *jsonschema.Schema, v any) error {
	var body []byte
	err := c.withRetry(ctx, "fetch json", rawURL, func() error {
		resp, err := c.get(ctx, rawURL, true)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxJSONBody+1))
		if err != nil {
			return &Error{Kind: KindNetwork, Op: "read response", URL: rawURL, Err: err}
		}
		if len(body) > maxJSONBody {
			return &Error{Kind: KindParse, Op: "read response", URL: rawURL, Err: fmt.Errorf("body exceeds %d bytes", maxJSONBody)}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if schema != nil {
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
		if err != nil {
			return &Error{Kind: KindParse, Op: "decode json", URL: rawURL, Err: err}
		}
		if err := schema.Validate(inst); err != nil {
			return &Error{Kind: KindParse, Op: "validate json", URL: rawURL, Err: err}
		}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return &Error{Kind: KindParse, Op: "decode json", URL: rawURL, Err: err}
	}
	return nil
}

// FetchToFile streams url into destPath through a ".part" sibling that is
// renamed into place on success and removed on failure. It returns the number
// of bytes written.
func (c *Client) FetchToFile(ctx context.Context, rawURL, destPath string) (int64, error) {
	var written int64
	err := c.withRetry(ctx, "download", rawURL, func() error {
		n, err := c.downloadOnce(ctx, rawURL, destPath)
		written = n
		return err
	})
	return written, err
}

// downloadOnce performs a single download attempt
func (c *Client) downloadOnce(ctx context.Context, rawURL, destPath string) (int64, error) {
	resp, err := c.get(ctx, rawURL, false)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return 0, &Error{Kind: KindPath, Op: "create dest dir", Path: destPath, Err: err}
	}

	tmpPath := destPath + ".part"
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, &Error{Kind: KindPermission, Op: "create temp file", Path: tmpPath, Err: err}
	}

	// Track whether we need to clean up the temp file
	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	buf := make([]byte, chunkSize)
	n, err := io.CopyBuffer(tmpFile, resp.Body, buf)
	if err != nil {
		if ctx.Err() != nil {
			return n, cancelled("download", ctx.Err())
		}
		return n, &Error{Kind: KindNetwork, Op: "download", URL: rawURL, Err: err}
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, &Error{Kind: KindNetwork, Op: "download", URL: rawURL,
			Err: fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)}
	}

	if err := tmpFile.Close(); err != nil {
		return n, &Error{Kind: KindPath, Op: "close temp file", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return n, &Error{Kind: KindPath, Op: "rename temp file", Path: destPath, Err: err}
	}

	cleanupNeeded = false
	return n, nil
}

// get issues a GET and returns the response only for 2xx statuses.
func (c *Client) get(ctx context.Context, rawURL string, api bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: "create request", URL: rawURL, Err: err}
	}

	req.Header.Set("User-Agent", c.userAgent)
	if api {
		req.Header.Set("Accept", "application/vnd.github+json")
	} else {
		req.Header.Set("Accept", "application/octet-stream")
	}
	if c.token != "" && req.URL.Host == c.apiHost {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug("http request", "method", req.Method, "url", rawURL)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled("fetch", ctx.Err())
		}
		return nil, &Error{Kind: KindNetwork, Op: "execute request", URL: rawURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &Error{Kind: KindNetwork, Op: "fetch", URL: rawURL,
			Err: &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}}
	}
	return resp, nil
}

// withRetry runs fn up to the policy's attempt count, sleeping between
// attempts unless ctx is cancelled.
func (c *Client) withRetry(ctx context.Context, op, rawURL string, fn func() error) error {
	attempts := c.retry.attempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return cancelled(op, ctx.Err())
		}

		if attempt > 0 {
			backoff := c.retry.backoff(attempt)
			c.log.Warn("retrying", "op", op, "url", rawURL, "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return cancelled(op, ctx.Err())
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			return err
		}
	}

	if attempts > 1 {
		return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
	}
	return lastErr
}

// isTransient reports whether err is worth retrying.
func isTransient(err error) bool {
	if IsCancelled(err) {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.StatusCode >= 500 || status.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
