package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/handiism/podcatcher/internal/transport"
)

// Common errors.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
)

// Options configures the HTTP client.
type Options struct {
	// UserAgent is sent with every request.
	// Default: "podcatcher"
	UserAgent string

	// Timeout bounds connection setup and response headers. Bodies are
	// streamed without a deadline so that long episodes are not cut off.
	// Default: 60s
	Timeout time.Duration

	// RetryAttempts is the number of retries for failed requests.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 500ms
	RetryBackoff time.Duration

	// RetryMaxBackoff caps the backoff duration.
	// Default: 10s
	RetryMaxBackoff time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		UserAgent:       "podcatcher",
		Timeout:         60 * time.Second,
		RetryAttempts:   3,
		RetryBackoff:    500 * time.Millisecond,
		RetryMaxBackoff: 10 * time.Second,
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	Size          int64
	AcceptsRanges bool
	ContentType   string
	LastModified  time.Time
}

// Client wraps HTTP operations for episode downloads.
//
// Client provides:
//   - Configured User-Agent header
//   - Retries with exponential backoff and jitter for connection errors and 5xx
//   - Resumable streaming via Range requests (implements transport.Transport)
//   - File size and modification time retrieval via HEAD requests
//
// Example usage:
//
//	client := NewClient(DefaultOptions())
//
//	// Resume an episode from byte 1024
//	stream, err := client.OpenStream(ctx, "https://cdn.example.com/ep.mp3", 1024)
//	defer stream.Body.Close()
type Client struct {
	httpClient *http.Client
	opts       Options
}

var _ transport.Transport = (*Client)(nil)

// NewClient creates a new HTTP client with the given options. Zero values
// are replaced by DefaultOptions.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = def.RetryMaxBackoff
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = opts.Timeout
	tr.DisableCompression = true // byte offsets must refer to the raw file

	return &Client{
		httpClient: &http.Client{Transport: tr},
		opts:       opts,
	}
}

// Register installs the client as the transport for http and https.
func (c *Client) Register(reg *transport.Registry) {
	reg.Register(c, "http", "https")
}

// OpenStream starts a GET request for uri beginning at offset.
//
// When offset is positive a Range header is sent. A 206 response yields a
// stream starting at offset whose ContentLength is the full resource length
// taken from Content-Range. A 200 response means the server ignored the
// range; the stream then starts at 0 and the caller must rewrite its file.
//
// The caller must close Stream.Body.
func (c *Client) OpenStream(ctx context.Context, uri string, offset int64) (*transport.Stream, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := c.newRequest(ctx, http.MethodGet, uri)
		if err != nil {
			return nil, err
		}
		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: %s", ErrServerError, resp.Status)
			continue
		}

		stream, err := streamFromResponse(resp, offset)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		return stream, nil
	}

	return nil, fmt.Errorf("open stream failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

func streamFromResponse(resp *http.Response, offset int64) (*transport.Stream, error) {
	stream := &transport.Stream{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		MimeType:      resp.Header.Get("Content-Type"),
		LastModified:  parseLastModified(resp.Header),
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, err
		}
		stream.Offset = start
		stream.ContentLength = total
		if total < 0 && resp.ContentLength >= 0 {
			stream.ContentLength = start + resp.ContentLength
		}
		return stream, nil

	case http.StatusRequestedRangeNotSatisfiable:
		// The whole file is already on disk: Content-Range carries "*/total".
		total := int64(-1)
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if n, err := strconv.ParseInt(strings.TrimPrefix(cr, "bytes */"), 10, 64); err == nil {
				total = n
			}
		}
		if total != offset {
			return nil, fmt.Errorf("http: range %d not satisfiable (length %d)", offset, total)
		}
		resp.Body.Close()
		stream.Body = io.NopCloser(strings.NewReader(""))
		stream.Offset = offset
		stream.ContentLength = total
		return stream, nil
	}

	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, err
	}
	stream.Offset = 0
	return stream, nil
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, uri string) (*FileInfo, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := c.newRequest(ctx, http.MethodHead, uri)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%w: %s", ErrServerError, resp.Status)
			continue
		}

		if err := checkStatusCode(resp.StatusCode); err != nil {
			return nil, err
		}

		return &FileInfo{
			Size:          resp.ContentLength,
			AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
			ContentType:   resp.Header.Get("Content-Type"),
			LastModified:  parseLastModified(resp.Header),
		}, nil
	}

	return nil, fmt.Errorf("head request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// GetFileSize returns the size of a file at the given URL via HEAD request.
//
// Returns an error if the server doesn't return a Content-Length header.
func (c *Client) GetFileSize(ctx context.Context, uri string) (int64, error) {
	info, err := c.Head(ctx, uri)
	if err != nil {
		return 0, err
	}
	if info.Size < 0 {
		return 0, fmt.Errorf("no Content-Length header for %s", uri)
	}
	return info.Size, nil
}

// GetBytes downloads a small resource, such as episode artwork, into memory.
func (c *Client) GetBytes(ctx context.Context, uri string) ([]byte, error) {
	stream, err := c.OpenStream(ctx, uri, 0)
	if err != nil {
		return nil, err
	}
	defer stream.Body.Close()
	return io.ReadAll(stream.Body)
}

func (c *Client) newRequest(ctx context.Context, method, uri string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	return req, nil
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

func parseLastModified(h http.Header) time.Time {
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			return t
		}
	}
	return time.Time{}
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total is -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
