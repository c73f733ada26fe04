package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Payload is the result of a single upstream GET. Exactly one of Body and
// Stream is set: plain responses are materialized into Body, gzipped ones
// are returned as a Stream that decompresses on demand so oversized guides
// never have to fit in memory at once.
type Payload struct {
	Body    []byte
	Stream  io.ReadCloser
	Gzipped bool
}

// Close releases the underlying response body when the payload is streamed.
func (p *Payload) Close() error {
	if p.Stream != nil {
		return p.Stream.Close()
	}
	return nil
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// IsTimeout reports whether err stems from an exceeded deadline, either the
// client timeout or the request context.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Client performs upstream playlist and guide fetches. No retries happen at
// this layer; the orchestrator records per-URL failures instead.
type Client struct {
	http      *http.Client
	userAgent string
}

// New returns a Client with the given User-Agent and per-request timeout.
func New(userAgent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			// Gzip is handled explicitly below so that the extension and
			// Content-Type rules stay observable.
			Transport: &http.Transport{DisableCompression: true},
		},
		userAgent: userAgent,
	}
}

// Fetch performs one GET against rawURL. A response is treated as gzipped
// iff the URL path ends in ".gz" or the Content-Type mentions gzip; in that
// case the caller receives a decompressing stream and must Close it.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Do: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	if isGzipped(rawURL, resp.Header.Get("Content-Type")) {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return &Payload{Stream: &gzipStream{gz: gz, body: resp.Body}, Gzipped: true}, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ReadAll: %w", err)
	}
	return &Payload{Body: body}, nil
}

func isGzipped(rawURL, contentType string) bool {
	if u, err := url.Parse(rawURL); err == nil && strings.HasSuffix(u.Path, ".gz") {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "gzip") || strings.Contains(ct, "application/x-gzip")
}

// gzipStream closes both the decompressor and the response body.
type gzipStream struct {
	gz   *gzip.Reader
	body io.Closer
}

func (g *gzipStream) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipStream) Close() error {
	err := g.gz.Close()
	if cerr := g.body.Close(); err == nil {
		err = cerr
	}
	return err
}
