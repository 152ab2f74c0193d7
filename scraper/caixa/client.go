package caixa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"imovel-scraper/config"
	"imovel-scraper/utils"
)

// ErrRateLimited is returned when the scraping rate gate denies a fetch.
var ErrRateLimited = errors.New("caixa: scraping rate limit reached")

// FetchError is a failed fetch: either a transport error or a non-2xx status.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Page is a fetched document.
type Page struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// HTML returns the body decoded to UTF-8 using the declared or sniffed charset.
func (p *Page) HTML() (string, error) {
	r, err := charset.NewReader(bytes.NewReader(p.Body), p.ContentType)
	if err != nil {
		return string(p.Body), nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("caixa: decode %s: %w", p.URL, err)
	}
	return string(b), nil
}

// Fetcher performs a single fetch attempt. Retries are the caller's job.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Client fetches pages over plain HTTP with browser-like headers.
type Client struct {
	http    *http.Client
	headers http.Header
	limiter *rate.Limiter
	logger  *utils.Logger
}

// NewClient creates a Client. Requests are spaced by RateLimitMs and each
// one is bounded by FetchTimeout.
func NewClient(cfg *config.Config, logger *utils.Logger) *Client {
	limit := rate.Inf
	if cfg.RateLimitMs > 0 {
		limit = rate.Every(time.Duration(cfg.RateLimitMs) * time.Millisecond)
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.FetchTimeout},
		headers: DefaultHeaders(cfg.UserAgent, cfg.BaseURL),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// DefaultHeaders are the browser headers sent with every request.
func DefaultHeaders(userAgent, referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

// Fetch performs one GET with the default headers.
func (c *Client) Fetch(ctx context.Context, url string) (*Page, error) {
	return c.FetchWithHeaders(ctx, url, nil)
}

// FetchWithHeaders performs one GET; extra headers override the defaults.
func (c *Client) FetchWithHeaders(ctx context.Context, url string, extra http.Header) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header = c.headers.Clone()
	for k, v := range extra {
		req.Header[k] = v
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	c.logger.Debug("[caixa] GET %s -> %d (%d bytes, %v)", url, resp.StatusCode, len(body), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: url, Status: resp.StatusCode}
	}

	return &Page{
		URL:         url,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
