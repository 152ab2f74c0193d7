package caixa

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"imovel-scraper/config"
	"imovel-scraper/utils"
)

// BrowserFetcher renders pages in headless Chrome. It is used when the
// detail pages need JavaScript to fill in their fields.
type BrowserFetcher struct {
	cfg    *config.Config
	logger *utils.Logger

	once        sync.Once
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	browserCtx  context.Context
	cancelTab   context.CancelFunc
	startErr    error
}

// NewBrowserFetcher creates a BrowserFetcher. The browser starts lazily on
// the first Fetch.
func NewBrowserFetcher(cfg *config.Config, logger *utils.Logger) *BrowserFetcher {
	return &BrowserFetcher{cfg: cfg, logger: logger}
}

func (b *BrowserFetcher) start() {
	chromeBin := b.cfg.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	b.logger.Info("[caixa] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(b.cfg.UserAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	b.allocCtx, b.cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.cancelTab = chromedp.NewContext(b.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	// an empty Run starts the browser so later tabs share it
	if err := chromedp.Run(b.browserCtx); err != nil {
		b.startErr = fmt.Errorf("chromedp: start browser: %w", err)
	}
}

// Fetch navigates to url in a fresh tab and returns the rendered document.
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	b.once.Do(b.start)
	if b.startErr != nil {
		return nil, &FetchError{URL: url, Err: b.startErr}
	}

	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	defer cancel()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.cfg.FetchTimeout)
	defer cancelTimeout()

	// stop the tab when the caller gives up
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("chromedp: %w", err)}
	}

	return &Page{
		URL:         url,
		Status:      200,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(html),
	}, nil
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() {
	if b.cancelTab != nil {
		b.cancelTab()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
}

// findChromeBinary locates a Chrome or Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	for _, p := range []string{"/usr/bin/chromium", "/snap/bin/chromium", "/opt/google/chrome/google-chrome"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// NewFetcher returns the fetcher selected by FETCH_MODE.
func NewFetcher(cfg *config.Config, logger *utils.Logger) Fetcher {
	if cfg.FetchMode == "browser" {
		return NewBrowserFetcher(cfg, logger)
	}
	return NewClient(cfg, logger)
}
