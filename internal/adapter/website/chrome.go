package website

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// settleDelay gives client-side calendar widgets time to render after load.
const settleDelay = 1500 * time.Millisecond

// ChromeFetcher renders pages in headless Chromium so calendars built by
// JavaScript are visible to the scraper. One browser process is shared by
// all fetches; each fetch opens its own tab.
type ChromeFetcher struct {
	browserCtx context.Context
	cancel     context.CancelFunc
	timeout    time.Duration
}

// NewChromeFetcher starts a headless browser bound to ctx. Call Close to
// stop it.
func NewChromeFetcher(ctx context.Context, timeout time.Duration) (*ChromeFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(UserAgent),
		chromedp.WindowSize(1280, 1600),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the browser now so a missing Chromium fails at startup.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start headless browser: %w", err)
	}

	return &ChromeFetcher{
		browserCtx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
		timeout: timeout,
	}, nil
}

// Fetch navigates a new tab to pageURL and returns the rendered document.
func (f *ChromeFetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.timeout)
	defer cancelTimeout()

	// Propagate caller cancellation into the tab.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html, location string
	tasks := chromedp.Tasks{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		if ctx.Err() != nil {
			return Page{}, fmt.Errorf("render %s: %w", pageURL, ctx.Err())
		}
		return Page{}, fmt.Errorf("render %s: %w", pageURL, err)
	}
	return Page{URL: location, HTML: html}, nil
}

// Close stops the browser.
func (f *ChromeFetcher) Close() error {
	f.cancel()
	return nil
}
