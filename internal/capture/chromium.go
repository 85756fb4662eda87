package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	appLog "smartcal/internal/log"
)

// Defaults match the print layout of the month page.
const (
	DefaultWidth   = 1280
	DefaultHeight  = 960
	DefaultTimeout = 30 * time.Second
)

// ReadySelector is set by the print page once the grid is rendered.
const ReadySelector = `[data-ready="true"]`

var ErrBusy = errors.New("capture: another capture is running")

type Options struct {
	Width   int
	Height  int
	Timeout time.Duration
	// ExecPath overrides the Chromium binary; empty lets chromedp find one.
	ExecPath string
}

// Capturer takes PNG screenshots of local pages with headless Chromium.
// Only one capture runs at a time.
type Capturer struct {
	opts Options
	mu   sync.Mutex
}

func New(opts Options) *Capturer {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Capturer{opts: opts}
}

func (c *Capturer) Options() Options {
	return c.opts
}

// PNG navigates to url, waits for ReadySelector and returns a full-page
// screenshot.
func (c *Capturer) PNG(parent context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("capture: URL is required")
	}
	if !c.mu.TryLock() {
		return nil, ErrBusy
	}
	defer c.mu.Unlock()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(c.opts.Width, c.opts.Height),
		chromedp.Flag("hide-scrollbars", true),
	)
	if c.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	defer cancelAlloc()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancelTimeout()

	started := time.Now()
	var png []byte
	err := chromedp.Run(ctx,
		chromedp.EmulateViewport(int64(c.opts.Width), int64(c.opts.Height)),
		chromedp.Navigate(url),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// 폰트 렌더링이 끝날 시간을 조금 준다
		chromedp.Sleep(300*time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	appLog.Debug("capture done", "url", url, "bytes", len(png), "took", time.Since(started).String())
	return png, nil
}
