// Package screenshot renders canvas pages with headless Chrome and stores
// the resulting thumbnails. It is the asynchronous producer behind the
// gallery's loading state.
package screenshot

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrChromeMissing is returned when no chromium binary is installed.
var ErrChromeMissing = errors.New("screenshot dependency missing")

// Capturer renders a page to an image.
type Capturer interface {
	Capture(ctx context.Context, url string) ([]byte, error)
}

// ChromeCapturer captures 1280x720 JPEG screenshots using headless Chrome.
type ChromeCapturer struct {
	timeout time.Duration
}

func NewChromeCapturer(timeout time.Duration) *ChromeCapturer {
	return &ChromeCapturer{timeout: timeout}
}

func (c *ChromeCapturer) Capture(ctx context.Context, url string) ([]byte, error) {
	if _, err := exec.LookPath("chromium-browser"); err != nil {
		if _, fallbackErr := exec.LookPath("chromium"); fallbackErr != nil {
			return nil, fmt.Errorf("%w: chromium not installed", ErrChromeMissing)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Chrome options for headless mode in container
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	var shot []byte
	err := chromedp.Run(taskCtx,
		chromedp.EmulateViewport(1280, 720),
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			shot, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(80).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome screenshot failed: %w", err)
	}
	return shot, nil
}
