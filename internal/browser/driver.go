// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mockroute/internal/config"
	"github.com/xkilldash9x/mockroute/internal/router"
)

// ErrUnknownBackend is returned by Launch for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown browser backend")

// Driver controls a single page inside a single browser context. Every method
// blocks until it succeeds or the context's deadline passes.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// WaitForURL blocks until the page URL matches pattern, a router glob.
	WaitForURL(ctx context.Context, pattern string) error
	// WaitForText blocks until text is rendered visibly on the page.
	WaitForText(ctx context.Context, text string) error
	Screenshot(ctx context.Context, path string, fullPage bool) error
	CurrentURL(ctx context.Context) (string, error)
	// Close terminates the browser. It is safe to call more than once.
	Close() error
}

// Options wires a driver to the rest of the harness.
type Options struct {
	// Router answers intercepted requests. Nil disables interception.
	Router *router.Router
	// ProxyServer routes browser traffic through a forward proxy, which then
	// owns interception.
	ProxyServer string
}

// Launch starts the configured backend.
func Launch(ctx context.Context, cfg config.BrowserConfig, opts Options, logger *zap.Logger) (Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Backend) {
	case "", config.BackendChromedp:
		return NewChromeDriver(ctx, cfg, opts, logger)
	case config.BackendPlaywright:
		return NewPlaywrightDriver(ctx, cfg, opts, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// pollInterval is how often the chromedp backend re-checks wait conditions.
const pollInterval = 100 * time.Millisecond

// poll runs check until it reports true or ctx expires. Check errors are
// treated as transient, since evaluation fails while a navigation swaps the
// document out, unless wrapped with stopPolling.
func poll(ctx context.Context, check func(context.Context) (bool, error)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		ok, err := check(ctx)
		var stop *stopError
		switch {
		case errors.As(err, &stop):
			return stop.err
		case err != nil:
			lastErr = err
		case ok:
			return nil
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type stopError struct{ err error }

func (e *stopError) Error() string { return e.err.Error() }

// stopPolling marks err as final so poll returns it at once.
func stopPolling(err error) error { return &stopError{err: err} }

// timeoutMillis converts the remaining time on ctx into the millisecond
// timeouts Playwright expects.
func timeoutMillis(ctx context.Context, fallback time.Duration) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := fallback
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
		if d <= 0 {
			return nil, context.DeadlineExceeded
		}
	}
	ms := float64(d.Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return &ms, nil
}
