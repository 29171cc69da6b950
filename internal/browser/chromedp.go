// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mockroute/internal/config"
	"github.com/xkilldash9x/mockroute/internal/router"
)

// ChromeDriver drives a Chromium tab over the DevTools protocol. When a router
// is attached, every request is paused through the Fetch domain and answered
// according to the router's decision.
type ChromeDriver struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	router      *router.Router

	mu       sync.Mutex
	inflight map[network.RequestID]string

	closeOnce sync.Once
	closeErr  error
}

var _ Driver = (*ChromeDriver)(nil)

// NewChromeDriver launches Chromium and opens the tab the scenario runs in.
func NewChromeDriver(ctx context.Context, cfg config.BrowserConfig, opts Options, logger *zap.Logger) (*ChromeDriver, error) {
	log := logger.Named("browser.chromedp")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg, opts.ProxyServer)...)
	sugar := log.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)

	d := &ChromeDriver{
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		logger:      log,
		inflight:    make(map[network.RequestID]string),
	}
	chromedp.ListenTarget(tabCtx, d.handleEvent)

	tasks := chromedp.Tasks{network.Enable(), runtime.Enable()}
	if cfg.DisableCache {
		tasks = append(tasks, network.SetCacheDisabled(true))
	}
	if opts.Router != nil && opts.ProxyServer == "" {
		opts.Router.Seal()
		d.router = opts.Router
		tasks = append(tasks, fetch.Enable().WithPatterns(interceptAll))
	}

	// The first Run starts the browser process.
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to start chromium: %w", err)
	}
	log.Info("Browser started.", zap.Bool("headless", cfg.Headless), zap.Bool("intercepting", d.router != nil))
	return d, nil
}

// handleEvent runs on the CDP event loop and must never block it.
func (d *ChromeDriver) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go d.intercept(e)
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		d.mu.Lock()
		d.inflight[e.RequestID] = e.Request.URL
		d.mu.Unlock()
		d.logger.Info("Request", zap.String("method", e.Request.Method), zap.String("url", e.Request.URL))
	case *network.EventLoadingFinished:
		d.mu.Lock()
		delete(d.inflight, e.RequestID)
		d.mu.Unlock()
	case *network.EventLoadingFailed:
		d.mu.Lock()
		url := d.inflight[e.RequestID]
		delete(d.inflight, e.RequestID)
		d.mu.Unlock()
		d.logger.Warn("Request failed",
			zap.String("url", url),
			zap.String("error", e.ErrorText),
			zap.Bool("canceled", e.Canceled))
	case *runtime.EventConsoleAPICalled:
		d.logger.Info("Browser console", zap.String("type", e.Type.String()), zap.String("text", consoleText(e.Args)))
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails != nil {
			d.logger.Error("Uncaught page exception", zap.String("text", e.ExceptionDetails.Error()))
		}
	}
}

func (d *ChromeDriver) intercept(ev *fetch.EventRequestPaused) {
	req := requestFromPaused(ev)
	decision := router.Decision{Action: router.ActionContinue}
	if d.router != nil {
		decision = d.router.Resolve(req)
	}

	c := chromedp.FromContext(d.ctx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(d.ctx, c.Target)

	var err error
	switch decision.Action {
	case router.ActionFulfill:
		err = fulfillParams(ev.RequestID, decision.Response).Do(execCtx)
	case router.ActionAbort:
		err = failParams(ev.RequestID).Do(execCtx)
	default:
		err = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
	}
	if err != nil && d.ctx.Err() == nil {
		d.warnUnanswered(req, decision, err)
	}
}

// warnUnanswered logs a paused request the tab could not be told about. req
// comes from requestFromPaused, so an event without a request still logs.
func (d *ChromeDriver) warnUnanswered(req router.Request, decision router.Decision, err error) {
	d.logger.Warn("Failed to answer paused request",
		zap.String("action", decision.Action.String()),
		zap.String("url", req.URL),
		zap.Error(err))
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		switch {
		case len(a.Value) > 0:
			var s string
			if err := jsoniter.Unmarshal(a.Value, &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(a.Value))
			}
		case a.Description != "":
			parts = append(parts, a.Description)
		default:
			parts = append(parts, a.Type.String())
		}
	}
	return strings.Join(parts, " ")
}

// run executes actions on the tab, bounded by ctx.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(d.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// checkClosed ends a wait early once the tab itself is gone.
func (d *ChromeDriver) checkClosed(err error) error {
	if d.ctx.Err() != nil {
		return stopPolling(fmt.Errorf("browser closed: %w", err))
	}
	return err
}

// Navigate loads url and waits for the load event.
func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	d.logger.Debug("Navigating to URL", zap.String("url", url))
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("navigation to %s timed out: %w", url, ctx.Err())
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Fill replaces the value of the input matching selector.
func (d *ChromeDriver) Fill(ctx context.Context, selector, value string) error {
	err := d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("fill action for selector '%s' timed out: %w", selector, ctx.Err())
		}
		return fmt.Errorf("fill action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Click clicks the element matching selector.
func (d *ChromeDriver) Click(ctx context.Context, selector string) error {
	err := d.run(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("click action for selector '%s' timed out: %w", selector, ctx.Err())
		}
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// WaitForURL polls the tab location until it matches pattern.
func (d *ChromeDriver) WaitForURL(ctx context.Context, pattern string) error {
	g, err := router.CompileGlob(pattern)
	if err != nil {
		return err
	}
	var last string
	err = poll(ctx, func(ctx context.Context) (bool, error) {
		if err := d.run(ctx, chromedp.Location(&last)); err != nil {
			return false, d.checkClosed(err)
		}
		return g.Match(last), nil
	})
	if err != nil {
		return fmt.Errorf("waiting for URL %q (current %q): %w", pattern, last, err)
	}
	return nil
}

// WaitForText polls the rendered text of the page until it contains text.
// innerText skips hidden elements, so only visible text counts.
func (d *ChromeDriver) WaitForText(ctx context.Context, text string) error {
	quoted, err := jsoniter.MarshalToString(text)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`(() => { const b = document.body; return !!b && b.innerText.includes(%s); })()`, quoted)

	err = poll(ctx, func(ctx context.Context) (bool, error) {
		var found bool
		if err := d.run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
			return false, d.checkClosed(err)
		}
		return found, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for text %q: %w", text, err)
	}
	return nil
}

// Screenshot captures a PNG of the page.
func (d *ChromeDriver) Screenshot(ctx context.Context, path string, fullPage bool) error {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		// Quality 100 keeps the capture in PNG format.
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := d.run(ctx, action); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("capture screenshot timed out: %w", ctx.Err())
		}
		return fmt.Errorf("capture screenshot: %w", err)
	}
	return writeArtifact(path, buf)
}

// CurrentURL returns the tab location.
func (d *ChromeDriver) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := d.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Close shuts the tab and the browser process down.
func (d *ChromeDriver) Close() error {
	d.closeOnce.Do(func() {
		// Cancel gracefully closes the browser; the cancel funcs release the
		// rest even when that fails.
		if err := chromedp.Cancel(d.ctx); err != nil && err != context.Canceled {
			d.closeErr = fmt.Errorf("close browser: %w", err)
		}
		d.cancel()
		d.allocCancel()
		d.logger.Debug("Browser closed.")
	})
	return d.closeErr
}

func writeArtifact(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create artifact directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}
