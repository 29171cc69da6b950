// internal/browser/playwright.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mockroute/internal/config"
	"github.com/xkilldash9x/mockroute/internal/router"
)

const (
	playwrightInstallTimeout = 5 * time.Minute
	playwrightLaunchTimeout  = 60 * time.Second
	// defaultActionTimeout applies when a caller passes a context without a deadline.
	defaultActionTimeout = 30 * time.Second
)

// PlaywrightDriver drives a page through the Playwright driver process. Route
// interception happens at the browser context level, so every page and
// worker in the context goes through the router.
type PlaywrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	router  *router.Router
	logger  *zap.Logger

	closed atomic.Bool
}

var _ Driver = (*PlaywrightDriver)(nil)

// NewPlaywrightDriver starts Playwright, launches Chromium and opens a page.
func NewPlaywrightDriver(ctx context.Context, cfg config.BrowserConfig, opts Options, logger *zap.Logger) (*PlaywrightDriver, error) {
	d := &PlaywrightDriver{logger: logger.Named("browser.playwright")}

	if cfg.Install {
		if err := d.ensureInstallation(ctx); err != nil {
			return nil, err
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	d.pw = pw

	browser, err := pw.Chromium.Launch(launchOptions(cfg, opts.ProxyServer))
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to launch browser instance: %w", err)
	}
	d.browser = browser

	bctx, err := browser.NewContext(contextOptions(cfg))
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	d.bctx = bctx

	if opts.Router != nil && opts.ProxyServer == "" {
		opts.Router.Seal()
		d.router = opts.Router
		if err := bctx.Route("**/*", d.handleRoute); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("failed to install route handler: %w", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	d.page = page
	d.attachListeners(page)

	d.logger.Info("Browser started.",
		zap.String("browser_version", browser.Version()),
		zap.Bool("headless", cfg.Headless),
		zap.Bool("intercepting", d.router != nil))
	return d, nil
}

func (d *PlaywrightDriver) ensureInstallation(ctx context.Context) error {
	d.logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	// Install blocks without a context, so race it against the deadline.
	errCh := make(chan error, 1)
	go func() {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			errCh <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func launchOptions(cfg config.BrowserConfig, proxyServer string) playwright.BrowserTypeLaunchOptions {
	return playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     Args(LaunchFlags(cfg, proxyServer)),
		Timeout:  playwright.Float(float64(playwrightLaunchTimeout.Milliseconds())),
	}
}

func contextOptions(cfg config.BrowserConfig) playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(cfg.IgnoreTLSErrors),
	}
	if w, h := viewport(cfg); w > 0 && h > 0 {
		opts.Viewport = &playwright.Size{Width: w, Height: h}
	}
	return opts
}

func (d *PlaywrightDriver) handleRoute(route playwright.Route) {
	req := route.Request()
	decision := d.router.Resolve(requestFromPlaywright(req))

	var err error
	switch decision.Action {
	case router.ActionFulfill:
		err = route.Fulfill(fulfillOptions(decision.Response))
	case router.ActionAbort:
		err = route.Abort("blockedbyclient")
	default:
		err = route.Continue()
	}
	if err != nil && !d.closed.Load() {
		d.logger.Warn("Failed to answer routed request",
			zap.String("action", decision.Action.String()),
			zap.String("url", req.URL()),
			zap.Error(err))
	}
}

func requestFromPlaywright(req playwright.Request) router.Request {
	out := router.Request{
		Method:       req.Method(),
		URL:          req.URL(),
		Headers:      req.Headers(),
		ResourceType: req.ResourceType(),
	}
	if body, err := req.PostDataBuffer(); err == nil {
		out.Body = body
	}
	return out
}

func fulfillOptions(resp router.Response) playwright.RouteFulfillOptions {
	opts := playwright.RouteFulfillOptions{
		Status: playwright.Int(resp.Status),
		Body:   resp.Body,
	}
	if resp.ContentType != "" {
		opts.ContentType = playwright.String(resp.ContentType)
	}
	if len(resp.Headers) > 0 {
		opts.Headers = make(map[string]string, len(resp.Headers))
		for k, v := range resp.Headers {
			opts.Headers[k] = v
		}
	}
	return opts
}

func (d *PlaywrightDriver) attachListeners(page playwright.Page) {
	page.OnRequest(func(req playwright.Request) {
		d.logger.Info("Request", zap.String("method", req.Method()), zap.String("url", req.URL()))
	})
	page.OnRequestFailed(func(req playwright.Request) {
		d.logger.Warn("Request failed", zap.String("url", req.URL()), zap.Any("error", req.Failure()))
	})
	page.OnConsole(func(msg playwright.ConsoleMessage) {
		d.logger.Info("Browser console", zap.String("type", msg.Type()), zap.String("text", msg.Text()))
	})
	page.OnPageError(func(err error) {
		d.logger.Error("Uncaught page exception", zap.Error(err))
	})
}

// Navigate loads url and waits for the load event.
func (d *PlaywrightDriver) Navigate(ctx context.Context, url string) error {
	timeout, err := timeoutMillis(ctx, defaultActionTimeout)
	if err != nil {
		return fmt.Errorf("navigation to %s timed out: %w", url, err)
	}
	d.logger.Debug("Navigating to URL", zap.String("url", url))
	if _, err := d.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   timeout,
		WaitUntil: playwright.WaitUntilStateLoad,
	}); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Fill replaces the value of the input matching selector.
func (d *PlaywrightDriver) Fill(ctx context.Context, selector, value string) error {
	timeout, err := timeoutMillis(ctx, defaultActionTimeout)
	if err != nil {
		return fmt.Errorf("fill action failed for selector '%s': %w", selector, err)
	}
	if err := d.page.Locator(selector).Fill(value, playwright.LocatorFillOptions{Timeout: timeout}); err != nil {
		return fmt.Errorf("fill action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Click clicks the element matching selector.
func (d *PlaywrightDriver) Click(ctx context.Context, selector string) error {
	timeout, err := timeoutMillis(ctx, defaultActionTimeout)
	if err != nil {
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}
	if err := d.page.Locator(selector).Click(playwright.LocatorClickOptions{Timeout: timeout}); err != nil {
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// WaitForURL waits until the page URL matches pattern. The router's glob is
// used as a predicate so both backends agree on what matches.
func (d *PlaywrightDriver) WaitForURL(ctx context.Context, pattern string) error {
	g, err := router.CompileGlob(pattern)
	if err != nil {
		return err
	}
	timeout, err := timeoutMillis(ctx, defaultActionTimeout)
	if err != nil {
		return fmt.Errorf("waiting for URL %q (current %q): %w", pattern, d.page.URL(), err)
	}
	err = d.page.WaitForURL(func(u string) bool { return g.Match(u) }, playwright.PageWaitForURLOptions{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("waiting for URL %q (current %q): %w", pattern, d.page.URL(), err)
	}
	return nil
}

// WaitForText waits until text is rendered in a visible element.
func (d *PlaywrightDriver) WaitForText(ctx context.Context, text string) error {
	timeout, err := timeoutMillis(ctx, defaultActionTimeout)
	if err != nil {
		return fmt.Errorf("waiting for text %q: %w", text, err)
	}
	err = d.page.GetByText(text).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: timeout,
	})
	if err != nil {
		return fmt.Errorf("waiting for text %q: %w", text, err)
	}
	return nil
}

// Screenshot captures a PNG of the page.
func (d *PlaywrightDriver) Screenshot(ctx context.Context, path string, fullPage bool) error {
	timeout, err := timeoutMillis(ctx, defaultActionTimeout)
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	buf, err := d.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(fullPage),
		Timeout:  timeout,
	})
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	return writeArtifact(path, buf)
}

// CurrentURL returns the page URL.
func (d *PlaywrightDriver) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return d.page.URL(), nil
}

// Close tears down the context, the browser and the driver process. Every
// stage runs even if an earlier one fails.
func (d *PlaywrightDriver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if d.bctx != nil {
		if err := d.bctx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser context: %w", err))
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright driver: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		d.logger.Error("Browser shutdown incomplete.", zap.Error(err))
	} else {
		d.logger.Debug("Browser closed.")
	}
	return err
}
