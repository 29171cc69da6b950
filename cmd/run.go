// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mockroute/internal/browser"
	"github.com/xkilldash9x/mockroute/internal/config"
	"github.com/xkilldash9x/mockroute/internal/network"
	"github.com/xkilldash9x/mockroute/internal/observability"
	"github.com/xkilldash9x/mockroute/internal/router"
	"github.com/xkilldash9x/mockroute/internal/scenario"
)

// session is a launched browser page.
type session interface {
	scenario.Driver
	Close() error
}

// launchBrowser is a variable so tests can run the command without Chromium.
var launchBrowser = func(ctx context.Context, cfg config.BrowserConfig, opts browser.Options, logger *zap.Logger) (session, error) {
	d, err := browser.Launch(ctx, cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the smoke scenarios with the fixture router installed",
		Long: `Launches a browser, installs the fixture router, and runs the scenarios in order.
The run stops at the first failing step. Screenshots taken before the failure
are kept, and a JSON report is written to the artifacts directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return runSmoke(cmd.Context(), cfg, observability.GetLogger(), cmd.OutOrStdout())
		},
	}

	runCmd.Flags().Bool("strict", false, "fail a step when it triggers an unmatched request")
	runCmd.Flags().String("artifacts", "", "directory for screenshots and the report")
	runCmd.Flags().StringSlice("without", nil, "fixture names to leave out")
	runCmd.Flags().String("scenarios", "", "scenario file to run instead of the built-in smoke flow")
	runCmd.Flags().String("mode", "", "interception mode: fetch or proxy")
	runCmd.Flags().String("unmatched", "", "policy for unmatched requests: abort or passthrough")
	runCmd.Flags().Bool("upstream-http2", false, "negotiate HTTP/2 with the backend for proxied passthrough requests")
	annotate(runCmd.Flags(), map[string]string{
		"strict":         "router.strict",
		"artifacts":      "artifacts.dir",
		"without":        "router.without",
		"scenarios":      "scenarios.file",
		"mode":           "router.mode",
		"unmatched":      "router.unmatched",
		"upstream-http2": "router.upstream_http2",
	})
	return runCmd
}

// runSmoke performs one full run. The browser and the proxy are torn down on
// every path out of this function.
func runSmoke(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	rt, err := buildRouter(cfg.Router(), logger)
	if err != nil {
		return fmt.Errorf("failed to build fixture router: %w", err)
	}

	scenarios, err := loadScenarios(cfg)
	if err != nil {
		return err
	}

	artifacts := cfg.Artifacts()
	if err := os.MkdirAll(artifacts.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	opts := browser.Options{Router: rt}
	if cfg.Router().Mode == config.ModeProxy {
		proxyURL, stop, err := startProxy(ctx, cfg, rt, logger)
		if err != nil {
			return err
		}
		defer stop()
		opts.ProxyServer = proxyURL
	}

	driver, err := launchBrowser(ctx, cfg.Browser(), opts, logger)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn("Error closing browser", zap.Error(err))
		}
	}()

	runner, err := scenario.NewRunner(driver, scenario.Options{
		BaseURL:      cfg.Target().BaseURL,
		Timeouts:     cfg.Timeouts(),
		ArtifactsDir: artifacts.Dir,
		FullPage:     artifacts.FullPage,
		Strict:       cfg.Router().Strict,
		Monitor:      rt,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	report, runErr := runner.Run(ctx, scenarios...)
	if artifacts.Report != "" {
		path := artifacts.Report
		if !filepath.IsAbs(path) {
			path = filepath.Join(artifacts.Dir, path)
		}
		if err := report.WriteFile(path); err != nil {
			logger.Error("Failed to write run report", zap.Error(err))
		} else {
			logger.Info("Run report written", zap.String("path", path))
		}
	}

	printSummary(out, report)
	if runErr != nil {
		return runErr
	}
	if unused := rt.Stats().Unused(); len(unused) > 0 {
		logger.Debug("Fixtures never used", zap.Strings("fixtures", unused))
	}
	return nil
}

func loadScenarios(cfg *config.Config) ([]scenario.Scenario, error) {
	if file := cfg.Scenarios().File; file != "" {
		return scenario.Load(file, scenario.Vars(cfg.Target()))
	}
	return scenario.Smoke(cfg.Target()), nil
}

// startProxy serves the router as a forward proxy on the configured address.
// The returned stop function blocks until the proxy has shut down.
func startProxy(ctx context.Context, cfg *config.Config, rt *router.Router, logger *zap.Logger) (string, func(), error) {
	fp, err := network.NewFixtureProxy(rt, upstreamConfig(cfg), logger)
	if err != nil {
		return "", nil, err
	}
	if err := fp.Listen(cfg.Router().ProxyAddr); err != nil {
		return "", nil, err
	}

	proxyCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := fp.Serve(proxyCtx); err != nil {
			logger.Error("Fixture proxy failed", zap.Error(err))
		}
	}()
	return fp.URL(), func() {
		cancel()
		<-done
	}, nil
}

// upstreamConfig builds the passthrough transport settings for the fixture proxy.
func upstreamConfig(cfg *config.Config) *network.UpstreamConfig {
	upstream := network.NewDefaultUpstreamConfig()
	upstream.IgnoreTLSErrors = cfg.Browser().IgnoreTLSErrors
	upstream.ForceHTTP2 = cfg.Router().UpstreamHTTP2
	return upstream
}

func printSummary(out io.Writer, report *scenario.Report) {
	for _, sc := range report.Scenarios {
		status := "PASS"
		if !sc.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(out, "%s  %s (%d steps)\n", status, sc.Name, len(sc.Steps))
		for _, shot := range sc.Screenshots {
			fmt.Fprintf(out, "      screenshot: %s\n", shot)
		}
		if n := len(sc.Steps); !sc.Passed && n > 0 {
			fmt.Fprintf(out, "      %s\n", sc.Steps[n-1].Error)
		}
	}
	if report.Routes != nil && len(report.Routes.Unmatched) > 0 {
		fmt.Fprintf(out, "%d unmatched request(s):\n", len(report.Routes.Unmatched))
		for _, u := range report.Routes.Unmatched {
			fmt.Fprintf(out, "      %s %s\n", u.Method, u.URL)
		}
	}
}
