// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mockroute/internal/network"
	"github.com/xkilldash9x/mockroute/internal/observability"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fixture table as an HTTP forward proxy",
		Long: `Starts a forward proxy that answers requests from the fixture table.
Point any browser or HTTP client at it with --proxy-server. HTTPS is tunneled
without inspection. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			rt, err := buildRouter(cfg.Router(), logger)
			if err != nil {
				return fmt.Errorf("failed to build fixture router: %w", err)
			}
			fp, err := network.NewFixtureProxy(rt, upstreamConfig(cfg), logger)
			if err != nil {
				return err
			}
			if err := fp.Listen(cfg.Router().ProxyAddr); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %d fixtures on %s\n", len(rt.Rules()), fp.URL())

			err = fp.Serve(cmd.Context())
			stats := rt.Stats()
			logger.Info("Fixture proxy summary",
				zap.Int("rules", len(stats.Rules)),
				zap.Int("unmatched", len(stats.Unmatched)),
				zap.Strings("unused", stats.Unused()))
			return err
		},
	}
	serveCmd.Flags().String("addr", "", "listen address (default from router.proxy_addr)")
	serveCmd.Flags().StringSlice("without", nil, "fixture names to leave out")
	serveCmd.Flags().Bool("upstream-http2", false, "negotiate HTTP/2 with the backend for passthrough requests")
	annotate(serveCmd.Flags(), map[string]string{
		"addr":           "router.proxy_addr",
		"without":        "router.without",
		"upstream-http2": "router.upstream_http2",
	})
	return serveCmd
}
