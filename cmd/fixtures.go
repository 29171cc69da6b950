// File: cmd/fixtures.go
package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mockroute/internal/config"
	"github.com/xkilldash9x/mockroute/internal/fixture"
	"github.com/xkilldash9x/mockroute/internal/router"
)

// errNoMatch makes `fixtures match` exit non-zero for unanswered URLs.
var errNoMatch = errors.New("no fixture matches")

// loadFixtures returns the configured fixture set minus any excluded names.
func loadFixtures(cfg config.RouterConfig) (*fixture.Set, error) {
	var (
		set *fixture.Set
		err error
	)
	if cfg.FixturesFile != "" {
		set, err = fixture.Load(cfg.FixturesFile)
	} else {
		set, err = fixture.Default()
	}
	if err != nil {
		return nil, err
	}
	if len(cfg.Without) == 0 {
		return set, nil
	}
	return set.Without(cfg.Without...)
}

// buildRouter installs the configured fixtures on a new router.
func buildRouter(cfg config.RouterConfig, logger *zap.Logger) (*router.Router, error) {
	set, err := loadFixtures(cfg)
	if err != nil {
		return nil, err
	}
	rt, err := router.New(
		router.WithLogger(logger),
		router.WithScope(cfg.Scope...),
		router.WithUnmatchedPolicy(router.Policy(cfg.Unmatched)),
	)
	if err != nil {
		return nil, err
	}
	if err := set.Install(rt); err != nil {
		return nil, err
	}
	logger.Debug("Fixtures installed", zap.String("source", set.Source), zap.Int("count", len(set.Fixtures)))
	return rt, nil
}

func newFixturesCmd() *cobra.Command {
	fixturesCmd := &cobra.Command{
		Use:   "fixtures",
		Short: "Inspect the fixture table",
	}
	fixturesCmd.PersistentFlags().StringSlice("without", nil, "fixture names to leave out")
	annotate(fixturesCmd.PersistentFlags(), map[string]string{"without": "router.without"})

	fixturesCmd.AddCommand(newFixturesListCmd(), newFixturesMatchCmd(), newFixturesValidateCmd())
	return fixturesCmd
}

func newFixturesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List fixtures in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			set, err := loadFixtures(cfg.Router())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "#\tNAME\tMETHOD\tPATTERN\tSTATUS")
			for i, f := range set.Fixtures {
				method := f.Method
				if method == "" {
					method = "*"
				}
				status := "passthrough"
				if !f.Passthrough {
					s := f.Status
					if s == 0 {
						s = http.StatusOK
					}
					status = fmt.Sprint(s)
				}
				name := f.Name
				if f.When != nil {
					name += " (conditional)"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, name, method, f.Pattern, status)
			}
			return w.Flush()
		},
	}
}

func newFixturesMatchCmd() *cobra.Command {
	var (
		method string
		show   bool
	)
	matchCmd := &cobra.Command{
		Use:   "match URL",
		Short: "Show which fixture answers a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			rt, err := buildRouter(cfg.Router(), zap.NewNop())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			req := router.Request{Method: strings.ToUpper(method), URL: args[0]}
			info, ok := rt.Match(req)
			if !ok {
				if !rt.InScope(req.URL) {
					fmt.Fprintf(out, "%s %s is outside the router scope and reaches the network\n", req.Method, req.URL)
					return nil
				}
				return fmt.Errorf("%w %s %s", errNoMatch, req.Method, req.URL)
			}
			fmt.Fprintf(out, "%s %s -> #%d %s (%s)\n", req.Method, req.URL, info.Index+1, info.Name, info.Pattern)

			if show {
				d := rt.Resolve(req)
				if d.Err != nil {
					return d.Err
				}
				if d.Action == router.ActionFulfill {
					fmt.Fprintf(out, "%d %s\n%s\n", d.Response.Status, d.Response.ContentType, d.Response.Body)
				}
			}
			return nil
		},
	}
	matchCmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "request method")
	matchCmd.Flags().BoolVar(&show, "show", false, "print the rendered response")
	return matchCmd
}

func newFixturesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [FILE]",
		Short: "Check a fixture file without running a browser",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			rc := cfg.Router()
			if len(args) == 1 {
				rc.FixturesFile = args[0]
			}
			set, err := loadFixtures(rc)
			if err != nil {
				return err
			}
			rt, err := router.New()
			if err != nil {
				return err
			}
			if err := set.Install(rt); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d fixtures OK\n", set.Source, len(set.Fixtures))
			return nil
		},
	}
}
