// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mockroute/internal/config"
	"github.com/xkilldash9x/mockroute/internal/observability"
)

const (
	envPrefix = "MOCKROUTE"
	// configKeyAnnotation ties a flag to the viper key it overrides.
	configKeyAnnotation = "mockroute/config-key"
)

type configContextKey struct{}

// NewRootCommand builds a fresh command tree. Nothing is kept in package
// globals, so tests can run commands side by side.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "mockroute",
		Short: "Browser smoke tests against a frontend with its backend replaced by fixtures.",
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This function runs before any command, setting up config and logging.
			v := viper.New()
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				// Initialize a fallback logger if the config is unusable.
				observability.InitializeLogger(config.NewDefaultConfig().Logger())
				return err
			}
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting mockroute", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configContextKey{}, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("base-url", "", "base URL of the application under test")
	rootCmd.PersistentFlags().String("backend", "", "browser backend: chromedp or playwright")
	rootCmd.PersistentFlags().Bool("headless", true, "run the browser without a window")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("fixtures", "", "fixture file to use instead of the built-in set")
	annotate(rootCmd.PersistentFlags(), map[string]string{
		"base-url":  "target.base_url",
		"backend":   "browser.backend",
		"headless":  "browser.headless",
		"log-level": "logger.level",
		"fixtures":  "router.fixtures_file",
	})

	// Optional: Customize the version output template
	rootCmd.SetVersionTemplate(`{{printf "mockroute version %s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd(), newServeCmd(), newFixturesCmd(), newVersionCmd())
	return rootCmd
}

// Execute runs the command tree with the process arguments.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	interrupted := errors.Is(err, context.Canceled) && ctx.Err() != nil
	if err != nil && !interrupted {
		// Use the logger if available, otherwise fallback to stderr
		if logger := observability.GetLogger(); logger.Core().Enabled(zap.ErrorLevel) {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	observability.Sync()
	return err
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// An explicitly named file must exist.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}

func annotate(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := fs.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
			panic(err)
		}
	}
}

// bindFlags lets explicitly set flags override config file and environment.
// Unset flags are left alone so their zero defaults never mask the config.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if err != nil || len(keys) == 0 || !f.Changed {
			return
		}
		err = v.BindPFlag(keys[0], f)
	})
	return err
}

func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configContextKey{}).(*config.Config)
	if !ok {
		return nil, errors.New("configuration not initialized")
	}
	return cfg, nil
}
