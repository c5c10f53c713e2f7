// Package cmd defines and implements the CLI commands for the remotefetch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-fetch/internal/app"
	"github.com/JakeFAU/remote-fetch/internal/config"
	"github.com/JakeFAU/remote-fetch/internal/crawler"
	"github.com/JakeFAU/remote-fetch/internal/logging"
	"github.com/JakeFAU/remote-fetch/internal/worker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the application container.
type App interface {
	Process(ctx context.Context, request crawler.Request) (*worker.Summary, error)
	Router() *crawler.Router
	Logger() *zap.Logger
	Close() error
}

// newApp is the application factory. Tests replace it.
var newApp = func(cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(cfg, logger)
}

type rootOptions struct {
	cfgFile string
	cfg     config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "remotefetch",
		Short: "Fetch files and directory listings over SFTP and SMB.",
		Long: `remotefetch is the remote file-share fetch layer of the crawler. It resolves
credentials by URL pattern, pools sessions per host and identity, and returns
files, directory listings and protocol metadata for sftp:// and smb:// URLs.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return err
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			opts.cfg = cfg

			appInstance, err := newApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

// applyFlagOverrides copies explicitly set command flags over loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Lookup("output") != nil && flags.Changed("output") {
		dir, err := flags.GetString("output")
		if err != nil {
			return fmt.Errorf("read --output: %w", err)
		}
		cfg.Output.Dir = dir
	}
	if flags.Lookup("parallel") != nil && flags.Changed("parallel") {
		n, err := flags.GetInt("parallel")
		if err != nil {
			return fmt.Errorf("read --parallel: %w", err)
		}
		if n <= 0 {
			return fmt.Errorf("--parallel must be > 0")
		}
		cfg.Server.MaxConcurrentFetches = n
	}
	if flags.Lookup("port") != nil && flags.Changed("port") {
		port, err := flags.GetInt("port")
		if err != nil {
			return fmt.Errorf("read --port: %w", err)
		}
		cfg.Server.Port = port
	}
	return cfg.Validate()
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp runs fn with the application built by the root command and closes
// it afterwards, whether or not fn fails.
func withApp(fn func(cmd *cobra.Command, a App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, appInstance.Close())
		}()
		return fn(cmd, appInstance, args)
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
