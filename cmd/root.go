// Package cmd defines and implements the CLI commands for the archiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/page-archiver/internal/archive"
	"github.com/JakeFAU/page-archiver/internal/config"
	"github.com/JakeFAU/page-archiver/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the application the commands use. Tests inject fakes.
type App interface {
	RunAll(ctx context.Context, urls []string) []archive.FetchOutcome
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// builtApp adapts *server.App to App.
type builtApp struct {
	*server.App
}

func (a builtApp) RunAll(ctx context.Context, urls []string) []archive.FetchOutcome {
	return a.Batch().RunAll(ctx, urls)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}
	return builtApp{App: app}, nil
}

type rootOptions struct {
	cfgFile  string
	envFiles []string
	cfg      config.Config
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Archives web pages captured in a headless browser.",
		Long: `archiver loads each URL in headless Chrome, captures a WebP screenshot,
the rendered HTML, the raw response body and the response metadata, and
writes the bundle to the configured object store under a key derived from
the page's final URL.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(opts.envFiles...); err != nil {
				return fmt.Errorf("load env files: %w", err)
			}
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg

			appInstance, err := newApp(cmd.Context(), &opts.cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "env files to load before reading config")

	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
