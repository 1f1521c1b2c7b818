package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-import/internal/app"
	"github.com/dvloznov/finance-import/internal/config"
	"github.com/dvloznov/finance-import/internal/logger"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath string
	owner      string
}

// newRootCommand creates the root CLI command with all subcommands registered.
func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "finimport",
		Short: "Operate the transaction import service",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.owner, "owner", os.Getenv("FINIMPORT_OWNER"), "owner id (or set FINIMPORT_OWNER)")

	rootCmd.AddCommand(
		newMigrateCommand(opts),
		newImportCommand(opts),
		newStatusCommand(opts),
		newTemplateCommand(),
		newReapCommand(opts),
		newBQInitCommand(opts),
	)
	return rootCmd
}

// loadConfig reads configuration and installs the configured logger on ctx.
// CLI logs go to stderr so command output stays clean.
func loadConfig(ctx context.Context, opts *globalOptions) (context.Context, *config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return ctx, nil, err
	}
	log, err := logger.Configure(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return ctx, nil, err
	}
	logger.SetDefault(log)
	return logger.WithContext(ctx, log), cfg, nil
}

// withApp builds the application for the duration of fn.
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cfg, err := loadConfig(cmd.Context(), opts)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func requireOwner(opts *globalOptions) error {
	if opts.owner == "" {
		return fmt.Errorf("--owner is required")
	}
	return nil
}
