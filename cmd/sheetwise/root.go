package main

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/sheetwise/internal/app"
	"github.com/ZanzyTHEbar/sheetwise/internal/config"
	"github.com/ZanzyTHEbar/sheetwise/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli carries the global flags and the state built from them.
type cli struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "sheetwise",
		Short: "Turn plain-language spreadsheet requests into validated action plans",
		Long: `sheetwise interprets requests such as "remove duplicates and create a pivot
by region" into an ordered, typed plan of spreadsheet actions.

Requests are sent to every configured provider (OpenAI, Gemini) at once and
the most confident plan wins. Without provider keys the built-in pattern
interpreter answers on its own.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg

			logger, err := observability.NewLogger(observability.LoggerOptions{
				Level:       cfg.Log.Level,
				Development: cfg.Log.Development,
				Verbose:     c.verbose,
			})
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(c),
		newInterpretCmd(c),
		newRecipesCmd(c),
		newValidateCmd(c),
		newFormulaCmd(c),
	)
	return root
}

// build assembles the application from the loaded configuration.
func (c *cli) build(ctx context.Context) (*app.App, error) {
	a, err := app.Build(ctx, c.cfg, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start sheetwise: %w", err)
	}
	return a, nil
}
