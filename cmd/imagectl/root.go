package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"portfolio/imagestore/internal/app"
	"portfolio/imagestore/internal/config"
	"portfolio/imagestore/internal/log"
)

type cli struct {
	configFile string
	verbose    bool
	app        *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "imagectl",
		Short:         "Operate the image store directly, without the HTTP API",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default: search ./config.yaml, ./config, ../config)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		c.ingestCmd(),
		c.deleteCmd(),
		c.infoCmd(),
		c.thumbCmd(),
		c.sweepCmd(),
		c.policyCmd(),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command) error {
	cfg, err := config.LoadFile(c.configFile)
	if err != nil {
		return err
	}

	logger := zerolog.Nop()
	if c.verbose {
		logger = log.New(cfg.Environment, cfg.Logging.Level).Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()})
	}

	// One-shot commands cannot outlive a background pool, so derive inline.
	cfg.Metrics.Enabled = false
	c.app, err = app.New(cmd.Context(), cfg, logger, app.Options{DeriveMode: config.DeriveInline})
	if err != nil {
		return fmt.Errorf("open image store: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
