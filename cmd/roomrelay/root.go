package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"roomrelay/pkg/config"

	"github.com/spf13/cobra"
)

// configPaths are tried in order when --config is not given.
var configPaths = []string{
	"configs/config.yaml",
	"/etc/roomrelay/config.yaml",
	"config.yaml",
}

type options struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "roomrelay",
		Short:         "WebRTC signaling relay with rooms, host failover and chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.SetContext(context.Background())

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	return cmd
}

func loadConfig(opts *options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		for _, p := range configPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	// A missing file yields the defaults with environment overrides.
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, nil
}
