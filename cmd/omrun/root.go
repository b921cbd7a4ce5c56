package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"omrun/internal/acl"
	"omrun/internal/config"
	"omrun/internal/logging"
)

// cli carries state shared by every subcommand: the config file path, the
// values set by flags and the logger built before the subcommand runs.
type cli struct {
	out        io.Writer
	configPath string
	flags      config.Config
	log        zerolog.Logger
}

func buildRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out, log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "omrun",
		Short:         "Run offline models on an accelerator runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (.yaml, .yml, .json or .toml)")
	root.PersistentFlags().StringVar(&c.flags.LogLevel, "log-level", "", "Log level: debug|info|warn|error (default info)")
	root.PersistentFlags().StringVar(&c.flags.LogFormat, "log-format", "", "Log format: auto|console|json (default auto)")

	root.AddCommand(c.runCmd(), c.serveCmd(), c.inspectCmd(), versionCmd())
	return root
}

// resolve layers defaults, the config file and flags, in that order, and
// builds the logger.
func (c *cli) resolve() (config.Config, error) {
	cfg := config.Defaults()
	if c.configPath != "" {
		file, err := config.Load(c.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = cfg.Merge(file)
	}
	cfg = cfg.Merge(c.flags)
	if err := cfg.ExpandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return cfg, err
	}
	c.log = log
	return cfg, nil
}

// openBackend opens the runtime named by cfg.Backend.
func openBackend(cfg config.Config) (acl.Runtime, error) {
	mode, err := acl.ParseRunMode(cfg.SimRunMode)
	if err != nil {
		return nil, fmt.Errorf("sim_run_mode: %w", err)
	}
	return acl.Open(cfg.Backend, acl.Options{RunMode: mode, LibraryPath: cfg.ORTLibrary})
}

func requireModel(cfg config.Config) error {
	if cfg.Model == "" {
		return fmt.Errorf("no model: set --model or 'model' in the config file")
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the omrun version and registered backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "omrun %s (backends: %v)\n", version, acl.Backends())
			return err
		},
	}
}
