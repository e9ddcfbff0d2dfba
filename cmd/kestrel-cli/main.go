package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/repository"
)

var (
	name    = "kestrel-cli"
	version = "v0.0.1-default"
	commit  = ""
)

const (
	configFlagName = "config"
	debugFlagName  = "debug"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    name,
		Version: fmt.Sprintf("%s - (commit: %s)", version, commit),
		Usage:   "Score applications and manage model bundles",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlagName,
				Usage:   "Path to a kestrel.yaml file (optional, defaults to ./kestrel.yaml or ./configs/kestrel.yaml)",
				Sources: cli.EnvVars("KESTREL_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  debugFlagName,
				Usage: "Prints verbose logs (optional, default: false)",
			},
		},
		Commands: []*cli.Command{
			newScoreCommand(),
			newBundleCommand(),
		},
	}
}

// loadConfig reads configuration and installs a stderr logger so command
// output on stdout stays machine readable.
func loadConfig(cmd *cli.Command) (*domain.Config, error) {
	cfg, err := config.Load(config.Options{File: cmd.String(configFlagName)})
	if err != nil {
		return nil, err
	}

	logCfg := domain.LoggingConfig{Level: "warn", Format: "text"}
	if cmd.Bool(debugFlagName) {
		logCfg.Level = "debug"
	}
	logger, err := logging.NewWithWriter(logCfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return cfg, nil
}

func openRegistry(cmd *cli.Command) (*repository.SQLRepository, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return repository.New(cfg.Repository)
}
