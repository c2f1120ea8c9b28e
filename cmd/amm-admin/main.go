package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
)

const (
	appName = "amm-admin"

	configFlag    = "config"
	logLevelFlag  = "log-level"
	defaultConfig = "client_config.ini"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.StandardLogger().WithError(err).Warn("failed to load .env file")
	}

	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the CLI. Results are written to stdout and logs to stderr.
func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      appName,
		Usage:     "Administer the Raydium AMM program's config account",
		Version:   fmt.Sprintf("%s (commit: %s)", version, commit),
		Writer:    stdout,
		ErrWriter: stderr,
		Commands: []*cli.Command{
			createConfigAccountCommand(),
			deriveConfigAccountCommand(),
			newKeypairCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Value:   defaultConfig,
				Usage:   "Path to the client INI configuration",
				EnvVars: []string{"AMM_ADMIN_CONFIG"},
			},
			&cli.StringFlag{
				Name:  logLevelFlag,
				Usage: "Log level (trace, debug, info, warn, error); overrides the configured level",
			},
		},
	}
}
