package main

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/code-payments/amm-admin/pkg/admin"
	"github.com/code-payments/amm-admin/pkg/clientconfig"
	"github.com/code-payments/amm-admin/pkg/keys"
	"github.com/code-payments/amm-admin/pkg/metrics"
)

// run is the shared setup of every command: tunables, logging and metrics.
type run struct {
	ctx      context.Context
	tunables clientconfig.Tunables
	end      func()
}

func startRun(c *cli.Context, name, tunablesPath string) (*run, error) {
	tunables, err := clientconfig.LoadTunables(tunablesPath)
	if err != nil {
		return nil, &admin.StageError{Stage: admin.StageConfigurationLoader, Err: err}
	}
	if c.IsSet(logLevelFlag) {
		tunables.LogLevel = c.String(logLevelFlag)
	}

	nr, err := newMetricsProvider(tunables)
	if err != nil {
		return nil, err
	}
	configureLogger(tunables, c.App.ErrWriter, nr)

	ctx := metrics.WithApplication(c.Context, nr)
	ctx, endTxn := metrics.StartTransaction(ctx, name)

	return &run{
		ctx:      ctx,
		tunables: tunables,
		end: func() {
			endTxn()
			if nr != nil {
				nr.Shutdown(metricsShutdownTimeout)
			}
		},
	}, nil
}

func createConfigAccountCommand() *cli.Command {
	return &cli.Command{
		Name:    "CreateConfigAccount",
		Aliases: []string{"create-config-account"},
		Usage:   "Create the AMM config account and print the transaction signature",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "max-reassembles",
				Value: admin.DefaultMaxReassembles,
				Usage: "How many times to re-sign over a fresh blockhash after the previous one expired",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				return errors.New("CreateConfigAccount takes no arguments")
			}

			configPath := c.String(configFlag)
			r, err := startRun(c, "CreateConfigAccount", configPath)
			if err != nil {
				return err
			}
			defer r.end()

			result, err := admin.CreateConfigAccount(r.ctx, admin.CreateConfigAccountOptions{
				ConfigPath:     configPath,
				Tunables:       r.tunables,
				MaxReassembles: c.Uint("max-reassembles"),
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(c.App.Writer, result.Signature.String())
			return nil
		},
	}
}

func deriveConfigAccountCommand() *cli.Command {
	return &cli.Command{
		Name:    "DeriveConfigAccount",
		Aliases: []string{"derive-config-account"},
		Usage:   "Print the AMM config account address and bump for the configured program",
		Action: func(c *cli.Context) error {
			configPath := c.String(configFlag)
			r, err := startRun(c, "DeriveConfigAccount", configPath)
			if err != nil {
				return err
			}
			defer r.end()

			derived, err := admin.DeriveConfigAccount(admin.DeriveConfigAccountOptions{
				ConfigPath: configPath,
				Seed:       r.tunables.ConfigSeed,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "%s %d\n", base58.Encode(derived.Address), derived.Bump)
			return nil
		},
	}
}

func newKeypairCommand() *cli.Command {
	return &cli.Command{
		Name:    "NewKeypair",
		Aliases: []string{"new-keypair"},
		Usage:   "Generate a signer keypair file (payer_path/admin_path format) and print its public key",
		Description: "Writes one keypair file atomically with mode 0600 and refuses to overwrite\n" +
			"an existing file unless --force is set. It does no other key management.",
		ArgsUsage: "PATH",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing file",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("keypair path is required")
			}
			path := c.Args().First()

			r, err := startRun(c, "NewKeypair", "")
			if err != nil {
				return err
			}
			defer r.end()

			if keys.Exists(path) && !c.Bool("force") {
				return errors.Errorf("%s already exists, use --force to overwrite", path)
			}

			key, err := keys.Generate()
			if err != nil {
				return err
			}
			if err := keys.Write(key, path); err != nil {
				return err
			}

			fmt.Fprintln(c.App.Writer, base58.Encode(key.Public().(ed25519.PublicKey)))
			return nil
		},
	}
}
