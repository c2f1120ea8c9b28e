// Package admin runs the AMM administration pipelines: configuration,
// keys, address derivation, instruction, transaction and submission.
package admin

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/amm-admin/pkg/clientconfig"
	"github.com/code-payments/amm-admin/pkg/keys"
	"github.com/code-payments/amm-admin/pkg/metrics"
	"github.com/code-payments/amm-admin/pkg/solana"
	"github.com/code-payments/amm-admin/pkg/solana/amm"
	"github.com/code-payments/amm-admin/pkg/transaction"
)

const (
	metricsPackageName = "admin"

	DefaultMaxReassembles = 1
)

type Stage string

const (
	StageConfigurationLoader Stage = "configuration loader"
	StageKeyMaterialProvider Stage = "key material provider"
	StageAddressDeriver      Stage = "address deriver"
	StageInstructionBuilder  Stage = "instruction builder"
	StageTransactionAssembly Stage = "transaction assembler"
	StageSubmissionService   Stage = "submission service"
)

// StageError names the pipeline stage a failure came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// ClientFactory builds the RPC client for the configured endpoint.
type ClientFactory func(endpoint string, conf solana.RetryConfig) solana.Client

func DefaultClientFactory(endpoint string, conf solana.RetryConfig) solana.Client {
	return solana.NewWithConfig(endpoint, conf)
}

type CreateConfigAccountOptions struct {
	ConfigPath string
	Tunables   clientconfig.Tunables

	// MaxReassembles bounds how many times the transaction is signed over a
	// fresh blockhash after the previous one expired.
	MaxReassembles uint

	ClientFactory ClientFactory
}

type Result struct {
	Signature     solana.Signature
	ConfigAccount ed25519.PublicKey
	Bump          uint8
	Confirmed     bool
}

// CreateConfigAccount initializes the AMM program's config account and
// returns the signature of the landed transaction.
func CreateConfigAccount(ctx context.Context, opts CreateConfigAccountOptions) (*Result, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsPackageName, "CreateConfigAccount")
	defer tracer.End()

	result, err := createConfigAccount(ctx, opts)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}
	return result, nil
}

func createConfigAccount(ctx context.Context, opts CreateConfigAccountOptions) (*Result, error) {
	log := logrus.StandardLogger().WithFields(logrus.Fields{
		"type":   "admin",
		"method": "CreateConfigAccount",
	})

	config, err := clientconfig.Load(opts.ConfigPath)
	if err != nil {
		return nil, stageError(StageConfigurationLoader, err)
	}

	payer, err := keys.Load(config.PayerPath)
	if err != nil {
		return nil, stageError(StageKeyMaterialProvider, errors.Wrap(err, "payer"))
	}
	admin, err := keys.Load(config.AdminPath)
	if err != nil {
		return nil, stageError(StageKeyMaterialProvider, errors.Wrap(err, "admin"))
	}

	payerPublic := payer.Public().(ed25519.PublicKey)
	adminPublic := admin.Public().(ed25519.PublicKey)

	configAccount, bump, err := amm.GetConfigAccountAddress(&amm.GetConfigAccountAddressArgs{
		Program: config.AmmProgram,
		Seed:    opts.Tunables.ConfigSeed,
	})
	if err != nil {
		return nil, stageError(StageAddressDeriver, err)
	}

	log = log.WithFields(logrus.Fields{
		"program":        base58.Encode(config.AmmProgram),
		"config_account": base58.Encode(configAccount),
		"bump":           bump,
		"payer":          base58.Encode(payerPublic),
		"admin":          base58.Encode(adminPublic),
	})
	log.Debug("derived config account")

	ixn, err := amm.NewCreateConfigAccountInstruction(&amm.CreateConfigAccountInstructionAccounts{
		Program:   config.AmmProgram,
		Admin:     adminPublic,
		AmmConfig: configAccount,
		PnlOwner:  config.PnlOwner,
	})
	if err != nil {
		return nil, stageError(StageInstructionBuilder, err)
	}

	factory := opts.ClientFactory
	if factory == nil {
		factory = DefaultClientFactory
	}
	client := factory(config.HTTPURL, opts.Tunables.RPC)

	assembler := transaction.NewAssembler(client)
	submitter := transaction.NewSubmitter(client, transaction.SubmitConfig{
		Commitment:   opts.Tunables.Commitment,
		PollInterval: opts.Tunables.PollInterval,
		PollLimit:    opts.Tunables.PollLimit,
	})

	txn, err := assembler.Assemble(ctx, payerPublic, []solana.Instruction{ixn}, payer, admin)
	if err != nil {
		return nil, stageError(StageTransactionAssembly, err)
	}

	for reassembles := uint(0); ; reassembles++ {
		sig, err := submitter.Submit(ctx, txn, opts.Tunables.Confirm)
		if err == nil {
			log.WithField("signature", sig.String()).Info("config account transaction submitted")
			return &Result{
				Signature:     sig,
				ConfigAccount: configAccount,
				Bump:          bump,
				Confirmed:     opts.Tunables.Confirm,
			}, nil
		}

		var expiredErr *transaction.ReplayTokenExpiredError
		if !errors.As(err, &expiredErr) || reassembles >= opts.MaxReassembles {
			return nil, stageError(StageSubmissionService, err)
		}

		log.WithError(err).Info("blockhash expired, signing over a fresh blockhash")
		if err := assembler.Resign(ctx, txn, payer, admin); err != nil {
			return nil, stageError(StageTransactionAssembly, err)
		}
	}
}

type DeriveConfigAccountOptions struct {
	ConfigPath string
	Seed       []byte
}

type DerivedAccount struct {
	Program ed25519.PublicKey
	Address ed25519.PublicKey
	Bump    uint8
}

// DeriveConfigAccount computes the config account address for the configured
// program without reading keys or touching the network.
func DeriveConfigAccount(opts DeriveConfigAccountOptions) (*DerivedAccount, error) {
	config, err := clientconfig.Load(opts.ConfigPath)
	if err != nil {
		return nil, stageError(StageConfigurationLoader, err)
	}

	address, bump, err := amm.GetConfigAccountAddress(&amm.GetConfigAccountAddressArgs{
		Program: config.AmmProgram,
		Seed:    opts.Seed,
	})
	if err != nil {
		return nil, stageError(StageAddressDeriver, err)
	}

	return &DerivedAccount{
		Program: config.AmmProgram,
		Address: address,
		Bump:    bump,
	}, nil
}
