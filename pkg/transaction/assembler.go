// Package transaction assembles, signs and submits Solana transactions.
package transaction

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/amm-admin/pkg/metrics"
	"github.com/code-payments/amm-admin/pkg/solana"
)

const assemblerMetricsStructName = "transaction.assembler"

// Assembler compiles instructions into a transaction bound to a recent
// blockhash and signs it.
type Assembler struct {
	log    *logrus.Entry
	client solana.Client
}

func NewAssembler(client solana.Client) *Assembler {
	return &Assembler{
		log:    logrus.StandardLogger().WithField("type", "transaction/assembler"),
		client: client,
	}
}

// Assemble builds a transaction paid for by payer. Every account the
// instructions mark as a signer, and the payer, must be among signers; this
// is checked before any network call. Signers the message does not need are
// ignored.
func (a *Assembler) Assemble(
	ctx context.Context,
	payer ed25519.PublicKey,
	instructions []solana.Instruction,
	signers ...ed25519.PrivateKey,
) (*solana.Transaction, error) {
	tracer := metrics.TraceMethodCall(ctx, assemblerMetricsStructName, "Assemble")
	defer tracer.End()

	txn, err := a.assemble(ctx, payer, instructions, signers)
	if err != nil {
		tracer.OnError(err)
		return nil, err
	}
	return txn, nil
}

func (a *Assembler) assemble(
	ctx context.Context,
	payer ed25519.PublicKey,
	instructions []solana.Instruction,
	signers []ed25519.PrivateKey,
) (*solana.Transaction, error) {
	if err := validateInstructions(payer, instructions); err != nil {
		return nil, err
	}

	required, err := selectSigners(payer, instructions, signers)
	if err != nil {
		return nil, err
	}

	for _, s := range signers {
		if !containsKey(required, s) {
			a.log.WithField("signer", base58.Encode(s.Public().(ed25519.PublicKey))).Warn("ignoring signer not required by the transaction")
		}
	}

	txn := solana.NewTransaction(payer, instructions...)
	if err := a.sign(ctx, &txn, required); err != nil {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{
		"signature": txn.Signature().String(),
		"blockhash": txn.Message.RecentBlockhash.String(),
		"signers":   len(required),
	}).Debug("transaction assembled")
	if a.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		a.log.Trace(txn.String())
	}

	return &txn, nil
}

// Resign binds txn to a fresh blockhash and replaces all of its signatures.
func (a *Assembler) Resign(ctx context.Context, txn *solana.Transaction, signers ...ed25519.PrivateKey) error {
	tracer := metrics.TraceMethodCall(ctx, assemblerMetricsStructName, "Resign")
	defer tracer.End()

	var required []ed25519.PrivateKey
	var missing []ed25519.PublicKey
	for _, pub := range txn.RequiredSigners() {
		s := findSigner(signers, pub)
		if s == nil {
			missing = append(missing, pub)
			continue
		}
		required = append(required, s)
	}
	if len(missing) > 0 {
		err := &MissingSignerError{Missing: missing}
		tracer.OnError(err)
		return err
	}

	previous := txn.Message.RecentBlockhash
	if err := a.sign(ctx, txn, required); err != nil {
		tracer.OnError(err)
		return err
	}

	a.log.WithFields(logrus.Fields{
		"signature":          txn.Signature().String(),
		"blockhash":          txn.Message.RecentBlockhash.String(),
		"previous_blockhash": previous.String(),
	}).Info("transaction signed over a new blockhash")

	return nil
}

func (a *Assembler) sign(ctx context.Context, txn *solana.Transaction, signers []ed25519.PrivateKey) error {
	start := time.Now()
	bh, err := a.client.GetLatestBlockhash(ctx)
	metrics.RecordDuration(ctx, assemblerMetricsStructName+".blockhash", time.Since(start))
	if err != nil {
		return errors.Wrap(err, "failed to get recent blockhash")
	}

	txn.SetBlockhash(bh)
	txn.ClearSignatures()

	if err := txn.Sign(signers...); err != nil {
		return &SigningError{Err: err}
	}
	if err := txn.VerifySignatures(); err != nil {
		return &SigningError{Err: err}
	}

	if size := len(txn.Marshal()); size > solana.MaxTransactionSize {
		return &InstructionBuildError{Index: -1, Reason: fmt.Sprintf("transaction is %d bytes, limit is %d", size, solana.MaxTransactionSize)}
	}

	return nil
}

func validateInstructions(payer ed25519.PublicKey, instructions []solana.Instruction) error {
	if len(payer) != ed25519.PublicKeySize {
		return &InstructionBuildError{Index: -1, Reason: "payer is not a valid public key"}
	}
	if len(instructions) == 0 {
		return &InstructionBuildError{Index: -1, Reason: "no instructions provided"}
	}

	for i, ixn := range instructions {
		if len(ixn.Program) != ed25519.PublicKeySize {
			return &InstructionBuildError{Index: i, Reason: "program is not a valid public key"}
		}
		if len(ixn.Data) == 0 {
			return &InstructionBuildError{Index: i, Reason: "instruction data is empty"}
		}
		for j, account := range ixn.Accounts {
			if len(account.PublicKey) != ed25519.PublicKeySize {
				return &InstructionBuildError{Index: i, Reason: fmt.Sprintf("account %d is not a valid public key", j)}
			}
		}
	}

	return nil
}

// selectSigners returns, in first-seen order, the provided signer for the
// payer and for every signing account, or a MissingSignerError naming each
// absent one.
func selectSigners(payer ed25519.PublicKey, instructions []solana.Instruction, signers []ed25519.PrivateKey) ([]ed25519.PrivateKey, error) {
	for _, s := range signers {
		if len(s) != ed25519.PrivateKeySize {
			return nil, &SigningError{Err: errors.Wrapf(solana.ErrInvalidSigner, "private key has length %d", len(s))}
		}
	}

	needed := []ed25519.PublicKey{payer}
	for _, ixn := range instructions {
		for _, account := range ixn.Accounts {
			if account.IsSigner && !containsPublicKey(needed, account.PublicKey) {
				needed = append(needed, account.PublicKey)
			}
		}
	}

	var selected []ed25519.PrivateKey
	var missing []ed25519.PublicKey
	for _, pub := range needed {
		s := findSigner(signers, pub)
		if s == nil {
			missing = append(missing, pub)
			continue
		}
		selected = append(selected, s)
	}

	if len(missing) > 0 {
		return nil, &MissingSignerError{Missing: missing}
	}
	return selected, nil
}

func findSigner(signers []ed25519.PrivateKey, pub ed25519.PublicKey) ed25519.PrivateKey {
	for _, s := range signers {
		if len(s) == ed25519.PrivateKeySize && bytes.Equal(s.Public().(ed25519.PublicKey), pub) {
			return s
		}
	}
	return nil
}

func containsKey(keys []ed25519.PrivateKey, key ed25519.PrivateKey) bool {
	for _, k := range keys {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}

func containsPublicKey(keys []ed25519.PublicKey, key ed25519.PublicKey) bool {
	for _, k := range keys {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}
