package transaction

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/code-payments/amm-admin/pkg/solana"
)

// InstructionBuildError is returned when the instructions handed to the
// assembler cannot form a valid message.
type InstructionBuildError struct {
	Index  int
	Reason string
}

func (e *InstructionBuildError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid instructions: %s", e.Reason)
	}
	return fmt.Sprintf("invalid instruction %d: %s", e.Index, e.Reason)
}

// MissingSignerError lists the accounts the message requires signatures from
// that were not provided.
type MissingSignerError struct {
	Missing []ed25519.PublicKey
}

func (e *MissingSignerError) Error() string {
	missing := make([]string, len(e.Missing))
	for i, pub := range e.Missing {
		missing[i] = base58.Encode(pub)
	}
	return fmt.Sprintf("missing signer(s): %s", strings.Join(missing, ", "))
}

type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("failed to sign transaction: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// TransactionRejectedError is returned when the ledger refused or failed the
// transaction.
type TransactionRejectedError struct {
	Signature solana.Signature
	Reason    string
	Err       *solana.TransactionError
}

func (e *TransactionRejectedError) Error() string {
	return fmt.Sprintf("transaction %s rejected: %s", e.Signature, e.Reason)
}

func (e *TransactionRejectedError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// ReplayTokenExpiredError is returned when the transaction's blockhash is no
// longer recent. The transaction can only land after being signed again over
// a fresh blockhash.
type ReplayTokenExpiredError struct {
	Signature solana.Signature
	Blockhash solana.Blockhash
}

func (e *ReplayTokenExpiredError) Error() string {
	return fmt.Sprintf("blockhash %s expired before transaction %s landed", e.Blockhash, e.Signature)
}

// ConfirmationTimeoutError is returned when the transaction did not reach the
// requested commitment within the polling budget while its blockhash was
// still valid. The transaction may still land.
type ConfirmationTimeoutError struct {
	Signature  solana.Signature
	Commitment solana.Commitment
	Attempts   uint
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("transaction %s not %s after %d status checks", e.Signature, e.Commitment.Commitment, e.Attempts)
}
