package transaction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/amm-admin/pkg/solana"
	"github.com/code-payments/amm-admin/pkg/testutil"
)

func (e *testEnv) signedTransaction(t *testing.T) *solana.Transaction {
	e.server.Reply("getLatestBlockhash", blockhashReply(randomBlockhash(t)))

	txn, err := e.assembler.Assemble(context.Background(), e.payerPublic(), []solana.Instruction{e.instruction()}, e.payer, e.admin)
	require.NoError(t, err)
	return txn
}

func (e *testEnv) submitter(commitment solana.Commitment, pollLimit uint) *Submitter {
	return NewSubmitter(e.client, SubmitConfig{
		Commitment:   commitment,
		PollInterval: time.Millisecond,
		PollLimit:    pollLimit,
	})
}

func TestSubmit_FireAndForget(t *testing.T) {
	env := setup(t)
	txn := env.signedTransaction(t)
	env.server.Reply("sendTransaction", testutil.SendTransactionReply(txn.Signature().String()))

	sig, err := env.submitter(solana.CommitmentFinalized, 10).Submit(context.Background(), txn, false)
	require.NoError(t, err)
	assert.Equal(t, txn.Signature(), sig)

	params := env.server.Params("sendTransaction")
	require.Len(t, params, 1)

	var encoded string
	require.NoError(t, json.Unmarshal(params[0][0], &encoded))
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, txn.Marshal(), raw)

	assert.Zero(t, env.server.Calls("getSignatureStatuses"))
}

func TestSubmit_Confirm(t *testing.T) {
	env := setup(t)
	txn := env.signedTransaction(t)
	env.server.Reply("sendTransaction", testutil.SendTransactionReply(txn.Signature().String()))
	env.server.Reply("isBlockhashValid", testutil.BlockhashValidReply(true))
	env.server.Sequence(
		"getSignatureStatuses",
		testutil.SignatureStatusReply(nil),
		testutil.SignatureStatusReply(testutil.SignatureStatus("confirmed", nil)),
		testutil.SignatureStatusReply(testutil.SignatureStatus("finalized", nil)),
	)

	sig, err := env.submitter(solana.CommitmentFinalized, 10).Submit(context.Background(), txn, true)
	require.NoError(t, err)
	assert.Equal(t, txn.Signature(), sig)

	assert.Equal(t, 3, env.server.Calls("getSignatureStatuses"))
	assert.Equal(t, 1, env.server.Calls("isBlockhashValid"))
}

func TestSubmit_ConfirmedCommitment(t *testing.T) {
	env := setup(t)
	txn := env.signedTransaction(t)
	env.server.Reply("sendTransaction", testutil.SendTransactionReply(txn.Signature().String()))
	env.server.Reply("getSignatureStatuses", testutil.SignatureStatusReply(testutil.SignatureStatus("confirmed", nil)))

	_, err := env.submitter(solana.CommitmentConfirmed, 10).Submit(context.Background(), txn, true)
	require.NoError(t, err)
	assert.Equal(t, 1, env.server.Calls("getSignatureStatuses"))
}

func TestSubmit_RejectedOnSubmission(t *testing.T) {
	env := setup(t)
	txn := env.signedTransaction(t)
	env.server.Reply("sendTransaction", testutil.PreflightFailureReply(map[string]interface{}{
		"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 1}},
	}))

	sig, err := env.submitter(solana.CommitmentFinalized, 10).Submit(context.Background(), txn, true)
	assert.Equal(t, txn.Signature(), sig)

	var rejectedErr *TransactionRejectedError
	require.True(t, errors.As(err, &rejectedErr))
	assert.Equal(t, txn.Signature(), rejectedErr.Signature)
	require.NotNil(t, rejectedErr.Err)
	require.NotNil(t, rejectedErr.Err.InstructionError())
	require.NotNil(t, rejectedErr.Err.InstructionError().CustomError())
	assert.EqualValues(t, 1, *rejectedErr.Err.InstructionError().CustomError())

	assert.Equal(t, 1, env.server.Calls("sendTransaction"))
	assert.Zero(t, env.server.Calls("getSignatureStatuses"))
}

func TestSubmit_BlockhashNotFound(t *testing.T) {
	env := setup(t)
	txn := env.signedTransaction(t)
	env.server.Reply("sendTransaction", testutil.PreflightFailureReply("BlockhashNotFound"))

	_, err := env.submitter(solana.CommitmentFinalized, 10).Submit(context.Background(), txn, true)

	var expiredErr *ReplayTokenExpiredError
	require.True(t, errors.As(err, &expiredErr))
	assert.Equal(t, txn.Message.RecentBlockhash, expiredErr.Blockhash)

	assert.Equal(t, 1, env.server.Calls("sendTransaction"))
	assert.Zero(t, env.server.Calls("getSignatureStatuses"))
}

func TestSubmit_AlreadyProcessed(t *testing.T) {
	env := setup(t)
	txn := env.signedTransaction(t)
	env.server.Reply("sendTransaction", testutil.PreflightFailureReply("AlreadyProcessed"))
	env.server.Reply("getSignatureStatuses", testutil.SignatureStatusReply(testutil.SignatureStatus("finalized", nil)))

	sig, err := env.submitter(solana.CommitmentFinalized, 10).Submit(context.Background(), txn, true)
	require.NoError(t, err)
	assert.Equal(t, txn.Signature(), sig)
}

func TestSubmit_FailedOnLedger(t *testing.T) {
	env := setup(t)
	txn := env.signedTransaction(t)
	env.server.Reply("sendTransaction", testutil.SendTransactionReply(txn.Signature().String()))
	env.server.Reply("getSignatureStatuses", testutil.SignatureStatusReply(testutil.SignatureStatus("confirmed", map[string]interface{}{
		"InstructionError": []interface{}{0, "AccountAlreadyInitialized"},
	})))

	_, err := env.submitter(solana.CommitmentFinalized, 10).Submit(context.Background(), txn, true)

	var rejectedErr *TransactionRejectedError
	require.True(t, errors.As(err, &rejectedErr))
	assert.Equal(t, solana.InstructionErrorAccountAlreadyInitialized, rejectedErr.Err.InstructionError().ErrorKey())
	assert.Equal(t, 1, env.server.Calls("getSignatureStatuses"))
}

func TestSubmit_ExpiredWhilePolling(t *testing.T) {
	env := setup(t)
	txn := env.signedTransaction(t)
	env.server.Reply("sendTransaction", testutil.SendTransactionReply(txn.Signature().String()))
	env.server.Reply("getSignatureStatuses", testutil.SignatureStatusReply(nil))
	env.server.Sequence(
		"isBlockhashValid",
		testutil.BlockhashValidReply(true),
		testutil.BlockhashValidReply(false),
	)

	_, err := env.submitter(solana.CommitmentFinalized, 10).Submit(context.Background(), txn, true)

	var expiredErr *ReplayTokenExpiredError
	require.True(t, errors.As(err, &expiredErr))
	assert.Equal(t, txn.Signature(), expiredErr.Signature)
	assert.Equal(t, 2, env.server.Calls("getSignatureStatuses"))

	params := env.server.Params("isBlockhashValid")
	require.Len(t, params, 2)
	var blockhash string
	require.NoError(t, json.Unmarshal(params[0][0], &blockhash))
	assert.Equal(t, txn.Message.RecentBlockhash.String(), blockhash)
}

func TestSubmit_ConfirmationTimeout(t *testing.T) {
	env := setup(t)
	txn := env.signedTransaction(t)
	env.server.Reply("sendTransaction", testutil.SendTransactionReply(txn.Signature().String()))
	env.server.Reply("getSignatureStatuses", testutil.SignatureStatusReply(testutil.SignatureStatus("confirmed", nil)))

	_, err := env.submitter(solana.CommitmentFinalized, 3).Submit(context.Background(), txn, true)

	var timeoutErr *ConfirmationTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.EqualValues(t, 3, timeoutErr.Attempts)
	assert.Equal(t, solana.CommitmentFinalized, timeoutErr.Commitment)
	assert.Equal(t, 3, env.server.Calls("getSignatureStatuses"))
}

func TestSubmit_NetworkError(t *testing.T) {
	env := setup(t)
	txn := env.signedTransaction(t)
	env.server.Reply("sendTransaction", testutil.RPCReply{HTTPStatus: http.StatusBadGateway})

	_, err := env.submitter(solana.CommitmentFinalized, 10).Submit(context.Background(), txn, true)

	var networkErr *solana.NetworkError
	require.True(t, errors.As(err, &networkErr))
	assert.Equal(t, "sendTransaction", networkErr.Method)
	assert.Equal(t, 3, env.server.Calls("sendTransaction"))
}
