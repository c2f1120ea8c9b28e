package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/amm-admin/pkg/testutil"
)

func TestSignatureStatus(t *testing.T) {
	zero, one := 0, 1

	testCases := []struct {
		s         SignatureStatus
		confirmed bool
		finalized bool
	}{
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &zero,
				ConfirmationStatus: "",
			},
		},
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &zero,
				ConfirmationStatus: "random",
			},
		},
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &zero,
				ConfirmationStatus: confirmationStatusProcessed,
			},
		},
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &one,
				ConfirmationStatus: "",
			},
			confirmed: true,
		},
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &zero,
				ConfirmationStatus: confirmationStatusConfirmed,
			},
			confirmed: true,
		},
		{
			s: SignatureStatus{
				Slot:               10,
				ErrorResult:        nil,
				Confirmations:      &zero,
				ConfirmationStatus: confirmationStatusFinalized,
			},
			confirmed: true,
			finalized: true,
		},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.confirmed, tc.s.Confirmed())
		assert.Equal(t, tc.finalized, tc.s.Finalized())
	}
}

func TestSignatureStatus_Reached(t *testing.T) {
	zero := 0

	processed := SignatureStatus{Confirmations: &zero, ConfirmationStatus: confirmationStatusProcessed}
	assert.True(t, processed.Reached(CommitmentProcessed))
	assert.False(t, processed.Reached(CommitmentConfirmed))
	assert.False(t, processed.Reached(CommitmentFinalized))

	confirmed := SignatureStatus{Confirmations: &zero, ConfirmationStatus: confirmationStatusConfirmed}
	assert.True(t, confirmed.Reached(CommitmentConfirmed))
	assert.False(t, confirmed.Reached(CommitmentFinalized))

	rooted := SignatureStatus{ConfirmationStatus: confirmationStatusFinalized}
	assert.True(t, rooted.Reached(CommitmentFinalized))
}

func TestParseCommitment(t *testing.T) {
	for level, expected := range map[string]Commitment{
		"processed": CommitmentProcessed,
		"confirmed": CommitmentConfirmed,
		"finalized": CommitmentFinalized,
	} {
		actual, err := ParseCommitment(level)
		require.NoError(t, err)
		assert.Equal(t, expected, actual)
	}

	_, err := ParseCommitment("max")
	assert.Error(t, err)
}

func newTestClient(t *testing.T) (Client, *testutil.RPCServer) {
	server := testutil.NewRPCServer(t)
	return NewWithConfig(server.URL(), RetryConfig{
		MaxAttempts:    3,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
	}), server
}

func blockhashReply(bh Blockhash) testutil.RPCReply {
	return testutil.RPCReply{Result: map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value": map[string]interface{}{
			"blockhash":            bh.String(),
			"lastValidBlockHeight": 100,
		},
	}}
}

func TestClient_GetLatestBlockhash(t *testing.T) {
	client, server := newTestClient(t)

	var expected Blockhash
	expected[0] = 1
	expected[31] = 2
	server.Reply("getLatestBlockhash", blockhashReply(expected))

	for i := 0; i < 2; i++ {
		actual, err := client.GetLatestBlockhash(context.Background())
		require.NoError(t, err)
		assert.Equal(t, expected, actual)
	}

	// No caching: every call reaches the node.
	assert.Equal(t, 2, server.Calls("getLatestBlockhash"))
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	client, server := newTestClient(t)

	var expected Blockhash
	expected[0] = 7
	server.Sequence(
		"getLatestBlockhash",
		testutil.RPCReply{HTTPStatus: http.StatusTooManyRequests},
		testutil.RPCReply{Error: &testutil.RPCError{Code: rpcNodeUnhealthyCode, Message: "Node is unhealthy"}},
		blockhashReply(expected),
	)

	actual, err := client.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
	assert.Equal(t, 3, server.Calls("getLatestBlockhash"))
}

func TestClient_NetworkError(t *testing.T) {
	client, server := newTestClient(t)
	server.Reply("getLatestBlockhash", testutil.RPCReply{HTTPStatus: http.StatusBadGateway})

	_, err := client.GetLatestBlockhash(context.Background())
	require.Error(t, err)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "getLatestBlockhash", netErr.Method)
	assert.EqualValues(t, 3, netErr.Attempts)
	assert.Equal(t, 3, server.Calls("getLatestBlockhash"))
}

func TestClient_Unreachable(t *testing.T) {
	// Nothing listens on port 1.
	client := NewWithConfig("http://127.0.0.1:1", RetryConfig{
		MaxAttempts:    2,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     time.Millisecond,
		RequestTimeout: time.Second,
	})

	_, err := client.GetLatestBlockhash(context.Background())

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.EqualValues(t, 2, netErr.Attempts)
}

func TestClient_NonTransientErrorsNotRetried(t *testing.T) {
	client, server := newTestClient(t)
	server.Reply("getLatestBlockhash", testutil.RPCReply{Error: &testutil.RPCError{Code: -32602, Message: "Invalid params"}})

	_, err := client.GetLatestBlockhash(context.Background())
	require.Error(t, err)

	var netErr *NetworkError
	assert.False(t, errors.As(err, &netErr))
	assert.Equal(t, 1, server.Calls("getLatestBlockhash"))
}

func TestClient_CancelledContext(t *testing.T) {
	client, server := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetLatestBlockhash(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, server.Calls("getLatestBlockhash"))
}

func TestClient_MaxRequestsPerSecond(t *testing.T) {
	server := testutil.NewRPCServer(t)
	client := NewWithConfig(server.URL(), RetryConfig{
		MaxAttempts:          1,
		BaseBackoff:          time.Millisecond,
		MaxBackoff:           time.Millisecond,
		RequestTimeout:       5 * time.Second,
		MaxRequestsPerSecond: 5,
	})

	var bh Blockhash
	bh[0] = 1
	server.Reply("getLatestBlockhash", blockhashReply(bh))
	server.Reply("isBlockhashValid", testutil.BlockhashValidReply(true))

	// A burst of 5 goes through immediately, the 6th waits for a token.
	start := time.Now()
	for i := 0; i < 6; i++ {
		_, err := client.GetLatestBlockhash(context.Background())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	// Other methods are paced independently.
	start = time.Now()
	_, err := client.IsBlockhashValid(context.Background(), bh, CommitmentFinalized)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	for i := 0; i < 6; i++ {
		if _, err = client.GetLatestBlockhash(ctx); err != nil {
			break
		}
	}
	assert.Error(t, err)
	assert.Equal(t, 6, server.Calls("getLatestBlockhash"))
}

func TestClient_SubmitTransaction(t *testing.T) {
	client, server := newTestClient(t)

	keys := generateKeys(t, 2)
	tx := NewTransaction(public(keys[0]), NewInstruction(public(keys[1]), []byte{14}))
	require.NoError(t, tx.Sign(keys[0]))

	server.Reply("sendTransaction", testutil.RPCReply{Result: tx.Signature().String()})

	sig, err := client.SubmitTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Signature(), sig)

	params := server.Params("sendTransaction")
	require.Len(t, params, 1)
	require.Len(t, params[0], 2)

	var encoded string
	require.NoError(t, json.Unmarshal(params[0][0], &encoded))
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, tx.Marshal(), raw)

	var config map[string]interface{}
	require.NoError(t, json.Unmarshal(params[0][1], &config))
	assert.Equal(t, "base64", config["encoding"])
	assert.Equal(t, true, config["skipPreflight"])
}

func TestClient_SubmitTransaction_Rejected(t *testing.T) {
	client, server := newTestClient(t)

	keys := generateKeys(t, 2)
	tx := NewTransaction(public(keys[0]), NewInstruction(public(keys[1]), []byte{14}))
	require.NoError(t, tx.Sign(keys[0]))

	server.Reply("sendTransaction", testutil.RPCReply{Error: &testutil.RPCError{
		Code:    rpcSendTransactionPreflightFailureCode,
		Message: "Transaction simulation failed: Blockhash not found",
		Data:    map[string]interface{}{"err": "BlockhashNotFound"},
	}})

	sig, err := client.SubmitTransaction(context.Background(), tx)
	require.Error(t, err)
	assert.Equal(t, tx.Signature(), sig)

	var txErr *TransactionError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, TransactionErrorBlockhashNotFound, txErr.ErrorKey())
	assert.Equal(t, 1, server.Calls("sendTransaction"))
}

func TestClient_GetSignatureStatuses(t *testing.T) {
	client, server := newTestClient(t)

	var seen, failed, unseen Signature
	seen[0], failed[0], unseen[0] = 1, 2, 3

	server.Reply("getSignatureStatuses", testutil.RPCReply{Result: map[string]interface{}{
		"context": map[string]interface{}{"slot": 10},
		"value": []interface{}{
			map[string]interface{}{
				"slot":               9,
				"confirmations":      nil,
				"confirmationStatus": "finalized",
				"err":                nil,
			},
			map[string]interface{}{
				"slot":               8,
				"confirmations":      2,
				"confirmationStatus": "confirmed",
				"err": map[string]interface{}{
					"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 1}},
				},
			},
			nil,
		},
	}})

	statuses, err := client.GetSignatureStatuses(context.Background(), []Signature{seen, failed, unseen})
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	require.NotNil(t, statuses[0])
	assert.True(t, statuses[0].Finalized())
	assert.Nil(t, statuses[0].ErrorResult)
	assert.EqualValues(t, 9, statuses[0].Slot)

	require.NotNil(t, statuses[1])
	require.NotNil(t, statuses[1].ErrorResult)
	assert.Equal(t, TransactionErrorInstructionError, statuses[1].ErrorResult.ErrorKey())
	assert.Equal(t, CustomError(1), *statuses[1].ErrorResult.InstructionError().CustomError())

	assert.Nil(t, statuses[2])

	params := server.Params("getSignatureStatuses")
	require.Len(t, params, 1)
	var sigs []string
	require.NoError(t, json.Unmarshal(params[0][0], &sigs))
	assert.Equal(t, []string{seen.String(), failed.String(), unseen.String()}, sigs)
}

func TestClient_IsBlockhashValid(t *testing.T) {
	client, server := newTestClient(t)

	server.Sequence(
		"isBlockhashValid",
		testutil.RPCReply{Result: map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": true}},
		testutil.RPCReply{Result: map[string]interface{}{"context": map[string]interface{}{"slot": 2}, "value": false}},
	)

	var bh Blockhash
	bh[0] = 9

	valid, err := client.IsBlockhashValid(context.Background(), bh, CommitmentProcessed)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = client.IsBlockhashValid(context.Background(), bh, CommitmentProcessed)
	require.NoError(t, err)
	assert.False(t, valid)

	params := server.Params("isBlockhashValid")
	require.Len(t, params, 2)
	var encoded string
	require.NoError(t, json.Unmarshal(params[0][0], &encoded))
	assert.Equal(t, bh.String(), encoded)
}
