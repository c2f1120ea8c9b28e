package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"
	xrate "golang.org/x/time/rate"

	"github.com/code-payments/amm-admin/pkg/metrics"
	"github.com/code-payments/amm-admin/pkg/rate"
	"github.com/code-payments/amm-admin/pkg/retry"
	"github.com/code-payments/amm-admin/pkg/retry/backoff"
)

const (
	metricsStructName = "solana.client"

	confirmationStatusProcessed = "processed"
	confirmationStatusConfirmed = "confirmed"
	confirmationStatusFinalized = "finalized"
)

type Commitment struct {
	Commitment string `json:"commitment"`
}

var (
	CommitmentProcessed = Commitment{Commitment: confirmationStatusProcessed}
	CommitmentConfirmed = Commitment{Commitment: confirmationStatusConfirmed}
	CommitmentFinalized = Commitment{Commitment: confirmationStatusFinalized}
)

// ParseCommitment maps a commitment level name to a Commitment.
func ParseCommitment(level string) (Commitment, error) {
	switch level {
	case confirmationStatusProcessed:
		return CommitmentProcessed, nil
	case confirmationStatusConfirmed:
		return CommitmentConfirmed, nil
	case confirmationStatusFinalized:
		return CommitmentFinalized, nil
	}
	return Commitment{}, errors.Errorf("unknown commitment level %q", level)
}

type SignatureStatus struct {
	Slot        uint64
	ErrorResult *TransactionError

	// Confirmations will be nil if the transaction has been rooted.
	Confirmations      *int
	ConfirmationStatus string
}

func (s SignatureStatus) Confirmed() bool {
	if s.Finalized() {
		return true
	}

	if s.ConfirmationStatus == confirmationStatusConfirmed {
		return true
	}

	return s.Confirmations != nil && *s.Confirmations >= 1
}

func (s SignatureStatus) Finalized() bool {
	return s.Confirmations == nil || s.ConfirmationStatus == confirmationStatusFinalized
}

// Reached reports whether the transaction has reached the commitment level.
func (s SignatureStatus) Reached(commitment Commitment) bool {
	switch commitment {
	case CommitmentProcessed:
		return true
	case CommitmentConfirmed:
		return s.Confirmed()
	default:
		return s.Finalized()
	}
}

// Client is the subset of the Solana JSON RPC API needed to submit a
// transaction and follow it to confirmation.
//
// Reference: https://docs.solana.com/api/http
type Client interface {
	GetLatestBlockhash(ctx context.Context) (Blockhash, error)
	SubmitTransaction(ctx context.Context, txn Transaction) (Signature, error)
	GetSignatureStatuses(ctx context.Context, sigs []Signature) ([]*SignatureStatus, error)
	IsBlockhashValid(ctx context.Context, bh Blockhash, commitment Commitment) (bool, error)
}

// RetryConfig bounds how the client retries transport failures and paces
// its requests. A zero MaxRequestsPerSecond disables pacing.
type RetryConfig struct {
	MaxAttempts          uint
	BaseBackoff          time.Duration
	MaxBackoff           time.Duration
	RequestTimeout       time.Duration
	MaxRequestsPerSecond float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		BaseBackoff:    500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// NetworkError is returned when an RPC method could not be completed after
// exhausting retries on transport-level failures.
type NetworkError struct {
	Method   string
	Attempts uint
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Method, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

var (
	errTransport    = errors.New("transport failure")
	errRateLimited  = errors.New("rate limited")
	errServiceError = errors.New("service error")
)

// transientError tags a failure with the reason it can be retried.
type transientError struct {
	reason error
	err    error
}

func (e *transientError) Error() string {
	return fmt.Sprintf("%v: %v", e.reason, e.err)
}

func (e *transientError) Is(target error) bool {
	return target == e.reason
}

func (e *transientError) Unwrap() error {
	return e.err
}

type client struct {
	log     *logrus.Entry
	client  jsonrpc.RPCClient
	retrier retry.Retrier
	limiter rate.Limiter
}

// New returns a client using the specified endpoint and the default retry
// policy.
func New(endpoint string) Client {
	return NewWithConfig(endpoint, DefaultRetryConfig())
}

// NewWithConfig returns a client using the specified endpoint and retry policy.
func NewWithConfig(endpoint string, conf RetryConfig) Client {
	log := logrus.StandardLogger().WithField("type", "solana/client")

	var limiter rate.Limiter = &rate.NoLimiter{}
	if conf.MaxRequestsPerSecond > 0 {
		limiter = rate.NewLocalRateLimiter(xrate.Limit(conf.MaxRequestsPerSecond))
	}

	return &client{
		limiter: limiter,
		log:     log,
		client: jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{
			HTTPClient: &http.Client{Timeout: conf.RequestTimeout},
		}),
		retrier: retry.NewRetrier(
			retry.RetriableErrors(errTransport, errRateLimited, errServiceError),
			retry.Limit(conf.MaxAttempts),
			retry.OnRetry(func(attempts uint, err error) {
				log.WithError(err).WithField("attempt", attempts).Warn("rpc call failed, retrying")
			}),
			retry.BackoffWithJitter(backoff.BinaryExponential(conf.BaseBackoff), conf.MaxBackoff, 0.1),
		),
	}
}

func (c *client) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, method)
	defer tracer.End()

	start := time.Now()
	attempts, err := c.retrier.Retry(func() error {
		// Pacing is per method.
		if err := c.limiter.Wait(ctx, method); err != nil {
			return err
		}

		err := c.client.CallFor(out, method, params...)
		if err == nil {
			return nil
		}

		return c.classify(method, err)
	})
	metricName := fmt.Sprintf("%s.%s", metricsStructName, method)
	metrics.RecordDuration(ctx, metricName, time.Since(start))
	if attempts > 1 {
		metrics.RecordCount(ctx, metricName+".retries", uint64(attempts-1))
	}

	if err == nil {
		return nil
	}
	tracer.OnError(err)

	var transient *transientError
	if errors.As(err, &transient) {
		return &NetworkError{
			Method:   method,
			Attempts: attempts,
			Err:      err,
		}
	}

	return errors.Wrapf(err, "%s() failed", method)
}

// classify tags err as transient when another attempt could succeed:
// connection failures, throttling and unhealthy or failing nodes. Everything
// else, including well-formed RPC errors, is returned unchanged.
func (c *client) classify(method string, err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch {
		case rpcErr.Code == http.StatusTooManyRequests:
			c.log.WithField("method", method).Warn("rate limited")
			return &transientError{errRateLimited, err}
		case rpcErr.Code == rpcNodeUnhealthyCode:
			return &transientError{errServiceError, err}
		}
		return err
	}

	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Code == http.StatusTooManyRequests:
			c.log.WithField("method", method).Warn("rate limited")
			return &transientError{errRateLimited, err}
		case httpErr.Code >= http.StatusInternalServerError:
			return &transientError{errServiceError, err}
		}
		return err
	}

	return &transientError{errTransport, err}
}

func (c *client) GetLatestBlockhash(ctx context.Context) (hash Blockhash, err error) {
	type response struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}

	var resp response
	if err := c.call(ctx, &resp, "getLatestBlockhash"); err != nil {
		return hash, err
	}

	hashBytes, err := base58.Decode(resp.Value.Blockhash)
	if err != nil {
		return hash, errors.Wrap(err, "invalid base58 encoded hash in response")
	}
	if len(hashBytes) != len(hash) {
		return hash, errors.Errorf("invalid blockhash length %d in response", len(hashBytes))
	}

	copy(hash[:], hashBytes)
	return hash, nil
}

// SubmitTransaction sends the signed transaction without preflight
// simulation. A rejection reported by the node is returned as a
// *TransactionError.
func (c *client) SubmitTransaction(ctx context.Context, txn Transaction) (Signature, error) {
	sig := txn.Signature()

	config := struct {
		Encoding      string `json:"encoding"`
		SkipPreflight bool   `json:"skipPreflight"`
	}{
		Encoding:      "base64",
		SkipPreflight: true,
	}

	var sigStr string
	err := c.call(ctx, &sigStr, "sendTransaction", base64.StdEncoding.EncodeToString(txn.Marshal()), config)
	if err == nil {
		if sigStr != sig.String() {
			c.log.WithFields(logrus.Fields{
				"expected": sig.String(),
				"actual":   sigStr,
			}).Warn("node returned an unexpected signature")
		}
		return sig, nil
	}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return sig, err
	}

	txErr, parseErr := ParseRPCError(rpcErr)
	if parseErr != nil {
		c.log.WithError(parseErr).Warn("failed to parse transaction error")
	}
	if txErr != nil {
		return sig, txErr
	}

	return sig, err
}

// GetSignatureStatuses returns one status per signature, with nil entries
// for signatures the node has not seen.
func (c *client) GetSignatureStatuses(ctx context.Context, sigs []Signature) ([]*SignatureStatus, error) {
	b58Sigs := make([]string, len(sigs))
	for i := range sigs {
		b58Sigs[i] = sigs[i].String()
	}

	req := struct {
		SearchTransactionHistory bool `json:"searchTransactionHistory"`
	}{
		SearchTransactionHistory: true,
	}

	type signatureStatus struct {
		Slot               uint64          `json:"slot"`
		Confirmations      *int            `json:"confirmations"`
		ConfirmationStatus string          `json:"confirmationStatus"`
		Err                json.RawMessage `json:"err"`
	}

	type response struct {
		Value []*signatureStatus `json:"value"`
	}

	var resp response
	if err := c.call(ctx, &resp, "getSignatureStatuses", b58Sigs, req); err != nil {
		return nil, err
	}

	statuses := make([]*SignatureStatus, len(sigs))
	for i, v := range resp.Value {
		if v == nil || i >= len(statuses) {
			continue
		}

		statuses[i] = &SignatureStatus{
			Slot:               v.Slot,
			Confirmations:      v.Confirmations,
			ConfirmationStatus: v.ConfirmationStatus,
		}

		if len(v.Err) > 0 {
			d := json.NewDecoder(bytes.NewBuffer(v.Err))
			d.UseNumber()

			var txError interface{}
			if err := d.Decode(&txError); err != nil {
				return nil, errors.Wrap(err, "failed to parse transaction result")
			}

			txErr, err := ParseTransactionError(txError)
			if err != nil {
				return nil, errors.Wrap(err, "failed to parse transaction result")
			}
			statuses[i].ErrorResult = txErr
		}
	}

	return statuses, nil
}

func (c *client) IsBlockhashValid(ctx context.Context, bh Blockhash, commitment Commitment) (bool, error) {
	type response struct {
		Value bool `json:"value"`
	}

	var resp response
	if err := c.call(ctx, &resp, "isBlockhashValid", bh.String(), commitment); err != nil {
		return false, err
	}

	return resp.Value, nil
}
