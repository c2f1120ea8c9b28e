package transaction

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/amm-admin/pkg/metrics"
	"github.com/code-payments/amm-admin/pkg/retry"
	"github.com/code-payments/amm-admin/pkg/retry/backoff"
	"github.com/code-payments/amm-admin/pkg/solana"
)

const (
	submitterMetricsStructName = "transaction.submitter"

	submittedEventName = "TransactionSubmitted"
)

var errNotConfirmed = errors.New("transaction not yet confirmed")

type SubmitConfig struct {
	Commitment   solana.Commitment
	PollInterval time.Duration
	PollLimit    uint
}

func DefaultSubmitConfig() SubmitConfig {
	return SubmitConfig{
		Commitment:   solana.CommitmentFinalized,
		PollInterval: 500 * time.Millisecond,
		PollLimit:    120,
	}
}

// Submitter sends signed transactions and optionally follows them until they
// reach the configured commitment.
type Submitter struct {
	log    *logrus.Entry
	client solana.Client
	conf   SubmitConfig
}

func NewSubmitter(client solana.Client, conf SubmitConfig) *Submitter {
	return &Submitter{
		log:    logrus.StandardLogger().WithField("type", "transaction/submitter"),
		client: client,
		conf:   conf,
	}
}

// Submit sends txn without simulating it. When confirm is false the
// signature is returned as soon as the node accepts the transaction.
// Otherwise Submit polls until the transaction reaches the configured
// commitment, is rejected, or its blockhash expires.
func (s *Submitter) Submit(ctx context.Context, txn *solana.Transaction, confirm bool) (solana.Signature, error) {
	tracer := metrics.TraceMethodCall(ctx, submitterMetricsStructName, "Submit")
	defer tracer.End()

	sig, err := s.submit(ctx, txn, confirm)
	if err != nil {
		tracer.OnError(err)
	}
	return sig, err
}

func (s *Submitter) submit(ctx context.Context, txn *solana.Transaction, confirm bool) (solana.Signature, error) {
	sig := txn.Signature()
	log := s.log.WithFields(logrus.Fields{
		"method":    "Submit",
		"signature": sig.String(),
		"blockhash": txn.Message.RecentBlockhash.String(),
	})

	_, err := s.client.SubmitTransaction(ctx, *txn)
	if err != nil {
		var txErr *solana.TransactionError
		if !errors.As(err, &txErr) {
			log.WithError(err).Warn("failure submitting transaction")
			return sig, err
		}

		switch txErr.ErrorKey() {
		case solana.TransactionErrorAlreadyProcessed:
			log.Info("transaction already processed")
		case solana.TransactionErrorBlockhashNotFound:
			log.Info("transaction blockhash expired")
			return sig, &ReplayTokenExpiredError{Signature: sig, Blockhash: txn.Message.RecentBlockhash}
		default:
			log.WithError(txErr).Info("transaction rejected")
			return sig, &TransactionRejectedError{Signature: sig, Reason: txErr.Error(), Err: txErr}
		}
	}

	log.Info("transaction submitted")
	metrics.RecordEvent(ctx, submittedEventName, map[string]interface{}{
		"signature": sig.String(),
		"confirm":   confirm,
	})

	if !confirm {
		return sig, nil
	}

	return sig, s.waitForCommitment(ctx, txn, log)
}

func (s *Submitter) waitForCommitment(ctx context.Context, txn *solana.Transaction, log *logrus.Entry) error {
	sig := txn.Signature()
	start := time.Now()

	attempts, err := retry.Retry(
		func() error {
			return s.checkStatus(ctx, txn)
		},
		retry.RetriableErrors(errNotConfirmed),
		retry.Limit(s.conf.PollLimit),
		retry.Backoff(backoff.Constant(s.conf.PollInterval), s.conf.PollInterval),
	)
	metrics.RecordDuration(ctx, submitterMetricsStructName+".confirmation", time.Since(start))

	log = log.WithField("attempts", attempts)
	switch {
	case err == nil:
		log.WithField("commitment", s.conf.Commitment.Commitment).Info("transaction confirmed")
		return nil
	case errors.Is(err, errNotConfirmed):
		log.Warn("transaction not confirmed within polling budget")
		return &ConfirmationTimeoutError{Signature: sig, Commitment: s.conf.Commitment, Attempts: attempts}
	default:
		log.WithError(err).Info("transaction did not land")
		return err
	}
}

// checkStatus returns nil once txn reached the configured commitment and
// errNotConfirmed while it may still get there.
func (s *Submitter) checkStatus(ctx context.Context, txn *solana.Transaction) error {
	sig := txn.Signature()

	statuses, err := s.client.GetSignatureStatuses(ctx, []solana.Signature{sig})
	if err != nil {
		return errors.Wrap(err, "failed to get signature status")
	}

	if len(statuses) == 0 || statuses[0] == nil {
		valid, err := s.client.IsBlockhashValid(ctx, txn.Message.RecentBlockhash, s.conf.Commitment)
		if err != nil {
			return errors.Wrap(err, "failed to check blockhash validity")
		}
		if !valid {
			return &ReplayTokenExpiredError{Signature: sig, Blockhash: txn.Message.RecentBlockhash}
		}
		return errNotConfirmed
	}

	status := statuses[0]
	if status.ErrorResult != nil {
		return &TransactionRejectedError{Signature: sig, Reason: status.ErrorResult.Error(), Err: status.ErrorResult}
	}
	if !status.Reached(s.conf.Commitment) {
		return errNotConfirmed
	}

	return nil
}
