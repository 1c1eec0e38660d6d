package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc runs inside a Firestore transaction. Firestore may call it again after contention, so it
// must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption tunes a single RunTransaction call.
type TxOption func(*txSettings)

type txSettings struct {
	op       string
	attempts int
	budget   time.Duration
}

// WithTxAttempts overrides how many times contention is retried.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxName labels errors from the transaction, e.g. "shifts.open".
func WithTxName(op string) TxOption {
	return func(s *txSettings) {
		if op != "" {
			s.op = op
		}
	}
}

// RunTransaction runs fn on client. Retries share a ten second budget unless ctx ends sooner.
// Errors built by fn (NotFound, Conflict, service sentinels) come back unchanged.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	s := txSettings{op: "transaction", attempts: 5, budget: 10 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if client == nil || fn == nil {
		return WrapError(s.op, errors.New("firestore: client and transaction function are required"))
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > s.budget {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}
	return WrapError(s.op, client.RunTransaction(ctx, fn, firestore.MaxAttempts(s.attempts)))
}
