package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a storage failure the way the register services branch on it.
type Kind int

const (
	KindOther Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "other"
	}
}

// kindOf maps gRPC codes onto repository semantics. Aborted is a lost transaction race and is
// reported as a conflict so the caller can reload and retry.
func kindOf(code codes.Code) Kind {
	switch code {
	case codes.NotFound:
		return KindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return KindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return KindUnavailable
	default:
		return KindOther
	}
}

// Error is a classified Firestore failure. It satisfies repositories.RepositoryError.
type Error struct {
	Op   string
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// NotFound reports a lookup that matched nothing, e.g. a barcode query or a station without an
// open shift.
func NotFound(op, what string) error {
	return &Error{Op: op, Kind: KindNotFound, err: fmt.Errorf("%s not found", what)}
}

// Conflict reports a state check that failed inside a transaction.
func Conflict(op, reason string) error {
	return &Error{Op: op, Kind: KindConflict, err: errors.New(reason)}
}

// WrapError classifies err. Cancellation and deadlines come back as the context errors so request
// timeouts are not mistaken for an outage.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var classified *Error
	if errors.As(err, &classified) {
		if classified.Op == "" {
			classified.Op = op
		}
		return classified
	}
	return &Error{Op: op, Kind: kindOf(code), err: err}
}
