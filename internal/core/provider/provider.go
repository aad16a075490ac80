// Package provider defines the abstract LogProvider capability the indexing
// core fetches logs and head numbers through, plus the errors it uses to
// classify RPC failures as transient or fatal.
package provider

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogProvider is the only capability the indexing core requires from a
// chain connection: the current head, and logs matching a filter. A
// provider may chunk a wide filter internally; it always returns the full
// result set for the requested range.
type LogProvider interface {
	LatestBlock(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// TransientError is implemented by errors a LogProvider wants LogStream to
// retry (timeouts, rate limits, 5xx). Anything that does not implement it
// is treated as fatal.
type TransientError interface {
	error
	Transient() bool
}

type transientErr struct{ cause error }

func (e *transientErr) Error() string   { return e.cause.Error() }
func (e *transientErr) Unwrap() error   { return e.cause }
func (e *transientErr) Transient() bool { return true }

// MarkTransient wraps an error so LogStream treats it as retryable.
func MarkTransient(cause error) error {
	if cause == nil {
		return nil
	}
	return &transientErr{cause: cause}
}

// IsTransient reports whether err was marked transient by MarkTransient (or
// implements TransientError directly).
func IsTransient(err error) bool {
	var t TransientError
	return errors.As(err, &t) && t.Transient()
}

// ErrDecode marks a fatal failure decoding a returned log; it is never
// retried regardless of the retry budget.
var ErrDecode = errors.New("provider: failed to decode log")
