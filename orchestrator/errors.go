package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"therapyledger/chaincode/model"
	"therapyledger/ledger"
)

var (
	// ErrIdentity means the caller is not registered, not verified, or not
	// allowed to perform the operation. It is never retried.
	ErrIdentity = errors.New("identity error")
	// ErrNotAParty means the session identity matches neither party of the booking.
	ErrNotAParty = fmt.Errorf("%w: caller is not a party to the booking", ErrIdentity)
	// ErrLedgerUnavailable means the ledger could not be reached.
	ErrLedgerUnavailable = errors.New("cannot connect to ledger")
	// ErrContentStore means no content store backend could serve the request.
	ErrContentStore = errors.New("content store failure")
	// ErrStateConflict means the booking's state does not allow the transition.
	ErrStateConflict = errors.New("state conflict")
	// ErrInvalidRequest means the request failed validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound means the ledger holds no such booking or therapist.
	ErrNotFound = errors.New("not found")
	// ErrLedgerFailure is an opaque chaincode or commit failure.
	ErrLedgerFailure = errors.New("ledger failure")
	// ErrUnknownReference means no tracked booking or transaction has the reference.
	ErrUnknownReference = errors.New("unknown reference")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// classify maps a ledger error onto the orchestrator's taxonomy, keeping the
// original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var kind error
	var rejection *ledger.Rejection
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ledger.ErrUnavailable), errors.Is(err, ledger.ErrClosed):
		kind = ErrLedgerUnavailable
	case errors.As(err, &rejection):
		kind = classifyMessage(rejection.Message)
	default:
		kind = classifyMessage(err.Error())
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func classifyMessage(msg string) error {
	switch {
	case strings.Contains(msg, model.PrefixUnauthorized):
		return ErrIdentity
	case strings.Contains(msg, model.PrefixConflict):
		return ErrStateConflict
	case strings.Contains(msg, model.PrefixInvalid):
		return ErrInvalidRequest
	case strings.Contains(msg, model.PrefixNotFound):
		return ErrNotFound
	default:
		return ErrLedgerFailure
	}
}
