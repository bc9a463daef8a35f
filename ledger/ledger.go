// Package ledger defines how the booking client talks to the chaincode,
// independent of the transport used to reach the peers.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the ledger could not be reached at all.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrRejected means the chaincode refused the transaction during endorsement.
	ErrRejected = errors.New("transaction rejected")
	// ErrCommitFailed means the transaction was ordered but marked invalid.
	ErrCommitFailed = errors.New("transaction commit failed")
	// ErrClosed is returned by a client after Close.
	ErrClosed = errors.New("ledger client closed")
)

// Transaction names one chaincode function call.
type Transaction struct {
	Contract string
	Function string
	Args     []string
}

// Name returns the qualified "<contract>:<function>" name.
func (t Transaction) Name() string {
	return t.Contract + ":" + t.Function
}

// Event is a chaincode event observed in a committed block.
type Event struct {
	BlockNumber   uint64
	TransactionID string
	Name          string
	Payload       []byte
}

// Receipt describes a committed transaction.
type Receipt struct {
	TransactionID string
	BlockNumber   uint64
	Result        []byte
	// Event is the chaincode event set by the transaction, nil if none.
	Event *Event
}

// Rejection carries the chaincode's error message for a refused transaction.
type Rejection struct {
	Transaction string
	Message     string
	Err         error // ErrRejected or ErrCommitFailed
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %v: %s", r.Transaction, r.Err, r.Message)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Client submits and evaluates transactions.
type Client interface {
	// Submit starts a transaction and returns immediately. The returned
	// handle reports the transaction ID and, later, the commit receipt.
	Submit(ctx context.Context, tx Transaction) *Pending
	// Evaluate runs a read-only query on a peer.
	Evaluate(ctx context.Context, tx Transaction) ([]byte, error)
	// Events streams chaincode events until ctx is done.
	Events(ctx context.Context) (<-chan Event, error)
	Close() error
}
