package ledger

import (
	"context"
	"sync"
)

// Pending tracks a submitted transaction through two milestones: the
// transaction ID becoming known, and the commit receipt.
type Pending struct {
	hashOnce sync.Once
	doneOnce sync.Once
	hashCh   chan struct{}
	doneCh   chan struct{}

	mu      sync.Mutex
	txID    string
	receipt *Receipt
	err     error
}

// NewPending returns a handle with neither milestone reached.
func NewPending() *Pending {
	return &Pending{
		hashCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Failed returns a handle that has already failed.
func Failed(err error) *Pending {
	p := NewPending()
	p.Fail(err)
	return p
}

// Acknowledge records the transaction ID. Later calls are ignored.
func (p *Pending) Acknowledge(txID string) {
	p.hashOnce.Do(func() {
		p.mu.Lock()
		p.txID = txID
		p.mu.Unlock()
		close(p.hashCh)
	})
}

// Complete records the commit receipt.
func (p *Pending) Complete(r *Receipt) {
	p.Acknowledge(r.TransactionID)
	p.doneOnce.Do(func() {
		p.mu.Lock()
		p.receipt = r
		p.mu.Unlock()
		close(p.doneCh)
	})
}

// Fail settles the handle with err. If the transaction ID was never
// acknowledged, Hash also returns err.
func (p *Pending) Fail(err error) {
	p.doneOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.doneCh)
	})
	p.hashOnce.Do(func() { close(p.hashCh) })
}

// Hash waits for the transaction ID.
func (p *Pending) Hash(ctx context.Context) (string, error) {
	select {
	case <-p.hashCh:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.txID == "" {
		return "", p.err
	}
	return p.txID, nil
}

// Receipt waits for the transaction to commit or fail.
func (p *Pending) Receipt(ctx context.Context) (*Receipt, error) {
	select {
	case <-p.doneCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receipt, p.err
}

// TransactionID returns the acknowledged ID without waiting, or "".
func (p *Pending) TransactionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txID
}

// Done is closed once the handle is settled.
func (p *Pending) Done() <-chan struct{} {
	return p.doneCh
}
