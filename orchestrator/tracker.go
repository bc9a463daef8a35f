package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status is the client-side progress of a booking submission.
type Status string

const (
	// StatusSubmitted means the ledger accepted the transaction and its
	// hash is known; the booking address is not yet.
	StatusSubmitted Status = "submitted"
	// StatusPending means the hash was not observed within the wait bound.
	// It is not a failure.
	StatusPending Status = "pending"
	// StatusFailed means the submission was rejected or could not be made.
	StatusFailed Status = "failed"
	// StatusConfirmed means the creation event was observed and the real
	// booking address is known.
	StatusConfirmed Status = "confirmed"
)

// Settled reports whether the status can no longer change.
func (s Status) Settled() bool {
	return s == StatusFailed || s == StatusConfirmed
}

// TrackedBooking is what the client remembers about a booking it submitted.
type TrackedBooking struct {
	ProvisionalID   string    `json:"provisionalId"`
	AnonymousID     string    `json:"anonymousId"`
	TherapistID     string    `json:"therapistId"`
	ContentDigest   string    `json:"contentDigest"`
	Status          Status    `json:"status"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	BookingID       string    `json:"bookingId,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Tracker persists submitted bookings so their provisional references
// survive until they are reconciled.
type Tracker interface {
	Save(ctx context.Context, b *TrackedBooking) error
	// Get returns ErrUnknownReference for an unknown provisional ID.
	Get(ctx context.Context, provisionalID string) (*TrackedBooking, error)
	// Unsettled lists bookings that are neither confirmed nor failed, oldest first.
	Unsettled(ctx context.Context) ([]*TrackedBooking, error)
}

// MemoryTracker keeps tracked bookings in process memory.
type MemoryTracker struct {
	mu       sync.RWMutex
	bookings map[string]TrackedBooking
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{bookings: make(map[string]TrackedBooking)}
}

func (m *MemoryTracker) Save(_ context.Context, b *TrackedBooking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ProvisionalID] = *b
	return nil
}

func (m *MemoryTracker) Get(_ context.Context, provisionalID string) (*TrackedBooking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[provisionalID]
	if !ok {
		return nil, ErrUnknownReference
	}
	return &b, nil
}

func (m *MemoryTracker) Unsettled(_ context.Context) ([]*TrackedBooking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*TrackedBooking
	for _, b := range m.bookings {
		if !b.Status.Settled() {
			b := b
			out = append(out, &b)
		}
	}
	sortByCreation(out)
	return out, nil
}

func sortByCreation(bookings []*TrackedBooking) {
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].CreatedAt.Before(bookings[j].CreatedAt)
	})
}
