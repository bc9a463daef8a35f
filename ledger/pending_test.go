package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPending_HashBeforeReceipt(t *testing.T) {
	p := NewPending()
	p.Acknowledge("tx-1")

	hash, err := p.Hash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tx-1", hash)
	assert.Equal(t, "tx-1", p.TransactionID())

	select {
	case <-p.Done():
		t.Fatal("pending settled before receipt")
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Receipt(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Complete(&Receipt{TransactionID: "tx-1", BlockNumber: 7})
	r, err := p.Receipt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), r.BlockNumber)
}

func TestPending_CompleteAcknowledges(t *testing.T) {
	p := NewPending()
	p.Complete(&Receipt{TransactionID: "tx-2"})
	hash, err := p.Hash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tx-2", hash)
}

func TestPending_FailWithoutHash(t *testing.T) {
	boom := errors.New("boom")
	p := Failed(boom)

	_, err := p.Hash(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = p.Receipt(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPending_FailAfterHashKeepsHash(t *testing.T) {
	p := NewPending()
	p.Acknowledge("tx-3")
	p.Fail(ErrCommitFailed)
	p.Complete(&Receipt{TransactionID: "ignored"})

	hash, err := p.Hash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tx-3", hash)
	r, err := p.Receipt(context.Background())
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ErrCommitFailed)
}

func TestPending_HashHonoursContext(t *testing.T) {
	p := NewPending()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Hash(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRejectionUnwrap(t *testing.T) {
	var err error = &Rejection{Transaction: "BookingRecord:ConfirmByPatient", Message: "conflict: booking is cancelled", Err: ErrRejected}
	assert.ErrorIs(t, err, ErrRejected)
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Contains(t, err.Error(), "conflict: booking is cancelled")
}
