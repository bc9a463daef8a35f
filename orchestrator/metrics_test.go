package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountsBookingLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	c := newChain(t)
	o, err := New(Config{}, c.session(patientID), c.store, nil, nil, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	res, err := o.CreateBooking(context.Background(), stressRequest())
	require.NoError(t, err)
	awaitConfirmed(t, o, res.ProvisionalID)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("create_booking", string(StatusSubmitted))))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.reconciliations.WithLabelValues("confirmed")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestNewMetrics_NilRegistererDisablesMetrics(t *testing.T) {
	// Constructing twice must not collide on any global registry.
	assert.Nil(t, NewMetrics(nil))
	m := NewMetrics(nil)
	assert.Nil(t, m)

	m.ObserveSubmission("create_booking", StatusSubmitted, time.Millisecond)
	m.ObserveReconciliation("confirmed")
}
