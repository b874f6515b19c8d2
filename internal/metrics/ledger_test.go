package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLedgerMetricsCount(t *testing.T) {
	m := Ledger()
	before := testutil.ToFloat64(m.operations.WithLabelValues("borrow"))

	m.ObserveOperation("borrow", 100)
	m.ObserveRejection("borrow", "")

	assert.Equal(t, before+1, testutil.ToFloat64(m.operations.WithLabelValues("borrow")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.volume.WithLabelValues("borrow")), float64(100))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.rejections.WithLabelValues("borrow", "unknown")), float64(1))
	assert.Same(t, m, Ledger())
}

func TestNilLedgerMetricsIsNoop(t *testing.T) {
	var m *LedgerMetrics
	m.ObserveOperation("deposit", 1)
	m.ObserveRejection("deposit", "x")
	m.ObservePublishFailure("x")
	m.ObserveCompensation("deposit", true)
	m.ObserveReplay("deposit")
}

func TestLedgerMetricsReplay(t *testing.T) {
	m := Ledger()
	before := testutil.ToFloat64(m.replays.WithLabelValues("deposit"))

	m.ObserveReplay("deposit")

	assert.Equal(t, before+1, testutil.ToFloat64(m.replays.WithLabelValues("deposit")))
}
