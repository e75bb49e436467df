package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCorrelation(t *testing.T) {
	before := testutil.ToFloat64(correlations.WithLabelValues("battery", "ok"))
	RecordCorrelation("battery", "ok", 20*time.Millisecond)
	RecordCorrelation("battery", "ok", 30*time.Millisecond)
	assert.Equal(t, before+2, testutil.ToFloat64(correlations.WithLabelValues("battery", "ok")))
}

func TestRecordResyncIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(resyncBytes)
	RecordResync(0)
	RecordResync(3)
	assert.Equal(t, before+3, testutil.ToFloat64(resyncBytes))
}

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		RegisterMetrics()
		RegisterMetrics()
	})
}
