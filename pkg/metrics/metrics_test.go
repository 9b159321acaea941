package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveStore(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.ObserveStore("templates", "get", time.Now(), nil)
	m.ObserveStore("templates", "get", time.Now(), errors.New("boom"))
	m.ObserveStore("templates", "get", time.Now(), nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StoreOperations.WithLabelValues("templates", "get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperations.WithLabelValues("templates", "get", "error")))
}

func TestObserveSend(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.ObserveSend("template", time.Now(), errors.New("relay down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsSent.WithLabelValues("template", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EmailsSent.WithLabelValues("template", "success")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveStore("logs", "append", time.Now(), nil)
		m.ObserveSend("direct", time.Now(), nil)
	})
}
