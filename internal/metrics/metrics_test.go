package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNopRecorder(t *testing.T) {
	var r Recorder = NewNop()
	require.NotPanics(t, func() {
		r.Registered("orders", "standard")
		r.Ignored("orders", "standard", "filter")
		r.Acked("orders", "shared", -1)
		r.BackfillSlice("", 0, 0)
		r.Subscriptions("orders", "browser", 1)
	})
}

func TestPrometheusCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "")

	p.Registered("orders", "shared")
	p.Registered("orders", "shared")
	p.Sent("orders", "shared")
	p.Acked("orders", "shared", 3)
	p.Expired("orders", "standard")
	p.Subscriptions("orders", "shared", 2)
	p.Subscriptions("orders", "shared", -1)

	require.Equal(t, 2.0, testutil.ToFloat64(p.registered.WithLabelValues("orders", "shared")))
	require.Equal(t, 1.0, testutil.ToFloat64(p.sent.WithLabelValues("orders", "shared")))
	require.Equal(t, 3.0, testutil.ToFloat64(p.acked.WithLabelValues("orders", "shared")))
	require.Equal(t, 1.0, testutil.ToFloat64(p.expired.WithLabelValues("orders", "standard")))
	require.Equal(t, 1.0, testutil.ToFloat64(p.subscriptions.WithLabelValues("orders", "shared")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["maps_delivery_registered_total"])
	require.True(t, names["maps_delivery_subscriptions"])
}

func TestPrometheusStorageHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.ObserveWrite(time.Millisecond, 10)
	p.ObserveRead(time.Millisecond, 4)
	p.ObserveBatchCommit(2*time.Millisecond, 5, 100)

	require.Equal(t, 10.0, testutil.ToFloat64(p.storeBytes.WithLabelValues("write")))
	require.Equal(t, 100.0, testutil.ToFloat64(p.storeBytes.WithLabelValues("batch")))
	require.Equal(t, 3, testutil.CollectAndCount(p.storeLatency))
}
