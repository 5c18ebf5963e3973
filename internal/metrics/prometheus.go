package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
)

// PrometheusCollector implements Recorder and the storage MetricsHook on
// top of Prometheus. Collectors are created and registered on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	registered    *prometheus.CounterVec
	ignored       *prometheus.CounterVec
	sent          *prometheus.CounterVec
	acked         *prometheus.CounterVec
	rolledBack    *prometheus.CounterVec
	expired       *prometheus.CounterVec
	subscriptions *prometheus.GaugeVec
	backfill      *prometheus.HistogramVec
	backfillIDs   *prometheus.CounterVec

	storeLatency *prometheus.HistogramVec
	storeBytes   *prometheus.CounterVec
	batchOps     prometheus.Histogram
}

var (
	_ Recorder                = (*PrometheusCollector)(nil)
	_ pebblestore.MetricsHook = (*PrometheusCollector)(nil)
)

// NewPrometheus creates a collector registering into reg
// (prometheus.DefaultRegisterer when nil) under namespace ("maps" when empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "maps"
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.registered = p.counter("delivery", "registered_total", "Identifiers registered into subscriptions.", "destination", "kind")
		p.ignored = p.counter("delivery", "ignored_total", "Messages not registered, by reason (filter|nolocal|hibernating).", "destination", "kind", "reason")
		p.sent = p.counter("delivery", "sent_total", "Messages handed to subscription sinks.", "destination", "kind")
		p.acked = p.counter("delivery", "acked_total", "Identifiers acknowledged.", "destination", "kind")
		p.rolledBack = p.counter("delivery", "rolled_back_total", "Identifiers rolled back to rest.", "destination", "kind")
		p.expired = p.counter("delivery", "expired_total", "Identifiers dropped as expired, missing or over the redelivery bound.", "destination", "kind")
		p.backfillIDs = p.counter("browser", "backfill_scanned_total", "Identifiers examined by browser backfill.", "destination")

		p.subscriptions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "delivery",
			Name:      "subscriptions",
			Help:      "Live subscriptions.",
		}, []string{"destination", "kind"})

		p.backfill = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "browser",
			Name:      "backfill_slice_seconds",
			Help:      "Duration of one browser backfill slice.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"destination"})

		p.storeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "op_seconds",
			Help:      "Pebble operation latency by op (read|write|batch).",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"op"})

		p.storeBytes = p.counter("store", "bytes_total", "Bytes moved through pebble by op.", "op")

		p.batchOps = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "batch_ops",
			Help:      "Operations per committed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		})

		p.reg.MustRegister(p.registered)
		p.reg.MustRegister(p.ignored)
		p.reg.MustRegister(p.sent)
		p.reg.MustRegister(p.acked)
		p.reg.MustRegister(p.rolledBack)
		p.reg.MustRegister(p.expired)
		p.reg.MustRegister(p.subscriptions)
		p.reg.MustRegister(p.backfill)
		p.reg.MustRegister(p.backfillIDs)
		p.reg.MustRegister(p.storeLatency)
		p.reg.MustRegister(p.storeBytes)
		p.reg.MustRegister(p.batchOps)
	})
}

func (p *PrometheusCollector) Registered(destination, kind string) {
	p.ensureRegistered()
	p.registered.WithLabelValues(destination, kind).Inc()
}

func (p *PrometheusCollector) Ignored(destination, kind, reason string) {
	p.ensureRegistered()
	p.ignored.WithLabelValues(destination, kind, reason).Inc()
}

func (p *PrometheusCollector) Sent(destination, kind string) {
	p.ensureRegistered()
	p.sent.WithLabelValues(destination, kind).Inc()
}

func (p *PrometheusCollector) Acked(destination, kind string, n int) {
	p.ensureRegistered()
	p.acked.WithLabelValues(destination, kind).Add(float64(n))
}

func (p *PrometheusCollector) RolledBack(destination, kind string) {
	p.ensureRegistered()
	p.rolledBack.WithLabelValues(destination, kind).Inc()
}

func (p *PrometheusCollector) Expired(destination, kind string) {
	p.ensureRegistered()
	p.expired.WithLabelValues(destination, kind).Inc()
}

func (p *PrometheusCollector) BackfillSlice(destination string, seconds float64, scanned int) {
	p.ensureRegistered()
	p.backfill.WithLabelValues(destination).Observe(seconds)
	p.backfillIDs.WithLabelValues(destination).Add(float64(scanned))
}

func (p *PrometheusCollector) Subscriptions(destination, kind string, delta int) {
	p.ensureRegistered()
	p.subscriptions.WithLabelValues(destination, kind).Add(float64(delta))
}

// Storage hook

func (p *PrometheusCollector) ObserveWrite(elapsed time.Duration, bytes int) {
	p.ensureRegistered()
	p.storeLatency.WithLabelValues("write").Observe(elapsed.Seconds())
	p.storeBytes.WithLabelValues("write").Add(float64(bytes))
}

func (p *PrometheusCollector) ObserveRead(elapsed time.Duration, bytes int) {
	p.ensureRegistered()
	p.storeLatency.WithLabelValues("read").Observe(elapsed.Seconds())
	p.storeBytes.WithLabelValues("read").Add(float64(bytes))
}

func (p *PrometheusCollector) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	p.ensureRegistered()
	p.storeLatency.WithLabelValues("batch").Observe(elapsed.Seconds())
	p.storeBytes.WithLabelValues("batch").Add(float64(bytes))
	p.batchOps.Observe(float64(numOps))
}
