package jpt

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds one Engine's private Prometheus registry. Each Engine gets
// its own registry rather than registering into the global default one, so
// multiple stores opened in the same process don't collide on metric
// names.
type metrics struct {
	registry *prometheus.Registry

	disktableCount    prometheus.GaugeFunc
	majorCompactCount prometheus.CounterFunc
	memtableKeyCount  prometheus.GaugeFunc
	memtableKeySize   prometheus.GaugeFunc
	memtableValueSize prometheus.GaugeFunc
	columnCount       prometheus.GaugeFunc
}

func newMetrics(e *Engine) *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		disktableCount: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "disktable_count",
			Help: "Number of disktables currently making up the store.",
		}, func() float64 {
			e.lock.RLock()
			defer e.lock.RUnlock()
			return float64(len(e.disktables))
		}),
		majorCompactCount: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "major_compact_count",
			Help: "Number of major compactions run against this store.",
		}, func() float64 {
			return float64(atomic.LoadUint64(&e.majorCompactCount))
		}),
		memtableKeyCount: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "memtable_key_count",
			Help: "Number of live cells currently held in the memtable.",
		}, func() float64 {
			e.lock.RLock()
			defer e.lock.RUnlock()
			return float64(e.memtable.KeyCount())
		}),
		memtableKeySize: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "memtable_key_size_bytes",
			Help: "Sum of row lengths over live memtable cells.",
		}, func() float64 {
			e.lock.RLock()
			defer e.lock.RUnlock()
			return float64(e.memtable.KeySize())
		}),
		memtableValueSize: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "memtable_value_size_bytes",
			Help: "Sum of value bytes over live memtable cells.",
		}, func() float64 {
			e.lock.RLock()
			defer e.lock.RUnlock()
			return float64(e.memtable.ValueSize())
		}),
		columnCount: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "column_count",
			Help: "Number of user columns currently registered.",
		}, func() float64 {
			return float64(atomic.LoadUint32(&e.columnCount))
		}),
	}
	reg.MustRegister(
		m.disktableCount,
		m.majorCompactCount,
		m.memtableKeyCount,
		m.memtableKeySize,
		m.memtableValueSize,
		m.columnCount,
	)
	return m
}

// Metrics returns the store's private Prometheus registry. Serving it over
// HTTP (or anywhere else) is the embedder's job, not the engine's.
func (e *Engine) Metrics() *prometheus.Registry { return e.metrics.registry }
