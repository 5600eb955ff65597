// Package metrics records lightweight counters for store round-trips and
// batched relation loads.
package metrics

import "time"

// Collector receives one RecordQuery call per store round-trip and one
// RecordBatch call per batched relation load.
type Collector interface {
	RecordQuery(table, operation string, duration time.Duration, err error)
	RecordBatch(name string, size int, duration time.Duration)
}

// NoopCollector discards all metrics.
type NoopCollector struct{}

// RecordQuery implements Collector.
func (NoopCollector) RecordQuery(string, string, time.Duration, error) {}

// RecordBatch implements Collector.
func (NoopCollector) RecordBatch(string, int, time.Duration) {}

// MultiCollector fans out events to every member.
type MultiCollector []Collector

// RecordQuery implements Collector.
func (mc MultiCollector) RecordQuery(table, operation string, duration time.Duration, err error) {
	for _, c := range mc {
		if c != nil {
			c.RecordQuery(table, operation, duration, err)
		}
	}
}

// RecordBatch implements Collector.
func (mc MultiCollector) RecordBatch(name string, size int, duration time.Duration) {
	for _, c := range mc {
		if c != nil {
			c.RecordBatch(name, size, duration)
		}
	}
}

// WithCollector returns a collector that fans out to all non-nil collectors.
func WithCollector(primary Collector, others ...Collector) Collector {
	collectors := make([]Collector, 0, 1+len(others))
	if primary != nil {
		collectors = append(collectors, primary)
	}
	for _, c := range others {
		if c != nil {
			collectors = append(collectors, c)
		}
	}
	switch len(collectors) {
	case 0:
		return NoopCollector{}
	case 1:
		return collectors[0]
	default:
		return MultiCollector(collectors)
	}
}
