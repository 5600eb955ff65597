package metrics

import (
	"sync"
	"time"
)

// Query is a single round-trip seen by a QueryCounter.
type Query struct {
	Table     string
	Operation string
	Err       error
}

// QueryCounter counts store round-trips. It is the hook behind round-trip
// assertions in tests and the query summary printed by the CLI.
type QueryCounter struct {
	mu      sync.Mutex
	queries []Query
	cleared int
	batches map[string]int
}

// NewQueryCounter returns an empty counter.
func NewQueryCounter() *QueryCounter {
	return &QueryCounter{}
}

// RecordQuery implements Collector.
func (c *QueryCounter) RecordQuery(table, operation string, _ time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, Query{Table: table, Operation: operation, Err: err})
}

// RecordBatch implements Collector.
func (c *QueryCounter) RecordBatch(name string, size int, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batches == nil {
		c.batches = make(map[string]int)
	}
	c.batches[name] += size
}

// Count returns the number of round-trips recorded since the last Reset.
func (c *QueryCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

// Queries returns a copy of the recorded round-trips in issue order.
func (c *QueryCounter) Queries() []Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Query(nil), c.queries...)
}

// Mark returns the total number of round-trips ever recorded. Reset does not
// rewind it, so it can bracket code that resets the counter.
func (c *QueryCounter) Mark() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared + len(c.queries)
}

// Since returns how many round-trips were recorded after mark, along with
// those of them still held. Round-trips discarded by a Reset are counted but
// not returned.
func (c *QueryCounter) Since(mark int) (int, []Query) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.cleared + len(c.queries) - mark
	start := max(mark-c.cleared, 0)
	if start > len(c.queries) {
		return n, nil
	}
	return n, append([]Query(nil), c.queries[start:]...)
}

// CountTable returns how many recorded round-trips targeted table.
func (c *QueryCounter) CountTable(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.queries {
		if q.Table == table {
			n++
		}
	}
	return n
}

// BatchTotal returns the accumulated size of batches recorded under name.
func (c *QueryCounter) BatchTotal(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[name]
}

// Reset clears all recorded state.
func (c *QueryCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared += len(c.queries)
	c.queries = nil
	c.batches = nil
}
