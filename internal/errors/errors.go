package errors

import (
	"sync"
	"time"
)

// Failure records one per-file task failure reported by the worker pool.
type Failure struct {
	TaskID    string
	Path      string
	Err       error
	Type      ErrorType
	Timestamp time.Time
}

// DefaultCollectorCapacity bounds the number of failures kept in memory.
const DefaultCollectorCapacity = 256

// Collector keeps the most recent failures so a long-running watch session
// does not grow without bound.
type Collector struct {
	failures []Failure
	capacity int
	total    int64
	mutex    sync.RWMutex
}

// NewCollector creates a new failure collector
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCollectorCapacity
	}
	return &Collector{
		failures: make([]Failure, 0, capacity),
		capacity: capacity,
	}
}

// Add records a failure, evicting the oldest entry when full
func (c *Collector) Add(f Failure) {
	if f.Err == nil {
		return
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	if f.Type == "" {
		f.Type = TypeOf(f.Err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.total++
	if len(c.failures) == c.capacity {
		copy(c.failures, c.failures[1:])
		c.failures = c.failures[:len(c.failures)-1]
	}
	c.failures = append(c.failures, f)
}

// Recent returns a copy of the retained failures, oldest first
func (c *Collector) Recent() []Failure {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	result := make([]Failure, len(c.failures))
	copy(result, c.failures)
	return result
}

// Total returns how many failures were ever recorded, including evicted ones
func (c *Collector) Total() int64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.total
}

// ByPath returns retained failures for a specific file
func (c *Collector) ByPath(path string) []Failure {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	var matched []Failure
	for _, f := range c.failures {
		if f.Path == path {
			matched = append(matched, f)
		}
	}
	return matched
}

// HasFailures returns true if any failure has been recorded
func (c *Collector) HasFailures() bool {
	return c.Total() > 0
}

// Clear drops retained failures and resets the total
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.failures = c.failures[:0]
	c.total = 0
}
