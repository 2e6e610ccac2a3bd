// Lock-free latency self-measurement used across the engine hot paths.
// Recording is a few atomic stores; percentile math is deferred to Snapshot.

package latency

import (
	"sort"
	"sync/atomic"
	"time"
)

const defaultCapacity = 8192

// Tracker records nanosecond samples into a fixed ring buffer.
// Record never allocates and never blocks; concurrent writers may overwrite
// each other's slots under extreme contention, which is acceptable for
// self-measurement.
type Tracker struct {
	samples []int64
	mask    uint64

	next  atomic.Uint64
	count atomic.Uint64
	total atomic.Int64
	min   atomic.Int64
	max   atomic.Int64
}

// Stats is a point-in-time summary of recorded samples.
type Stats struct {
	Count  uint64
	Mean   time.Duration
	Median time.Duration
	P95    time.Duration
	P99    time.Duration
	Min    time.Duration
	Max    time.Duration
}

// NewTracker creates a tracker with the given ring capacity, rounded up to a
// power of two. capacity <= 0 selects the default.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	t := &Tracker{
		samples: make([]int64, size),
		mask:    uint64(size - 1),
	}
	t.min.Store(int64(^uint64(0) >> 1))
	return t
}

// Record stores one duration sample.
func (t *Tracker) Record(d time.Duration) {
	t.RecordNs(d.Nanoseconds())
}

// RecordNs stores one nanosecond sample.
func (t *Tracker) RecordNs(ns int64) {
	idx := t.next.Add(1) - 1
	atomic.StoreInt64(&t.samples[idx&t.mask], ns)
	t.count.Add(1)
	t.total.Add(ns)

	for {
		cur := t.min.Load()
		if ns >= cur || t.min.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := t.max.Load()
		if ns <= cur || t.max.CompareAndSwap(cur, ns) {
			break
		}
	}
}

// Count returns the total number of samples recorded.
func (t *Tracker) Count() uint64 {
	return t.count.Load()
}

// Snapshot computes summary statistics over the retained window.
// Median and percentiles cover at most the ring capacity of recent samples;
// mean, min and max cover everything ever recorded.
func (t *Tracker) Snapshot() Stats {
	count := t.count.Load()
	if count == 0 {
		return Stats{}
	}

	retained := count
	if retained > uint64(len(t.samples)) {
		retained = uint64(len(t.samples))
	}
	window := make([]int64, retained)
	for i := range window {
		window[i] = atomic.LoadInt64(&t.samples[i])
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	st := Stats{
		Count:  count,
		Mean:   time.Duration(t.total.Load() / int64(count)),
		Median: time.Duration(percentile(window, 50)),
		P95:    time.Duration(percentile(window, 95)),
		P99:    time.Duration(percentile(window, 99)),
		Min:    time.Duration(t.min.Load()),
		Max:    time.Duration(t.max.Load()),
	}
	return st
}

// Reset discards all recorded samples.
func (t *Tracker) Reset() {
	t.next.Store(0)
	t.count.Store(0)
	t.total.Store(0)
	t.min.Store(int64(^uint64(0) >> 1))
	t.max.Store(0)
	for i := range t.samples {
		atomic.StoreInt64(&t.samples[i], 0)
	}
}

func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted)*p + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}
