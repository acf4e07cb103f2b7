// Package buffer holds the bounded, time-ordered sample store each active
// channel keeps for live display.
package buffer

import (
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the number of samples kept per channel when no
// capacity is configured.
const DefaultCapacity = 1000

// Sample is one transformed reading. Value is RawValue*scale+offset.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	RawValue  float64   `json:"raw_value"`
	Value     float64   `json:"value"`
}

// Buffer is a fixed-capacity FIFO of samples. When full, appending evicts
// the oldest sample. Samples are kept in append order.
type Buffer struct {
	mu      sync.RWMutex
	samples []Sample
	start   int
	size    int
}

// New allocates a buffer holding at most capacity samples. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Buffer{samples: make([]Sample, capacity)}
}

// Append adds s as the newest sample.
func (b *Buffer) Append(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.samples)
	if b.size < capacity {
		b.samples[(b.start+b.size)%capacity] = s
		b.size++
		return
	}

	b.samples[b.start] = s
	b.start = (b.start + 1) % capacity
}

// Latest returns the most recent sample; ok is false when the buffer is empty.
func (b *Buffer) Latest() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return Sample{}, false
	}

	return b.at(b.size - 1), true
}

// Windowed returns the samples with Timestamp >= now-window, oldest first.
// If no sample falls inside the window the whole buffer is returned instead,
// so a non-empty buffer never yields an empty view.
func (b *Buffer) Windowed(now time.Time, window time.Duration) []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := now.Add(-window)
	first := sort.Search(b.size, func(i int) bool {
		return !b.at(i).Timestamp.Before(cutoff)
	})
	if first == b.size {
		first = 0
	}

	return b.copyFrom(first)
}

// Samples returns a copy of every buffered sample, oldest first.
func (b *Buffer) Samples() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.copyFrom(0)
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.samples)
}

// Reset drops all samples.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.start = 0
	b.size = 0
}

func (b *Buffer) at(i int) Sample {
	return b.samples[(b.start+i)%len(b.samples)]
}

func (b *Buffer) copyFrom(first int) []Sample {
	out := make([]Sample, 0, b.size-first)
	for i := first; i < b.size; i++ {
		out = append(out, b.at(i))
	}

	return out
}
