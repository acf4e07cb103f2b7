package acquisition

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/device"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/store"
)

// fakeDevice serves scripted readings keyed by register address. Once a
// script is exhausted its last value repeats.
type fakeDevice struct {
	mu        sync.Mutex
	scripts   map[int][]float64
	calls     map[int]int
	failing   map[int]bool
	transport bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		scripts: map[int][]float64{},
		calls:   map[int]int{},
		failing: map[int]bool{},
	}
}

func (d *fakeDevice) script(address int, values ...float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[address] = values
}

func (d *fakeDevice) fail(address int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing[address] = true
}

func (d *fakeDevice) breakLink() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transport = true
}

func (d *fakeDevice) Read(_ context.Context, id channel.Identity, _ int) ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport {
		return nil, errors.New().Wrap(device.ErrTransport, fmt.Errorf("connection reset"))
	}
	if d.failing[id.Address] {
		return nil, errors.New().WithData(device.ErrChannelRead, id.Label())
	}

	values := d.scripts[id.Address]
	if len(values) == 0 {
		return []float64{0}, nil
	}
	i := d.calls[id.Address]
	d.calls[id.Address]++
	if i >= len(values) {
		i = len(values) - 1
	}
	return []float64{values[i]}, nil
}

func (d *fakeDevice) Close() error { return nil }

type fakeWriter struct {
	mu      sync.Mutex
	records []store.Record
	failOn  map[int]bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{failOn: map[int]bool{}}
}

func (w *fakeWriter) InsertRecord(_ context.Context, r store.Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failOn[r.Identity.Address] {
		return 0, fmt.Errorf("disk full")
	}
	w.records = append(w.records, r)
	return int64(len(w.records)), nil
}

func (w *fakeWriter) Records() []store.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]store.Record(nil), w.records...)
}

// stepClock advances by one second on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}
