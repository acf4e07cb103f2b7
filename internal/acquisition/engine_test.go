package acquisition

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/mbscope/internal/buffer"
	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/device"
	"codeberg.org/mutker/mbscope/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holding(address int) channel.Identity {
	return channel.Identity{SlaveID: 1, Address: address, Function: channel.ReadHoldingRegisters}
}

// setupEngine registers T1 (scale 1) and T2 (scale 0.1) and activates both.
func setupEngine(t *testing.T, dev *fakeDevice, w *fakeWriter, opts ...Option) (*Engine, *channel.Registry) {
	t.Helper()
	ctx := context.Background()

	reg := channel.NewRegistry()
	t1 := channel.NewConfig("T1", holding(100))
	t2 := channel.NewConfig("T2", holding(101))
	t2.Scale = 0.1

	for _, cfg := range []channel.Config{t1, t2} {
		_, err := reg.Add(ctx, cfg)
		require.NoError(t, err)
		_, err = reg.Activate(cfg.Name)
		require.NoError(t, err)
	}

	opts = append([]Option{WithClock(newStepClock().Now)}, opts...)
	var writer RecordWriter
	if w != nil {
		writer = w
	}
	return New(reg, dev, writer, opts...), reg
}

func values(samples []buffer.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func bufferOf(t *testing.T, reg *channel.Registry, name string) *buffer.Buffer {
	t.Helper()
	a, ok := reg.Lookup(name)
	require.True(t, ok)
	return a.Buffer
}

func TestTicksFillBuffers(t *testing.T) {
	dev := newFakeDevice()
	dev.script(100, 10, 20, 15)
	dev.script(101, 200, 205, 210)
	e, reg := setupEngine(t, dev, nil)

	for i := 0; i < 3; i++ {
		res, err := e.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, TickResult{Read: 2}, res)
	}

	assert.Equal(t, []float64{10, 20, 15}, values(bufferOf(t, reg, "T1").Samples()))

	t2 := values(bufferOf(t, reg, "T2").Samples())
	require.Len(t, t2, 3)
	assert.InDelta(t, 20.0, t2[0], 1e-9)
	assert.InDelta(t, 20.5, t2[1], 1e-9)
	assert.InDelta(t, 21.0, t2[2], 1e-9)

	raw := bufferOf(t, reg, "T2").Samples()
	assert.Equal(t, 205.0, raw[1].RawValue)
}

func TestChannelErrorIsIsolated(t *testing.T) {
	dev := newFakeDevice()
	dev.script(101, 42)
	dev.fail(100)
	e, reg := setupEngine(t, dev, nil)

	res, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Read: 1, Failed: 1}, res)

	assert.Equal(t, 0, bufferOf(t, reg, "T1").Len())
	assert.Equal(t, 1, bufferOf(t, reg, "T2").Len())
}

func TestTransportErrorFailsTick(t *testing.T) {
	dev := newFakeDevice()
	dev.breakLink()
	e, _ := setupEngine(t, dev, nil)

	_, err := e.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrTransport))
}

func TestStartRequiresActiveChannels(t *testing.T) {
	e := New(channel.NewRegistry(), newFakeDevice(), nil)

	err := e.Start(time.Millisecond)
	assert.True(t, errors.HasCode(err, ErrNoActiveChannels))
	assert.Equal(t, StateIdle, e.State())
}

func TestStartValidation(t *testing.T) {
	e, _ := setupEngine(t, newFakeDevice(), nil)

	err := e.Start(0)
	assert.True(t, errors.HasCode(err, ErrInvalidInterval))

	require.NoError(t, e.Start(time.Hour))
	defer e.Stop()

	err = e.Start(time.Hour)
	assert.True(t, errors.HasCode(err, ErrAlreadyRunning))
	assert.Equal(t, StateRunning, e.State())
	assert.NotEmpty(t, e.Status().RunID)
}

func TestStopWhenIdle(t *testing.T) {
	e, _ := setupEngine(t, newFakeDevice(), nil)
	assert.True(t, errors.HasCode(e.Stop(), ErrNotRunning))
}

func TestLoopPollsUntilStopped(t *testing.T) {
	dev := newFakeDevice()
	dev.script(100, 1, 2, 3, 4, 5)
	e, reg := setupEngine(t, dev, nil)

	require.NoError(t, e.Start(5*time.Millisecond))
	assert.Eventually(t, func() bool {
		return bufferOf(t, reg, "T1").Len() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop())
	assert.Equal(t, StateIdle, e.State())
	assert.NoError(t, e.Err())

	n := bufferOf(t, reg, "T1").Len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, bufferOf(t, reg, "T1").Len())
}

func TestTransportErrorStopsLoop(t *testing.T) {
	dev := newFakeDevice()
	e, _ := setupEngine(t, dev, nil)

	require.NoError(t, e.Start(5*time.Millisecond))
	done := e.Done()
	dev.breakLink()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after transport failure")
	}

	assert.Equal(t, StateIdle, e.State())
	assert.True(t, errors.HasCode(e.Err(), ErrTransport))
	assert.NotEmpty(t, e.Status().LastError)
	assert.True(t, errors.HasCode(e.Stop(), ErrNotRunning))
}

func TestFlushWritesLatestSampleOnly(t *testing.T) {
	dev := newFakeDevice()
	dev.script(100, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	dev.script(101, 100, 110, 120, 130, 140, 150, 160, 170, 180, 190)
	w := newFakeWriter()
	e, reg := setupEngine(t, dev, w)

	for i := 0; i < 10; i++ {
		_, err := e.Tick(context.Background())
		require.NoError(t, err)
	}

	res := e.Flush(context.Background())
	assert.Equal(t, FlushResult{Written: 2}, res)

	records := w.Records()
	require.Len(t, records, 2)

	byName := map[int]float64{}
	for _, r := range records {
		byName[r.Identity.Address] = r.Value
	}
	assert.Equal(t, 10.0, byName[100])
	assert.InDelta(t, 19.0, byName[101], 1e-9)

	latest, _ := bufferOf(t, reg, "T1").Latest()
	for _, r := range records {
		if r.Identity.Address == 100 {
			assert.Equal(t, latest.Timestamp, r.Timestamp)
		}
	}
}

func TestFlushIsolatesWriteFailures(t *testing.T) {
	dev := newFakeDevice()
	w := newFakeWriter()
	w.failOn[100] = true
	e, _ := setupEngine(t, dev, w)

	_, err := e.Tick(context.Background())
	require.NoError(t, err)

	res := e.Flush(context.Background())
	assert.Equal(t, FlushResult{Written: 1, Failed: 1}, res)
	require.Len(t, w.Records(), 1)
	assert.Equal(t, 101, w.Records()[0].Identity.Address)
}

func TestFlushSkipsEmptyBuffers(t *testing.T) {
	w := newFakeWriter()
	e, _ := setupEngine(t, newFakeDevice(), w)

	assert.Equal(t, FlushResult{}, e.Flush(context.Background()))
	assert.Empty(t, w.Records())
}

func TestStopFlushesFinalSample(t *testing.T) {
	dev := newFakeDevice()
	dev.script(100, 7)
	dev.script(101, 70)
	w := newFakeWriter()
	e, reg := setupEngine(t, dev, w, WithPersistence(true, time.Hour))

	require.NoError(t, e.Start(5*time.Millisecond))
	assert.Eventually(t, func() bool {
		return bufferOf(t, reg, "T2").Len() > 0 && bufferOf(t, reg, "T1").Len() > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, w.Records())

	require.NoError(t, e.Stop())
	assert.Len(t, w.Records(), 2)
}

func TestPersistenceDisabledWritesNothing(t *testing.T) {
	dev := newFakeDevice()
	w := newFakeWriter()
	e, reg := setupEngine(t, dev, w)
	require.NoError(t, e.SetPersistence(false, 0))

	require.NoError(t, e.Start(5*time.Millisecond))
	assert.Eventually(t, func() bool {
		return bufferOf(t, reg, "T1").Len() > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Stop())

	assert.Empty(t, w.Records())
}

func TestSetPersistenceValidation(t *testing.T) {
	e, _ := setupEngine(t, newFakeDevice(), newFakeWriter())

	assert.True(t, errors.HasCode(e.SetPersistence(true, -time.Second), ErrInvalidInterval))
	require.NoError(t, e.SetPersistence(true, 2*time.Second))
	st := e.Status()
	assert.True(t, st.PersistEnabled)
	assert.Equal(t, 2*time.Second, st.PersistInterval)

	noWriter, _ := setupEngine(t, newFakeDevice(), nil)
	assert.True(t, errors.HasCode(noWriter.SetPersistence(true, time.Second), ErrPersistenceWrite))
}

type hookDevice struct {
	*fakeDevice
	before func(channel.Identity)
}

func (d *hookDevice) Read(ctx context.Context, id channel.Identity, count int) ([]float64, error) {
	d.before(id)
	return d.fakeDevice.Read(ctx, id, count)
}

func TestDeactivatedDuringTickIsNotWritten(t *testing.T) {
	fake := newFakeDevice()
	dev := &hookDevice{fakeDevice: fake}
	reg := channel.NewRegistry()
	ctx := context.Background()

	_, err := reg.Add(ctx, channel.NewConfig("T1", holding(100)))
	require.NoError(t, err)
	_, err = reg.Activate("T1")
	require.NoError(t, err)
	buf := bufferOf(t, reg, "T1")

	dev.before = func(channel.Identity) {
		_, _ = reg.Deactivate("T1")
	}

	e := New(reg, dev, nil)
	res, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, TickResult{Dropped: 1}, res)
	assert.Equal(t, 0, buf.Len())
}

func TestRenameDuringAcquisitionKeepsBuffer(t *testing.T) {
	dev := newFakeDevice()
	dev.script(100, 1, 2, 3)
	e, reg := setupEngine(t, dev, nil)
	ctx := context.Background()

	_, err := e.Tick(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.Rename(ctx, "T1", "Boiler"))
	_, err = e.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 2}, values(bufferOf(t, reg, "Boiler").Samples()))
	_, ok := reg.Lookup("T1")
	assert.False(t, ok)
}

func TestWindowAndLatest(t *testing.T) {
	dev := newFakeDevice()
	dev.script(100, 1, 2, 3)
	e, _ := setupEngine(t, dev, nil, WithDisplayWindow(time.Hour))

	for i := 0; i < 3; i++ {
		_, err := e.Tick(context.Background())
		require.NoError(t, err)
	}

	samples, err := e.Window("T1")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, values(samples))

	// Narrower than the sampling gap: falls back to the whole buffer.
	samples, err = e.WindowFor("T1", time.Nanosecond)
	require.NoError(t, err)
	assert.Len(t, samples, 3)

	_, err = e.Window("missing")
	assert.True(t, errors.HasCode(err, ErrChannelNotActive))

	latest := e.Latest()
	require.Len(t, latest, 2)
	assert.Equal(t, "T1", latest[0].Name)
	require.NotNil(t, latest[0].Sample)
	assert.Equal(t, 3.0, latest[0].Sample.Value)
	assert.Equal(t, 3, latest[0].Buffered)
	assert.Equal(t, buffer.DefaultCapacity, latest[0].Capacity)
}

func TestClearSamples(t *testing.T) {
	dev := newFakeDevice()
	e, _ := setupEngine(t, dev, nil)

	_, err := e.Tick(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.ClearSamples("T1"))
	samples, err := e.Window("T1")
	require.NoError(t, err)
	assert.Empty(t, samples)

	// T2 keeps its buffer
	samples, err = e.Window("T2")
	require.NoError(t, err)
	assert.Len(t, samples, 1)

	err = e.ClearSamples("missing")
	assert.True(t, errors.HasCode(err, ErrChannelNotActive))
}

// stallDevice blocks reads of one address until the context ends.
type stallDevice struct {
	*fakeDevice
	address int
}

func (d *stallDevice) Read(ctx context.Context, id channel.Identity, count int) ([]float64, error) {
	if id.Address == d.address {
		<-ctx.Done()
		return nil, errors.New().Wrap(device.ErrChannelRead, ctx.Err())
	}
	return d.fakeDevice.Read(ctx, id, count)
}

func TestStalledReadBoundedByTickDeadline(t *testing.T) {
	dev := &stallDevice{fakeDevice: newFakeDevice(), address: 100}
	dev.script(101, 40)

	reg := channel.NewRegistry()
	ctx := context.Background()
	for _, cfg := range []channel.Config{
		channel.NewConfig("T1", holding(100)),
		channel.NewConfig("T2", holding(101)),
	} {
		_, err := reg.Add(ctx, cfg)
		require.NoError(t, err)
		_, err = reg.Activate(cfg.Name)
		require.NoError(t, err)
	}

	e := New(reg, dev, nil, WithTickDeadline(50*time.Millisecond))

	start := time.Now()
	res, err := e.Tick(ctx)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, TickResult{Read: 1, Failed: 1}, res)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)

	samples, err := e.Window("T2")
	require.NoError(t, err)
	assert.Equal(t, []float64{40}, values(samples))
}
