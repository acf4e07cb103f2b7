package channel_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/mbscope/internal/buffer"
	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holding(slave, addr int) channel.Identity {
	return channel.Identity{SlaveID: slave, Address: addr, Function: channel.ReadHoldingRegisters}
}

func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newRegistry(t *testing.T, store channel.ConfigStore, names ...string) *channel.Registry {
	t.Helper()

	opts := []channel.RegistryOption{channel.WithBufferSize(10), channel.WithClock(stepClock())}
	if store != nil {
		opts = append(opts, channel.WithStore(store))
	}
	r := channel.NewRegistry(opts...)
	for i, name := range names {
		_, err := r.Add(context.Background(), channel.NewConfig(name, holding(1, 100+i)))
		require.NoError(t, err)
	}

	return r
}

func TestAddDuplicateName(t *testing.T) {
	store := newFakeStore()
	r := newRegistry(t, store, "A")

	_, err := r.Add(context.Background(), channel.NewConfig("A", holding(2, 1)))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, channel.ErrDuplicateName))
	assert.Len(t, r.Configs(), 1)
	assert.True(t, store.has("A"))
}

func TestAddInvalidConfig(t *testing.T) {
	r := newRegistry(t, nil)

	cfg := channel.NewConfig("A", holding(1, 1))
	cfg.Count = 0
	_, err := r.Add(context.Background(), cfg)
	assert.True(t, errors.HasCode(err, channel.ErrInvalidConfig))
}

func TestAddStoreFailureLeavesLibraryUntouched(t *testing.T) {
	store := newFakeStore()
	store.failOn = "B"
	r := newRegistry(t, store, "A")

	_, err := r.Add(context.Background(), channel.NewConfig("B", holding(1, 5)))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, channel.ErrStoreWrite))
	_, ok := r.Get("B")
	assert.False(t, ok)
}

func TestActivate(t *testing.T) {
	r := newRegistry(t, nil, "A", "B")

	_, err := r.Activate("missing")
	assert.True(t, errors.HasCode(err, channel.ErrNotFound))

	activated, err := r.Activate("B")
	require.NoError(t, err)
	assert.True(t, activated)

	activated, err = r.Activate("B")
	require.NoError(t, err)
	assert.False(t, activated, "second activation is a no-op")

	_, err = r.Activate("A")
	require.NoError(t, err)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "B", snap[0].Config.Name)
	assert.Equal(t, "A", snap[1].Config.Name)
	assert.Equal(t, 10, snap[0].Buffer.Cap())
}

func TestDeactivateDiscardsBuffer(t *testing.T) {
	r := newRegistry(t, nil, "A")
	_, err := r.Activate("A")
	require.NoError(t, err)

	snap := r.Snapshot()
	require.True(t, r.Record(snap[0].Buffer, buffer.Sample{Value: 1}))

	removed, err := r.Deactivate("A")
	require.NoError(t, err)
	assert.True(t, removed)

	assert.False(t, r.Record(snap[0].Buffer, buffer.Sample{Value: 2}), "no writes after deactivation")
	assert.Equal(t, 1, snap[0].Buffer.Len())

	_, err = r.Activate("A")
	require.NoError(t, err)
	active, ok := r.Lookup("A")
	require.True(t, ok)
	assert.Equal(t, 0, active.Buffer.Len(), "reactivation allocates a fresh buffer")

	removed, err = r.Deactivate("A")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = r.Deactivate("A")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRenameActiveChannelKeepsBuffer(t *testing.T) {
	store := newFakeStore()
	r := newRegistry(t, store, "A", "C")
	_, err := r.Activate("A")
	require.NoError(t, err)

	before, _ := r.Lookup("A")
	r.Record(before.Buffer, buffer.Sample{Value: 1})
	r.Record(before.Buffer, buffer.Sample{Value: 2})

	require.NoError(t, r.Rename(context.Background(), "A", "B"))

	assert.False(t, r.IsActive("A"))
	after, ok := r.Lookup("B")
	require.True(t, ok)
	assert.Same(t, before.Buffer, after.Buffer)
	assert.Equal(t, 2, after.Buffer.Len())

	assert.True(t, r.Record(after.Buffer, buffer.Sample{Value: 3}))
	assert.Equal(t, 3, after.Buffer.Len())
	assert.True(t, store.has("B"))
	assert.False(t, store.has("A"))

	err = r.Rename(context.Background(), "B", "C")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, channel.ErrDuplicateName))
	still, ok := r.Lookup("B")
	require.True(t, ok)
	assert.Same(t, before.Buffer, still.Buffer)
	_, ok = r.Get("C")
	assert.True(t, ok)
}

func TestUpdateAppliesTransform(t *testing.T) {
	r := newRegistry(t, nil, "A")
	_, err := r.Activate("A")
	require.NoError(t, err)

	cfg, _ := r.Get("A")
	created := cfg.CreatedAt
	cfg.Scale = 0.5
	cfg.Color = channel.ColorRed
	cfg.CreatedAt = time.Time{}
	updated, err := r.Update(context.Background(), "A", cfg)
	require.NoError(t, err)
	assert.Equal(t, created, updated.CreatedAt)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 0.5, snap[0].Config.Scale)
	assert.Equal(t, channel.ColorRed, snap[0].Config.Color)
}

func TestUpdateUnknown(t *testing.T) {
	r := newRegistry(t, nil)
	_, err := r.Update(context.Background(), "A", channel.NewConfig("A", holding(1, 1)))
	assert.True(t, errors.HasCode(err, channel.ErrNotFound))
}

func TestDeleteDeactivates(t *testing.T) {
	store := newFakeStore()
	r := newRegistry(t, store, "A", "B")
	_, err := r.Activate("A")
	require.NoError(t, err)

	require.NoError(t, r.Delete(context.Background(), "A"))
	assert.False(t, r.IsActive("A"))
	assert.Equal(t, 0, r.ActiveCount())
	assert.False(t, store.has("A"))

	err = r.Delete(context.Background(), "A")
	assert.True(t, errors.HasCode(err, channel.ErrNotFound))
}

func TestClearActive(t *testing.T) {
	r := newRegistry(t, nil, "A", "B")
	_, _ = r.Activate("A")
	_, _ = r.Activate("B")

	r.ClearActive()
	assert.Empty(t, r.Snapshot())
	assert.Len(t, r.Configs(), 2)
}

func TestResolveNamePrefersActive(t *testing.T) {
	r := newRegistry(t, nil)
	ctx := context.Background()
	_, err := r.Add(ctx, channel.NewConfig("First", holding(1, 100)))
	require.NoError(t, err)
	_, err = r.Add(ctx, channel.NewConfig("Second", holding(1, 100)))
	require.NoError(t, err)

	name, ok := r.ResolveName(holding(1, 100))
	require.True(t, ok)
	assert.Equal(t, "First", name, "library order is creation order")

	_, err = r.Activate("Second")
	require.NoError(t, err)
	name, _ = r.ResolveName(holding(1, 100))
	assert.Equal(t, "Second", name)

	_, ok = r.ResolveName(holding(9, 9))
	assert.False(t, ok)

	conflicts := r.IdentityConflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, []string{"First", "Second"}, conflicts[0].Names)
}

func TestLoadFromStore(t *testing.T) {
	store := newFakeStore()
	cfg := channel.NewConfig("B", holding(1, 2))
	cfg.CreatedAt = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cfg.Color = "chartreuse"
	store.configs["B"] = cfg
	older := channel.NewConfig("A", holding(1, 1))
	older.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.configs["A"] = older

	r := channel.NewRegistry(channel.WithStore(store))
	require.NoError(t, r.Load(context.Background()))

	cfgs := r.Configs()
	require.Len(t, cfgs, 2)
	assert.Equal(t, "A", cfgs[0].Name)
	assert.Equal(t, "B", cfgs[1].Name)
	assert.Equal(t, channel.DefaultColor, cfgs[1].Color)
}

func TestConcurrentRecordAndDeactivate(t *testing.T) {
	r := newRegistry(t, nil, "A")
	_, err := r.Activate("A")
	require.NoError(t, err)
	buf := r.Snapshot()[0].Buffer

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.Record(buf, buffer.Sample{Value: float64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		_, _ = r.Deactivate("A")
	}()
	wg.Wait()

	n := buf.Len()
	assert.False(t, r.Record(buf, buffer.Sample{}))
	assert.Equal(t, n, buf.Len())
}
