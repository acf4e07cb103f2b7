package channel_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportFillsDefaults(t *testing.T) {
	store := newFakeStore()
	r := newRegistry(t, store)

	payload := []byte(`[
		{"name": "T1", "address": 100, "unit": "C"},
		{"name": "T2", "slave_id": 2, "address": 101, "function_code": 4, "scale": 0.1, "offset": -5, "color": "Red", "count": 2}
	]`)

	result, err := r.Import(context.Background(), payload, channel.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	t1, ok := r.Get("T1")
	require.True(t, ok)
	assert.Equal(t, 1.0, t1.Scale)
	assert.Equal(t, 0.0, t1.Offset)
	assert.Equal(t, channel.DefaultColor, t1.Color)
	assert.Equal(t, 1, t1.Count)
	assert.Equal(t, channel.Identity{SlaveID: 1, Address: 100, Function: channel.ReadHoldingRegisters}, t1.Identity)

	t2, _ := r.Get("T2")
	assert.Equal(t, channel.ReadInputRegisters, t2.Identity.Function)
	assert.Equal(t, 0.1, t2.Scale)
	assert.Equal(t, -5.0, t2.Offset)
	assert.Equal(t, channel.ColorRed, t2.Color)
	assert.True(t, store.has("T2"))
}

func TestImportCountsPerRecordFailures(t *testing.T) {
	r := newRegistry(t, nil)

	payload := []byte(`
- name: ok
  address: 1
- name: missing-address
- address: 2
- name: bad-function
  address: 3
  function_code: 6
`)

	result, err := r.Import(context.Background(), payload, channel.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 3, result.Failed)
	assert.Len(t, result.Errors, 3)
	assert.Len(t, r.Configs(), 1)
}

func TestImportReplacesExisting(t *testing.T) {
	r := newRegistry(t, nil, "T1")
	before, _ := r.Get("T1")

	result, err := r.Import(context.Background(), []byte(`[{"name":"T1","address":500,"unit":"bar"}]`), channel.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	after, _ := r.Get("T1")
	assert.Equal(t, 500, after.Identity.Address)
	assert.Equal(t, "bar", after.Unit)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestImportRejectsNonList(t *testing.T) {
	store := newFakeStore()
	r := newRegistry(t, store)

	for format, payload := range map[channel.Format]string{
		channel.FormatJSON: `{"name":"T1","address":1}`,
		channel.FormatYAML: "name: T1\naddress: 1\n",
	} {
		_, err := r.Import(context.Background(), []byte(payload), format)
		require.Error(t, err, format)
		assert.True(t, errors.HasCode(err, channel.ErrImportFormat), format)
	}
	assert.Empty(t, r.Configs())
	assert.False(t, store.has("T1"))
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newRegistry(t, nil)
	cfg := channel.NewConfig("Flow", channel.Identity{SlaveID: 3, Address: 7, Function: channel.ReadCoils})
	cfg.Scale = 2.5
	cfg.Color = channel.ColorNavy
	_, err := src.Add(context.Background(), cfg)
	require.NoError(t, err)

	for _, format := range []channel.Format{channel.FormatJSON, channel.FormatYAML} {
		data, err := src.Export(format)
		require.NoError(t, err)

		dst := newRegistry(t, nil)
		result, err := dst.Import(context.Background(), data, format)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Succeeded)

		got, ok := dst.Get("Flow")
		require.True(t, ok)
		assert.Equal(t, cfg.Identity, got.Identity)
		assert.Equal(t, 2.5, got.Scale)
		assert.Equal(t, channel.ColorNavy, got.Color)
	}
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, channel.FormatYAML, channel.FormatFromPath("channels.YML"))
	assert.Equal(t, channel.FormatJSON, channel.FormatFromPath("channels.json"))
	assert.Equal(t, channel.FormatJSON, channel.FormatFromPath("channels"))

	_, err := channel.ParseFormat("xml")
	assert.Error(t, err)
}

func TestImportFile(t *testing.T) {
	r := newRegistry(t, newFakeStore())

	path := filepath.Join(t.TempDir(), "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- name: T1
  address: 100
  unit: C
- name: P1
  slave_id: 2
  address: 200
  function_code: 4
`), 0o600))

	result, err := r.ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)

	p1, ok := r.Get("P1")
	require.True(t, ok)
	assert.Equal(t, 2, p1.Identity.SlaveID)

	_, err = r.ImportFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, channel.ErrImportRead))
}
