package device_test

import (
	"context"
	"net"
	"testing"
	"time"

	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/device"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"
)

func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// startSlave runs an in-process Modbus TCP slave. seed runs before the
// server starts accepting connections.
func startSlave(t *testing.T, seed func(s *mbserver.Server)) string {
	t.Helper()

	s := mbserver.NewServer()
	if seed != nil {
		seed(s)
	}

	addr := freeAddr(t)
	require.NoError(t, s.ListenTCP(addr))
	t.Cleanup(s.Close)

	return addr
}

func newClient(t *testing.T, addr string) *device.ModbusClient {
	t.Helper()

	cfg := device.DefaultConfig()
	cfg.Address = addr
	cfg.Timeout = 2 * time.Second

	c, err := device.NewModbus(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func id(addr int, fc channel.FunctionCode) channel.Identity {
	return channel.Identity{SlaveID: 1, Address: addr, Function: fc}
}

func TestReadRegisters(t *testing.T) {
	addr := startSlave(t, func(s *mbserver.Server) {
		s.HoldingRegisters[100] = 10
		s.HoldingRegisters[101] = 0xFFFF
		s.InputRegisters[7] = 1234
	})
	c := newClient(t, addr)
	ctx := context.Background()

	values, err := c.Read(ctx, id(100, channel.ReadHoldingRegisters), 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 65535}, values)

	values, err = c.Read(ctx, id(7, channel.ReadInputRegisters), 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1234}, values)
}

func TestReadBits(t *testing.T) {
	addr := startSlave(t, func(s *mbserver.Server) {
		s.Coils[3] = 1
		s.Coils[5] = 1
		s.DiscreteInputs[0] = 1
	})
	c := newClient(t, addr)
	ctx := context.Background()

	values, err := c.Read(ctx, id(3, channel.ReadCoils), 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 1}, values)

	values, err = c.Read(ctx, id(0, channel.ReadDiscreteInputs), 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, values)
}

func TestDeviceExceptionIsChannelError(t *testing.T) {
	addr := startSlave(t, nil)
	c := newClient(t, addr)

	// The slave rejects this request with an illegal data address exception.
	_, err := c.Read(context.Background(), id(0xFFFF, channel.ReadHoldingRegisters), 1)
	if err == nil {
		t.Skip("slave accepted the last register")
	}
	assert.True(t, errors.HasCode(err, device.ErrChannelRead))
	assert.False(t, device.IsTransport(err))

	// The link survives a device exception.
	_, err = c.Read(context.Background(), id(0, channel.ReadHoldingRegisters), 1)
	assert.NoError(t, err)
}

func TestInvalidRequest(t *testing.T) {
	c := newClient(t, "127.0.0.1:1")
	ctx := context.Background()

	_, err := c.Read(ctx, id(0, channel.ReadHoldingRegisters), 126)
	assert.True(t, errors.HasCode(err, device.ErrInvalidRequest))

	_, err = c.Read(ctx, id(65535, channel.ReadHoldingRegisters), 2)
	assert.True(t, errors.HasCode(err, device.ErrInvalidRequest))

	_, err = c.Read(ctx, id(0, channel.FunctionCode(9)), 1)
	assert.True(t, errors.HasCode(err, device.ErrInvalidRequest))
	assert.False(t, device.IsTransport(err))
}

func TestConnectFailureIsTransportError(t *testing.T) {
	c := newClient(t, freeAddr(t))

	_, err := c.Read(context.Background(), id(0, channel.ReadHoldingRegisters), 1)
	require.Error(t, err)
	assert.True(t, device.IsTransport(err))
}

func TestReadAfterClose(t *testing.T) {
	addr := startSlave(t, nil)
	c := newClient(t, addr)

	_, err := c.Read(context.Background(), id(0, channel.ReadHoldingRegisters), 1)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Read(context.Background(), id(0, channel.ReadHoldingRegisters), 1)
	assert.True(t, errors.HasCode(err, device.ErrClosed))
	assert.True(t, device.IsTransport(err))
}

func TestCancelledContext(t *testing.T) {
	addr := startSlave(t, nil)
	c := newClient(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Read(ctx, id(0, channel.ReadHoldingRegisters), 1)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, device.ErrChannelRead))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	cfg := device.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Transport = "udp"
	assert.Error(t, cfg.Validate())

	cfg = device.DefaultConfig()
	cfg.Transport = device.TransportRTU
	cfg.SerialPort = ""
	assert.Error(t, cfg.Validate())

	cfg = device.DefaultConfig()
	cfg.Timeout = 0
	_, err := device.NewModbus(cfg, nil)
	assert.Error(t, err)
}
