package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/logger"
	"github.com/goburrow/modbus"
)

const (
	TransportTCP = "tcp"
	TransportRTU = "rtu"

	maxRegisters = 125
	maxBits      = 2000
)

type Config struct {
	Transport  string
	Address    string
	SerialPort string
	BaudRate   int
	DataBits   int
	Parity     string
	StopBits   int
	Timeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Transport:  TransportTCP,
		Address:    "127.0.0.1:502",
		SerialPort: "/dev/ttyUSB0",
		BaudRate:   9600,
		DataBits:   8,
		Parity:     "N",
		StopBits:   1,
		Timeout:    time.Second,
	}
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportTCP:
		if c.Address == "" {
			return errors.New().WithData(ErrInvalidConfig, "empty device address")
		}
	case TransportRTU:
		if c.SerialPort == "" {
			return errors.New().WithData(ErrInvalidConfig, "empty serial port")
		}
	default:
		return errors.New().WithData(ErrInvalidConfig, "unknown transport "+c.Transport)
	}
	if c.Timeout <= 0 {
		return errors.New().WithData(errors.ErrInvalidInterval, "device timeout")
	}

	return nil
}

type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// ModbusClient is a Client over Modbus TCP or RTU. Reads are serialized on
// the single link; the slave id is switched per read.
type ModbusClient struct {
	mu        sync.Mutex
	handler   handler
	setSlave  func(byte)
	client    modbus.Client
	target    string
	connected bool
	closed    bool
	log       logger.Logger
}

// NewModbus builds a client. The connection is opened lazily on first read.
func NewModbus(cfg Config, log logger.Logger) (*ModbusClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &ModbusClient{log: log.With("device")}

	switch cfg.Transport {
	case TransportTCP:
		h := modbus.NewTCPClientHandler(cfg.Address)
		h.Timeout = cfg.Timeout
		c.handler = h
		c.setSlave = func(id byte) { h.SlaveId = id }
		c.target = cfg.Address
	case TransportRTU:
		h := modbus.NewRTUClientHandler(cfg.SerialPort)
		h.BaudRate = cfg.BaudRate
		h.DataBits = cfg.DataBits
		h.Parity = strings.ToUpper(cfg.Parity)
		h.StopBits = cfg.StopBits
		h.Timeout = cfg.Timeout
		c.handler = h
		c.setSlave = func(id byte) { h.SlaveId = id }
		c.target = cfg.SerialPort
	}
	c.client = modbus.NewClient(c.handler)

	return c, nil
}

// Read implements Client. Reads share the one link and run one at a time.
// Cancelling ctx abandons the wait; the underlying request still completes
// within the configured timeout.
func (c *ModbusClient) Read(ctx context.Context, id channel.Identity, count int) ([]float64, error) {
	if err := checkRequest(id, count); err != nil {
		return nil, err
	}

	type result struct {
		values []float64
		err    error
	}
	done := make(chan result, 1)

	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if err := ctx.Err(); err != nil {
			done <- result{err: readError(id, err)}
			return
		}
		values, err := c.readLocked(id, count)
		done <- result{values: values, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, readError(id, ctx.Err())
	case r := <-done:
		return r.values, r.err
	}
}

// Close releases the link. Later reads fail with ErrClosed.
func (c *ModbusClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if !c.connected {
		return nil
	}
	c.connected = false

	if err := c.handler.Close(); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func (c *ModbusClient) readLocked(id channel.Identity, count int) ([]float64, error) {
	if c.closed {
		return nil, errors.New().New(ErrClosed)
	}

	if !c.connected {
		if err := c.handler.Connect(); err != nil {
			return nil, errors.New().Wrap(ErrTransport, err).WithData(c.target)
		}
		c.connected = true
		c.log.Debug().Str("target", c.target).Msg("Connected to device")
	}

	c.setSlave(byte(id.SlaveID))
	read := readFunc(c.client, id.Function)

	data, err := read(uint16(id.Address), uint16(count))
	if err != nil {
		classified := classify(id, err)
		if IsTransport(classified) {
			c.connected = false
			_ = c.handler.Close()
		}
		return nil, classified
	}

	values, err := decode(id.Function, data, count)
	if err != nil {
		return nil, readError(id, err)
	}

	return values, nil
}

// readFunc maps a function code onto the client call that serves it.
func readFunc(client modbus.Client, fc channel.FunctionCode) func(address, quantity uint16) ([]byte, error) {
	switch fc {
	case channel.ReadCoils:
		return client.ReadCoils
	case channel.ReadDiscreteInputs:
		return client.ReadDiscreteInputs
	case channel.ReadHoldingRegisters:
		return client.ReadHoldingRegisters
	case channel.ReadInputRegisters:
		return client.ReadInputRegisters
	default:
		return nil
	}
}

func checkRequest(id channel.Identity, count int) error {
	if err := id.Validate(); err != nil {
		return errors.New().Wrap(ErrInvalidRequest, err)
	}

	limit := maxRegisters
	if id.Function.IsBit() {
		limit = maxBits
	}
	if count <= 0 || count > limit {
		return errors.New().WithData(ErrInvalidRequest, fmt.Sprintf("count %d outside 1..%d", count, limit))
	}
	if id.Address+count > 0x10000 {
		return errors.New().WithData(ErrInvalidRequest, fmt.Sprintf("address %d + count %d past end of table", id.Address, count))
	}

	return nil
}

// decode turns a raw response into values: registers are big-endian
// unsigned 16-bit words, bits are packed LSB first.
func decode(fc channel.FunctionCode, data []byte, count int) ([]float64, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	values := make([]float64, count)
	if fc.IsBit() {
		if len(data)*8 < count {
			return nil, fmt.Errorf("response has %d bytes, need %d bits", len(data), count)
		}
		for i := 0; i < count; i++ {
			if data[i/8]>>(uint(i)%8)&1 == 1 {
				values[i] = 1
			}
		}
		return values, nil
	}

	if len(data) < 2*count {
		return nil, fmt.Errorf("response has %d bytes, need %d registers", len(data), count)
	}
	for i := 0; i < count; i++ {
		values[i] = float64(binary.BigEndian.Uint16(data[2*i:]))
	}

	return values, nil
}

func readError(id channel.Identity, err error) errors.Error {
	return errors.New().Wrap(ErrChannelRead, err).WithData(id.Label())
}

// classify separates device exceptions and timeouts, which only affect
// this read, from failures of the link itself.
func classify(id channel.Identity, err error) errors.Error {
	var exception *modbus.ModbusError
	if errors.As(err, &exception) {
		return readError(id, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return readError(id, err)
	}

	if brokenLink(err) {
		return errors.New().Wrap(ErrTransport, err).WithData(id.Label())
	}

	return readError(id, err)
}

func brokenLink(err error) bool {
	for _, target := range []error{
		io.EOF, io.ErrUnexpectedEOF, io.ErrClosedPipe, net.ErrClosed,
		syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.EPIPE,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
