// Package channel defines channel identities and configurations and the
// registry that tracks which channels are polled.
package channel

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/mbscope/internal/errors"
)

// FunctionCode is the Modbus read function a channel uses.
type FunctionCode uint8

const (
	ReadCoils            FunctionCode = 1
	ReadDiscreteInputs   FunctionCode = 2
	ReadHoldingRegisters FunctionCode = 3
	ReadInputRegisters   FunctionCode = 4
)

// Valid reports whether f is one of the four supported read functions.
func (f FunctionCode) Valid() bool {
	return f >= ReadCoils && f <= ReadInputRegisters
}

// IsBit reports whether f reads single-bit values.
func (f FunctionCode) IsBit() bool {
	return f == ReadCoils || f == ReadDiscreteInputs
}

// Tag is the two-digit hex form stored with persisted records, e.g. "0x03".
func (f FunctionCode) Tag() string {
	return fmt.Sprintf("0x%02X", uint8(f))
}

func (f FunctionCode) String() string {
	switch f {
	case ReadCoils:
		return "coils"
	case ReadDiscreteInputs:
		return "discrete_inputs"
	case ReadHoldingRegisters:
		return "holding_registers"
	case ReadInputRegisters:
		return "input_registers"
	default:
		return "unknown(" + strconv.Itoa(int(f)) + ")"
	}
}

// ParseFunctionCode accepts a hex tag ("0x03"), a decimal code ("3") or a
// function name ("holding_registers").
func ParseFunctionCode(s string) (FunctionCode, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	for f := ReadCoils; f <= ReadInputRegisters; f++ {
		if s == f.String() {
			return f, nil
		}
	}

	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil || !FunctionCode(n).Valid() {
		return 0, errors.New().WithData(ErrInvalidConfig, "function code "+s)
	}

	return FunctionCode(n), nil
}

// Identity names what is read, independent of the channel's display name.
type Identity struct {
	SlaveID  int          `json:"slave_id"`
	Address  int          `json:"address"`
	Function FunctionCode `json:"function_code"`
}

// Label is the synthetic name used when no configured channel matches.
func (id Identity) Label() string {
	return fmt.Sprintf("slave:%d addr:%d func:%s", id.SlaveID, id.Address, id.Function.Tag())
}

func (id Identity) String() string {
	return id.Label()
}

// Validate checks the identity fields against the Modbus address space.
func (id Identity) Validate() error {
	switch {
	case id.SlaveID < 0 || id.SlaveID > 255:
		return errors.New().WithData(ErrInvalidConfig, fmt.Sprintf("slave id %d out of range", id.SlaveID))
	case id.Address < 0 || id.Address > 0xFFFF:
		return errors.New().WithData(ErrInvalidConfig, fmt.Sprintf("address %d out of range", id.Address))
	case !id.Function.Valid():
		return errors.New().WithData(ErrInvalidConfig, "function code "+id.Function.String())
	}

	return nil
}

// Color is a display color for a channel trace.
type Color string

const (
	ColorBlue      Color = "blue"
	ColorRed       Color = "red"
	ColorGreen     Color = "green"
	ColorOrange    Color = "orange"
	ColorPurple    Color = "purple"
	ColorBrown     Color = "brown"
	ColorPink      Color = "pink"
	ColorGray      Color = "gray"
	ColorOlive     Color = "olive"
	ColorCyan      Color = "cyan"
	ColorBlack     Color = "black"
	ColorNavy      Color = "navy"
	ColorDarkRed   Color = "darkred"
	ColorDarkGreen Color = "darkgreen"
	ColorGold      Color = "gold"
	ColorSilver    Color = "silver"

	DefaultColor = ColorBlue
)

var colors = []Color{
	ColorBlue, ColorRed, ColorGreen, ColorOrange, ColorPurple, ColorBrown, ColorPink, ColorGray,
	ColorOlive, ColorCyan, ColorBlack, ColorNavy, ColorDarkRed, ColorDarkGreen, ColorGold, ColorSilver,
}

// Colors returns the selectable colors in palette order.
func Colors() []Color {
	out := make([]Color, len(colors))
	copy(out, colors)
	return out
}

func (c Color) Valid() bool {
	for _, known := range colors {
		if c == known {
			return true
		}
	}
	return false
}

// OrDefault returns c if it is a known color, DefaultColor otherwise.
func (c Color) OrDefault() Color {
	if c.Valid() {
		return c
	}
	return DefaultColor
}

// Config is a saved channel definition.
type Config struct {
	Name      string    `json:"name"`
	Identity  Identity  `json:"identity"`
	Count     int       `json:"count"`
	Unit      string    `json:"unit"`
	Scale     float64   `json:"scale"`
	Offset    float64   `json:"offset"`
	Color     Color     `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// NewConfig returns a config with the default transform and color.
func NewConfig(name string, id Identity) Config {
	return Config{
		Name:     name,
		Identity: id,
		Count:    1,
		Scale:    1.0,
		Color:    DefaultColor,
	}
}

// Transform maps a raw reading onto the channel's engineering value.
func (c Config) Transform(raw float64) float64 {
	return raw*c.Scale + c.Offset
}

// Validate checks a config before it enters the registry.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New().WithData(ErrInvalidConfig, "name is empty")
	}
	if c.Count <= 0 {
		return errors.New().WithData(ErrInvalidConfig, fmt.Sprintf("count %d must be positive", c.Count))
	}
	if !c.Color.Valid() {
		return errors.New().WithData(ErrInvalidConfig, "unknown color "+string(c.Color))
	}

	return c.Identity.Validate()
}
