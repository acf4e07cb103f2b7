package telemetry

import "codeberg.org/mutker/mbscope/internal/errors"

const (
	defaultStream = "mbscope:samples"
	defaultMaxLen = 10000
)

type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

func DefaultConfig() Config {
	return Config{
		Stream: defaultStream,
		MaxLen: defaultMaxLen,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	errFactory := errors.New()
	if c.Addr == "" {
		return errFactory.New(ErrInvalidAddr)
	}
	if c.Stream == "" {
		return errFactory.WithData(ErrInvalidConfig, "empty stream name")
	}
	if c.MaxLen < 0 {
		return errFactory.WithData(ErrInvalidConfig, "negative stream length")
	}
	return nil
}
