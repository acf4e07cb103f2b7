package metrics

import "codeberg.org/mutker/mbscope/internal/errors"

const defaultNamespace = "mbscope"

type Config struct {
	Enabled   bool
	Namespace string
}

func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Namespace: defaultNamespace,
	}
}

func (c Config) Validate() error {
	if c.Enabled && c.Namespace == "" {
		return errors.New().WithData(ErrInvalidConfig, "empty metrics namespace")
	}
	return nil
}
