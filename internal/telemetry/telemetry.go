package telemetry

import (
	"context"

	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopPublisher struct{}

// NewService connects to the configured stream. When telemetry is disabled a
// no-op publisher is returned.
func NewService(ctx context.Context, cfg Config) (Publisher, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Telemetry disabled, using no-op publisher")
		return Noop(), nil
	}

	repo, err := NewRepository(ctx, cfg)
	if err != nil {
		return nil, err // Already wrapped with appropriate error
	}

	return newService(repo, cfg), nil
}

func newService(repo Repository, cfg Config) Publisher {
	return &service{
		repo: repo,
		cfg:  cfg,
	}
}

func Noop() Publisher {
	return &noopPublisher{}
}

func (s *service) Publish(ctx context.Context, sample *Sample) error {
	errFactory := errors.New()

	if sample == nil || sample.Channel == "" {
		return errFactory.New(ErrInvalidSample)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Append(ctx, sampleValues(sample)); err != nil {
			return err // Already wrapped with appropriate error
		}
	}

	return nil
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func (*noopPublisher) Publish(context.Context, *Sample) error { return nil }
func (*noopPublisher) Close() error                           { return nil }
