package telemetry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/logger"
	"github.com/go-redis/redis/v8"
)

// Repository appends entries to the backing stream.
type Repository interface {
	Append(ctx context.Context, values map[string]any) error
	Close() error
}

type redisRepository struct {
	client *redis.Client
	stream string
	maxLen int64
	mu     sync.Mutex
	closed bool
}

func NewRepository(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Addr == "" {
		return nil, errors.New().New(ErrInvalidAddr)
	}

	logger.Debug().Msgf("Initializing telemetry stream %s at: %s", cfg.Stream, cfg.Addr)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.New().Wrap(ErrConnect, err)
	}

	return &redisRepository{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
	}, nil
}

func (r *redisRepository) Append(ctx context.Context, values map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().WithMessage(ErrPublish, "stream closed")
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: values,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return errors.New().Wrap(ErrPublish, err)
	}
	return nil
}

func (r *redisRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func sampleValues(s *Sample) map[string]any {
	return map[string]any{
		"run":       s.RunID,
		"channel":   s.Channel,
		"slave":     strconv.Itoa(s.Identity.SlaveID),
		"address":   strconv.Itoa(s.Identity.Address),
		"function":  s.Identity.Function.Tag(),
		"timestamp": s.Timestamp.Format(time.RFC3339Nano),
		"raw":       strconv.FormatFloat(s.Raw, 'g', -1, 64),
		"value":     strconv.FormatFloat(s.Value, 'g', -1, 64),
		"unit":      s.Unit,
	}
}
