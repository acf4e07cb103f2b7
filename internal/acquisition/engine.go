// Package acquisition polls the active channels of a registry on a fixed
// interval and persists a decimated copy of the samples.
package acquisition

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/mbscope/internal/buffer"
	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/device"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/logger"
	"codeberg.org/mutker/mbscope/internal/metrics"
	"codeberg.org/mutker/mbscope/internal/store"
	"codeberg.org/mutker/mbscope/internal/telemetry"
	"github.com/google/uuid"
)

const (
	DefaultPersistInterval = 5 * time.Second
	DefaultDisplayWindow   = 60 * time.Second
	DefaultMaxReads        = 4

	finalFlushTimeout = 5 * time.Second
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// RecordWriter is the durable sink for persisted samples.
type RecordWriter interface {
	InsertRecord(ctx context.Context, r store.Record) (int64, error)
}

// Engine owns the polling loop for one registry and one device.
type Engine struct {
	registry *channel.Registry
	client   device.Client
	writer   RecordWriter

	log       logger.Logger
	metrics   metrics.Recorder
	publisher telemetry.Publisher
	now       func() time.Time

	maxReads      int
	tickDeadline  time.Duration
	displayWindow time.Duration

	// serializes ticks and flushes
	tickMu sync.Mutex

	mu              sync.Mutex
	run             *run
	lastErr         error
	persistEnabled  bool
	persistInterval time.Duration
}

type run struct {
	id       string
	interval time.Duration
	started  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Engine)

func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		e.log = log.With("acquisition")
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithPublisher(p telemetry.Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMaxConcurrentReads bounds the reads in flight during one tick.
func WithMaxConcurrentReads(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxReads = n
		}
	}
}

// WithTickDeadline bounds one tick. Zero means the acquisition interval.
func WithTickDeadline(d time.Duration) Option {
	return func(e *Engine) {
		e.tickDeadline = d
	}
}

func WithDisplayWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.displayWindow = d
		}
	}
}

// WithPersistence sets the initial throttle settings.
func WithPersistence(enabled bool, interval time.Duration) Option {
	return func(e *Engine) {
		e.persistEnabled = enabled
		if interval > 0 {
			e.persistInterval = interval
		}
	}
}

func New(registry *channel.Registry, client device.Client, writer RecordWriter, opts ...Option) *Engine {
	e := &Engine{
		registry:        registry,
		client:          client,
		writer:          writer,
		log:             logger.Nop(),
		metrics:         metrics.Noop(),
		publisher:       telemetry.Noop(),
		now:             time.Now,
		maxReads:        DefaultMaxReads,
		displayWindow:   DefaultDisplayWindow,
		persistEnabled:  writer != nil,
		persistInterval: DefaultPersistInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if writer == nil {
		e.persistEnabled = false
	}

	return e
}

// Start begins polling every interval. It fails when no channel is active or
// a run is already in progress.
func (e *Engine) Start(interval time.Duration) error {
	errFactory := errors.New()

	if interval <= 0 {
		return errFactory.WithData(ErrInvalidInterval, interval.String())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return errFactory.New(ErrAlreadyRunning)
	}
	n := e.registry.ActiveCount()
	if n == 0 {
		return errFactory.New(ErrNoActiveChannels)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:       uuid.NewString(),
		interval: interval,
		started:  e.now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	e.run = r
	e.lastErr = nil

	persist := e.persistEnabled
	persistInterval := e.persistInterval

	deadline := e.tickDeadline
	if deadline <= 0 {
		deadline = interval
	}

	e.metrics.Running(true)
	e.metrics.ActiveChannels(n)
	e.log.Info().
		Str("run", r.id).
		Dur("interval", interval).
		Bool("persist", persist).
		Int("channels", n).
		Msg("Acquisition started")

	go e.loop(ctx, r, deadline, persist, persistInterval)

	return nil
}

// Stop ends the current run at the next tick boundary, waits for the loop to
// exit and flushes the latest samples if persistence is enabled.
func (e *Engine) Stop() error {
	e.mu.Lock()
	r := e.run
	e.mu.Unlock()

	if r == nil {
		return errors.New().New(ErrNotRunning)
	}

	r.cancel()
	<-r.done

	return nil
}

func (e *Engine) loop(ctx context.Context, r *run, deadline time.Duration, persist bool, persistInterval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var persistC <-chan time.Time
	if persist {
		pt := time.NewTicker(persistInterval)
		defer pt.Stop()
		persistC = pt.C
	}

	var fatal error

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, deadline)
			_, err := e.tick(tickCtx, r.id)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					break loop
				}
				fatal = err
				break loop
			}
		case <-persistC:
			e.Flush(ctx)
		}
	}

	if persist {
		flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		res := e.Flush(flushCtx)
		cancel()
		e.log.Debug().Str("run", r.id).Int("written", res.Written).Int("failed", res.Failed).Msg("Final flush")
	}

	e.finish(r, fatal)
}

func (e *Engine) finish(r *run, fatal error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run == r {
		e.run = nil
	}
	e.lastErr = fatal
	e.metrics.Running(false)

	if fatal != nil {
		if appErr, ok := fatal.(errors.Error); ok {
			e.log.ErrorWithCode(appErr).Str("run", r.id).Msg("Acquisition stopped")
		} else {
			e.log.Error().Err(fatal).Str("run", r.id).Msg("Acquisition stopped")
		}
		return
	}
	e.log.Info().Str("run", r.id).Msg("Acquisition stopped")
}

// State reports whether a run is in progress.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return StateRunning
	}
	return StateIdle
}

// Err returns the fatal error that ended the last run, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastErr
}

// Done is closed when the current run ends. With no run in progress it
// returns a closed channel.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return e.run.done
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Status describes the engine for callers outside the loop.
type Status struct {
	State           State         `json:"state"`
	RunID           string        `json:"run_id,omitempty"`
	Interval        time.Duration `json:"interval,omitempty"`
	Started         time.Time     `json:"started,omitempty"`
	ActiveChannels  int           `json:"active_channels"`
	PersistEnabled  bool          `json:"persist_enabled"`
	PersistInterval time.Duration `json:"persist_interval"`
	LastError       string        `json:"last_error,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:           StateIdle,
		ActiveChannels:  e.registry.ActiveCount(),
		PersistEnabled:  e.persistEnabled,
		PersistInterval: e.persistInterval,
	}
	if e.run != nil {
		st.State = StateRunning
		st.RunID = e.run.id
		st.Interval = e.run.interval
		st.Started = e.run.started
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}

	return st
}

// SetPersistence changes the throttle settings. A zero interval keeps the
// current one. A running loop keeps its settings; the change applies on the
// next Start.
func (e *Engine) SetPersistence(enabled bool, interval time.Duration) error {
	errFactory := errors.New()

	if enabled && e.writer == nil {
		return errFactory.WithMessage(ErrPersistenceWrite, "no record writer configured")
	}
	if interval < 0 {
		return errFactory.WithData(ErrInvalidInterval, interval.String())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.persistEnabled = enabled
	if interval > 0 {
		e.persistInterval = interval
	}

	return nil
}

// Window returns the samples of an active channel that fall inside the display
// window, or the whole buffer when none do.
func (e *Engine) Window(name string) ([]buffer.Sample, error) {
	return e.WindowFor(name, e.displayWindow)
}

func (e *Engine) WindowFor(name string, window time.Duration) ([]buffer.Sample, error) {
	active, ok := e.registry.Lookup(name)
	if !ok {
		return nil, errors.New().WithData(ErrChannelNotActive, name)
	}
	if window <= 0 {
		window = e.displayWindow
	}

	return active.Buffer.Windowed(e.now(), window), nil
}

// ClearSamples drops the buffered samples of an active channel.
func (e *Engine) ClearSamples(name string) error {
	active, ok := e.registry.Lookup(name)
	if !ok {
		return errors.New().WithData(ErrChannelNotActive, name)
	}
	active.Buffer.Reset()
	e.log.Debug().Str("channel", name).Msg("Live samples cleared")

	return nil
}

// Latest is the most recent sample of one active channel.
type Latest struct {
	Name     string         `json:"name"`
	Unit     string         `json:"unit"`
	Buffered int            `json:"buffered"`
	Capacity int            `json:"capacity"`
	Sample   *buffer.Sample `json:"sample,omitempty"`
}

// Latest returns the newest sample of every active channel in activation order.
func (e *Engine) Latest() []Latest {
	snapshot := e.registry.Snapshot()
	out := make([]Latest, 0, len(snapshot))
	for _, a := range snapshot {
		l := Latest{
			Name:     a.Config.Name,
			Unit:     a.Config.Unit,
			Buffered: a.Buffer.Len(),
			Capacity: a.Buffer.Cap(),
		}
		if s, ok := a.Buffer.Latest(); ok {
			l.Sample = &s
		}
		out = append(out, l)
	}

	return out
}
