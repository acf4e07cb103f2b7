package metrics

import (
	"time"

	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
)

type service struct {
	reads      *prometheus.CounterVec
	readErrors *prometheus.CounterVec
	persisted  prometheus.Counter
	failed     prometheus.Counter
	tick       prometheus.Histogram
	active     prometheus.Gauge
	running    prometheus.Gauge
}

// No-op implementation
type noopRecorder struct{}

// NewService registers the collectors on reg. If metrics are disabled, a
// no-op recorder is returned and nothing is registered.
func NewService(cfg Config, reg prometheus.Registerer) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Metrics disabled, using no-op recorder")
		return Noop(), nil
	}

	s := &service{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "channel_reads_total",
			Help:      "Successful channel reads.",
		}, []string{"channel"}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "channel_read_errors_total",
			Help:      "Failed channel reads by kind.",
		}, []string{"channel", "kind"}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "records_persisted_total",
			Help:      "Records written to the durable store.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "records_persist_failures_total",
			Help:      "Records that failed to be written.",
		}),
		tick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of acquisition ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "active_channels",
			Help:      "Channels subscribed for polling.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "acquisition_running",
			Help:      "1 while acquisition is running.",
		}),
	}

	for _, c := range []prometheus.Collector{s.reads, s.readErrors, s.persisted, s.failed, s.tick, s.active, s.running} {
		if err := reg.Register(c); err != nil {
			return nil, errFactory.Wrap(ErrRegister, err)
		}
	}

	logger.Debug().Str("namespace", cfg.Namespace).Msg("Metrics service initialized")

	return s, nil
}

// Noop returns a Recorder that drops everything.
func Noop() Recorder {
	return &noopRecorder{}
}

func (s *service) ReadSucceeded(channel string) {
	s.reads.WithLabelValues(channel).Inc()
}

func (s *service) ReadFailed(channel string, transport bool) {
	kind := "channel"
	if transport {
		kind = "transport"
	}
	s.readErrors.WithLabelValues(channel, kind).Inc()
}

func (s *service) Persisted(n int) {
	s.persisted.Add(float64(n))
}

func (s *service) PersistFailed(n int) {
	s.failed.Add(float64(n))
}

func (s *service) TickCompleted(d time.Duration) {
	s.tick.Observe(d.Seconds())
}

func (s *service) ActiveChannels(n int) {
	s.active.Set(float64(n))
}

func (s *service) Running(running bool) {
	if running {
		s.running.Set(1)
		return
	}
	s.running.Set(0)
}

// No-op implementation
func (*noopRecorder) ReadSucceeded(string)        {}
func (*noopRecorder) ReadFailed(string, bool)     {}
func (*noopRecorder) Persisted(int)               {}
func (*noopRecorder) PersistFailed(int)           {}
func (*noopRecorder) TickCompleted(time.Duration) {}
func (*noopRecorder) ActiveChannels(int)          {}
func (*noopRecorder) Running(bool)                {}
