package acquisition

import (
	"context"

	"codeberg.org/mutker/mbscope/internal/buffer"
	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/device"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/logger"
	"codeberg.org/mutker/mbscope/internal/store"
	"codeberg.org/mutker/mbscope/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// TickResult counts the outcome of one tick.
type TickResult struct {
	Read    int `json:"read"`
	Failed  int `json:"failed"`
	Dropped int `json:"dropped"`
}

// FlushResult counts the outcome of one persistence flush.
type FlushResult struct {
	Written int `json:"written"`
	Failed  int `json:"failed"`
}

// Tick polls every active channel once. Channel read errors are logged and
// skipped; a transport error aborts the tick and is returned.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	if e.tickDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.tickDeadline)
		defer cancel()
	}

	return e.tick(ctx, "")
}

func (e *Engine) tick(ctx context.Context, runID string) (TickResult, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := e.now()
	snapshot := e.registry.Snapshot()
	e.metrics.ActiveChannels(len(snapshot))

	outcomes := make([]outcome, len(snapshot))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxReads)

	for i, a := range snapshot {
		i, a := i, a
		g.Go(func() error {
			outcomes[i] = e.readChannel(gctx, a, runID)
			if outcomes[i].err != nil && device.IsTransport(outcomes[i].err) {
				return outcomes[i].err
			}
			return nil
		})
	}

	err := g.Wait()
	e.metrics.TickCompleted(e.now().Sub(start))

	var res TickResult
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			res.Failed++
		case o.dropped:
			res.Dropped++
		case o.read:
			res.Read++
		}
	}

	if err != nil {
		return res, errors.New().Wrap(ErrTransport, err)
	}

	return res, nil
}

type outcome struct {
	read    bool
	dropped bool
	err     error
}

func (e *Engine) readChannel(ctx context.Context, a channel.Active, runID string) outcome {
	cfg := a.Config

	values, err := e.client.Read(ctx, cfg.Identity, cfg.Count)
	if err != nil {
		transport := device.IsTransport(err)
		e.metrics.ReadFailed(cfg.Name, transport)
		if !transport {
			e.logChannel(e.log.Warn(), cfg).Err(err).Msg("Channel read failed, skipping")
		}
		return outcome{err: err}
	}
	if len(values) == 0 {
		e.metrics.ReadFailed(cfg.Name, false)
		e.logChannel(e.log.Warn(), cfg).Msg("Channel read returned no values, skipping")
		return outcome{err: errors.New().New(device.ErrChannelRead)}
	}

	raw := values[0]
	sample := buffer.Sample{
		Timestamp: e.now(),
		RawValue:  raw,
		Value:     cfg.Transform(raw),
	}

	if !e.registry.Record(a.Buffer, sample) {
		e.logChannel(e.log.Debug(), cfg).Msg("Channel deactivated during tick, sample dropped")
		return outcome{dropped: true}
	}
	e.metrics.ReadSucceeded(cfg.Name)

	err = e.publisher.Publish(ctx, &telemetry.Sample{
		RunID:     runID,
		Channel:   cfg.Name,
		Identity:  cfg.Identity,
		Timestamp: sample.Timestamp,
		Raw:       sample.RawValue,
		Value:     sample.Value,
		Unit:      cfg.Unit,
	})
	if err != nil {
		e.logChannel(e.log.Debug(), cfg).Err(err).Msg("Failed to publish sample")
	}

	return outcome{read: true}
}

// Flush writes the latest sample of every active channel as one record.
// A failed write is logged and does not prevent the others.
func (e *Engine) Flush(ctx context.Context) FlushResult {
	var res FlushResult
	if e.writer == nil {
		return res
	}

	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	for _, a := range e.registry.Snapshot() {
		s, ok := a.Buffer.Latest()
		if !ok {
			continue
		}

		rec := store.Record{
			Timestamp: s.Timestamp,
			Identity:  a.Config.Identity,
			Value:     s.Value,
			Unit:      a.Config.Unit,
		}
		if _, err := e.writer.InsertRecord(ctx, rec); err != nil {
			res.Failed++
			werr := errors.New().Wrap(ErrPersistenceWrite, err)
			e.logChannel(e.log.Warn(), a.Config).Err(werr).Msg("Failed to persist sample")
			continue
		}
		res.Written++
	}

	if res.Written > 0 {
		e.metrics.Persisted(res.Written)
	}
	if res.Failed > 0 {
		e.metrics.PersistFailed(res.Failed)
	}

	return res
}

func (e *Engine) logChannel(ev *logger.LogEvent, cfg channel.Config) *logger.LogEvent {
	ev.Str("channel", cfg.Name).
		Int("slave_id", cfg.Identity.SlaveID).
		Int("address", cfg.Identity.Address).
		Str("function_code", cfg.Identity.Function.Tag())
	return ev
}
