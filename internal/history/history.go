// Package history queries persisted samples and maps their raw identities
// back to channel names.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"codeberg.org/mutker/mbscope/internal/channel"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/locate"
	"codeberg.org/mutker/mbscope/internal/logger"
	"codeberg.org/mutker/mbscope/internal/store"
)

// Store is the durable storage the engine reads and prunes.
type Store interface {
	Query(ctx context.Context, f store.Filter) ([]store.Record, error)
	DeleteRange(ctx context.Context, f store.Filter) (int64, error)
	DeleteIDs(ctx context.Context, ids []int64) (int64, error)
	DistinctIdentities(ctx context.Context) ([]channel.Identity, error)
}

// Resolver maps an identity to a configured channel name.
type Resolver interface {
	ResolveName(id channel.Identity) (string, bool)
}

// Confirmation acknowledges that a delete cannot be undone. Only
// ConfirmIrreversible is accepted.
type Confirmation string

const ConfirmIrreversible Confirmation = "this cannot be undone"

// Filter selects history rows. The time range is required; the other
// fields are optional and combine conjunctively.
type Filter struct {
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`
	SlaveID  *int              `json:"slave_id,omitempty"`
	Address  *int              `json:"address,omitempty"`
	Identity *channel.Identity `json:"identity,omitempty"`
}

// LastHours returns a filter covering the h hours before now.
func LastHours(now time.Time, h int) Filter {
	return Filter{Start: now.Add(-time.Duration(h) * time.Hour), End: now}
}

// Validate rejects malformed filters.
func (f Filter) Validate() error {
	factory := errors.New()

	switch {
	case f.Start.IsZero() || f.End.IsZero():
		return factory.WithData(ErrInvalidQuery, "start and end are required")
	case f.Start.After(f.End):
		return factory.WithData(ErrInvalidQuery, "start is after end")
	case f.SlaveID != nil && (*f.SlaveID < 0 || *f.SlaveID > 255):
		return factory.WithData(ErrInvalidQuery, fmt.Sprintf("slave id %d out of range", *f.SlaveID))
	case f.Address != nil && (*f.Address < 0 || *f.Address > 0xFFFF):
		return factory.WithData(ErrInvalidQuery, fmt.Sprintf("address %d out of range", *f.Address))
	}

	if f.Identity != nil {
		if err := f.Identity.Validate(); err != nil {
			return factory.Wrap(ErrInvalidQuery, err)
		}
	}

	return nil
}

// storeFilter merges the identity filter into the field filters. ok is false
// when the filters contradict each other and can match nothing.
func (f Filter) storeFilter() (store.Filter, bool) {
	sf := store.Filter{Start: f.Start, End: f.End, SlaveID: f.SlaveID, Address: f.Address}
	if f.Identity == nil {
		return sf, true
	}

	id := *f.Identity
	if (f.SlaveID != nil && *f.SlaveID != id.SlaveID) || (f.Address != nil && *f.Address != id.Address) {
		return sf, false
	}
	sf.SlaveID = &id.SlaveID
	sf.Address = &id.Address
	sf.Function = &id.Function

	return sf, true
}

// Record is a persisted row labelled with its resolved channel name.
type Record struct {
	store.Record
	Channel string `json:"channel"`
}

// ChannelInfo describes an identity found in storage.
type ChannelInfo struct {
	Identity   channel.Identity `json:"identity"`
	Name       string           `json:"name"`
	Configured bool             `json:"configured"`
}

// Series is one identity's rows in ascending time order.
type Series struct {
	locate.Series
	Identity channel.Identity `json:"identity"`
	Unit     string           `json:"unit"`
}

type Engine struct {
	store Store
	names Resolver
	log   logger.Logger
}

func New(s Store, names Resolver, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}

	return &Engine{store: s, names: names, log: log.With("history")}
}

// Query returns matching rows, most recent first, capped at
// store.MaxQueryRows.
func (e *Engine) Query(ctx context.Context, f Filter) ([]Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	sf, ok := f.storeFilter()
	if !ok {
		return nil, nil
	}

	rows, err := e.store.Query(ctx, sf)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}

	names := make(map[channel.Identity]string)
	out := make([]Record, len(rows))
	for i, row := range rows {
		name, seen := names[row.Identity]
		if !seen {
			name = e.ResolveChannelName(row.Identity)
			names[row.Identity] = name
		}
		out[i] = Record{Record: row, Channel: name}
	}

	e.log.Debug().
		Time("start", f.Start).
		Time("end", f.End).
		Int("rows", len(out)).
		Msg("History query")

	return out, nil
}

// ResolveChannelName returns the name of the first active, then saved,
// channel with this identity, or a label built from the identity itself.
func (e *Engine) ResolveChannelName(id channel.Identity) string {
	if e.names != nil {
		if name, ok := e.names.ResolveName(id); ok {
			return name
		}
	}

	return id.Label()
}

// Channels lists the identities present in storage with their names.
func (e *Engine) Channels(ctx context.Context) ([]ChannelInfo, error) {
	ids, err := e.store.DistinctIdentities(ctx)
	if err != nil {
		return nil, errors.New().Wrap(ErrQueryFailed, err)
	}

	out := make([]ChannelInfo, len(ids))
	for i, id := range ids {
		info := ChannelInfo{Identity: id, Name: id.Label()}
		if e.names != nil {
			if name, ok := e.names.ResolveName(id); ok {
				info.Name = name
				info.Configured = true
			}
		}
		out[i] = info
	}

	return out, nil
}

// DeleteRange irreversibly removes every row the filter matches.
func (e *Engine) DeleteRange(ctx context.Context, f Filter, confirm Confirmation) (int64, error) {
	if confirm != ConfirmIrreversible {
		return 0, errors.New().New(ErrConfirmationRequired)
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}

	sf, ok := f.storeFilter()
	if !ok {
		return 0, nil
	}

	n, err := e.store.DeleteRange(ctx, sf)
	if err != nil {
		return 0, errors.New().Wrap(ErrDeleteFailed, err)
	}

	e.log.Warn().
		Time("start", f.Start).
		Time("end", f.End).
		Int64("rows", n).
		Msg("Deleted history range")

	return n, nil
}

// DeleteRecords irreversibly removes the rows with the given ids.
func (e *Engine) DeleteRecords(ctx context.Context, ids []int64, confirm Confirmation) (int64, error) {
	if confirm != ConfirmIrreversible {
		return 0, errors.New().New(ErrConfirmationRequired)
	}

	n, err := e.store.DeleteIDs(ctx, ids)
	if err != nil {
		return 0, errors.New().Wrap(ErrDeleteFailed, err)
	}

	e.log.Warn().Int("requested", len(ids)).Int64("rows", n).Msg("Deleted history records")

	return n, nil
}

// GroupSeries groups rows by identity, each ascending in time. Series are
// ordered by slave id, then address, then function code.
func GroupSeries(records []Record) []Series {
	byID := make(map[channel.Identity]*Series)
	for _, r := range records {
		s, ok := byID[r.Identity]
		if !ok {
			s = &Series{Identity: r.Identity, Unit: r.Unit}
			s.Label = r.Channel
			byID[r.Identity] = s
		}
		s.Points = append(s.Points, locate.Point{Time: r.Timestamp, Value: r.Value})
	}

	out := make([]Series, 0, len(byID))
	for _, s := range byID {
		sort.SliceStable(s.Points, func(i, j int) bool {
			return s.Points[i].Time.Before(s.Points[j].Time)
		})
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Identity, out[j].Identity
		if a.SlaveID != b.SlaveID {
			return a.SlaveID < b.SlaveID
		}
		if a.Address != b.Address {
			return a.Address < b.Address
		}
		return a.Function < b.Function
	})

	return out
}

// Traces returns the plain series for nearest-point lookup.
func Traces(series []Series) []locate.Series {
	out := make([]locate.Series, len(series))
	for i, s := range series {
		out[i] = s.Series
	}

	return out
}
