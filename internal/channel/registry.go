package channel

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/mbscope/internal/buffer"
	"codeberg.org/mutker/mbscope/internal/errors"
	"codeberg.org/mutker/mbscope/internal/logger"
)

// ConfigStore persists the saved config library.
type ConfigStore interface {
	LoadConfigs(ctx context.Context) ([]Config, error)
	InsertConfig(ctx context.Context, cfg Config) error
	UpdateConfig(ctx context.Context, oldName string, cfg Config) error
	UpsertConfig(ctx context.Context, cfg Config) error
	DeleteConfig(ctx context.Context, name string) error
}

// Active is a channel subscribed for polling together with its buffer.
type Active struct {
	Config Config
	Buffer *buffer.Buffer
}

// Conflict lists channels sharing one identity.
type Conflict struct {
	Identity Identity `json:"identity"`
	Names    []string `json:"names"`
}

type activeEntry struct {
	name string
	buf  *buffer.Buffer
}

// Registry owns the config library and the ordered active channel set.
// All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	library    []Config
	active     []activeEntry
	store      ConfigStore
	bufferSize int
	now        func() time.Time
	log        logger.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStore makes every library change write through to store.
func WithStore(store ConfigStore) RegistryOption {
	return func(r *Registry) {
		r.store = store
	}
}

// WithBufferSize sets the capacity of buffers allocated on activation.
func WithBufferSize(n int) RegistryOption {
	return func(r *Registry) {
		r.bufferSize = n
	}
}

// WithLogger sets the registry logger.
func WithLogger(log logger.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = log.With("channel")
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		bufferSize: buffer.DefaultCapacity,
		now:        time.Now,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Load replaces the library with the contents of the config store.
// Active channels whose config no longer exists are dropped.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	cfgs, err := r.store.LoadConfigs(ctx)
	if err != nil {
		return errors.New().Wrap(ErrStoreLoad, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.library = make([]Config, 0, len(cfgs))
	for _, cfg := range cfgs {
		cfg.Color = cfg.Color.OrDefault()
		r.library = append(r.library, cfg)
	}
	sortLibrary(r.library)

	kept := r.active[:0]
	for _, e := range r.active {
		if r.indexOf(e.name) >= 0 {
			kept = append(kept, e)
		}
	}
	r.active = kept

	for _, c := range r.conflictsLocked() {
		r.log.Warn().Str("identity", c.Identity.Label()).Strs("channels", c.Names).Msg("Channels share an identity")
	}

	return nil
}

// Add saves a new config. It fails with ErrDuplicateName if the name is taken.
func (r *Registry) Add(ctx context.Context, cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(cfg.Name) >= 0 {
		return Config{}, errors.New().WithData(ErrDuplicateName, cfg.Name)
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = r.now()
	}

	if r.store != nil {
		if err := r.store.InsertConfig(ctx, cfg); err != nil {
			return Config{}, errors.New().Wrap(ErrStoreWrite, err).WithData(cfg.Name)
		}
	}

	r.library = append(r.library, cfg)
	sortLibrary(r.library)
	r.warnIdentityLocked(cfg)

	return cfg, nil
}

// Update replaces the config named oldName with cfg, renaming it when
// cfg.Name differs. An active channel keeps its buffer and picks up the new
// transform on the next tick.
func (r *Registry) Update(ctx context.Context, oldName string, cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(oldName)
	if idx < 0 {
		return Config{}, errors.New().WithData(ErrNotFound, oldName)
	}
	if cfg.Name != oldName && r.indexOf(cfg.Name) >= 0 {
		return Config{}, errors.New().WithData(ErrDuplicateName, cfg.Name)
	}
	cfg.CreatedAt = r.library[idx].CreatedAt

	if r.store != nil {
		if err := r.store.UpdateConfig(ctx, oldName, cfg); err != nil {
			return Config{}, errors.New().Wrap(ErrStoreWrite, err).WithData(oldName)
		}
	}

	r.library[idx] = cfg
	sortLibrary(r.library)
	for i := range r.active {
		if r.active[i].name == oldName {
			r.active[i].name = cfg.Name
		}
	}
	r.warnIdentityLocked(cfg)

	return cfg, nil
}

// Rename changes a config's name in place, carrying over its live buffer.
func (r *Registry) Rename(ctx context.Context, oldName, newName string) error {
	cfg, ok := r.Get(oldName)
	if !ok {
		return errors.New().WithData(ErrNotFound, oldName)
	}
	cfg.Name = newName

	_, err := r.Update(ctx, oldName, cfg)
	return err
}

// Delete removes a config from the library and discards its buffer.
func (r *Registry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(name)
	if idx < 0 {
		return errors.New().WithData(ErrNotFound, name)
	}

	if r.store != nil {
		if err := r.store.DeleteConfig(ctx, name); err != nil {
			return errors.New().Wrap(ErrStoreWrite, err).WithData(name)
		}
	}

	r.library = append(r.library[:idx], r.library[idx+1:]...)
	r.removeActiveLocked(name)

	return nil
}

// Upsert saves cfg, replacing any config with the same name.
func (r *Registry) Upsert(ctx context.Context, cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(cfg.Name)
	switch {
	case idx >= 0:
		cfg.CreatedAt = r.library[idx].CreatedAt
	case cfg.CreatedAt.IsZero():
		cfg.CreatedAt = r.now()
	}

	if r.store != nil {
		if err := r.store.UpsertConfig(ctx, cfg); err != nil {
			return Config{}, errors.New().Wrap(ErrStoreWrite, err).WithData(cfg.Name)
		}
	}

	if idx >= 0 {
		r.library[idx] = cfg
	} else {
		r.library = append(r.library, cfg)
	}
	sortLibrary(r.library)
	r.warnIdentityLocked(cfg)

	return cfg, nil
}

// Activate subscribes a saved channel for polling with a fresh buffer.
// It returns false without error if the channel is already active.
func (r *Registry) Activate(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(name) < 0 {
		return false, errors.New().WithData(ErrNotFound, name)
	}
	if r.activeIndex(name) >= 0 {
		return false, nil
	}

	r.active = append(r.active, activeEntry{name: name, buf: buffer.New(r.bufferSize)})

	return true, nil
}

// Deactivate removes a channel from the active set and discards its buffer.
// It returns false if the channel was not active.
func (r *Registry) Deactivate(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(name) < 0 {
		return false, errors.New().WithData(ErrNotFound, name)
	}

	return r.removeActiveLocked(name), nil
}

// ClearActive deactivates every channel.
func (r *Registry) ClearActive() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active = nil
}

// Get returns the saved config with the given name.
func (r *Registry) Get(name string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if idx := r.indexOf(name); idx >= 0 {
		return r.library[idx], true
	}

	return Config{}, false
}

// Configs returns the library ordered by creation time, then name.
func (r *Registry) Configs() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, len(r.library))
	copy(out, r.library)

	return out
}

// IsActive reports whether name is subscribed for polling.
func (r *Registry) IsActive(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.activeIndex(name) >= 0
}

// ActiveCount returns the size of the active set.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.active)
}

// Lookup returns an active channel by name.
func (r *Registry) Lookup(name string) (Active, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.activeIndex(name)
	if i < 0 {
		return Active{}, false
	}

	return Active{Config: r.library[r.indexOf(name)], Buffer: r.active[i].buf}, true
}

// Snapshot returns the active channels in activation order. The configs are
// copies; the buffers are shared.
func (r *Registry) Snapshot() []Active {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Active, 0, len(r.active))
	for _, e := range r.active {
		out = append(out, Active{Config: r.library[r.indexOf(e.name)], Buffer: e.buf})
	}

	return out
}

// Record appends s to buf if buf still belongs to an active channel. It
// returns false when the channel was deactivated after the snapshot that
// produced buf was taken.
func (r *Registry) Record(buf *buffer.Buffer, s buffer.Sample) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.active {
		if e.buf == buf {
			buf.Append(s)
			return true
		}
	}

	return false
}

// ResolveName returns the first channel name matching id, searching active
// channels in activation order and then the library.
func (r *Registry) ResolveName(id Identity) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.active {
		if r.library[r.indexOf(e.name)].Identity == id {
			return e.name, true
		}
	}
	for _, cfg := range r.library {
		if cfg.Identity == id {
			return cfg.Name, true
		}
	}

	return "", false
}

// IdentityConflicts lists identities used by more than one saved channel.
func (r *Registry) IdentityConflicts() []Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.conflictsLocked()
}

func (r *Registry) conflictsLocked() []Conflict {
	byIdentity := make(map[Identity][]string)
	var order []Identity
	for _, cfg := range r.library {
		if _, seen := byIdentity[cfg.Identity]; !seen {
			order = append(order, cfg.Identity)
		}
		byIdentity[cfg.Identity] = append(byIdentity[cfg.Identity], cfg.Name)
	}

	var out []Conflict
	for _, id := range order {
		if names := byIdentity[id]; len(names) > 1 {
			out = append(out, Conflict{Identity: id, Names: names})
		}
	}

	return out
}

func (r *Registry) warnIdentityLocked(cfg Config) {
	for _, other := range r.library {
		if other.Name != cfg.Name && other.Identity == cfg.Identity {
			r.log.Warn().
				Str("channel", cfg.Name).
				Str("other", other.Name).
				Str("identity", cfg.Identity.Label()).
				Msg("Channel identity already in use")
		}
	}
}

func (r *Registry) removeActiveLocked(name string) bool {
	i := r.activeIndex(name)
	if i < 0 {
		return false
	}
	r.active = append(r.active[:i], r.active[i+1:]...)

	return true
}

func (r *Registry) indexOf(name string) int {
	for i := range r.library {
		if r.library[i].Name == name {
			return i
		}
	}
	return -1
}

func (r *Registry) activeIndex(name string) int {
	for i := range r.active {
		if r.active[i].name == name {
			return i
		}
	}
	return -1
}

func sortLibrary(cfgs []Config) {
	sort.SliceStable(cfgs, func(i, j int) bool {
		if !cfgs[i].CreatedAt.Equal(cfgs[j].CreatedAt) {
			return cfgs[i].CreatedAt.Before(cfgs[j].CreatedAt)
		}
		return cfgs[i].Name < cfgs[j].Name
	})
}
