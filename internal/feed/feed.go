// Package feed defines the contract between position sources and the
// aggregator, and the explicit registry the server builds at startup.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"awareness-svr/internal/position"
)

// Sink receives fixes. It reports whether the fix was stored.
type Sink interface {
	AddPosition(p position.Position) bool
}

// Feed is a position source. OnStart must not block: long running work goes
// in goroutines bound to ctx. Pushes are expected only while Enabled.
type Feed interface {
	Name() string
	SetEnabled(enabled bool)
	Enabled() bool
	OnStart(ctx context.Context, sink Sink) error
	OnStop()
}

// Base carries the name and enabled flag shared by every adapter.
type Base struct {
	name    string
	enabled atomic.Bool
}

func NewBase(name string) *Base {
	return &Base{name: name}
}

func (b *Base) Name() string            { return b.name }
func (b *Base) Enabled() bool           { return b.enabled.Load() }
func (b *Base) SetEnabled(enabled bool) { b.enabled.Store(enabled) }

// Push forwards p to the sink if the feed is currently enabled.
func (b *Base) Push(sink Sink, p position.Position) bool {
	if !b.Enabled() || sink == nil {
		return false
	}
	return sink.AddPosition(p)
}

// Replay pushes a fix loaded from persisted history.
func (b *Base) Replay(sink Sink, p position.Position) bool {
	p.Replayed = true
	return b.Push(sink, p)
}

// ErrorReporter is implemented by sinks that surface adapter failures to
// operators.
type ErrorReporter interface {
	ReportError(source string, err error)
}

// Fail reports err through the sink when it supports it.
func (b *Base) Fail(sink Sink, err error) {
	if r, ok := sink.(ErrorReporter); ok && err != nil {
		r.ReportError(b.name, err)
	}
}

var (
	ErrUnknownFeed = errors.New("unknown feed")
	ErrFeedFailed  = errors.New("feed failed to start")
)

// Status is a read-only view of a registered feed.
type Status struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

// Registry holds the feeds registered at startup, in registration order.
type Registry struct {
	mu      sync.Mutex
	feeds   []Feed
	failed  map[string]error
	started bool
	cancel  context.CancelFunc
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger.With("component", "feeds")}
}

func (r *Registry) Register(f Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.feeds {
		if existing.Name() == f.Name() {
			return fmt.Errorf("feed %q already registered", f.Name())
		}
	}
	r.feeds = append(r.feeds, f)
	return nil
}

// Enable turns on exactly the named feeds and turns off the rest.
func (r *Registry) Enable(names []string) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.feeds {
		f.SetEnabled(want[f.Name()])
	}
}

func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.feeds {
		if f.Name() == name {
			if err := r.failed[name]; err != nil && enabled {
				return fmt.Errorf("%w: %s: %v", ErrFeedFailed, name, err)
			}
			f.SetEnabled(enabled)
			r.logger.Info("feed toggled", "feed", name, "enabled", enabled)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownFeed, name)
}

func (r *Registry) Status() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.feeds))
	for _, f := range r.feeds {
		st := Status{Name: f.Name(), Enabled: f.Enabled()}
		if err := r.failed[f.Name()]; err != nil {
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start calls OnStart on every feed. A feed failing to start is logged,
// disabled and left out; the others keep running. The returned error joins
// the start failures and is only informational.
func (r *Registry) Start(ctx context.Context, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("feeds already started")
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.failed = map[string]error{}

	var errs []error
	for _, f := range r.feeds {
		if err := f.OnStart(ctx, sink); err != nil {
			r.logger.Error("feed start failed", "feed", f.Name(), "err", err)
			f.SetEnabled(false)
			r.failed[f.Name()] = err
			errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
			continue
		}
		r.logger.Info("feed started", "feed", f.Name(), "enabled", f.Enabled())
	}
	return errors.Join(errs...)
}

func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.cancel()
	for _, f := range r.feeds {
		if r.failed[f.Name()] == nil {
			f.OnStop()
		}
	}
	r.started = false
}
