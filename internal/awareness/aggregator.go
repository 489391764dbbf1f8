// Package awareness owns the per-asset tracks fed by every position source
// and the time-window bookkeeping used to decide what is shown.
package awareness

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"sort"
	"sync"
	"time"

	"awareness-svr/internal/observability"
	"awareness-svr/internal/position"
	"awareness-svr/internal/track"
)

const (
	DefaultNotifyAfter = 30 * time.Second
	DefaultMaxLookBack = 30 * 24 * time.Hour

	// MinSelection is the narrowest selection window accepted.
	MinSelection = time.Hour

	recordTimeout = 5 * time.Second
)

var (
	ErrUnknownAsset = errors.New("unknown asset")
	ErrNoPosition   = errors.New("no position at or before time")
	ErrNoPrediction = errors.New("not enough movement to predict")
)

// Recorder receives every fix that was stored in a track, except replayed
// history.
type Recorder interface {
	Name() string
	Record(ctx context.Context, p position.Position) error
}

type Config struct {
	// NotifyAfter is how stale a track must be before a new fix is announced.
	NotifyAfter time.Duration
	// MaxLookBack bounds how far back a fix may move the oldest bound.
	MaxLookBack time.Duration
	// AudibleAlerts adds an alert notification for live (non-backfilled) fixes.
	AudibleAlerts bool
	HiddenTypes   []string

	// Retention; zero values keep everything.
	RetentionMaxAge    time.Duration
	MaxRecordsPerTrack int

	Decision DecisionConfig

	Now func() time.Time
}

// Bounds are the overall and selected time windows.
type Bounds struct {
	Oldest         time.Time `json:"oldest"`
	Newest         time.Time `json:"newest"`
	OldestSelected time.Time `json:"oldest_selected"`
	NewestSelected time.Time `json:"newest_selected"`
}

// Aggregator is the single entry point for every feed. All mutation happens
// under mu; readers get copies.
type Aggregator struct {
	cfg       Config
	logger    *slog.Logger
	notifier  Notifier
	recorders []Recorder

	mu     sync.RWMutex
	tracks map[string]*track.Track
	order  []string
	hidden map[string]bool
	props  map[string]AssetProperties
	bounds Bounds
}

func NewAggregator(cfg Config, logger *slog.Logger, notifier Notifier, recorders ...Recorder) *Aggregator {
	if cfg.NotifyAfter <= 0 {
		cfg.NotifyAfter = DefaultNotifyAfter
	}
	if cfg.MaxLookBack <= 0 {
		cfg.MaxLookBack = DefaultMaxLookBack
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	cfg.Decision.setDefaults()
	now := cfg.Now()
	a := &Aggregator{
		cfg:       cfg,
		logger:    logger.With("component", "aggregator"),
		notifier:  notifier,
		recorders: recorders,
		tracks:    map[string]*track.Track{},
		props:     map[string]AssetProperties{},
		bounds:    Bounds{Oldest: now, OldestSelected: now},
	}
	a.SetHiddenTypes(cfg.HiddenTypes)
	return a
}

// AddPosition stores a fix in its asset track. It reports false for
// duplicates and for fixes without an asset or with an invalid location.
func (a *Aggregator) AddPosition(p position.Position) bool {
	observability.PositionsReceived.WithLabelValues(p.Source).Inc()
	if !p.Valid() {
		observability.PositionsRejected.WithLabelValues(p.Source).Inc()
		a.logger.Debug("fix rejected", "asset", p.Asset, "loc", p.Loc.String(), "source", p.Source)
		return false
	}

	now := a.cfg.Now()
	var notes []Notification

	a.mu.Lock()
	ts := p.Timestamp
	if ts.Before(a.bounds.Oldest) {
		if ts.After(now.Add(-a.cfg.MaxLookBack)) {
			a.bounds.Oldest = ts
		} else {
			observability.PositionsOutOfRange.Inc()
		}
	}
	if ts.After(a.bounds.Newest) {
		a.bounds.Newest = ts
		a.bounds.NewestSelected = ts
	}

	tr, ok := a.tracks[p.Asset]
	if !ok {
		tr = track.New(p.Asset)
		if c, ok := a.propColor(p.Asset); ok {
			tr.SetColor(c)
		}
		a.tracks[p.Asset] = tr
		a.order = append(a.order, p.Asset)
		observability.TrackedAssets.Set(float64(len(a.tracks)))
	}

	stale := true
	if latest, err := tr.Latest(); err == nil {
		stale = latest.Age(now) > a.cfg.NotifyAfter
	}
	inserted := tr.Insert(p)
	if inserted && stale {
		notes = append(notes, newNotification(now, SeverityInfo, "New Position",
			"Received position for "+p.Asset, p.Asset))
		if a.cfg.AudibleAlerts && ts.After(a.bounds.Oldest) {
			notes = append(notes, newNotification(now, SeverityInfo, "Position Alert",
				p.Asset+" has been updated", p.Asset))
		}
	}
	a.mu.Unlock()

	if !inserted {
		observability.PositionsDuplicate.WithLabelValues(p.Source).Inc()
		return false
	}
	observability.PositionsInserted.WithLabelValues(p.Source).Inc()

	for _, n := range notes {
		countNotification(n)
		a.notifier.Notify(n)
	}
	if !p.Replayed {
		a.record(p)
	}
	return true
}

func (a *Aggregator) record(p position.Position) {
	for _, r := range a.recorders {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := r.Record(ctx, p)
		cancel()
		if err != nil {
			observability.RecorderErrors.WithLabelValues(r.Name()).Inc()
			a.logger.Warn("record failed", "recorder", r.Name(), "asset", p.Asset, "err", err)
		}
	}
}

// ReportError surfaces a feed failure as a warning notification.
func (a *Aggregator) ReportError(source string, err error) {
	observability.FeedErrors.WithLabelValues(source).Inc()
	n := newNotification(a.cfg.Now(), SeverityWarning, "Feed Error",
		fmt.Sprintf("%s: %v", source, err), "")
	countNotification(n)
	a.notifier.Notify(n)
}

func (a *Aggregator) Assets() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

func (a *Aggregator) Track(asset string) (track.Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tr, ok := a.tracks[asset]
	if !ok {
		return track.Snapshot{}, false
	}
	return tr.Snapshot(), true
}

// Tracks returns a copy of every track in first-seen order.
func (a *Aggregator) Tracks() []track.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]track.Snapshot, 0, len(a.order))
	for _, asset := range a.order {
		out = append(out, a.tracks[asset].Snapshot())
	}
	return out
}

func (a *Aggregator) withTrack(asset string, fn func(tr *track.Track)) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tr, ok := a.tracks[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	fn(tr)
	return nil
}

func (a *Aggregator) Latest(asset string) (p position.Position, err error) {
	if e := a.withTrack(asset, func(tr *track.Track) { p, err = tr.Latest() }); e != nil {
		return position.Position{}, e
	}
	return p, err
}

func (a *Aggregator) LatestBefore(asset string, ts time.Time) (position.Position, error) {
	var p position.Position
	ok := false
	if err := a.withTrack(asset, func(tr *track.Track) { p, ok = tr.LatestBefore(ts) }); err != nil {
		return position.Position{}, err
	}
	if !ok {
		return position.Position{}, fmt.Errorf("%w: %s", ErrNoPosition, asset)
	}
	return p, nil
}

func (a *Aggregator) Window(asset string, maxCount int, since time.Time) (ps []position.Position, err error) {
	err = a.withTrack(asset, func(tr *track.Track) { ps = tr.Window(maxCount, since) })
	return ps, err
}

// Predict extrapolates where asset is now.
func (a *Aggregator) Predict(asset string) (position.Position, error) {
	now := a.cfg.Now()
	var p position.Position
	ok := false
	if err := a.withTrack(asset, func(tr *track.Track) { p, ok = track.Predict(tr, now) }); err != nil {
		return position.Position{}, err
	}
	if !ok {
		return position.Position{}, fmt.Errorf("%w: %s", ErrNoPrediction, asset)
	}
	return p, nil
}

func (a *Aggregator) Bounds() Bounds {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bounds
}

// SetSelection sets the visible time window. Windows narrower than
// MinSelection are widened, capped at the newest known fix.
func (a *Aggregator) SetSelection(oldest, newest time.Time) Bounds {
	a.mu.Lock()
	defer a.mu.Unlock()
	if newest.Sub(oldest) < MinSelection {
		newest = oldest.Add(MinSelection)
		if !a.bounds.Newest.IsZero() && newest.After(a.bounds.Newest) && a.bounds.Newest.After(oldest) {
			newest = a.bounds.Newest
		}
	}
	a.bounds.OldestSelected = oldest
	a.bounds.NewestSelected = newest
	return a.bounds
}

func (a *Aggregator) SetHiddenTypes(types []string) {
	hidden := make(map[string]bool, len(types))
	for _, t := range types {
		if t != "" {
			hidden[t] = true
		}
	}
	a.mu.Lock()
	a.hidden = hidden
	a.mu.Unlock()
}

func (a *Aggregator) HiddenTypes() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.hidden))
	for t := range a.hidden {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Visible returns, per asset, the newest fix inside the selection window
// whose type is not hidden.
func (a *Aggregator) Visible() []position.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []position.Position
	for _, asset := range a.order {
		p, ok := a.tracks[asset].LatestBefore(a.bounds.NewestSelected)
		if !ok || a.hidden[p.Type] {
			continue
		}
		if p.Timestamp.Before(a.bounds.OldestSelected) || p.Timestamp.After(a.bounds.NewestSelected) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// PositionsByType groups the latest fix of every asset by its type label.
func (a *Aggregator) PositionsByType() map[string][]position.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := map[string][]position.Position{}
	for _, asset := range a.order {
		p, err := a.tracks[asset].Latest()
		if err != nil {
			continue
		}
		out[p.Type] = append(out[p.Type], p)
	}
	return out
}

func (a *Aggregator) SetAssetColor(asset string, c color.RGBA) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	tr, ok := a.tracks[asset]
	if ok {
		tr.SetColor(c)
	}
	return ok
}

// Prune applies the retention policy and drops tracks left empty. It
// returns the number of fixes removed.
func (a *Aggregator) Prune(now time.Time) int {
	if a.cfg.RetentionMaxAge <= 0 && a.cfg.MaxRecordsPerTrack <= 0 {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	kept := a.order[:0]
	for _, asset := range a.order {
		tr := a.tracks[asset]
		if a.cfg.RetentionMaxAge > 0 {
			removed += tr.Prune(now.Add(-a.cfg.RetentionMaxAge))
		}
		removed += tr.Truncate(a.cfg.MaxRecordsPerTrack)
		if tr.Len() == 0 {
			delete(a.tracks, asset)
			continue
		}
		kept = append(kept, asset)
	}
	a.order = kept
	observability.TrackedAssets.Set(float64(len(a.tracks)))
	observability.PositionsPruned.Add(float64(removed))
	if removed > 0 {
		a.logger.Info("retention pruned fixes", "removed", removed, "assets", len(a.tracks))
	}
	return removed
}

// RunRetention prunes every interval until ctx is done.
func (a *Aggregator) RunRetention(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Prune(a.cfg.Now())
		}
	}
}
