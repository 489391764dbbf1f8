package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"awareness-svr/internal/feed"
)

// HistoryFeed replays persisted fixes once at start; a zero since replays
// everything. Replayed fixes keep their stored labels and are not recorded
// again.
type HistoryFeed struct {
	*feed.Base
	store  *Redis
	since  time.Duration
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewHistoryFeed(r *Redis, since time.Duration, logger *slog.Logger) *HistoryFeed {
	return &HistoryFeed{
		Base:   feed.NewBase("redis-history"),
		store:  r,
		since:  since,
		logger: logger.With("component", "redis-history"),
	}
}

func (h *HistoryFeed) OnStart(ctx context.Context, sink feed.Sink) error {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		var since time.Time
		if h.since > 0 {
			since = time.Now().Add(-h.since)
		}
		ps, err := h.store.History(ctx, since)
		if err != nil {
			h.logger.Warn("history load incomplete", "err", err)
			h.Fail(sink, err)
		}
		stored := 0
		for _, p := range ps {
			if ctx.Err() != nil {
				return
			}
			if h.Replay(sink, p) {
				stored++
			}
		}
		h.logger.Info("history replayed", "loaded", len(ps), "stored", stored)
	}()
	return nil
}

func (h *HistoryFeed) OnStop() { h.wg.Wait() }
