// Package httpfeed polls a JSON endpoint that returns the current fixes of a
// fleet.
package httpfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"awareness-svr/internal/feed"
	"awareness-svr/internal/position"
)

const (
	Source = "HTTP Poll"

	DefaultInterval = 30 * time.Second
	requestTimeout  = 10 * time.Second
	maxBody         = 8 << 20
)

// Poller fetches []position.Fix from a URL on every tick. Repeated failures
// open a breaker so a dead endpoint is not hammered.
type Poller struct {
	*feed.Base
	url      string
	interval time.Duration
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
	wg       sync.WaitGroup
}

type Option func(*Poller)

func WithClient(c *http.Client) Option { return func(p *Poller) { p.client = c } }

// WithRate caps how often the endpoint is requested; the default is once a
// second.
func WithRate(r rate.Limit, burst int) Option {
	return func(p *Poller) { p.limiter = rate.NewLimiter(r, burst) }
}

func New(url string, interval time.Duration, logger *slog.Logger, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller{
		Base:     feed.NewBase("http"),
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: requestTimeout},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		logger:   logger.With("component", "httpfeed"),
	}
	st := gobreaker.Settings{
		Name:     "httpfeed",
		Interval: time.Minute,
		Timeout:  time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	p.breaker = gobreaker.NewCircuitBreaker(st)
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Poller) OnStart(ctx context.Context, sink feed.Sink) error {
	if p.url == "" {
		p.logger.Info("httpfeed: disabled (no URL configured)")
		return nil
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			if p.Enabled() {
				if _, err := p.Poll(ctx, sink); err != nil && ctx.Err() == nil {
					p.logger.Warn("poll failed", "url", p.url, "err", err)
					p.Fail(sink, err)
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return nil
}

func (p *Poller) OnStop() { p.wg.Wait() }

// Poll runs one fetch and pushes the fixes; it returns how many were stored.
// Entries that fail validation are skipped and reported together.
func (p *Poller) Poll(ctx context.Context, sink feed.Sink) (int, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetch(ctx)
	})
	if err != nil {
		return 0, err
	}

	var bad []error
	stored := 0
	for i, f := range out.([]position.Fix) {
		pos, err := f.Position(Source)
		if err != nil {
			bad = append(bad, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		if p.Push(sink, pos) {
			stored++
		}
	}
	p.logger.Debug("poll done", "stored", stored, "rejected", len(bad))
	return stored, errors.Join(bad...)
}

func (p *Poller) fetch(ctx context.Context) ([]position.Fix, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GET %s: status %d", p.url, resp.StatusCode)
	}
	var fixes []position.Fix
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&fixes); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.url, err)
	}
	return fixes, nil
}

// BreakerState exposes the breaker for status reporting.
func (p *Poller) BreakerState() gobreaker.State { return p.breaker.State() }
