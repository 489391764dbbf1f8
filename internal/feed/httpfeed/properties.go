package httpfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"awareness-svr/internal/awareness"
)

const DefaultPropertiesInterval = 15 * time.Minute

// PropertiesSink stores fetched asset descriptions and returns the entries
// it rejected.
type PropertiesSink interface {
	SetAssetProperties(props []awareness.AssetProperties) []error
}

// Properties refreshes asset descriptions from the asset catalogue.
type Properties struct {
	url      string
	interval time.Duration
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

func NewProperties(url string, interval time.Duration, logger *slog.Logger) *Properties {
	if interval <= 0 {
		interval = DefaultPropertiesInterval
	}
	p := &Properties{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger.With("component", "asset-properties"),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "asset-properties",
		Timeout: interval,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return p
}

// Run fetches immediately and then every interval until ctx is done.
func (p *Properties) Run(ctx context.Context, sink PropertiesSink) {
	if p.url == "" {
		return
	}
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		p.logger.Info("Fetching asset properties")
		if n, err := p.Refresh(ctx, sink); err != nil && ctx.Err() == nil {
			p.logger.Warn("asset properties refresh failed", "url", p.url, "stored", n, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Refresh runs one fetch and returns how many descriptions were stored.
func (p *Properties) Refresh(ctx context.Context, sink PropertiesSink) (int, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetch(ctx)
	})
	if err != nil {
		return 0, err
	}
	props := out.([]awareness.AssetProperties)
	bad := sink.SetAssetProperties(props)
	return len(props) - len(bad), errors.Join(bad...)
}

func (p *Properties) fetch(ctx context.Context) ([]awareness.AssetProperties, error) {
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
	var props []awareness.AssetProperties
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&props); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.url, err)
	}
	return props, nil
}
