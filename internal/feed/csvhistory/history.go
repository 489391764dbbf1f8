// Package csvhistory loads the daily positions cache written by the
// position logger so tracks survive a restart without a database.
package csvhistory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"awareness-svr/internal/feed"
	"awareness-svr/internal/position"
)

const Source = "Daily Positions CSV"

// Columns used when the file has no header row.
var defaultColumns = []string{"asset", "timestamp", "lat", "lon", "type"}

// Feed replays a CSV file once at start.
type Feed struct {
	*feed.Base
	path   string
	logger *slog.Logger
	// OnLoaded runs after replay with the newest timestamp pushed.
	OnLoaded func(newest time.Time)
	wg       sync.WaitGroup
}

func New(path string, logger *slog.Logger) *Feed {
	return &Feed{
		Base:   feed.NewBase("csv-history"),
		path:   path,
		logger: logger.With("component", "csvhistory"),
	}
}

func (f *Feed) OnStart(ctx context.Context, sink feed.Sink) error {
	if f.path == "" {
		return nil
	}
	fh, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.logger.Info("no position history", "path", f.path)
		return nil
	}
	if err != nil {
		return err
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer fh.Close()
		ps, err := Read(fh)
		if err != nil {
			f.logger.Warn("position history incomplete", "path", f.path, "err", err)
			f.Fail(sink, err)
		}
		var newest time.Time
		stored := 0
		for _, p := range ps {
			if ctx.Err() != nil {
				return
			}
			if f.Replay(sink, p) {
				stored++
			}
			if p.Timestamp.After(newest) {
				newest = p.Timestamp
			}
		}
		f.logger.Info("position history loaded", "path", f.path, "rows", len(ps), "stored", stored)
		if f.OnLoaded != nil && stored > 0 {
			f.OnLoaded(newest)
		}
	}()
	return nil
}

func (f *Feed) OnStop() { f.wg.Wait() }

// Read parses every row it can. A header row is optional; without one the
// columns are asset,timestamp,lat,lon[,type]. Rows that fail to parse are
// skipped and returned joined in the error.
func Read(r io.Reader) ([]position.Position, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var (
		out  []position.Position
		errs []error
		cols map[string]int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cols == nil {
			if strings.EqualFold(strings.TrimSpace(rec[0]), "asset") {
				cols = index(rec)
				continue
			}
			cols = index(defaultColumns)
		}
		p, err := parseRow(rec, cols)
		if err != nil {
			line, _ := cr.FieldPos(0)
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

func index(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, h := range header {
		m[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return m
}

func field(rec []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func number(rec []string, cols map[string]int, name string) (float64, error) {
	s := field(rec, cols, name)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseRow(rec []string, cols map[string]int) (position.Position, error) {
	asset := field(rec, cols, "asset")
	ms, err := strconv.ParseInt(field(rec, cols, "timestamp"), 10, 64)
	if err != nil || ms <= 0 {
		return position.Position{}, fmt.Errorf("%w: timestamp %q", position.ErrInvalidFix, field(rec, cols, "timestamp"))
	}
	lat, err1 := strconv.ParseFloat(field(rec, cols, "lat"), 64)
	lon, err2 := strconv.ParseFloat(field(rec, cols, "lon"), 64)
	if err := errors.Join(err1, err2); err != nil {
		return position.Position{}, fmt.Errorf("%w: %v", position.ErrInvalidFix, err)
	}

	p := position.New(asset, position.NewLocation(lat, lon), time.UnixMilli(ms))
	if p.Loc.Height, err = number(rec, cols, "height"); err != nil {
		return position.Position{}, fmt.Errorf("height: %w", err)
	}
	if p.Heading, err = number(rec, cols, "heading"); err != nil {
		return position.Position{}, fmt.Errorf("heading: %w", err)
	}
	if p.Speed, err = number(rec, cols, "speed"); err != nil {
		return position.Position{}, fmt.Errorf("speed: %w", err)
	}
	if !p.Valid() {
		return position.Position{}, fmt.Errorf("%w: %s at %s", position.ErrInvalidFix, asset, p.Loc)
	}
	p.Source = Source
	if t := field(rec, cols, "type"); t != "" {
		p.Type = t
	}
	return p, nil
}
