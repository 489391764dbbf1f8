package csvhistory

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"

	"awareness-svr/internal/position"
)

var header = []string{"asset", "timestamp", "lat", "lon", "type", "height", "heading", "speed"}

// Writer appends every stored fix to the history file.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w := &Writer{file: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := w.w.Write(header); err != nil {
			_ = f.Close()
			return nil, err
		}
		w.w.Flush()
	}
	return w, nil
}

func (w *Writer) Name() string { return "csv-history" }

func (w *Writer) Record(_ context.Context, p position.Position) error {
	if p.Replayed {
		return nil
	}
	row := []string{
		p.Asset,
		strconv.FormatInt(p.Millis(), 10),
		formatFloat(p.Loc.Lat),
		formatFloat(p.Loc.Lon),
		p.Type,
		formatFloat(p.Loc.Height),
		formatFloat(p.Heading),
		formatFloat(p.Speed),
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Write(row); err != nil {
		return fmt.Errorf("write %s: %w", p.Asset, err)
	}
	w.w.Flush()
	return w.w.Error()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w.Flush()
	return w.file.Close()
}

// formatFloat leaves unknown values empty.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
