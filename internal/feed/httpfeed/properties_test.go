package httpfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"awareness-svr/internal/awareness"
	"awareness-svr/internal/observability"
	"awareness-svr/internal/position"
)

const catalogue = `[
 {"name":"lauv-xplore-1","friendly":"Xplore 1","description":"LAUV with CTD","color":"#ff8000"},
 {"name":"spot-07","friendly":"Whale 7"},
 {"name":"broken","color":"orange"}
]`

func newAggregator() *awareness.Aggregator {
	return awareness.NewAggregator(awareness.Config{}, observability.Discard(),
		awareness.NotifierFunc(func(awareness.Notification) {}))
}

func TestPropertiesRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(catalogue))
	}))
	defer srv.Close()

	agg := newAggregator()
	require.True(t, agg.AddPosition(position.New("lauv-xplore-1", position.NewLocation(38.4, -9.1), time.Now())))

	n, err := NewProperties(srv.URL, time.Hour, observability.Discard()).Refresh(context.Background(), agg)
	assert.Equal(t, 2, n)
	assert.ErrorContains(t, err, "broken")

	got, ok := agg.AssetProperties("lauv-xplore-1")
	require.True(t, ok)
	assert.Equal(t, "Xplore 1", got.Friendly)
	snap, _ := agg.Track("lauv-xplore-1")
	assert.Equal(t, "#ff8000", awareness.HexColor(snap.Color))

	_, ok = agg.AssetProperties("broken")
	assert.False(t, ok)
	assert.Len(t, agg.AllAssetProperties(), 2)
}

func TestPropertiesRunFetchesImmediately(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(catalogue))
	}))
	defer srv.Close()

	agg := newAggregator()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewProperties(srv.URL, time.Hour, observability.Discard()).Run(ctx, agg)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, ok := agg.AssetProperties("spot-07")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int32(1), hits.Load())
}

func TestPropertiesBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewProperties(srv.URL, time.Hour, observability.Discard()).Refresh(context.Background(), newAggregator())
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "status 502")
}
