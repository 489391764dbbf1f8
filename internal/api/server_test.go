package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"awareness-svr/internal/awareness"
	"awareness-svr/internal/feed"
	"awareness-svr/internal/observability"
	"awareness-svr/internal/position"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type stubFeed struct{ *feed.Base }

func (stubFeed) OnStart(context.Context, feed.Sink) error { return nil }
func (stubFeed) OnStop()                                  {}

func fixture(t *testing.T) (*awareness.Aggregator, http.Handler) {
	t.Helper()
	now := t0.Add(time.Minute)
	agg := awareness.NewAggregator(awareness.Config{Now: func() time.Time { return now }},
		observability.Discard(), awareness.NotifierFunc(func(awareness.Notification) {}))

	for i, ts := range []time.Duration{0, 10 * time.Second, 20 * time.Second} {
		p := position.New("alpha", position.NewLocation(41.15+float64(i)*0.001, -8.61), t0.Add(ts))
		p.Type = "Vehicle"
		require.True(t, agg.AddPosition(p))
	}
	b := position.New("bravo", position.NewLocation(38.72, -9.14), t0)
	b.Type = "Vessel"
	require.True(t, agg.AddPosition(b))

	reg := feed.NewRegistry(observability.Discard())
	require.NoError(t, reg.Register(stubFeed{feed.NewBase("http")}))
	require.NoError(t, reg.Register(stubFeed{feed.NewBase("teltonika")}))
	reg.Enable([]string{"teltonika"})

	return agg, New(agg, reg, observability.Discard()).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestListTracks(t *testing.T) {
	_, h := fixture(t)
	rec := do(t, h, http.MethodGet, "/tracks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)

	got := decode[[]LatestResponse](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].Asset)
	assert.Equal(t, t0.Add(20*time.Second).UnixMilli(), got[0].Latest.Timestamp)
	assert.Regexp(t, `^#[0-9a-f]{6}$`, got[0].Color)
}

func TestTrackEndpoints(t *testing.T) {
	_, h := fixture(t)

	rec := do(t, h, http.MethodGet, "/tracks/alpha", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tr := decode[TrackResponse](t, rec)
	assert.Len(t, tr.Positions, 3)

	rec = do(t, h, http.MethodGet, "/tracks/alpha/window?max=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	win := decode[[]position.Fix](t, rec)
	require.Len(t, win, 2)
	assert.Equal(t, t0.Add(10*time.Second).UnixMilli(), win[0].Timestamp)

	since := t0.Add(15 * time.Second).UnixMilli()
	rec = do(t, h, http.MethodGet, "/tracks/alpha/window?since="+itoa(since), "")
	assert.Len(t, decode[[]position.Fix](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/tracks/alpha/latest?before="+itoa(since), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, t0.Add(10*time.Second).UnixMilli(), decode[position.Fix](t, rec).Timestamp)

	rec = do(t, h, http.MethodGet, "/tracks/alpha/latest?before="+itoa(t0.Add(-time.Second).UnixMilli()), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_position", decode[ErrorResponse](t, rec).Code)
	rec = do(t, h, http.MethodGet, "/tracks/zulu/latest?before="+itoa(since), "")
	assert.Equal(t, "unknown_asset", decode[ErrorResponse](t, rec).Code)
	rec = do(t, h, http.MethodGet, "/tracks/zulu/prediction", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_asset", decode[ErrorResponse](t, rec).Code)

	rec = do(t, h, http.MethodGet, "/tracks/alpha/prediction", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pred := decode[position.Fix](t, rec)
	assert.Equal(t, "Prediction", pred.Type)
	assert.Equal(t, t0.Add(time.Minute).UnixMilli(), pred.Timestamp)
	assert.Greater(t, pred.Lat, 41.152)

	rec = do(t, h, http.MethodGet, "/tracks/bravo/prediction", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_prediction", decode[ErrorResponse](t, rec).Code)

	for _, path := range []string{"/tracks/zulu", "/tracks/zulu/window", "/tracks/zulu/latest"} {
		assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, path, "").Code, path)
	}
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/tracks/alpha/window?max=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/tracks/alpha/latest?before=soon", "").Code)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func TestSelectionAndVisibility(t *testing.T) {
	_, h := fixture(t)

	body := `{"oldest":` + itoa(t0.Add(5*time.Second).UnixMilli()) + `,"newest":` + itoa(t0.Add(2*time.Hour).UnixMilli()) + `}`
	rec := do(t, h, http.MethodPut, "/selection", body)
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[awareness.Bounds](t, rec)
	assert.True(t, t0.Add(5*time.Second).Equal(b.OldestSelected))

	vis := decode[[]position.Fix](t, do(t, h, http.MethodGet, "/visible", ""))
	require.Len(t, vis, 1, "bravo is older than the selection")
	assert.Equal(t, "alpha", vis[0].Asset)

	rec = do(t, h, http.MethodPut, "/hidden-types", `{"types":["Vehicle"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Vehicle"}, decode[HiddenTypesRequest](t, rec).Types)
	assert.Empty(t, decode[[]position.Fix](t, do(t, h, http.MethodGet, "/visible", "")))

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/selection", `{"oldest":5,"newest":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/selection", `nope`).Code)
}

func TestTypesAndBounds(t *testing.T) {
	_, h := fixture(t)
	types := decode[map[string][]position.Fix](t, do(t, h, http.MethodGet, "/types", ""))
	assert.Len(t, types["Vehicle"], 1)
	assert.Len(t, types["Vessel"], 1)

	b := decode[awareness.Bounds](t, do(t, h, http.MethodGet, "/bounds", ""))
	assert.True(t, t0.Equal(b.Oldest))
	assert.True(t, t0.Add(20*time.Second).Equal(b.Newest))
}

func TestColor(t *testing.T) {
	agg, h := fixture(t)
	rec := do(t, h, http.MethodPut, "/tracks/alpha/color?hex=%23ff8000", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	snap, _ := agg.Track("alpha")
	assert.Equal(t, uint8(0xff), snap.Color.R)
	assert.Equal(t, uint8(0x80), snap.Color.G)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/tracks/alpha/color?hex=red", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/tracks/zulu/color?hex=000000", "").Code)
}

func TestFeeds(t *testing.T) {
	_, h := fixture(t)
	st := decode[[]feed.Status](t, do(t, h, http.MethodGet, "/feeds", ""))
	assert.Equal(t, []feed.Status{{Name: "http", Enabled: false}, {Name: "teltonika", Enabled: true}}, st)

	rec := do(t, h, http.MethodPut, "/feeds/http?enabled=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st = decode[[]feed.Status](t, do(t, h, http.MethodGet, "/feeds", ""))
	assert.True(t, st[0].Enabled)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/feeds/ais?enabled=true", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/feeds/http?enabled=maybe", "").Code)
}

func TestUnknownRoute(t *testing.T) {
	_, h := fixture(t)
	rec := do(t, h, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "endpoint_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestAssetPropertiesAndDecisionSupport(t *testing.T) {
	agg, h := fixture(t)
	require.Empty(t, agg.SetAssetProperties([]awareness.AssetProperties{
		{Name: "alpha", Friendly: "Alpha LAUV", Color: "#102030"},
	}))

	props := decode[awareness.AssetProperties](t, do(t, h, http.MethodGet, "/assets/alpha/properties", ""))
	assert.Equal(t, "Alpha LAUV", props.Friendly)
	assert.Len(t, decode[[]awareness.AssetProperties](t, do(t, h, http.MethodGet, "/assets/properties", "")), 1)
	rec := do(t, h, http.MethodGet, "/assets/bravo/properties", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_properties", decode[ErrorResponse](t, rec).Code)

	tag := position.New("whale", position.NewLocation(41.2, -8.61), t0)
	tag.Type = "SPOT Tag"
	require.True(t, agg.AddPosition(tag))

	rec = do(t, h, http.MethodGet, "/decision-support?uuv=alpha", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]awareness.TagDecision](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "whale", rows[0].Tag)
	assert.Positive(t, rows[0].ShipTime)

	rec = do(t, h, http.MethodGet, "/decision-support", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_vehicle", decode[ErrorResponse](t, rec).Code)
}
