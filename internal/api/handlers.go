package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"awareness-svr/internal/awareness"
	"awareness-svr/internal/feed"
	"awareness-svr/internal/position"
	"awareness-svr/internal/track"
)

type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type TrackResponse struct {
	Asset     string         `json:"asset"`
	Color     string         `json:"color"`
	Positions []position.Fix `json:"positions"`
}

type LatestResponse struct {
	Asset  string       `json:"asset"`
	Color  string       `json:"color"`
	Latest position.Fix `json:"latest"`
}

type SelectionRequest struct {
	Oldest int64 `json:"oldest"` // ms since epoch
	Newest int64 `json:"newest"`
}

type HiddenTypesRequest struct {
	Types []string `json:"types"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

func fixes(ps []position.Position) []position.Fix {
	out := make([]position.Fix, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Fix())
	}
	return out
}

// millis parses an optional ms-since-epoch query parameter.
func millis(r *http.Request, name string) (time.Time, bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s must be milliseconds since epoch", name)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (s *Server) listTracks(w http.ResponseWriter, _ *http.Request) {
	snaps := s.tracker.Tracks()
	out := make([]LatestResponse, 0, len(snaps))
	for _, snap := range snaps {
		latest, err := snap.Latest()
		if err != nil {
			continue
		}
		out = append(out, LatestResponse{Asset: snap.Asset, Color: awareness.HexColor(snap.Color), Latest: latest.Fix()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTrack(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	snap, ok := s.tracker.Track(asset)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown_asset", "No track for "+asset)
		return
	}
	writeJSON(w, http.StatusOK, trackResponse(snap))
}

func trackResponse(snap track.Snapshot) TrackResponse {
	return TrackResponse{Asset: snap.Asset, Color: awareness.HexColor(snap.Color), Positions: fixes(snap.Positions)}
}

func (s *Server) getWindow(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	maxCount := math.MaxInt
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_max", "max must be a non-negative integer")
			return
		}
		maxCount = n
	}
	since, _, err := millis(r, "since")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_since", err.Error())
		return
	}
	ps, err := s.tracker.Window(asset, maxCount, since)
	if errors.Is(err, awareness.ErrUnknownAsset) {
		writeError(w, r, http.StatusNotFound, "unknown_asset", "No track for "+asset)
		return
	}
	writeJSON(w, http.StatusOK, fixes(ps))
}

func (s *Server) getLatest(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	before, ok, err := millis(r, "before")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_before", err.Error())
		return
	}
	var p position.Position
	if ok {
		p, err = s.tracker.LatestBefore(asset, before)
	} else {
		p, err = s.tracker.Latest(asset)
	}
	switch {
	case errors.Is(err, awareness.ErrUnknownAsset):
		writeError(w, r, http.StatusNotFound, "unknown_asset", "No track for "+asset)
	case err != nil:
		writeError(w, r, http.StatusNotFound, "no_position", "No position for "+asset)
	default:
		writeJSON(w, http.StatusOK, p.Fix())
	}
}

func (s *Server) getPrediction(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	p, err := s.tracker.Predict(asset)
	if errors.Is(err, awareness.ErrUnknownAsset) {
		writeError(w, r, http.StatusNotFound, "unknown_asset", "No track for "+asset)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusNotFound, "no_prediction",
			fmt.Sprintf("Prediction needs at least %d fixes moving forward in time", track.MinPredictionFixes))
		return
	}
	writeJSON(w, http.StatusOK, p.Fix())
}

func (s *Server) putColor(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	c, err := awareness.ParseHexColor(r.URL.Query().Get("hex"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_color", err.Error())
		return
	}
	if !s.tracker.SetAssetColor(asset, c) {
		writeError(w, r, http.StatusNotFound, "unknown_asset", "No track for "+asset)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getVisible(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, fixes(s.tracker.Visible()))
}

func (s *Server) getTypes(w http.ResponseWriter, _ *http.Request) {
	byType := s.tracker.PositionsByType()
	out := make(map[string][]position.Fix, len(byType))
	for t, ps := range byType {
		out[t] = fixes(ps)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getHiddenTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HiddenTypesRequest{Types: s.tracker.HiddenTypes()})
}

func (s *Server) putHiddenTypes(w http.ResponseWriter, r *http.Request) {
	var req HiddenTypesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.tracker.SetHiddenTypes(req.Types)
	writeJSON(w, http.StatusOK, HiddenTypesRequest{Types: s.tracker.HiddenTypes()})
}

func (s *Server) getBounds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Bounds())
}

func (s *Server) putSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Oldest <= 0 || req.Newest < req.Oldest {
		writeError(w, r, http.StatusBadRequest, "invalid_selection", "need 0 < oldest <= newest")
		return
	}
	b := s.tracker.SetSelection(time.UnixMilli(req.Oldest).UTC(), time.UnixMilli(req.Newest).UTC())
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) getFeeds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feeds.Status())
}

func (s *Server) putFeed(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_enabled", "enabled must be true or false")
		return
	}
	if err := s.feeds.SetEnabled(name, enabled); err != nil {
		if errors.Is(err, feed.ErrUnknownFeed) {
			writeError(w, r, http.StatusNotFound, "unknown_feed", err.Error())
			return
		}
		if errors.Is(err, feed.ErrFeedFailed) {
			writeError(w, r, http.StatusConflict, "feed_failed", err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "feed_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, feed.Status{Name: name, Enabled: enabled})
}

func (s *Server) listAssetProperties(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.AllAssetProperties())
}

func (s *Server) getAssetProperties(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	props, ok := s.tracker.AssetProperties(asset)
	if !ok {
		writeError(w, r, http.StatusNotFound, "no_properties", "No properties for "+asset)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

func (s *Server) getDecisionSupport(w http.ResponseWriter, r *http.Request) {
	uuv := r.URL.Query().Get("uuv")
	rows, err := s.tracker.DecisionSupport(uuv)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "unknown_vehicle", "Vehicle position is unknown: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
