// Package api serves the tracks held by the aggregator over HTTP.
package api

import (
	"context"
	"errors"
	"image/color"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"awareness-svr/internal/awareness"
	"awareness-svr/internal/feed"
	"awareness-svr/internal/position"
	"awareness-svr/internal/track"
)

// Tracker is the read side of the aggregator plus the few display settings
// the API may change.
type Tracker interface {
	Tracks() []track.Snapshot
	Track(asset string) (track.Snapshot, bool)
	Latest(asset string) (position.Position, error)
	LatestBefore(asset string, ts time.Time) (position.Position, error)
	Window(asset string, maxCount int, since time.Time) ([]position.Position, error)
	Predict(asset string) (position.Position, error)
	Visible() []position.Position
	PositionsByType() map[string][]position.Position
	Bounds() awareness.Bounds
	SetSelection(oldest, newest time.Time) awareness.Bounds
	HiddenTypes() []string
	SetHiddenTypes(types []string)
	SetAssetColor(asset string, c color.RGBA) bool
	AssetProperties(asset string) (awareness.AssetProperties, bool)
	AllAssetProperties() []awareness.AssetProperties
	DecisionSupport(uuv string) ([]awareness.TagDecision, error)
}

// Feeds is the part of the feed registry exposed to operators.
type Feeds interface {
	Status() []feed.Status
	SetEnabled(name string, enabled bool) error
}

type ctxKey struct{}

type Server struct {
	router  *mux.Router
	tracker Tracker
	feeds   Feeds
	logger  *slog.Logger
}

func New(tracker Tracker, feeds Feeds, logger *slog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		tracker: tracker,
		feeds:   feeds,
		logger:  logger.With("component", "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(jsonContentTypeMiddleware)

	r := s.router
	r.HandleFunc("/tracks", s.listTracks).Methods(http.MethodGet)
	r.HandleFunc("/tracks/{asset}", s.getTrack).Methods(http.MethodGet)
	r.HandleFunc("/tracks/{asset}/window", s.getWindow).Methods(http.MethodGet)
	r.HandleFunc("/tracks/{asset}/latest", s.getLatest).Methods(http.MethodGet)
	r.HandleFunc("/tracks/{asset}/prediction", s.getPrediction).Methods(http.MethodGet)
	r.HandleFunc("/tracks/{asset}/color", s.putColor).Methods(http.MethodPut)
	r.HandleFunc("/assets/properties", s.listAssetProperties).Methods(http.MethodGet)
	r.HandleFunc("/assets/{asset}/properties", s.getAssetProperties).Methods(http.MethodGet)
	r.HandleFunc("/decision-support", s.getDecisionSupport).Methods(http.MethodGet)
	r.HandleFunc("/visible", s.getVisible).Methods(http.MethodGet)
	r.HandleFunc("/types", s.getTypes).Methods(http.MethodGet)
	r.HandleFunc("/hidden-types", s.getHiddenTypes).Methods(http.MethodGet)
	r.HandleFunc("/hidden-types", s.putHiddenTypes).Methods(http.MethodPut)
	r.HandleFunc("/bounds", s.getBounds).Methods(http.MethodGet)
	r.HandleFunc("/selection", s.putSelection).Methods(http.MethodPut)
	r.HandleFunc("/feeds", s.getFeeds).Methods(http.MethodGet)
	r.HandleFunc("/feeds/{name}", s.putFeed).Methods(http.MethodPut)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
	})
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"request_id", requestID(r),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(ctxKey{}).(string); ok {
		return id
	}
	return "unknown"
}
