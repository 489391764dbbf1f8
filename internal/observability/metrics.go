package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PositionsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "awareness_positions_received_total",
		Help: "Fixes pushed by feed adapters",
	}, []string{"source"})
	PositionsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "awareness_positions_inserted_total",
		Help: "Fixes stored in a track",
	}, []string{"source"})
	PositionsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "awareness_positions_duplicate_total",
		Help: "Fixes dropped because the track already had that timestamp",
	}, []string{"source"})
	PositionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "awareness_positions_rejected_total",
		Help: "Fixes dropped for a missing asset or invalid location",
	}, []string{"source"})
	PositionsOutOfRange = promauto.NewCounter(prometheus.CounterOpts{
		Name: "awareness_positions_out_of_range_total",
		Help: "Fixes stored but older than the look-back window",
	})
	PositionsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "awareness_positions_pruned_total",
		Help: "Fixes removed by the retention policy",
	})
	TrackedAssets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "awareness_tracked_assets",
		Help: "Assets with at least one stored fix",
	})
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "awareness_notifications_total",
		Help: "Notifications emitted by severity",
	}, []string{"severity"})
	FeedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "awareness_feed_errors_total",
		Help: "Feed adapter I/O or parse errors",
	}, []string{"feed"})
	RecorderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "awareness_recorder_errors_total",
		Help: "Errors persisting or forwarding stored fixes",
	}, []string{"recorder"})

	TCPConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "awareness_teltonika_connections_total",
		Help: "Tracker TCP connections accepted",
	})
	HandshakeOK = promauto.NewCounter(prometheus.CounterOpts{
		Name: "awareness_teltonika_handshake_ok_total",
		Help: "Tracker IMEI handshakes accepted",
	})
	RecordsAck = promauto.NewCounter(prometheus.CounterOpts{
		Name: "awareness_teltonika_records_ack_total",
		Help: "AVL records acknowledged to trackers",
	})
	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "awareness_teltonika_parse_errors_total",
		Help: "AVL frames that failed to parse",
	})
	ParseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "awareness_teltonika_parse_latency_seconds",
		Help:    "AVL frame parse latency",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveParseLatency(start time.Time) {
	ParseLatency.Observe(time.Since(start).Seconds())
}

// StartMetricsServer serves /metrics and /healthz until ctx is done.
func StartMetricsServer(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
