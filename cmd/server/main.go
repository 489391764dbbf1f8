package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"awareness-svr/internal/api"
	"awareness-svr/internal/awareness"
	"awareness-svr/internal/config"
	"awareness-svr/internal/feed"
	"awareness-svr/internal/feed/csvhistory"
	"awareness-svr/internal/feed/httpfeed"
	"awareness-svr/internal/feed/ndjson"
	"awareness-svr/internal/feed/teltonika"
	"awareness-svr/internal/grpcclient"
	"awareness-svr/internal/observability"
	"awareness-svr/internal/store"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, logLevel string
	cmd := &cobra.Command{
		Use:          "awareness-svr",
		Short:        "Collects asset positions from every feed and serves the merged tracks",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file (default $CONFIG_FILE)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFile)
	logger.Info("Starting awareness-svr...", "tcp_port", cfg.TCPPort, "http_port", cfg.HTTPPort, "feeds", cfg.Feeds)

	var recorders []awareness.Recorder

	var history *store.Redis
	if cfg.RedisAddr != "" {
		r, err := store.Connect(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			logger.Error("Redis init failed", "error", err)
			return err
		}
		defer r.Close()
		history = r
		recorders = append(recorders, r)
	}
	if cfg.GRPCServer != "" {
		fwd, err := grpcclient.NewForwarder(cfg.GRPCServer, logger)
		if err != nil {
			logger.Error("gRPC forwarder init failed", "error", err)
			return err
		}
		defer fwd.Close()
		recorders = append(recorders, fwd)
	}
	if cfg.HistoryCSV != "" {
		w, err := csvhistory.OpenWriter(cfg.HistoryCSV)
		if err != nil {
			logger.Error("position log init failed", "error", err)
			return err
		}
		defer w.Close()
		recorders = append(recorders, w)
	}

	agg := awareness.NewAggregator(awareness.Config{
		NotifyAfter:        cfg.NotifyAfter,
		MaxLookBack:        cfg.MaxLookBack,
		AudibleAlerts:      cfg.AudibleAlerts,
		HiddenTypes:        cfg.HiddenTypes,
		RetentionMaxAge:    cfg.RetentionMaxAge,
		MaxRecordsPerTrack: cfg.MaxRecordsPerTrack,
		Decision: awareness.DecisionConfig{
			MainAsset:      cfg.MainAsset,
			ShipSpeed:      cfg.ShipSpeed,
			UUVSpeed:       cfg.UUVSpeed,
			SafetyDistance: cfg.TagSafetyDistance,
			TagTypes:       cfg.TagTypes,
		},
	}, logger, awareness.NewLogNotifier(logger), recorders...)

	reg, err := buildFeeds(cfg, agg, history, logger)
	if err != nil {
		return err
	}
	if err := reg.Start(ctx, agg); err != nil {
		logger.Warn("running without some feeds", "err", err)
	}
	defer reg.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return observability.StartMetricsServer(gctx, cfg.MetricsPort)
	})
	g.Go(func() error {
		return api.New(agg, reg, logger).Run(gctx, ":"+cfg.HTTPPort)
	})
	g.Go(func() error {
		agg.RunRetention(gctx, cfg.RetentionInterval)
		return nil
	})
	g.Go(func() error {
		httpfeed.NewProperties(cfg.AssetPropertiesURL, cfg.AssetPropertiesInterval, logger).Run(gctx, agg)
		return nil
	})

	err = g.Wait()
	logger.Info("shutting down", "err", err)
	return err
}

func buildFeeds(cfg config.Config, agg *awareness.Aggregator, history *store.Redis, logger *slog.Logger) (*feed.Registry, error) {
	reg := feed.NewRegistry(logger)

	daily := csvhistory.New(cfg.HistoryCSV, logger)
	// show the last day of the replayed history
	daily.OnLoaded = func(newest time.Time) {
		agg.SetSelection(newest.Add(-24*time.Hour), newest)
	}

	feeds := []feed.Feed{
		teltonika.NewServer(":"+cfg.TCPPort, logger),
		ndjson.New(cfg.ProxyAddr, logger),
		httpfeed.New(cfg.HTTPFeedURL, cfg.HTTPFeedInterval, logger),
		daily,
	}
	if history != nil {
		feeds = append(feeds, store.NewHistoryFeed(history, cfg.HistoryReplay, logger))
	}
	for _, f := range feeds {
		if err := reg.Register(f); err != nil {
			return nil, fmt.Errorf("register feed: %w", err)
		}
	}
	reg.Enable(cfg.Feeds)
	return reg, nil
}
