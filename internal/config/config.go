package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Feed names accepted in Feeds.
var FeedNames = []string{"teltonika", "ndjson", "http", "csv-history", "redis-history"}

type Config struct {
	HTTPPort    string `yaml:"http_port" validate:"required,numeric"`
	MetricsPort string `yaml:"metrics_port" validate:"required,numeric"`
	TCPPort     string `yaml:"tcp_port" validate:"required,numeric"`

	// Empty addresses disable the component.
	RedisAddr  string        `yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisDB    int           `yaml:"redis_db" validate:"gte=0,lte=15"`
	RedisTTL   time.Duration `yaml:"redis_ttl" validate:"gte=0"`
	GRPCServer string        `yaml:"grpc_server" validate:"omitempty,hostname_port"`
	ProxyAddr  string        `yaml:"proxy_addr" validate:"omitempty,hostname_port"`

	HTTPFeedURL      string        `yaml:"http_feed_url" validate:"omitempty,url"`
	HTTPFeedInterval time.Duration `yaml:"http_feed_interval" validate:"gte=0"`
	HistoryCSV       string        `yaml:"history_csv"`
	HistoryReplay    time.Duration `yaml:"history_replay" validate:"gte=0"`

	AssetPropertiesURL      string        `yaml:"asset_properties_url" validate:"omitempty,url"`
	AssetPropertiesInterval time.Duration `yaml:"asset_properties_interval" validate:"gt=0"`

	// Decision support.
	MainAsset         string   `yaml:"main_asset"`
	ShipSpeed         float64  `yaml:"ship_speed" validate:"gt=0"`
	UUVSpeed          float64  `yaml:"uuv_speed" validate:"gt=0"`
	TagSafetyDistance float64  `yaml:"tag_safety_distance" validate:"gt=0"`
	TagTypes          []string `yaml:"tag_types"`

	Feeds         []string      `yaml:"feeds" validate:"dive,oneof=teltonika ndjson http csv-history redis-history"`
	HiddenTypes   []string      `yaml:"hidden_types"`
	AudibleAlerts bool          `yaml:"audible_alerts"`
	NotifyAfter   time.Duration `yaml:"notify_after" validate:"gt=0"`
	MaxLookBack   time.Duration `yaml:"max_look_back" validate:"gt=0"`

	RetentionMaxAge    time.Duration `yaml:"retention_max_age" validate:"gte=0"`
	MaxRecordsPerTrack int           `yaml:"max_records_per_track" validate:"gte=0"`
	RetentionInterval  time.Duration `yaml:"retention_interval" validate:"gt=0"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFile  string `yaml:"log_file"`
}

func defaults() Config {
	return Config{
		HTTPPort:         "8080",
		MetricsPort:      "9000",
		TCPPort:          "8001",
		HTTPFeedInterval: 30 * time.Second,
		HistoryReplay:    24 * time.Hour,

		AssetPropertiesInterval: 15 * time.Minute,
		ShipSpeed:               10,
		UUVSpeed:                1.25,
		TagSafetyDistance:       3000,
		TagTypes:                []string{"SPOT Tag", "Argos Tag"},

		Feeds:             append([]string(nil), FeedNames...),
		NotifyAfter:       30 * time.Second,
		MaxLookBack:       30 * 24 * time.Hour,
		RetentionInterval: time.Minute,
		LogLevel:          "info",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (CONFIG_FILE when path is empty, skipped when both are empty), then
// environment variables.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return Config{}, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) overlayEnv() error {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.MetricsPort = getEnv("METRICS_PORT", c.MetricsPort)
	c.TCPPort = getEnv("TCP_PORT", c.TCPPort)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.GRPCServer = getEnv("GRPC_SERVER", c.GRPCServer)
	c.ProxyAddr = getEnv("PROXY_ADDR", c.ProxyAddr)
	c.HTTPFeedURL = getEnv("HTTP_FEED_URL", c.HTTPFeedURL)
	c.HistoryCSV = getEnv("HISTORY_CSV", c.HistoryCSV)
	c.AssetPropertiesURL = getEnv("ASSET_PROPERTIES_URL", c.AssetPropertiesURL)
	c.MainAsset = getEnv("MAIN_ASSET", c.MainAsset)
	c.TagTypes = getEnvList("TAG_TYPES", c.TagTypes)
	c.Feeds = getEnvList("FEEDS", c.Feeds)
	c.HiddenTypes = getEnvList("HIDDEN_TYPES", c.HiddenTypes)
	c.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", c.LogLevel))
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	var err error
	if c.RedisDB, err = getEnvInt("REDIS_DB", c.RedisDB); err != nil {
		return err
	}
	if c.MaxRecordsPerTrack, err = getEnvInt("MAX_RECORDS_PER_TRACK", c.MaxRecordsPerTrack); err != nil {
		return err
	}
	if c.AudibleAlerts, err = getEnvBool("AUDIBLE_ALERTS", c.AudibleAlerts); err != nil {
		return err
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"SHIP_SPEED", &c.ShipSpeed},
		{"UUV_SPEED", &c.UUVSpeed},
		{"TAG_SAFETY_DISTANCE", &c.TagSafetyDistance},
	}
	for _, f := range floats {
		if *f.dst, err = getEnvFloat(f.key, *f.dst); err != nil {
			return err
		}
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"REDIS_TTL", &c.RedisTTL},
		{"HTTP_FEED_INTERVAL", &c.HTTPFeedInterval},
		{"HISTORY_REPLAY", &c.HistoryReplay},
		{"NOTIFY_AFTER", &c.NotifyAfter},
		{"MAX_LOOK_BACK", &c.MaxLookBack},
		{"RETENTION_MAX_AGE", &c.RetentionMaxAge},
		{"RETENTION_INTERVAL", &c.RetentionInterval},
		{"ASSET_PROPERTIES_INTERVAL", &c.AssetPropertiesInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, v := range strings.Split(val, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
