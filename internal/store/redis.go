package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"awareness-svr/internal/position"
)

const (
	assetsKey   = "awareness:assets"
	trackPrefix = "awareness:track:"
)

// Redis keeps every stored fix in a sorted set per asset, scored by the
// timestamp in milliseconds.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect dials and pings Redis.
func Connect(ctx context.Context, addr string, db int, ttl time.Duration) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(rdb, ttl), nil
}

// New wraps an existing client. ttl <= 0 keeps history forever.
func New(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Name() string { return "redis" }

func trackKey(asset string) string { return trackPrefix + asset }

// Record appends p to the asset history.
func (r *Redis) Record(ctx context.Context, p position.Position) error {
	b, err := encode(p)
	if err != nil {
		return err
	}
	key := trackKey(p.Asset)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, assetsKey, p.Asset)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(p.Millis()), Member: string(b)})
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record %s: %w", p.Asset, err)
	}
	return nil
}

// History loads every stored fix at or after since (all of them for a zero
// since), per asset in timestamp order. Undecodable entries are skipped.
func (r *Redis) History(ctx context.Context, since time.Time) ([]position.Position, error) {
	lo := "-inf"
	if !since.IsZero() {
		lo = strconv.FormatInt(since.UnixMilli(), 10)
	}
	assets, err := r.rdb.SMembers(ctx, assetsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis assets: %w", err)
	}
	var out []position.Position
	var errs []error
	for _, asset := range assets {
		vals, err := r.rdb.ZRangeByScore(ctx, trackKey(asset), &redis.ZRangeBy{
			Min: lo,
			Max: "+inf",
		}).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("redis history %s: %w", asset, err))
			continue
		}
		for _, v := range vals {
			p, err := decode([]byte(v))
			if err != nil {
				continue
			}
			out = append(out, p)
		}
	}
	return out, errors.Join(errs...)
}

// Forget removes an asset and its history.
func (r *Redis) Forget(ctx context.Context, asset string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, assetsKey, asset)
		pipe.Del(ctx, trackKey(asset))
		return nil
	})
	return err
}

type record struct {
	Asset    string      `msgpack:"a"`
	TS       int64       `msgpack:"t"`
	Lat      float64     `msgpack:"la"`
	Lon      float64     `msgpack:"lo"`
	Height   float64     `msgpack:"h"`
	Heading  float64     `msgpack:"hd"`
	Speed    float64     `msgpack:"sp"`
	Accuracy float64     `msgpack:"ac"`
	Source   string      `msgpack:"s"`
	Type     string      `msgpack:"ty"`
	Extras   [][2]string `msgpack:"x,omitempty"`
}

func encode(p position.Position) ([]byte, error) {
	rec := record{
		Asset:    p.Asset,
		TS:       p.Millis(),
		Lat:      p.Loc.Lat,
		Lon:      p.Loc.Lon,
		Height:   p.Loc.Height,
		Heading:  p.Heading,
		Speed:    p.Speed,
		Accuracy: p.Accuracy,
		Source:   p.Source,
		Type:     p.Type,
	}
	for _, k := range p.ExtraKeys() {
		v, _ := p.Extra(k)
		rec.Extras = append(rec.Extras, [2]string{k, v})
	}
	return msgpack.Marshal(&rec)
}

func decode(b []byte) (position.Position, error) {
	var rec record
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return position.Position{}, err
	}
	p := position.New(rec.Asset, position.Location{Lat: rec.Lat, Lon: rec.Lon, Height: rec.Height}, time.UnixMilli(rec.TS))
	p.Heading = rec.Heading
	p.Speed = rec.Speed
	p.Accuracy = rec.Accuracy
	p.Source = rec.Source
	p.Type = rec.Type
	for _, kv := range rec.Extras {
		p.PutExtra(kv[0], kv[1])
	}
	if !p.Valid() {
		return position.Position{}, fmt.Errorf("stored fix for %q is invalid", rec.Asset)
	}
	return p, nil
}
