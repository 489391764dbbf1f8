// Package ndjson reads newline delimited JSON fixes from a TCP proxy.
package ndjson

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"

	"awareness-svr/internal/feed"
	"awareness-svr/internal/position"
)

const (
	Source = "NDJSON Link"

	dialRetry      = 5 * time.Second
	reconnectDelay = 2 * time.Second
	maxLine        = 1 << 20
)

var ErrUnknownLine = errors.New("unrecognised line")

// Link keeps a connection to the proxy open, reconnecting when it drops.
type Link struct {
	*feed.Base
	addr   string
	logger *slog.Logger
	dialer net.Dialer

	mu      sync.Mutex
	conn    net.Conn
	devices map[string]DeviceInfo
	wg      sync.WaitGroup
}

func New(addr string, logger *slog.Logger) *Link {
	return &Link{
		Base:    feed.NewBase("ndjson"),
		addr:    addr,
		logger:  logger.With("component", "link"),
		devices: map[string]DeviceInfo{},
	}
}

func (l *Link) OnStart(ctx context.Context, sink feed.Sink) error {
	if l.addr == "" {
		l.logger.Info("link: disabled (no proxy address configured)")
		return nil
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.connectLoop(ctx, sink)
	}()
	return nil
}

func (l *Link) OnStop() {
	if c := l.getConn(); c != nil {
		_ = c.Close()
	}
	l.wg.Wait()
}

// Device returns the last device_connect/device_update seen for imei.
func (l *Link) Device(imei string) (DeviceInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.devices[imei]
	return d, ok
}

func (l *Link) connectLoop(ctx context.Context, sink feed.Sink) {
	for ctx.Err() == nil {
		c, err := l.dialer.DialContext(ctx, "tcp", l.addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("link: dial failed", "addr", l.addr, "err", err)
			l.Fail(sink, err)
			sleep(ctx, dialRetry)
			continue
		}

		l.setConn(c)
		l.logger.Info("link: connected", "remote", c.RemoteAddr().String())
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })

		l.readLoop(c, sink)

		stop()
		l.clearConn(c)
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("link: connection closed, reconnecting...")
		sleep(ctx, reconnectDelay)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (l *Link) setConn(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = c
}

func (l *Link) clearConn(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == c {
		_ = l.conn.Close()
		l.conn = nil
	}
}

func (l *Link) getConn() net.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *Link) readLoop(c net.Conn, sink feed.Sink) {
	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := l.handleLine(line, sink); err != nil {
			l.logger.Warn("link: bad line", "err", err, "line", string(line))
			l.Fail(sink, err)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.logger.Warn("link: read error", "err", err)
		l.Fail(sink, err)
	}
}

// probe picks the message kind before decoding the full line.
type probe struct {
	Asset         string `json:"asset"`
	IMEI          string `json:"imei"`
	DeviceConnect bool   `json:"device_connect"`
	DeviceUpdate  bool   `json:"device_update"`
}

func (l *Link) handleLine(line []byte, sink feed.Sink) error {
	var pr probe
	if err := json.Unmarshal(line, &pr); err != nil {
		return err
	}
	switch {
	case pr.DeviceConnect || pr.DeviceUpdate:
		var d DeviceInfo
		if err := json.Unmarshal(line, &d); err != nil {
			return err
		}
		d.State = DeviceStateUpdate
		if pr.DeviceConnect {
			d.State = DeviceStateConnect
		}
		l.mu.Lock()
		l.devices[d.IMEI] = d
		l.mu.Unlock()
		l.logger.Info("link: device event", "imei", d.IMEI, "state", d.State.String(), "model", d.Model)
		return nil

	case pr.Asset != "":
		var f position.Fix
		if err := json.Unmarshal(line, &f); err != nil {
			return err
		}
		p, err := f.Position(Source)
		if err != nil {
			return err
		}
		l.Push(sink, p)
		return nil

	case pr.IMEI != "":
		var tr Tracking
		if err := json.Unmarshal(line, &tr); err != nil {
			return err
		}
		if tr.Fix == 0 {
			return nil
		}
		p, err := tr.Position()
		if err != nil {
			return err
		}
		if d, ok := l.Device(tr.IMEI); ok {
			if _, ok := p.Extra("model"); !ok && d.Model != "" {
				p.PutExtra("model", d.Model)
			}
			if _, ok := p.Extra("fw_ver"); !ok && d.FWVer != "" {
				p.PutExtra("fw_ver", d.FWVer)
			}
		}
		l.Push(sink, p)
		return nil
	}
	return ErrUnknownLine
}

// Tracking is the tracker record format relayed by the proxy.
type Tracking struct {
	IMEI     string `json:"imei"`
	Model    string `json:"model,omitempty"`
	FWVer    string `json:"fw_ver,omitempty"`
	Datetime string `json:"dt"`

	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Spd  int     `json:"spd"` // km/h
	Crs  int     `json:"crs"` // degrees
	Sats int     `json:"sats"`

	MsgType int `json:"msg_type"` // 1=live, 0=buffer
	Fix     int `json:"fix"`
}

func (t Tracking) Position() (position.Position, error) {
	ts, err := time.Parse(time.RFC3339, t.Datetime)
	if err != nil {
		return position.Position{}, fmt.Errorf("%w: dt %q", position.ErrInvalidFix, t.Datetime)
	}
	p := position.New(t.IMEI, position.NewLocation(t.Lat, t.Lon), ts)
	if !p.Valid() {
		return position.Position{}, fmt.Errorf("%w: %s at %s", position.ErrInvalidFix, t.IMEI, p.Loc)
	}
	p.Speed = float64(t.Spd) / 3.6
	p.Heading = float64(t.Crs) * math.Pi / 180
	p.Source = Source
	p.Type = "Vehicle"
	p.PutExtra("imei", t.IMEI)
	p.PutExtra("satellites", fmt.Sprint(t.Sats))
	if t.Model != "" {
		p.PutExtra("model", t.Model)
	}
	if t.FWVer != "" {
		p.PutExtra("fw_ver", t.FWVer)
	}
	return p, nil
}
