package position

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	p := New("alpha", NewLocation(41.18, -8.7), ts)

	assert.Equal(t, DefaultSource, p.Source)
	assert.Equal(t, DefaultType, p.Type)
	assert.True(t, math.IsNaN(p.Heading))
	assert.True(t, math.IsNaN(p.Speed))
	assert.True(t, math.IsNaN(p.Accuracy))
	assert.True(t, math.IsNaN(p.Loc.Height))
	assert.Equal(t, ts.Truncate(time.Millisecond), p.Timestamp)
	assert.True(t, p.Valid())
}

func TestLocationValid(t *testing.T) {
	cases := []struct {
		loc  Location
		want bool
	}{
		{NewLocation(0, 0), true},
		{NewLocation(90, 180), true},
		{NewLocation(-90, -180), true},
		{NewLocation(90.01, 0), false},
		{NewLocation(0, -180.5), false},
		{NewLocation(math.NaN(), 0), false},
		{NewLocation(0, math.Inf(1)), false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.loc.Valid(), "%v", c.loc)
	}
}

func TestExtrasKeepInsertionOrder(t *testing.T) {
	p := New("alpha", NewLocation(1, 1), time.UnixMilli(1000))
	p.PutExtra("zeta", "1")
	p.PutExtra("alpha", "2")
	p.PutExtra("mid", "3")
	p.PutExtra("zeta", "4")

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, p.ExtraKeys())
	v, ok := p.Extra("zeta")
	require.True(t, ok)
	assert.Equal(t, "4", v)

	_, ok = p.Extra("missing")
	assert.False(t, ok)
}

func TestCloneIsIndependent(t *testing.T) {
	p := New("alpha", NewLocation(1, 1), time.UnixMilli(1000))
	p.PutExtra("a", "1")

	c := p.Clone()
	c.PutExtra("b", "2")
	c.PutExtra("a", "changed")

	assert.Equal(t, []string{"a"}, p.ExtraKeys())
	v, _ := p.Extra("a")
	assert.Equal(t, "1", v)
}

func TestFixRoundTripKeepsUnknownsUnknown(t *testing.T) {
	p := New("bravo", NewLocation(38.5, -9.1), time.UnixMilli(1_700_000_000_000))
	p.Speed = 2.5
	p.Type = "Ship"
	p.Source = "AIS"
	p.PutExtra("mmsi", "263000000")
	p.PutExtra("callsign", "CSXX")

	b, err := json.Marshal(p.Fix())
	require.NoError(t, err)
	assert.NotContains(t, string(b), "heading")
	assert.Contains(t, string(b), `"extras":{"mmsi":"263000000","callsign":"CSXX"}`)

	var f Fix
	require.NoError(t, json.Unmarshal(b, &f))
	back, err := f.Position("ignored")
	require.NoError(t, err)

	assert.Equal(t, p.Timestamp, back.Timestamp)
	assert.Equal(t, 2.5, back.Speed)
	assert.True(t, math.IsNaN(back.Heading))
	assert.Equal(t, "AIS", back.Source)
	assert.Equal(t, "Ship", back.Type)
	assert.Equal(t, []string{"mmsi", "callsign"}, back.ExtraKeys())
}

func TestFixPositionDefaultsAndErrors(t *testing.T) {
	p, err := Fix{Asset: "x", Timestamp: 5, Lat: 1, Lon: 2}.Position("HUB")
	require.NoError(t, err)
	assert.Equal(t, "HUB", p.Source)
	assert.Equal(t, DefaultType, p.Type)

	_, err = Fix{Timestamp: 5}.Position("")
	assert.True(t, errors.Is(err, ErrInvalidFix))

	_, err = Fix{Asset: "x", Timestamp: 5, Lat: 91}.Position("")
	assert.True(t, errors.Is(err, ErrInvalidFix))

	_, err = Fix{Asset: "x", Lat: 1}.Position("")
	assert.True(t, errors.Is(err, ErrInvalidFix))
}
