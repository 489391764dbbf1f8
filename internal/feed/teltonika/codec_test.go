package teltonika

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ts       time.Time
	lat, lon float64
	alt      int16
	angle    uint16
	sats     uint8
	speed    uint16
	io1      map[uint16]uint8
	io2      map[uint16]uint16
	ioX      map[uint16][]byte
}

func putID(b []byte, v int, extended bool) []byte {
	if extended {
		return binary.BigEndian.AppendUint16(b, uint16(v))
	}
	return append(b, byte(v))
}

func buildFrame(codec uint8, recs []testRecord) []byte {
	extended := codec == Codec8E
	data := []byte{codec, byte(len(recs))}
	for _, r := range recs {
		data = binary.BigEndian.AppendUint64(data, uint64(r.ts.UnixMilli()))
		data = append(data, 1)
		data = binary.BigEndian.AppendUint32(data, uint32(int32(math.Round(r.lon*1e7))))
		data = binary.BigEndian.AppendUint32(data, uint32(int32(math.Round(r.lat*1e7))))
		data = binary.BigEndian.AppendUint16(data, uint16(r.alt))
		data = binary.BigEndian.AppendUint16(data, r.angle)
		data = append(data, r.sats)
		data = binary.BigEndian.AppendUint16(data, r.speed)

		total := len(r.io1) + len(r.io2) + len(r.ioX)
		data = putID(data, 0, extended)
		data = putID(data, total, extended)

		data = putID(data, len(r.io1), extended)
		for id, v := range r.io1 {
			data = putID(data, int(id), extended)
			data = append(data, v)
		}
		data = putID(data, len(r.io2), extended)
		for id, v := range r.io2 {
			data = putID(data, int(id), extended)
			data = binary.BigEndian.AppendUint16(data, v)
		}
		data = putID(data, 0, extended) // 4B group
		data = putID(data, 0, extended) // 8B group
		if extended {
			data = binary.BigEndian.AppendUint16(data, uint16(len(r.ioX)))
			for id, v := range r.ioX {
				data = binary.BigEndian.AppendUint16(data, id)
				data = binary.BigEndian.AppendUint16(data, uint16(len(v)))
				data = append(data, v...)
			}
		}
	}
	data = append(data, byte(len(recs)))

	frame := make([]byte, 4, 12+len(data))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(data)))
	frame = append(frame, data...)
	return binary.BigEndian.AppendUint32(frame, uint32(crc16IBM(data)))
}

var ts0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func TestParseCodec8(t *testing.T) {
	frame := buildFrame(Codec8, []testRecord{
		{ts: ts0, lat: 41.1579, lon: -8.6291, alt: 120, angle: 90, sats: 9, speed: 36,
			io1: map[uint16]uint8{IOIgnition: 1}, io2: map[uint16]uint16{IOExtVoltage: 12800}},
		{ts: ts0.Add(time.Minute), lat: -33.5, lon: 151.25, alt: -5, sats: 3},
	})

	pkt, err := ParseAVL(frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(Codec8), pkt.CodecID)
	require.Len(t, pkt.Records, 2)

	r := pkt.Records[0]
	assert.Equal(t, ts0, r.Timestamp)
	assert.InDelta(t, 41.1579, r.GPS.Latitude, 1e-7)
	assert.InDelta(t, -8.6291, r.GPS.Longitude, 1e-7)
	assert.Equal(t, 120, r.GPS.Altitude)
	assert.Equal(t, 90, r.GPS.Angle)
	assert.Equal(t, 36, r.GPS.Speed)
	assert.Equal(t, 2, r.TotalIO)
	assert.Equal(t, uint64(1), r.IO[IOIgnition].Val)
	assert.Equal(t, uint64(12800), r.IO[IOExtVoltage].Val)

	assert.Equal(t, -5, pkt.Records[1].GPS.Altitude)
	assert.InDelta(t, -33.5, pkt.Records[1].GPS.Latitude, 1e-7)
}

func TestParseCodec8Extended(t *testing.T) {
	frame := buildFrame(Codec8E, []testRecord{{
		ts: ts0, lat: 38.72, lon: -9.14, sats: 12, speed: 0,
		io1: map[uint16]uint8{IOMovement: 0},
		io2: map[uint16]uint16{IOInstantMoves: 1},
		ioX: map[uint16][]byte{11: {0x89, 0x35, 0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80}},
	}})

	pkt, err := ParseAVL(frame)
	require.NoError(t, err)
	require.Len(t, pkt.Records, 1)
	r := pkt.Records[0]
	assert.Equal(t, 3, r.TotalIO)
	assert.Equal(t, uint64(1), r.IO[IOInstantMoves].Val)
	assert.Len(t, r.IO[11].Raw, 10)
	assert.Zero(t, r.IO[11].Val)
}

func TestParseRejectsCorruptFrames(t *testing.T) {
	good := buildFrame(Codec8, []testRecord{{ts: ts0, lat: 1, lon: 1, sats: 5}})

	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xFF
	_, err := ParseAVL(bad)
	assert.True(t, errors.Is(err, ErrCRC))

	bad = append([]byte(nil), good...)
	bad[0] = 1
	_, err = ParseAVL(bad)
	assert.True(t, errors.Is(err, ErrPreamble))

	_, err = ParseAVL(good[:len(good)-2])
	assert.Error(t, err)

	_, err = ParseAVL([]byte{0, 0})
	assert.Error(t, err)

	// a Codec 12 command response is well formed but not AVL data
	data := []byte{0x0C, 1, 6, 0, 0, 0, 1, 'x', 1}
	frame := binary.BigEndian.AppendUint32([]byte{0, 0, 0, 0}, uint32(len(data)))
	frame = append(frame, data...)
	frame = binary.BigEndian.AppendUint32(frame, uint32(crc16IBM(data)))
	_, err = ParseAVL(frame)
	assert.True(t, errors.Is(err, ErrCodec))
}

func TestCRC16IBM(t *testing.T) {
	// standard check value for CRC-16/ARC
	assert.Equal(t, uint16(0xBB3D), crc16IBM([]byte("123456789")))
}
