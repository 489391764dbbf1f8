package teltonika

import (
	"math"
	"strconv"
	"time"

	"awareness-svr/internal/position"
)

const (
	Source = "Teltonika"
	Type   = "Vehicle"

	// fixes older than this on arrival are reported as buffered data
	liveWindow = 120 * time.Second
)

// FMxxx IO element ids carried over to position extras.
const (
	IODigitalIn1   = 1
	IOGSMSignal    = 21
	IOExtVoltage   = 66
	IOBattLevel    = 113
	IODigitalOut1  = 179
	IOIgnition     = 239
	IOMovement     = 240
	IONetworkType  = 237
	IOInstantMoves = 303
)

var ioNames = []struct {
	id   uint16
	name string
}{
	{IOIgnition, "ignition"},
	{IOMovement, "movement"},
	{IOExtVoltage, "external_voltage_mv"},
	{IOBattLevel, "battery_level"},
	{IOGSMSignal, "gsm_signal"},
	{IODigitalIn1, "digital_input_1"},
	{IODigitalOut1, "digital_output_1"},
	{IONetworkType, "network_type"},
	{IOInstantMoves, "instant_movement"},
}

func coordsValid(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return true
}

// HasFix reports whether a record carries a usable GNSS fix.
func HasFix(g GPSData) bool {
	return g.Satellites > 3 && coordsValid(g.Latitude, g.Longitude)
}

func msgType(isBatch bool, ts, now time.Time) string {
	if isBatch || now.Sub(ts) > liveWindow {
		return "buffer"
	}
	return "live"
}

// ToPositions converts the records with a valid fix into positions for the
// device identified by imei.
func ToPositions(imei string, pkt *AvlPacket, now time.Time) []position.Position {
	out := make([]position.Position, 0, len(pkt.Records))
	batch := len(pkt.Records) > 1
	for _, rec := range pkt.Records {
		if !HasFix(rec.GPS) {
			continue
		}
		loc := position.Location{Lat: rec.GPS.Latitude, Lon: rec.GPS.Longitude, Height: float64(rec.GPS.Altitude)}
		p := position.New(imei, loc, rec.Timestamp)
		p.Speed = float64(rec.GPS.Speed) / 3.6
		p.Heading = float64(rec.GPS.Angle) * math.Pi / 180
		p.Source = Source
		p.Type = Type

		p.PutExtra("imei", imei)
		p.PutExtra("satellites", strconv.Itoa(rec.GPS.Satellites))
		p.PutExtra("priority", strconv.Itoa(rec.Priority))
		p.PutExtra("msg_type", msgType(batch, rec.Timestamp, now))
		for _, io := range ioNames {
			if v, ok := rec.IO[io.id]; ok {
				p.PutExtra(io.name, strconv.FormatUint(v.Val, 10))
			}
		}
		out = append(out, p)
	}
	return out
}
