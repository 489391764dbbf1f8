package teltonika

import "time"

const (
	Codec8  = 0x08
	Codec8E = 0x8E
)

type IOItem struct {
	Size int    `json:"size"`
	Val  uint64 `json:"val,omitempty"`
	Raw  []byte `json:"raw,omitempty"`
}

type GPSData struct {
	Longitude  float64 `json:"longitude"`
	Latitude   float64 `json:"latitude"`
	Altitude   int     `json:"altitude"`
	Angle      int     `json:"angle"` // degrees from north
	Satellites int     `json:"satellites"`
	Speed      int     `json:"speed"` // km/h
}

type AVLRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Priority  int               `json:"priority"`
	GPS       GPSData           `json:"gps"`
	EventIOID int               `json:"event_io_id"`
	TotalIO   int               `json:"total_io"`
	IO        map[uint16]IOItem `json:"io"`
}

type AvlPacket struct {
	Len     uint32      `json:"data_len"`
	CodecID uint8       `json:"codec_id"`
	Records []AVLRecord `json:"records"`
	CRC     uint32      `json:"crc"`
}
