package teltonika

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	ErrPreamble = errors.New("invalid preamble (expected 0x00000000)")
	ErrCRC      = errors.New("crc mismatch")
	ErrCodec    = errors.New("unsupported codec")
)

// reader walks a frame and refuses to read past its end.
type reader struct {
	data []byte
	off  int
}

func (r *reader) take(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, fmt.Errorf("buffer overflow: tried to read %d bytes at offset %d (len=%d)", n, r.off, len(r.data))
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// count reads an id or counter: 1 byte for Codec 8, 2 bytes for Codec 8E.
func (r *reader) count(extended bool) (int, error) {
	if extended {
		v, err := r.u16()
		return int(v), err
	}
	v, err := r.u8()
	return int(v), err
}

// crc16IBM is CRC-16/IBM (poly 0xA001 reflected), as used by Teltonika frames.
func crc16IBM(b []byte) uint16 {
	var crc uint16
	for _, v := range b {
		crc ^= uint16(v)
		for i := 0; i < 8; i++ {
			if crc&1 == 1 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// ParseAVL decodes a complete Codec 8 / Codec 8 Extended frame:
// preamble(4) | length(4) | codec(1) | n1(1) | records | n2(1) | crc(4).
func ParseAVL(frame []byte) (*AvlPacket, error) {
	if len(frame) < 15 {
		return nil, fmt.Errorf("packet too short: %d", len(frame))
	}
	if binary.BigEndian.Uint32(frame[0:4]) != 0 {
		return nil, ErrPreamble
	}
	dataLen := binary.BigEndian.Uint32(frame[4:8])
	if int(dataLen)+12 != len(frame) {
		return nil, fmt.Errorf("length mismatch: header says %d, frame has %d", dataLen, len(frame)-12)
	}
	data := frame[8 : 8+dataLen]
	crc := binary.BigEndian.Uint32(frame[8+dataLen:])
	if got := uint32(crc16IBM(data)); got != crc {
		return nil, fmt.Errorf("%w: got %04x want %04x", ErrCRC, got, crc)
	}

	r := &reader{data: data}
	codecID, _ := r.u8()
	if codecID != Codec8 && codecID != Codec8E {
		return nil, fmt.Errorf("%w: 0x%02x", ErrCodec, codecID)
	}
	extended := codecID == Codec8E

	n1, err := r.u8()
	if err != nil {
		return nil, err
	}
	pkt := &AvlPacket{Len: dataLen, CodecID: codecID, CRC: crc, Records: make([]AVLRecord, 0, n1)}
	for i := 0; i < int(n1); i++ {
		rec, err := parseRecord(r, extended)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		pkt.Records = append(pkt.Records, rec)
	}
	n2, err := r.u8()
	if err != nil {
		return nil, err
	}
	if n2 != n1 {
		return nil, fmt.Errorf("record count mismatch: %d != %d", n1, n2)
	}
	return pkt, nil
}

func parseRecord(r *reader, extended bool) (AVLRecord, error) {
	var rec AVLRecord

	ts, err := r.u64()
	if err != nil {
		return rec, err
	}
	prio, err := r.u8()
	if err != nil {
		return rec, err
	}
	rec.Timestamp = time.UnixMilli(int64(ts)).UTC()
	rec.Priority = int(prio)

	gps, err := r.take(15)
	if err != nil {
		return rec, fmt.Errorf("gps element: %w", err)
	}
	rec.GPS = GPSData{
		Longitude:  float64(int32(binary.BigEndian.Uint32(gps[0:4]))) / 1e7,
		Latitude:   float64(int32(binary.BigEndian.Uint32(gps[4:8]))) / 1e7,
		Altitude:   int(int16(binary.BigEndian.Uint16(gps[8:10]))),
		Angle:      int(binary.BigEndian.Uint16(gps[10:12])),
		Satellites: int(gps[12]),
		Speed:      int(binary.BigEndian.Uint16(gps[13:15])),
	}

	if rec.EventIOID, err = r.count(extended); err != nil {
		return rec, err
	}
	if rec.TotalIO, err = r.count(extended); err != nil {
		return rec, err
	}
	rec.IO = make(map[uint16]IOItem, rec.TotalIO)

	// fixed-size groups of 1, 2, 4 and 8 byte values
	for _, size := range []int{1, 2, 4, 8} {
		n, err := r.count(extended)
		if err != nil {
			return rec, fmt.Errorf("io group %dB: %w", size, err)
		}
		for i := 0; i < n; i++ {
			id, err := r.count(extended)
			if err != nil {
				return rec, err
			}
			val, err := r.take(size)
			if err != nil {
				return rec, err
			}
			rec.IO[uint16(id)] = IOItem{Size: size, Val: beUint(val)}
		}
	}

	// variable-length group, Codec 8E only
	if extended {
		n, err := r.u16()
		if err != nil {
			return rec, fmt.Errorf("io group X: %w", err)
		}
		for i := 0; i < int(n); i++ {
			id, err := r.u16()
			if err != nil {
				return rec, err
			}
			size, err := r.u16()
			if err != nil {
				return rec, err
			}
			raw, err := r.take(int(size))
			if err != nil {
				return rec, err
			}
			item := IOItem{Size: int(size), Raw: append([]byte(nil), raw...)}
			if size <= 8 {
				item.Val = beUint(raw)
			}
			rec.IO[id] = item
		}
	}
	return rec, nil
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
