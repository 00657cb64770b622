package packet

import (
	"encoding/binary"
	"time"
)

// Frame layout constants for the detector's ESP link.
const (
	SOF = 0xAA
	EOF = 0xAB

	destNibble = 0xD0
	srcNibble  = 0xE0

	headerSize  = 5 // SOF, dest, src, id, length
	trailerSize = 2 // checksum, EOF
	MinFrame    = headerSize + trailerSize
	MaxPayload  = 64
	MaxFrame    = MinFrame + MaxPayload
)

// Packet identifiers understood by the decoder.
const (
	IDDisplayData = 0x31
	IDAlertData   = 0x43
)

const (
	alertPayloadSize   = 7
	displayPayloadSize = 8
)

// Packet is the typed result of decoding one frame. Exactly one of Alert or
// Display is meaningful, selected by ID.
type Packet struct {
	ID      uint8
	Dest    uint8
	Src     uint8
	Alert   Alert
	Display DisplayState
}

// IsAlert reports whether the packet carries an alert table row.
func (p Packet) IsAlert() bool {
	return p.ID == IDAlertData
}

// Parse decodes an alert frame. Frames that are well formed but carry another
// packet type report ErrUnsupported.
func Parse(frame []byte, at time.Time) (Alert, error) {
	pkt, err := Decode(frame, at)
	if err != nil {
		return Alert{}, err
	}
	if !pkt.IsAlert() {
		return Alert{}, ErrUnsupported
	}
	return pkt.Alert, nil
}

// Decode validates framing and decodes the payload. It never reads past
// len(frame) and never trusts the length byte beyond MaxPayload.
func Decode(frame []byte, at time.Time) (Packet, error) {
	payload, err := checkFrame(frame)
	if err != nil {
		return Packet{}, err
	}
	pkt := Packet{
		ID:   frame[3],
		Dest: frame[1] & 0x0F,
		Src:  frame[2] & 0x0F,
	}
	switch pkt.ID {
	case IDAlertData:
		if len(payload) < alertPayloadSize {
			return Packet{}, ErrBadLength
		}
		pkt.Alert = decodeAlert(payload, at)
	case IDDisplayData:
		if len(payload) < displayPayloadSize {
			return Packet{}, ErrBadLength
		}
		pkt.Display = decodeDisplay(payload)
	default:
		return Packet{}, ErrUnsupported
	}
	return pkt, nil
}

// checkFrame runs the rejection ladder and returns the payload slice.
func checkFrame(frame []byte) ([]byte, error) {
	if len(frame) < MinFrame {
		return nil, ErrTruncated
	}
	if frame[0] != SOF || frame[1]&0xF0 != destNibble || frame[2]&0xF0 != srcNibble {
		return nil, ErrBadHeader
	}
	declared := int(frame[4])
	if declared > MaxPayload || MinFrame+declared != len(frame) {
		return nil, ErrBadLength
	}
	// EOF is only meaningful once the length agrees with what arrived.
	if frame[len(frame)-1] != EOF {
		return nil, ErrBadHeader
	}
	end := headerSize + declared
	if checksum(frame[:end]) != frame[end] {
		return nil, ErrBadChecksum
	}
	return frame[headerSize:end], nil
}

func checksum(b []byte) uint8 {
	var sum uint8
	for _, v := range b {
		sum += v
	}
	return sum
}

func decodeAlert(p []byte, at time.Time) Alert {
	return Alert{
		Index:        p[0] >> 4,
		Count:        p[0] & 0x0F,
		FrequencyMHz: float64(binary.BigEndian.Uint16(p[1:3])),
		Front:        p[3],
		Rear:         p[4],
		Band:         bandFromBits(p[5]),
		Direction:    directionFromBits(p[5]),
		Priority:     p[6]&0x80 != 0,
		Timestamp:    at,
	}
}

func decodeDisplay(p []byte) DisplayState {
	var d DisplayState
	d.BogeyImage[0], d.BogeyImage[1] = p[0], p[1]
	d.BarGraph = p[2]
	d.BandArrow[0], d.BandArrow[1] = p[3], p[4]
	d.Aux[0], d.Aux[1], d.Aux[2] = p[5], p[6], p[7]
	return d
}

// bandFromBits picks the band from the low five bits. Laser wins over radar
// when the detector reports both.
func bandFromBits(b uint8) Band {
	switch {
	case b&0x01 != 0:
		return BandLaser
	case b&0x02 != 0:
		return BandKa
	case b&0x04 != 0:
		return BandK
	case b&0x08 != 0:
		return BandX
	case b&0x10 != 0:
		return BandKu
	default:
		return BandNone
	}
}

func bandBits(b Band) uint8 {
	switch b {
	case BandLaser:
		return 0x01
	case BandKa:
		return 0x02
	case BandK:
		return 0x04
	case BandX:
		return 0x08
	case BandKu:
		return 0x10
	default:
		return 0
	}
}

func directionFromBits(b uint8) Direction {
	var d Direction
	if b&0x20 != 0 {
		d |= DirFront
	}
	if b&0x40 != 0 {
		d |= DirSide
	}
	if b&0x80 != 0 {
		d |= DirRear
	}
	return d
}

func directionBits(d Direction) uint8 {
	var b uint8
	if d&DirFront != 0 {
		b |= 0x20
	}
	if d&DirSide != 0 {
		b |= 0x40
	}
	if d&DirRear != 0 {
		b |= 0x80
	}
	return b
}

// AppendFrame wraps payload in a complete frame addressed dest<-src and appends
// it to dst. Payloads longer than MaxPayload are truncated.
func AppendFrame(dst []byte, id, dest, src uint8, payload []byte) []byte {
	if len(payload) > MaxPayload {
		payload = payload[:MaxPayload]
	}
	start := len(dst)
	dst = append(dst, SOF, destNibble|(dest&0x0F), srcNibble|(src&0x0F), id, uint8(len(payload)))
	dst = append(dst, payload...)
	dst = append(dst, checksum(dst[start:]), EOF)
	return dst
}

// EncodeAlert builds an alert frame for a. It is the inverse of Parse apart
// from the timestamp, which is never on the wire.
func EncodeAlert(a Alert) []byte {
	var payload [alertPayloadSize]byte
	payload[0] = a.Index<<4 | a.Count&0x0F
	binary.BigEndian.PutUint16(payload[1:3], uint16(a.FrequencyMHz+0.5))
	payload[3] = a.Front
	payload[4] = a.Rear
	payload[5] = bandBits(a.Band) | directionBits(a.Direction)
	if a.Priority {
		payload[6] = 0x80
	}
	return AppendFrame(make([]byte, 0, MinFrame+alertPayloadSize), IDAlertData, 0x04, 0x0A, payload[:])
}
