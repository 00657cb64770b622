package packet

import (
	"errors"
	"testing"
	"time"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func kAlertFrame() []byte {
	return EncodeAlert(Alert{
		Index:        1,
		Count:        1,
		Band:         BandK,
		FrequencyMHz: 24150,
		Front:        0xC5,
		Rear:         0x90,
		Direction:    DirFront,
		Priority:     true,
	})
}

func TestParseAlertFrame(t *testing.T) {
	a, err := Parse(kAlertFrame(), testTime)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if a.Band != BandK {
		t.Fatalf("expected band K, got %s", a.Band)
	}
	if a.FrequencyMHz != 24150 {
		t.Fatalf("expected 24150 MHz, got %.1f", a.FrequencyMHz)
	}
	if a.Direction != DirFront {
		t.Fatalf("expected front arrow, got %s", a.Direction)
	}
	if !a.Priority || a.Index != 1 || a.Count != 1 {
		t.Fatalf("unexpected table fields: %+v", a)
	}
	if a.Strength() != 0xC5 {
		t.Fatalf("expected strength 0xC5, got %#x", a.Strength())
	}
	if a.Bars() != 3 {
		t.Fatalf("expected 3 bars, got %d", a.Bars())
	}
	if !a.Timestamp.Equal(testTime) {
		t.Fatalf("expected timestamp %v, got %v", testTime, a.Timestamp)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	frame := kAlertFrame()
	first, err := Parse(frame, testTime)
	if err != nil {
		t.Fatalf("first parse: %v", err)
	}
	second, err := Parse(frame, testTime)
	if err != nil {
		t.Fatalf("second parse: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical alerts, got %+v vs %+v", first, second)
	}
}

func TestParseRejectsTruncatedPrefixes(t *testing.T) {
	frame := kAlertFrame()
	for n := 0; n < len(frame); n++ {
		// Copy into an exact-length slice so any read past n would panic.
		cut := append([]byte(nil), frame[:n]...)
		_, err := Parse(cut, testTime)
		if err == nil {
			t.Fatalf("expected error for %d-byte prefix", n)
		}
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("expected *ParseError for %d-byte prefix, got %T", n, err)
		}
		if n < MinFrame && !errors.Is(err, ErrTruncated) {
			t.Fatalf("expected truncated for %d bytes, got %v", n, err)
		}
	}
}

func TestParseRejectionLadder(t *testing.T) {
	cases := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"bad sof", func(b []byte) []byte { b[0] = 0x00; return b }, ErrBadHeader},
		{"bad dest nibble", func(b []byte) []byte { b[1] = 0x14; return b }, ErrBadHeader},
		{"bad src nibble", func(b []byte) []byte { b[2] = 0x0A; return b }, ErrBadHeader},
		{"length too long", func(b []byte) []byte { b[4]++; return b }, ErrBadLength},
		{"length too short", func(b []byte) []byte { b[4]--; return b }, ErrBadLength},
		{"length over capacity", func(b []byte) []byte { b[4] = 0xFF; return b }, ErrBadLength},
		{"extra trailing byte", func(b []byte) []byte { return append(b, EOF) }, ErrBadLength},
		{"bad eof", func(b []byte) []byte { b[len(b)-1] = 0x00; return b }, ErrBadHeader},
		{"payload corrupted", func(b []byte) []byte { b[6] ^= 0x01; return b }, ErrBadChecksum},
		{"checksum corrupted", func(b []byte) []byte { b[len(b)-2]++; return b }, ErrBadChecksum},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := tc.mutate(kAlertFrame())
			_, err := Parse(frame, testTime)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestParseUnsupportedPacket(t *testing.T) {
	frame := AppendFrame(nil, 0x7F, 0x04, 0x0A, []byte{1, 2, 3})
	if _, err := Parse(frame, testTime); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestParseShortAlertPayload(t *testing.T) {
	frame := AppendFrame(nil, IDAlertData, 0x04, 0x0A, []byte{0x11, 0x5E})
	if _, err := Parse(frame, testTime); !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected bad length for short payload, got %v", err)
	}
}

func TestDecodeDisplayData(t *testing.T) {
	payload := []byte{0x06, 0x00, 0x1F, 0x24, 0x00, 0x01, 0x00, 0x00}
	pkt, err := Decode(AppendFrame(nil, IDDisplayData, 0x04, 0x0A, payload), testTime)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if pkt.IsAlert() {
		t.Fatalf("expected display packet")
	}
	if pkt.Display.Bars() != 5 {
		t.Fatalf("expected 5 bars, got %d", pkt.Display.Bars())
	}
	if pkt.Display.Band() != BandK || pkt.Display.Arrows() != DirFront {
		t.Fatalf("unexpected band/arrows: %s %s", pkt.Display.Band(), pkt.Display.Arrows())
	}
	if !pkt.Display.SoftMuted() {
		t.Fatalf("expected soft mute flag")
	}
}

func TestLaserWinsOverRadarBits(t *testing.T) {
	if got := bandFromBits(0x01 | 0x04); got != BandLaser {
		t.Fatalf("expected laser, got %s", got)
	}
}

func TestParseBand(t *testing.T) {
	if b, ok := ParseBand(" ka "); !ok || b != BandKa {
		t.Fatalf("expected KA, got %s ok=%v", b, ok)
	}
	if _, ok := ParseBand("none"); ok {
		t.Fatalf("NONE must not parse as a band")
	}
}
