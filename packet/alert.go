// Package packet decodes the detector's binary ESP frames into typed alerts and
// display-state snapshots. Decoding is pure: the same bytes always produce the
// same result and nothing is retained between calls.
package packet

import (
	"fmt"
	"math/bits"
	"strings"
	"time"
)

// Band identifies the radar/laser band an alert was detected on.
type Band uint8

const (
	BandNone Band = iota
	BandLaser
	BandKa
	BandK
	BandX
	BandKu
)

var bandNames = [...]string{"NONE", "LASER", "KA", "K", "X", "KU"}

func (b Band) String() string {
	if int(b) < len(bandNames) {
		return bandNames[b]
	}
	return "UNKNOWN"
}

// ParseBand maps a band label (case-insensitive) back to a Band.
func ParseBand(s string) (Band, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range bandNames {
		if name == s && i != int(BandNone) {
			return Band(i), true
		}
	}
	return BandNone, false
}

// bandLimit bounds the frequencies the detector can legally report per band, in MHz.
type bandLimit struct {
	low, high float64
}

var bandLimits = map[Band]bandLimit{
	BandX:  {low: 10400, high: 10600},
	BandKu: {low: 13300, high: 13600},
	BandK:  {low: 23900, high: 24300},
	BandKa: {low: 33300, high: 36100},
}

// Limits returns the legal frequency window for a band. Laser and unknown bands
// have no frequency window and report ok=false.
func Limits(b Band) (low, high float64, ok bool) {
	lim, ok := bandLimits[b]
	return lim.low, lim.high, ok
}

// Lockoutable reports whether alerts on this band can be muted by a geofenced record.
func (b Band) Lockoutable() bool {
	_, ok := bandLimits[b]
	return ok
}

// Direction is a bitmask of the arrows lit for an alert.
type Direction uint8

const (
	DirFront Direction = 1 << iota
	DirSide
	DirRear
)

func (d Direction) String() string {
	if d == 0 {
		return "-"
	}
	var b strings.Builder
	if d&DirFront != 0 {
		b.WriteString("F")
	}
	if d&DirSide != 0 {
		b.WriteString("S")
	}
	if d&DirRear != 0 {
		b.WriteString("R")
	}
	return b.String()
}

// Alert is one decoded detection. It is a value type; the pipeline passes it by
// copy and never mutates it after decoding.
type Alert struct {
	Index        uint8 // 1-based position in the detector's alert table
	Count        uint8 // table size at the time of the frame
	Band         Band
	FrequencyMHz float64
	Front        uint8 // raw front antenna strength
	Rear         uint8 // raw rear antenna strength
	Direction    Direction
	Priority     bool
	Timestamp    time.Time
}

// Strength returns the stronger of the two antenna readings.
func (a Alert) Strength() uint8 {
	if a.Rear > a.Front {
		return a.Rear
	}
	return a.Front
}

// Ka readings run hotter than K/X so the bar thresholds differ per band.
var (
	kaBarThresholds = [8]uint8{0x80, 0x8F, 0x99, 0xA4, 0xAF, 0xB9, 0xC4, 0xCF}
	kxBarThresholds = [8]uint8{0x80, 0xB8, 0xC2, 0xCB, 0xD5, 0xDE, 0xE7, 0xF0}
)

// Bars converts the raw strength into the 0..8 bar scale shown on screen.
func (a Alert) Bars() int {
	if a.Band == BandLaser {
		return 8
	}
	thresholds := kxBarThresholds
	if a.Band == BandKa {
		thresholds = kaBarThresholds
	}
	s := a.Strength()
	n := 0
	for _, th := range thresholds {
		if s < th {
			break
		}
		n++
	}
	return n
}

func (a Alert) String() string {
	if a.Band == BandLaser {
		return fmt.Sprintf("%s %s bars=%d", a.Band, a.Direction, a.Bars())
	}
	return fmt.Sprintf("%s %.0fMHz %s bars=%d", a.Band, a.FrequencyMHz, a.Direction, a.Bars())
}

// DisplayState mirrors the detector's own front panel as reported by
// infDisplayData frames.
type DisplayState struct {
	BogeyImage [2]uint8
	BarGraph   uint8
	BandArrow  [2]uint8
	Aux        [3]uint8
}

// Bars returns the number of lit segments in the bar graph.
func (d DisplayState) Bars() int {
	return bits.OnesCount8(d.BarGraph)
}

// SoftMuted reports whether the detector itself is muted.
func (d DisplayState) SoftMuted() bool {
	return d.Aux[0]&0x01 != 0
}

// Arrows returns the arrows lit in the primary band/arrow image.
func (d DisplayState) Arrows() Direction {
	return directionFromBits(d.BandArrow[0])
}

// Band returns the highest priority band lit in the primary band/arrow image.
func (d DisplayState) Band() Band {
	return bandFromBits(d.BandArrow[0])
}
