package pipeline

import (
	"fmt"
	"strconv"
	"time"

	"alertcore/cluster"
	"alertcore/display"
	"alertcore/packet"
)

// screenState is what the consumer wants on the dashboard. Each role claims
// only its own elements so a frame never has two writers for one element.
type screenState struct {
	alert   *packet.Alert
	alertAt time.Time

	mute   string
	muteAt time.Time

	learn   string
	learnAt time.Time

	link     string
	detector *packet.DisplayState
}

// update folds one tick's outcomes in. The strongest unmuted alert is shown;
// priority alerts win over stronger ones.
func (s *screenState) update(outcomes []Outcome, now time.Time, hold time.Duration) {
	var best *packet.Alert
	for i := range outcomes {
		o := &outcomes[i]
		if o.Muted() {
			s.mute = "LOCKOUT #" + strconv.FormatUint(o.Mute.Record.ID, 10)
			s.muteAt = now
		} else if best == nil || betterAlert(o.Alert, *best) {
			best = &o.Alert
		}
		switch {
		case o.Decision.Kind == cluster.Promoted:
			s.learn = fmt.Sprintf("LEARNED #%d", o.Decision.ClusterID)
			s.learnAt = now
		case o.Decision.Err != nil:
			s.learn = fmt.Sprintf("REJECTED #%d", o.Decision.ClusterID)
			s.learnAt = now
		case o.Decision.State == cluster.Probation && !o.Muted():
			s.learn = fmt.Sprintf("LEARNING #%d %dd", o.Decision.ClusterID, o.Decision.Days)
			s.learnAt = now
		}
	}
	if best != nil {
		a := *best
		s.alert = &a
		s.alertAt = now
	}
	if s.alert != nil && now.Sub(s.alertAt) > hold {
		s.alert = nil
	}
	if s.mute != "" && now.Sub(s.muteAt) > hold {
		s.mute = ""
	}
	if s.learn != "" && now.Sub(s.learnAt) > hold {
		s.learn = ""
	}
}

func betterAlert(a, b packet.Alert) bool {
	if a.Priority != b.Priority {
		return a.Priority
	}
	if a.Bars() != b.Bars() {
		return a.Bars() > b.Bars()
	}
	return a.Strength() > b.Strength()
}

// claim writes every element for the open frame and returns the claims the
// arbiter refused.
func (s *screenState) claim(arb *display.Arbiter) []error {
	var errs []error
	claim := func(kind display.ElementKind, value, owner string) {
		if err := arb.Claim(kind, value, owner); err != nil {
			errs = append(errs, err)
		}
	}

	var band, freq, signal, dir, count string
	if a := s.alert; a != nil {
		band = a.Band.String()
		if a.Band != packet.BandLaser {
			freq = strconv.FormatFloat(a.FrequencyMHz/1000, 'f', 3, 64)
		}
		signal = strconv.Itoa(a.Bars())
		dir = a.Direction.String()
		if a.Count > 0 {
			count = fmt.Sprintf("%d/%d", a.Index, a.Count)
		}
	} else if d := s.detector; d != nil && d.Band() != packet.BandNone && s.mute == "" {
		// Nothing decoded but the detector panel is lit; mirror it. While a
		// lockout mute is held the panel is showing the muted source.
		band = d.Band().String()
		signal = strconv.Itoa(d.Bars())
		dir = d.Arrows().String()
	}
	claim(display.ElementBand, band, OwnerAlerts)
	claim(display.ElementFrequency, freq, OwnerAlerts)
	claim(display.ElementSignal, signal, OwnerAlerts)
	claim(display.ElementDirection, dir, OwnerAlerts)
	claim(display.ElementAlertCount, count, OwnerAlerts)

	mute := s.mute
	if mute == "" && s.detector != nil && s.detector.SoftMuted() {
		mute = "MUTED"
	}
	claim(display.ElementMute, mute, OwnerLockout)
	claim(display.ElementLearn, s.learn, OwnerAutoLearn)
	claim(display.ElementLink, s.link, OwnerLink)
	return errs
}
