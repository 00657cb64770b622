package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"alertcore/bridge"
)

const (
	linkHealthInterval  = 15 * time.Second
	linkIdleThreshold   = time.Minute
	linkHealthLogPrefix = "Link Health: "
)

type linkHealthState struct {
	connected   bool
	idle        bool
	fixStale    bool
	initialized bool
}

// Purpose: Periodically log link health transitions with low noise.
// Key aspects: Reports only when connected, idle or fix staleness flips.
// Upstream: run after the bridge connects.
// Downstream: log.Printf.
func startLinkHealthMonitor(ctx context.Context, snapshot func() bridge.HealthSnapshot, fixMaxAge time.Duration) {
	if snapshot == nil {
		return
	}
	ticker := time.NewTicker(linkHealthInterval)
	go func() {
		defer ticker.Stop()
		var state linkHealthState
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				snap := snapshot()
				next, changed := nextLinkHealthState(state, snap, now, fixMaxAge)
				if changed {
					log.Printf("%s%s", linkHealthLogPrefix, formatLinkHealthLine(snap, next, now))
				}
				state = next
			}
		}
	}()
}

func nextLinkHealthState(prev linkHealthState, snap bridge.HealthSnapshot, now time.Time, fixMaxAge time.Duration) (linkHealthState, bool) {
	next := linkHealthState{
		connected:   snap.Connected,
		idle:        snap.LastFrameAt.IsZero() || now.Sub(snap.LastFrameAt) > linkIdleThreshold,
		fixStale:    snap.LastFixAt.IsZero() || now.Sub(snap.LastFixAt) > fixMaxAge,
		initialized: true,
	}
	changed := !prev.initialized || prev.connected != next.connected || prev.idle != next.idle || prev.fixStale != next.fixStale
	return next, changed
}

func formatLinkHealthLine(snap bridge.HealthSnapshot, state linkHealthState, now time.Time) string {
	var b strings.Builder
	if state.connected {
		b.WriteString("broker connected")
	} else {
		b.WriteString("broker disconnected")
	}
	if state.idle {
		b.WriteString(" frames idle")
	} else {
		b.WriteString(" frames active")
	}
	b.WriteString(" last_frame=")
	b.WriteString(ageString(now, snap.LastFrameAt))
	b.WriteString(" last_fix=")
	b.WriteString(ageString(now, snap.LastFixAt))
	if state.fixStale {
		b.WriteString(" (stale, learning paused)")
	}
	if snap.Rejected > 0 || snap.BadFixes > 0 {
		b.WriteString(fmt.Sprintf(" rejected=%d bad_fixes=%d", snap.Rejected, snap.BadFixes))
	}
	return b.String()
}

func ageString(now, at time.Time) string {
	if at.IsZero() {
		return "never"
	}
	age := now.Sub(at)
	if age < time.Second {
		return "0s"
	}
	return age.Truncate(time.Second).String()
}
