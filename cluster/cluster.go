// Package cluster learns recurring false sources. Alerts that agree on band,
// frequency, heading and location are folded into one Cluster; a cluster seen
// on enough distinct calendar days is promoted to an automatic lockout.
package cluster

import (
	"fmt"
	"sort"
	"time"

	"alertcore/geo"
	"alertcore/packet"
)

// State is a cluster's position in the learning lifecycle.
type State uint8

const (
	Candidate State = iota + 1
	Probation
	Locked
)

func (s State) String() string {
	switch s {
	case Candidate:
		return "candidate"
	case Probation:
		return "probation"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// Cluster is one learned source.
type Cluster struct {
	ID            uint64
	Band          packet.Band
	CentroidMHz   float64
	SeedMHz       float64
	ToleranceMHz  float64
	HeadingDeg    float64
	HeadingBucket int
	Location      geo.Point
	FirstSeenDay  geo.Day
	VisitDays     map[geo.Day]struct{}
	State         State
	Hits          uint64
	LastSeen      time.Time
	LockoutID     uint64 // auto record owned by this cluster once Locked

	rejectedAt int // DayCount when the store last refused promotion
}

// DayCount returns the number of distinct calendar days the source was seen.
func (c *Cluster) DayCount() int {
	return len(c.VisitDays)
}

// Days returns the visit days in ascending order.
func (c *Cluster) Days() []geo.Day {
	days := make([]geo.Day, 0, len(c.VisitDays))
	for d := range c.VisitDays {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

func (c *Cluster) clone() Cluster {
	out := *c
	out.VisitDays = make(map[geo.Day]struct{}, len(c.VisitDays))
	for d := range c.VisitDays {
		out.VisitDays[d] = struct{}{}
	}
	return out
}

func (c *Cluster) String() string {
	return fmt.Sprintf("cluster #%d %s %.1fMHz hdg=%.0f days=%d %s",
		c.ID, c.Band, c.CentroidMHz, c.HeadingDeg, c.DayCount(), c.State)
}

// DecisionKind tags the outcome of Observe.
type DecisionKind uint8

const (
	NoMatch DecisionKind = iota
	NewCluster
	Matched
	Promoted
)

func (k DecisionKind) String() string {
	switch k {
	case NewCluster:
		return "new"
	case Matched:
		return "matched"
	case Promoted:
		return "promoted"
	default:
		return "no_match"
	}
}

// Decision reports what Observe did with an alert. Err is set when a
// promotion was attempted but the lockout store rejected the record; the
// cluster then stays in Probation.
type Decision struct {
	Kind      DecisionKind
	ClusterID uint64
	LockoutID uint64
	State     State
	Days      int
	Err       error
}

// Removal is emitted by Sweep for each evicted cluster.
type Removal struct {
	ClusterID uint64
	LockoutID uint64 // non-zero when an auto record was removed with it
	WasLocked bool
}
