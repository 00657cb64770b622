package cluster

import "time"

// Config carries the learning tunables. Zero values are replaced by defaults.
type Config struct {
	FrequencyToleranceMHz float64
	HeadingToleranceDeg   float64
	ProximityRadiusM      float64
	PromotionThreshold    int
	ProbationDays         int
	InactivityWindow      time.Duration
	MaxDriftMHz           float64
	HeadingBuckets        int
	H3Resolution          int
	// AutoLockout disables record insertion when false; clusters still reach Locked.
	AutoLockout bool
}

const (
	DefaultFrequencyToleranceMHz = 10
	DefaultHeadingToleranceDeg   = 30
	DefaultProximityRadiusM      = 150
	DefaultPromotionThreshold    = 3
	DefaultProbationDays         = 2
	DefaultInactivityWindow      = 14 * 24 * time.Hour
	DefaultMaxDriftMHz           = 5
	DefaultHeadingBuckets        = 8
	DefaultH3Resolution          = 9
)

// DefaultConfig returns the shipped tunables with auto-lockout enabled.
func DefaultConfig() Config {
	return Config{AutoLockout: true}.normalized()
}

func (c Config) normalized() Config {
	if c.FrequencyToleranceMHz <= 0 {
		c.FrequencyToleranceMHz = DefaultFrequencyToleranceMHz
	}
	if c.HeadingToleranceDeg <= 0 {
		c.HeadingToleranceDeg = DefaultHeadingToleranceDeg
	}
	if c.HeadingToleranceDeg > 180 {
		c.HeadingToleranceDeg = 180
	}
	if c.ProximityRadiusM <= 0 {
		c.ProximityRadiusM = DefaultProximityRadiusM
	}
	if c.PromotionThreshold <= 0 {
		c.PromotionThreshold = DefaultPromotionThreshold
	}
	if c.ProbationDays <= 0 || c.ProbationDays >= c.PromotionThreshold {
		c.ProbationDays = c.PromotionThreshold - 1
		if c.ProbationDays < 1 {
			c.ProbationDays = 1
		}
	}
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = DefaultInactivityWindow
	}
	if c.MaxDriftMHz < 0 {
		c.MaxDriftMHz = 0
	} else if c.MaxDriftMHz == 0 {
		c.MaxDriftMHz = DefaultMaxDriftMHz
	}
	if c.HeadingBuckets <= 0 {
		c.HeadingBuckets = DefaultHeadingBuckets
	}
	if c.H3Resolution <= 0 || c.H3Resolution > 15 {
		c.H3Resolution = DefaultH3Resolution
	}
	return c
}
