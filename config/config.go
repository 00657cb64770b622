// Package config loads the YAML configuration. A config path is either one
// file or a directory whose *.yaml files are merged in name order, so site
// overrides can live next to the shipped defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"alertcore/cluster"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Cluster ClusterConfig `yaml:"cluster"`
	Lockout LockoutConfig `yaml:"lockout"`
	Display DisplayConfig `yaml:"display"`
	Storage StorageConfig `yaml:"storage"`
	Archive ArchiveConfig `yaml:"archive"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	UI      UIConfig      `yaml:"ui"`
	Logging LoggingConfig `yaml:"logging"`

	// LoadedFrom is the file or directory Load read.
	LoadedFrom string `yaml:"-"`
}

// DeviceConfig holds the processing cycle settings.
type DeviceConfig struct {
	CyclePeriod  time.Duration `yaml:"cycle_period"`
	TimeZone     string        `yaml:"time_zone"`
	RingCapacity int           `yaml:"ring_capacity"`
	AlertHold    time.Duration `yaml:"alert_hold"`
	FixMaxAge    time.Duration `yaml:"fix_max_age"`

	location *time.Location
}

// Location returns the zone used for calendar day boundaries.
func (d DeviceConfig) Location() *time.Location {
	if d.location == nil {
		return time.Local
	}
	return d.location
}

// ClusterConfig holds the auto-learning tunables.
type ClusterConfig struct {
	FrequencyToleranceMHz float64       `yaml:"frequency_tolerance_mhz"`
	HeadingToleranceDeg   float64       `yaml:"heading_tolerance_deg"`
	ProximityRadiusM      float64       `yaml:"proximity_radius_m"`
	PromotionThreshold    int           `yaml:"promotion_threshold"`
	ProbationDays         int           `yaml:"probation_days"`
	InactivityWindow      time.Duration `yaml:"inactivity_window"`
	MaxDriftMHz           float64       `yaml:"max_drift_mhz"`
	HeadingBuckets        int           `yaml:"heading_buckets"`
	H3Resolution          int           `yaml:"h3_resolution"`
}

// EngineConfig maps the section onto the cluster engine's tunables.
func (c *Config) EngineConfig() cluster.Config {
	cl := c.Cluster
	return cluster.Config{
		FrequencyToleranceMHz: cl.FrequencyToleranceMHz,
		HeadingToleranceDeg:   cl.HeadingToleranceDeg,
		ProximityRadiusM:      cl.ProximityRadiusM,
		PromotionThreshold:    cl.PromotionThreshold,
		ProbationDays:         cl.ProbationDays,
		InactivityWindow:      cl.InactivityWindow,
		MaxDriftMHz:           cl.MaxDriftMHz,
		HeadingBuckets:        cl.HeadingBuckets,
		H3Resolution:          cl.H3Resolution,
		AutoLockout:           c.Lockout.AutoLockout(),
	}
}

// LockoutConfig bounds what the lockout store accepts.
type LockoutConfig struct {
	MaxRadiusM     float64 `yaml:"max_radius_m"`
	DefaultRadiusM float64 `yaml:"default_radius_m"`
	AutoEnabled    *bool   `yaml:"auto_enabled"`
}

// AutoLockout reports whether promoted clusters create lockout records.
func (l LockoutConfig) AutoLockout() bool {
	return l.AutoEnabled == nil || *l.AutoEnabled
}

// DisplayConfig controls the arbiter.
type DisplayConfig struct {
	StrictOwnership bool `yaml:"strict_ownership"`
}

// StorageConfig locates the Pebble lockout database.
type StorageConfig struct {
	Path         string        `yaml:"path"`
	CacheSizeMB  int           `yaml:"cache_size_mb"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

// ArchiveConfig controls the SQLite decision archive.
type ArchiveConfig struct {
	Enabled                bool   `yaml:"enabled"`
	DBPath                 string `yaml:"db_path"`
	QueueSize              int    `yaml:"queue_size"`
	BatchSize              int    `yaml:"batch_size"`
	BatchIntervalMS        int    `yaml:"batch_interval_ms"`
	RetentionDays          int    `yaml:"retention_days"`
	CleanupIntervalSeconds int    `yaml:"cleanup_interval_seconds"`
	BusyTimeoutMS          int    `yaml:"busy_timeout_ms"`
	Synchronous            string `yaml:"synchronous"`
}

// MQTTConfig connects the bridge to the link's broker.
type MQTTConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Broker           string `yaml:"broker"`
	ClientID         string `yaml:"client_id"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	FrameTopic       string `yaml:"frame_topic"`
	FixTopic         string `yaml:"fix_topic"`
	LinkTopic        string `yaml:"link_topic"`
	QoS              int    `yaml:"qos"`
	KeepAliveSeconds int    `yaml:"keepalive_seconds"`
}

// UIConfig selects the render sink.
type UIConfig struct {
	// Mode is "auto", "tview" or "log". auto picks tview when stdout is a terminal.
	Mode      string `yaml:"mode"`
	RefreshMS int    `yaml:"refresh_ms"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads path (a YAML file or a directory of them), merges, normalizes
// and validates the result.
func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config: path is empty")
	}
	files, err := configFiles(path)
	if err != nil {
		return nil, err
	}
	merged := map[string]any{}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", file, err)
		}
		mergeMaps(merged, doc)
	}
	raw, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("config: re-encode merged config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.LoadedFrom = path
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the normalized configuration with nothing loaded.
func Default() *Config {
	var cfg Config
	if err := cfg.normalize(); err != nil {
		panic(err)
	}
	return &cfg
}

func configFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("config: read dir %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("config: no yaml files in %s", path)
	}
	sort.Strings(files)
	return files, nil
}

// mergeMaps folds src into dst. Nested mappings merge key by key; anything
// else in src replaces the value in dst.
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				mergeMaps(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

func (c *Config) normalize() error {
	d := &c.Device
	if d.CyclePeriod <= 0 {
		d.CyclePeriod = 100 * time.Millisecond
	}
	if d.RingCapacity <= 0 {
		d.RingCapacity = 64
	}
	if d.AlertHold <= 0 {
		d.AlertHold = 3 * time.Second
	}
	if d.FixMaxAge <= 0 {
		d.FixMaxAge = 10 * time.Second
	}
	d.location = time.Local
	if tz := strings.TrimSpace(d.TimeZone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("config: device.time_zone %q: %w", tz, err)
		}
		d.location = loc
	}

	cl := &c.Cluster
	if cl.FrequencyToleranceMHz <= 0 {
		cl.FrequencyToleranceMHz = 10
	}
	if cl.HeadingToleranceDeg <= 0 {
		cl.HeadingToleranceDeg = 30
	}
	if cl.HeadingToleranceDeg > 180 {
		return fmt.Errorf("config: cluster.heading_tolerance_deg %.1f exceeds 180", cl.HeadingToleranceDeg)
	}
	if cl.ProximityRadiusM <= 0 {
		cl.ProximityRadiusM = 150
	}
	if cl.PromotionThreshold <= 0 {
		cl.PromotionThreshold = 3
	}
	if cl.ProbationDays <= 0 {
		cl.ProbationDays = 2
	}
	if cl.ProbationDays >= cl.PromotionThreshold {
		return fmt.Errorf("config: cluster.probation_days (%d) must be below promotion_threshold (%d)", cl.ProbationDays, cl.PromotionThreshold)
	}
	if cl.InactivityWindow <= 0 {
		cl.InactivityWindow = 14 * 24 * time.Hour
	}
	if cl.MaxDriftMHz <= 0 {
		cl.MaxDriftMHz = 5
	}
	if cl.HeadingBuckets <= 0 {
		cl.HeadingBuckets = 8
	}
	if cl.H3Resolution <= 0 {
		cl.H3Resolution = 9
	}
	if cl.H3Resolution > 15 {
		return fmt.Errorf("config: cluster.h3_resolution %d out of range", cl.H3Resolution)
	}

	l := &c.Lockout
	if l.MaxRadiusM <= 0 {
		l.MaxRadiusM = 2000
	}
	if l.DefaultRadiusM <= 0 {
		l.DefaultRadiusM = 150
	}
	if l.DefaultRadiusM > l.MaxRadiusM {
		return fmt.Errorf("config: lockout.default_radius_m %.0f exceeds max_radius_m %.0f", l.DefaultRadiusM, l.MaxRadiusM)
	}
	if cl.ProximityRadiusM > l.MaxRadiusM {
		return fmt.Errorf("config: cluster.proximity_radius_m %.0f exceeds lockout.max_radius_m %.0f", cl.ProximityRadiusM, l.MaxRadiusM)
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = filepath.Join("data", "lockouts")
	}
	if c.Storage.CacheSizeMB <= 0 {
		c.Storage.CacheSizeMB = 8
	}
	if c.Storage.SaveInterval <= 0 {
		c.Storage.SaveInterval = 5 * time.Minute
	}

	a := &c.Archive
	if strings.TrimSpace(a.DBPath) == "" {
		a.DBPath = filepath.Join("data", "archive", "decisions.db")
	}
	if a.QueueSize <= 0 {
		a.QueueSize = 1000
	}
	if a.BatchSize <= 0 {
		a.BatchSize = 100
	}
	if a.BatchIntervalMS <= 0 {
		a.BatchIntervalMS = 500
	}
	if a.RetentionDays <= 0 {
		a.RetentionDays = 30
	}
	if a.CleanupIntervalSeconds <= 0 {
		a.CleanupIntervalSeconds = 3600
	}
	if a.BusyTimeoutMS <= 0 {
		a.BusyTimeoutMS = 1000
	}
	a.Synchronous = strings.ToLower(strings.TrimSpace(a.Synchronous))
	switch a.Synchronous {
	case "":
		a.Synchronous = "off"
	case "off", "normal", "full", "extra":
	default:
		return fmt.Errorf("config: archive.synchronous %q is not one of off, normal, full, extra", a.Synchronous)
	}

	m := &c.MQTT
	if strings.TrimSpace(m.Broker) == "" {
		m.Broker = "tcp://127.0.0.1:1883"
	}
	if strings.TrimSpace(m.ClientID) == "" {
		m.ClientID = "alertcore"
	}
	if m.FrameTopic == "" {
		m.FrameTopic = "detector/frames"
	}
	if m.FixTopic == "" {
		m.FixTopic = "detector/fix"
	}
	if m.LinkTopic == "" {
		m.LinkTopic = "detector/link"
	}
	if m.QoS < 0 || m.QoS > 2 {
		return fmt.Errorf("config: mqtt.qos %d out of range", m.QoS)
	}
	if m.KeepAliveSeconds <= 0 {
		m.KeepAliveSeconds = 30
	}

	u := &c.UI
	u.Mode = strings.ToLower(strings.TrimSpace(u.Mode))
	switch u.Mode {
	case "":
		u.Mode = "auto"
	case "auto", "tview", "log":
	default:
		return fmt.Errorf("config: ui.mode %q is not one of auto, tview, log", u.Mode)
	}
	if u.RefreshMS <= 0 {
		u.RefreshMS = 250
	}

	if strings.TrimSpace(c.Logging.Dir) == "" {
		c.Logging.Dir = filepath.Join("data", "logs")
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
	return nil
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Config: %s\n", c.LoadedFrom)
	fmt.Printf("Cycle: %s (ring %d, hold %s, zone %s)\n", c.Device.CyclePeriod, c.Device.RingCapacity, c.Device.AlertHold, c.Device.Location())
	fmt.Printf("Learning: ±%.0fMHz ±%.0f° %.0fm, promote after %d days, evict after %s\n",
		c.Cluster.FrequencyToleranceMHz, c.Cluster.HeadingToleranceDeg, c.Cluster.ProximityRadiusM,
		c.Cluster.PromotionThreshold, c.Cluster.InactivityWindow)
	fmt.Printf("Lockouts: %s (auto=%v, max radius %.0fm)\n", c.Storage.Path, c.Lockout.AutoLockout(), c.Lockout.MaxRadiusM)
	if c.Archive.Enabled {
		fmt.Printf("Archive: %s (retention %dd)\n", c.Archive.DBPath, c.Archive.RetentionDays)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT: %s (frames %s, fix %s, link %s)\n", c.MQTT.Broker, c.MQTT.FrameTopic, c.MQTT.FixTopic, c.MQTT.LinkTopic)
	}
}
