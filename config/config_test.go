package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDirectoryMergesFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.yaml", `cluster:
  heading_tolerance_deg: 20
  promotion_threshold: 4
mqtt:
  enabled: true
`)
	writeFile(t, dir, "site.yaml", `cluster:
  proximity_radius_m: 250
mqtt:
  broker: "tcp://10.0.0.2:1883"
`)
	writeFile(t, dir, "notes.txt", "ignored: true\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := filepath.Clean(cfg.LoadedFrom); got != filepath.Clean(dir) {
		t.Fatalf("expected LoadedFrom=%s, got %s", dir, got)
	}
	if cfg.Cluster.HeadingToleranceDeg != 20 || cfg.Cluster.PromotionThreshold != 4 {
		t.Fatalf("expected cluster values from app.yaml, got %+v", cfg.Cluster)
	}
	if cfg.Cluster.ProximityRadiusM != 250 {
		t.Fatalf("expected proximity_radius_m to merge from site.yaml, got %.0f", cfg.Cluster.ProximityRadiusM)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://10.0.0.2:1883" {
		t.Fatalf("expected mqtt merged across files, got %+v", cfg.MQTT)
	}
}

func TestLoadSingleFileAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "alertcore.yaml", "device:\n  time_zone: UTC\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Cluster.FrequencyToleranceMHz != 10 || cfg.Cluster.HeadingToleranceDeg != 30 ||
		cfg.Cluster.ProximityRadiusM != 150 || cfg.Cluster.PromotionThreshold != 3 || cfg.Cluster.ProbationDays != 2 {
		t.Fatalf("unexpected cluster defaults %+v", cfg.Cluster)
	}
	if cfg.Cluster.InactivityWindow != 336*time.Hour {
		t.Fatalf("expected 336h inactivity window, got %s", cfg.Cluster.InactivityWindow)
	}
	if cfg.Lockout.MaxRadiusM != 2000 || !cfg.Lockout.AutoLockout() {
		t.Fatalf("unexpected lockout defaults %+v", cfg.Lockout)
	}
	if cfg.Device.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %s", cfg.Device.Location())
	}
	if cfg.Archive.Synchronous != "off" || cfg.UI.Mode != "auto" {
		t.Fatalf("unexpected archive/ui defaults: %q %q", cfg.Archive.Synchronous, cfg.UI.Mode)
	}
}

func TestDurationsAndExplicitFalse(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.yaml", `device:
  cycle_period: 250ms
cluster:
  inactivity_window: 72h
lockout:
  auto_enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Device.CyclePeriod != 250*time.Millisecond {
		t.Fatalf("expected 250ms cycle, got %s", cfg.Device.CyclePeriod)
	}
	if cfg.Cluster.InactivityWindow != 72*time.Hour {
		t.Fatalf("expected 72h window, got %s", cfg.Cluster.InactivityWindow)
	}
	if cfg.Lockout.AutoLockout() {
		t.Fatalf("expected auto lockout disabled")
	}
	if cfg.EngineConfig().AutoLockout {
		t.Fatalf("expected engine config to carry auto lockout=false")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"probation":   "cluster:\n  promotion_threshold: 2\n  probation_days: 2\n",
		"heading":     "cluster:\n  heading_tolerance_deg: 200\n",
		"synchronous": "archive:\n  synchronous: fast\n",
		"ui mode":     "ui:\n  mode: fancy\n",
		"time zone":   "device:\n  time_zone: Nowhere/Special\n",
		"radius":      "lockout:\n  max_radius_m: 100\n",
		"yaml":        "cluster: [unterminated\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "bad.yaml", body)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected Load() to fail")
			}
		})
	}
}

func TestLoadEmptyDirectory(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for directory without yaml files")
	}
}
