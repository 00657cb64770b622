// Command alertcore runs the alert decision core: it takes detector frames
// and location fixes from the MQTT bridge, learns stationary false sources,
// mutes alerts covered by lockouts and drives the dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"alertcore/archive"
	"alertcore/bridge"
	"alertcore/buffer"
	"alertcore/cluster"
	"alertcore/config"
	"alertcore/display"
	"alertcore/lockout"
	"alertcore/lockoutdb"
	"alertcore/pipeline"
	"alertcore/stats"
	"alertcore/ui"
)

const (
	defaultConfigPath = "data/config"
	envConfigPath     = "ALERTCORE_CONFIG"

	verifyBudget     = 5 * time.Second
	statsLogInterval = time.Minute
)

// Version will be set at build time
var Version = "dev"

// Purpose: Report whether stdout is a TTY for UI gating.
// Key aspects: Uses term.IsTerminal on stdout fd.
// Upstream: chooseSinkMode.
// Downstream: term.IsTerminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Purpose: Load configuration from the flag, the environment or the default
// directory, in that order.
// Key aspects: Only a missing path falls through to the next candidate.
// Upstream: main.
// Downstream: config.Load.
func loadConfig(flagPath string) (*config.Config, error) {
	candidates := make([]string, 0, 3)
	if p := strings.TrimSpace(flagPath); p != "" {
		candidates = append(candidates, p)
	}
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates, defaultConfigPath)

	var lastErr error
	for _, path := range candidates {
		cfg, err := config.Load(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("unable to load config; tried %s (last error: %v)", strings.Join(candidates, ", "), lastErr)
}

// chooseSinkMode resolves ui.mode against the console. tview needs a terminal
// and silently degrades to log output without one.
func chooseSinkMode(mode string, tty bool) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "log":
		return "log"
	case "tview", "auto", "":
		if tty {
			return "tview"
		}
		return "log"
	default:
		return "log"
	}
}

func main() {
	configPath := flag.String("config", "", "config file or directory (default $"+envConfigPath+" or "+defaultConfigPath+")")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if *printConfig {
		cfg.Print()
		return
	}

	fanout, err := setupLogging(cfg.Logging, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging: file output disabled: %v\n", err)
	}
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()

	log.Printf("alertcore v%s starting (config %s)", Version, cfg.LoadedFrom)
	if err := run(cfg, fanout); err != nil {
		log.Printf("Fatal: %v", err)
		fanout.Close()
		os.Exit(1)
	}
	log.Println("alertcore stopped")
}

// Purpose: Wire storage, learning, display and transport, then run the
// consumer cycle until a signal or the dashboard asks to quit.
// Key aspects: The lockout store and the cluster engine are only touched from
// this goroutine; saves happen between ticks.
// Upstream: main.
// Downstream: pipeline.Tick, persist, bridge.
func run(cfg *config.Config, fanout *logFanout) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := lockoutdb.Open(cfg.Storage.Path, lockoutdb.Options{CacheSizeBytes: int64(cfg.Storage.CacheSizeMB) << 20})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("LockoutDB: close: %v", err)
		}
	}()
	verifyCtx, cancelVerify := context.WithTimeout(ctx, verifyBudget)
	integrity, err := db.Verify(verifyCtx, verifyBudget)
	cancelVerify()
	if err != nil {
		log.Printf("LockoutDB: integrity scan incomplete: %v", err)
	} else if integrity.Corrupt > 0 {
		log.Printf("LockoutDB: %d corrupt entries will be skipped (records=%d clusters=%d)", integrity.Corrupt, integrity.Records, integrity.Clusters)
	}

	store := lockout.NewStore(lockout.Options{MaxRadiusM: cfg.Lockout.MaxRadiusM})
	loaded, dropped, err := store.Load(db)
	if err != nil {
		return fmt.Errorf("load lockouts: %w", err)
	}
	engine := cluster.NewEngine(cfg.EngineConfig(), store)
	clusters, err := db.LoadClusters()
	if err != nil {
		return fmt.Errorf("load clusters: %w", err)
	}
	restored := engine.Restore(clusters, func(id uint64) bool {
		_, ok := store.Get(id)
		return ok
	})
	orphans := engine.PruneOrphans(store.List())
	log.Printf("Lockouts: loaded %d (dropped %d, orphaned %d), clusters restored %d", loaded, dropped, len(orphans), restored)

	var recorder pipeline.Recorder
	if cfg.Archive.Enabled {
		w, err := archive.NewWriter(cfg.Archive)
		if err != nil {
			log.Printf("Archive: disabled: %v", err)
		} else {
			w.Start()
			defer w.Stop()
			recorder = w
		}
	}

	var (
		sink     display.Sink
		terminal *ui.Terminal
	)
	quit := make(chan struct{}, 1)
	switch chooseSinkMode(cfg.UI.Mode, isStdoutTTY()) {
	case "tview":
		terminal = ui.NewTerminal(cfg.UI)
		terminal.SetQuitFunc(func() {
			select {
			case quit <- struct{}{}:
			default:
			}
		})
		terminal.Start()
		if !terminal.WaitReady(2 * time.Second) {
			log.Printf("UI: terminal not ready after 2s, continuing")
		}
		defer terminal.Stop()
		fanout.SetConsole(terminal.SystemWriter(), true)
		defer fanout.SetConsole(os.Stdout, true)
		sink = terminal
	default:
		sink = display.LogSink{}
	}

	tracker := stats.NewTracker()
	pipe, err := pipeline.New(pipeline.Options{
		Ring:      buffer.NewEventRing(cfg.Device.RingCapacity),
		Engine:    engine,
		Store:     store,
		Arbiter:   display.NewArbiter(display.Options{Strict: cfg.Display.StrictOwnership}),
		Sink:      sink,
		Stats:     tracker,
		Recorder:  recorder,
		Location:  cfg.Device.Location(),
		AlertHold: cfg.Device.AlertHold,
		FixMaxAge: cfg.Device.FixMaxAge,
	})
	if err != nil {
		return err
	}

	var br *bridge.Bridge
	if cfg.MQTT.Enabled {
		br, err = bridge.New(cfg.MQTT, pipe, pipeline.SourceLink)
		if err != nil {
			return err
		}
		if err := br.Connect(); err != nil {
			return err
		}
		startLinkHealthMonitor(ctx, br.HealthSnapshot, cfg.Device.FixMaxAge)
	} else {
		log.Println("Bridge: MQTT disabled; no frames will arrive")
	}

	statsInterval := statsLogInterval
	if terminal != nil {
		statsInterval = time.Second
	}
	cycle := time.NewTicker(cfg.Device.CyclePeriod)
	defer cycle.Stop()
	save := time.NewTicker(cfg.Storage.SaveInterval)
	defer save.Stop()
	status := time.NewTicker(statsInterval)
	defer status.Stop()

	log.Printf("Running: cycle %s, save every %s", cfg.Device.CyclePeriod, cfg.Storage.SaveInterval)
	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down gracefully...")
			return shutdown(pipe, br, db, store, engine)
		case <-quit:
			log.Println("Quit requested from dashboard")
			return shutdown(pipe, br, db, store, engine)
		case <-cycle.C:
			pipe.Tick()
		case <-save.C:
			if err := persist(db, store, engine); err != nil {
				log.Printf("LockoutDB: periodic save failed: %v", err)
			}
		case <-status.C:
			lines := tracker.SnapshotLines()
			if terminal != nil {
				terminal.SetStats(lines)
				continue
			}
			for _, line := range lines {
				log.Printf("Stats: %s", line)
			}
		}
	}
}

// shutdown stops intake, drains the ring once more and saves.
func shutdown(pipe *pipeline.Pipeline, br *bridge.Bridge, db *lockoutdb.Store, store *lockout.Store, engine *cluster.Engine) error {
	if br != nil {
		br.Stop()
	}
	pipe.Tick()
	return persist(db, store, engine)
}

// Purpose: Persist the lockout set and the cluster table.
// Key aspects: Records first so a restored locked cluster always finds its
// record; a failure on either is returned.
// Upstream: periodic save and shutdown.
// Downstream: lockout.Store.Save, lockoutdb.Store.SaveClusters.
func persist(db *lockoutdb.Store, store *lockout.Store, engine *cluster.Engine) error {
	if err := store.Save(db); err != nil {
		return fmt.Errorf("save lockouts: %w", err)
	}
	if err := db.SaveClusters(engine.Clusters()); err != nil {
		return fmt.Errorf("save clusters: %w", err)
	}
	return nil
}
