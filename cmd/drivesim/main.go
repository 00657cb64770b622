package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"

	humanize "github.com/dustin/go-humanize"

	"alertcore/buffer"
	"alertcore/cluster"
	"alertcore/config"
	"alertcore/display"
	"alertcore/geo"
	"alertcore/lockout"
	"alertcore/packet"
	"alertcore/pipeline"
	"alertcore/stats"
)

// drivesim replays a commute past a few stationary false sources plus random
// traffic through the full decision pipeline, on a simulated clock, and
// reports when each source was learned and how much was muted. It needs no
// broker or database.

type source struct {
	band    packet.Band
	freqMHz float64
	loc     geo.Point
	heading float64
}

type simResult struct {
	alerts      int
	muted       int
	promotions  int
	learnedDay  map[int]int // source index -> day it was first muted
	falseMutes  int         // random alerts muted
	lines       []string
	wallElapsed time.Duration
}

func main() {
	var (
		days     = flag.Int("days", 5, "simulated days")
		drives   = flag.Int("drives", 2, "drives per day")
		sources  = flag.Int("sources", 3, "stationary false sources along the route")
		noise    = flag.Int("noise", 50, "random alerts per drive")
		seed     = flag.Int64("seed", 1, "random seed")
		cfgPath  = flag.String("config", "", "config file or directory (built-in defaults when empty)")
		showLogs = flag.Bool("v", false, "show pipeline logs")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("drivesim: %v", err)
		}
		cfg = loaded
	}
	if !*showLogs {
		log.SetOutput(io.Discard)
	}

	res, err := simulate(cfg, *days, *drives, *sources, *noise, *seed)
	if err != nil {
		fmt.Printf("drivesim: %v\n", err)
		return
	}
	fmt.Printf("alerts=%s muted=%s promotions=%d false_mutes=%d in %s\n",
		humanize.Comma(int64(res.alerts)), humanize.Comma(int64(res.muted)), res.promotions, res.falseMutes, res.wallElapsed.Round(time.Millisecond))
	for i := 0; i < *sources; i++ {
		if day, ok := res.learnedDay[i]; ok {
			fmt.Printf("source %d muted from day %d\n", i, day)
		} else {
			fmt.Printf("source %d never muted\n", i)
		}
	}
	for _, line := range res.lines {
		fmt.Println(line)
	}
}

type outcomeLog struct {
	outcomes []pipeline.Outcome
}

func (l *outcomeLog) Record(o pipeline.Outcome) { l.outcomes = append(l.outcomes, o) }

func simulate(cfg *config.Config, days, drives, nSources, noise int, seed int64) (simResult, error) {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2026, 3, 2, 7, 30, 0, 0, cfg.Device.Location())
	now := start
	clock := func() time.Time { return now }

	store := lockout.NewStore(lockout.Options{MaxRadiusM: cfg.Lockout.MaxRadiusM, Now: clock})
	engine := cluster.NewEngine(cfg.EngineConfig(), store)
	tracker := stats.NewTracker()
	rec := &outcomeLog{}
	pipe, err := pipeline.New(pipeline.Options{
		Ring:      buffer.NewEventRing(cfg.Device.RingCapacity),
		Engine:    engine,
		Store:     store,
		Arbiter:   display.NewArbiter(display.Options{Strict: true}),
		Sink:      display.SinkFunc(func(uint64, []display.Change) {}),
		Stats:     tracker,
		Recorder:  rec,
		Location:  cfg.Device.Location(),
		AlertHold: cfg.Device.AlertHold,
		FixMaxAge: cfg.Device.FixMaxAge,
		Now:       clock,
	})
	if err != nil {
		return simResult{}, err
	}

	home := geo.Point{Lat: 46.0569, Lon: 14.5058}
	srcs := make([]source, nSources)
	bands := []packet.Band{packet.BandK, packet.BandX, packet.BandKa}
	for i := range srcs {
		band := bands[i%len(bands)]
		low, high, _ := packet.Limits(band)
		srcs[i] = source{
			band:    band,
			freqMHz: low + (high-low)*(0.3+0.4*rng.Float64()),
			loc:     geo.Offset(home, 90, float64(i+1)*1500),
			heading: 90,
		}
	}

	res := simResult{learnedDay: make(map[int]int)}
	began := time.Now()
	for day := 0; day < days; day++ {
		for drive := 0; drive < drives; drive++ {
			now = start.AddDate(0, 0, day).Add(time.Duration(drive) * 10 * time.Hour)
			for i, s := range srcs {
				loc := geo.Offset(s.loc, rng.Float64()*360, rng.Float64()*40)
				pipe.SetFix(geo.Fix{Point: loc, Heading: s.heading + rng.NormFloat64()*5, Time: now})
				a := packet.Alert{
					Index: 1, Count: 1,
					Band:         s.band,
					FrequencyMHz: s.freqMHz + rng.NormFloat64()*1.5,
					Front:        uint8(80 + rng.Intn(60)),
					Direction:    packet.DirFront,
				}
				if err := pipe.Deliver(packet.EncodeAlert(a)); err != nil {
					return res, err
				}
				report := pipe.Tick()
				for _, o := range report.Outcomes {
					if o.Muted() {
						if _, seen := res.learnedDay[i]; !seen {
							res.learnedDay[i] = day + 1
						}
					}
				}
				now = now.Add(2 * time.Minute)
			}
			for n := 0; n < noise; n++ {
				loc := geo.Offset(home, rng.Float64()*360, 2000+rng.Float64()*30000)
				pipe.SetFix(geo.Fix{Point: loc, Heading: rng.Float64() * 360, Time: now})
				band := bands[rng.Intn(len(bands))]
				low, high, _ := packet.Limits(band)
				a := packet.Alert{
					Index: 1, Count: 1,
					Band:         band,
					FrequencyMHz: low + rng.Float64()*(high-low),
					Front:        uint8(rng.Intn(200)),
					Direction:    packet.DirFront,
				}
				if err := pipe.Deliver(packet.EncodeAlert(a)); err != nil {
					return res, err
				}
				for _, o := range pipe.Tick().Outcomes {
					if o.Muted() {
						res.falseMutes++
					}
				}
				now = now.Add(5 * time.Second)
			}
		}
	}
	res.wallElapsed = time.Since(began)

	for _, o := range rec.outcomes {
		res.alerts++
		if o.Muted() {
			res.muted++
		}
		if o.Decision.Kind == cluster.Promoted {
			res.promotions++
		}
	}
	res.lines = tracker.SnapshotLines()
	return res, nil
}
