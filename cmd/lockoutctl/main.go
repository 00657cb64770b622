// lockoutctl inspects and edits the lockout database offline. alertcore holds
// the Pebble lock while it runs, so stop it first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	humanize "github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"

	"alertcore/archive"
	"alertcore/config"
	"alertcore/geo"
	"alertcore/lockout"
	"alertcore/lockoutdb"
	"alertcore/packet"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const usage = `usage: lockoutctl [-db path] [-max-radius m] <command> [flags]

commands:
  list      [-source manual|auto]       print lockout records
  clusters                               print learned clusters
  export    [-out file]                  write records as JSON (stdout by default)
  import    -in file                     validate and add records from JSON
  add       -band K -low MHz -high MHz -lat -lon [-radius m]
  remove    -id N
  clear     [-source manual|auto]        remove records (all when no source)
  backup    -dest dir                    write a Pebble checkpoint
  verify    [-path dir] [-budget 10s]    scan a database or checkpoint
  history   -id N [-archive file] [-limit 20]   archived decisions for a lockout
`

// recordJSON is the export/import form of a lockout record.
type recordJSON struct {
	ID         uint64  `json:"id,omitempty"`
	Band       string  `json:"band"`
	LowMHz     float64 `json:"low_mhz"`
	HighMHz    float64 `json:"high_mhz"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	RadiusM    float64 `json:"radius_m"`
	MutedSince string  `json:"muted_since,omitempty"`
	Source     string  `json:"source"`
	ClusterID  uint64  `json:"cluster_id,omitempty"`
}

func toJSON(rec lockout.Record) recordJSON {
	out := recordJSON{
		ID:        rec.ID,
		Band:      rec.Band.String(),
		LowMHz:    rec.LowMHz,
		HighMHz:   rec.HighMHz,
		Lat:       rec.Location.Lat,
		Lon:       rec.Location.Lon,
		RadiusM:   rec.RadiusM,
		Source:    rec.Source.String(),
		ClusterID: rec.ClusterID,
	}
	if !rec.MutedSince.IsZero() {
		out.MutedSince = rec.MutedSince.UTC().Format(time.RFC3339)
	}
	return out
}

func fromJSON(in recordJSON) (lockout.Record, error) {
	band, ok := packet.ParseBand(in.Band)
	if !ok {
		return lockout.Record{}, fmt.Errorf("unknown band %q", in.Band)
	}
	source := lockout.SourceManual
	if in.Source != "" {
		if source, ok = lockout.ParseSource(in.Source); !ok {
			return lockout.Record{}, fmt.Errorf("unknown source %q", in.Source)
		}
	}
	rec := lockout.Record{
		ID:        in.ID,
		Band:      band,
		LowMHz:    in.LowMHz,
		HighMHz:   in.HighMHz,
		Location:  geo.Point{Lat: in.Lat, Lon: in.Lon},
		RadiusM:   in.RadiusM,
		Source:    source,
		ClusterID: in.ClusterID,
	}
	if in.MutedSince != "" {
		t, err := time.Parse(time.RFC3339, in.MutedSince)
		if err != nil {
			return lockout.Record{}, fmt.Errorf("muted_since: %w", err)
		}
		rec.MutedSince = t
	}
	return rec, nil
}

func main() {
	dbPath := flag.String("db", "data/lockouts", "lockout database directory")
	maxRadius := flag.Float64("max-radius", 2000, "largest accepted geofence radius in meters")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(os.Stdout, *dbPath, *maxRadius, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "lockoutctl: %v\n", err)
		os.Exit(1)
	}
}

func run(w io.Writer, dbPath string, maxRadius float64, cmd string, args []string) error {
	switch cmd {
	case "verify":
		return cmdVerify(w, dbPath, args)
	case "history":
		return cmdHistory(w, args)
	}

	db, err := lockoutdb.Open(dbPath, lockoutdb.Options{})
	if err != nil {
		return err
	}
	defer db.Close()
	store := lockout.NewStore(lockout.Options{MaxRadiusM: maxRadius})
	if _, dropped, err := store.Load(db); err != nil {
		return err
	} else if dropped > 0 {
		fmt.Fprintf(w, "note: %d stored records failed validation and were skipped\n", dropped)
	}

	switch cmd {
	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		source := fs.String("source", "", "manual or auto")
		if err := fs.Parse(args); err != nil {
			return err
		}
		filter, err := parseSourceFilter(*source)
		if err != nil {
			return err
		}
		return listRecords(w, store.List(), filter)
	case "clusters":
		clusters, err := db.LoadClusters()
		if err != nil {
			return err
		}
		for _, c := range clusters {
			fmt.Fprintf(w, "%s last=%s lockout=%d\n", c.String(), humanize.Time(c.LastSeen), c.LockoutID)
		}
		fmt.Fprintf(w, "%s clusters\n", humanize.Comma(int64(len(clusters))))
		return nil
	case "export":
		fs := flag.NewFlagSet("export", flag.ContinueOnError)
		out := fs.String("out", "", "output file (stdout when empty)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		dst := w
		if *out != "" {
			f, err := os.Create(*out)
			if err != nil {
				return err
			}
			defer f.Close()
			dst = f
		}
		return exportRecords(dst, store.List())
	case "import":
		fs := flag.NewFlagSet("import", flag.ContinueOnError)
		in := fs.String("in", "", "JSON file written by export")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *in == "" {
			return errors.New("import: -in is required")
		}
		f, err := os.Open(*in)
		if err != nil {
			return err
		}
		defer f.Close()
		added, rejected, err := importRecords(w, f, store)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "imported %d, rejected %d\n", added, rejected)
		return store.Save(db)
	case "add":
		rec, err := parseAddFlags(args)
		if err != nil {
			return err
		}
		id, err := store.Insert(rec)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "added lockout #%d\n", id)
		return store.Save(db)
	case "remove":
		fs := flag.NewFlagSet("remove", flag.ContinueOnError)
		id := fs.Uint64("id", 0, "record id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if !store.Remove(*id) {
			return fmt.Errorf("remove: no lockout #%d", *id)
		}
		fmt.Fprintf(w, "removed lockout #%d\n", *id)
		return store.Save(db)
	case "clear":
		fs := flag.NewFlagSet("clear", flag.ContinueOnError)
		source := fs.String("source", "", "manual or auto (all when empty)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		filter, err := parseSourceFilter(*source)
		if err != nil {
			return err
		}
		n := store.Clear(filter)
		fmt.Fprintf(w, "removed %d lockouts\n", n)
		return store.Save(db)
	case "backup":
		fs := flag.NewFlagSet("backup", flag.ContinueOnError)
		dest := fs.String("dest", "", "checkpoint directory (must not exist)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *dest == "" {
			return errors.New("backup: -dest is required")
		}
		if err := db.Checkpoint(*dest); err != nil {
			return err
		}
		fmt.Fprintf(w, "checkpoint written to %s\n", *dest)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func parseSourceFilter(s string) (lockout.Source, error) {
	if s == "" {
		return 0, nil
	}
	src, ok := lockout.ParseSource(s)
	if !ok {
		return 0, fmt.Errorf("unknown source %q", s)
	}
	return src, nil
}

func parseAddFlags(args []string) (lockout.Record, error) {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	var (
		band   = fs.String("band", "", "X, K, KA or KU")
		low    = fs.Float64("low", 0, "low edge in MHz")
		high   = fs.Float64("high", 0, "high edge in MHz")
		lat    = fs.Float64("lat", 0, "latitude")
		lon    = fs.Float64("lon", 0, "longitude")
		radius = fs.Float64("radius", 150, "geofence radius in meters")
	)
	if err := fs.Parse(args); err != nil {
		return lockout.Record{}, err
	}
	return fromJSON(recordJSON{
		Band:    *band,
		LowMHz:  *low,
		HighMHz: *high,
		Lat:     *lat,
		Lon:     *lon,
		RadiusM: *radius,
		Source:  lockout.SourceManual.String(),
	})
}

func listRecords(w io.Writer, recs []lockout.Record, filter lockout.Source) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBAND\tRANGE MHz\tLOCATION\tRADIUS\tSOURCE\tSINCE")
	shown := 0
	for _, rec := range recs {
		if filter != 0 && rec.Source != filter {
			continue
		}
		shown++
		fmt.Fprintf(tw, "%d\t%s\t%.1f-%.1f\t%.5f,%.5f\t%sm\t%s\t%s\n",
			rec.ID, rec.Band, rec.LowMHz, rec.HighMHz, rec.Location.Lat, rec.Location.Lon,
			humanize.Ftoa(rec.RadiusM), rec.Source, humanize.Time(rec.MutedSince))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d lockouts\n", shown)
	return err
}

func exportRecords(w io.Writer, recs []lockout.Record) error {
	out := make([]recordJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toJSON(rec))
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// importRecords inserts every decodable entry. Rejections are reported and
// skipped; only a malformed document fails the whole import.
func importRecords(w io.Writer, r io.Reader, store *lockout.Store) (added, rejected int, err error) {
	var in []recordJSON
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return 0, 0, fmt.Errorf("import: decode: %w", err)
	}
	for i, entry := range in {
		rec, err := fromJSON(entry)
		if err == nil {
			// IDs are local to a database.
			rec.ID = 0
			_, err = store.Insert(rec)
		}
		if err != nil {
			fmt.Fprintf(w, "entry %d rejected: %v\n", i, err)
			rejected++
			continue
		}
		added++
	}
	return added, rejected, nil
}

func cmdVerify(w io.Writer, dbPath string, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	path := fs.String("path", "", "checkpoint directory (the -db database when empty)")
	budget := fs.Duration("budget", 10*time.Second, "maximum scan time")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *budget)
	defer cancel()

	var (
		stats lockoutdb.IntegrityStats
		err   error
	)
	if *path != "" {
		stats, err = lockoutdb.VerifyCheckpoint(ctx, *path, *budget)
	} else {
		db, openErr := lockoutdb.Open(dbPath, lockoutdb.Options{})
		if openErr != nil {
			return openErr
		}
		defer db.Close()
		stats, err = db.Verify(ctx, *budget)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "records=%s clusters=%s corrupt=%d in %s\n",
		humanize.Comma(int64(stats.Records)), humanize.Comma(int64(stats.Clusters)), stats.Corrupt, stats.Duration.Round(time.Millisecond))
	if stats.Corrupt > 0 {
		return fmt.Errorf("verify: %d corrupt entries", stats.Corrupt)
	}
	return nil
}

func cmdHistory(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	id := fs.Uint64("id", 0, "lockout id")
	path := fs.String("archive", "data/archive/decisions.db", "decision archive")
	limit := fs.Int("limit", 20, "rows to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("history: -id is required")
	}
	writer, err := archive.NewWriter(config.ArchiveConfig{DBPath: *path, BusyTimeoutMS: 1000})
	if err != nil {
		return err
	}
	defer writer.Stop()
	rows, err := writer.ForLockout(*id, *limit)
	if err != nil {
		return err
	}
	for _, e := range rows {
		fmt.Fprintf(w, "%s %s %sMHz %s muted=%s\n",
			e.Time.Local().Format("2006-01-02 15:04:05"), e.Band, humanize.Ftoa(e.FrequencyMHz), e.Decision, strconv.FormatBool(e.Muted))
	}
	fmt.Fprintf(w, "%d decisions\n", len(rows))
	return nil
}
