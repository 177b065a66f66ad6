package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/occupancy.report/internal/api"
	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/fsutil"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/people/l1detect"
	"github.com/banshee-data/occupancy.report/internal/people/l2track"
	"github.com/banshee-data/occupancy.report/internal/people/l3zones"
	"github.com/banshee-data/occupancy.report/internal/people/l4activity"
	"github.com/banshee-data/occupancy.report/internal/people/pipeline"
	"github.com/banshee-data/occupancy.report/internal/people/storage/sqlite"
	"github.com/banshee-data/occupancy.report/internal/security"
	"github.com/banshee-data/occupancy.report/internal/version"
)

// stringList is a repeatable flag that also accepts comma-separated values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

var (
	configPath  = flag.String("config", "", "Path to tuning JSON (built-in defaults when empty)")
	zonesPath   = flag.String("zones", "", "Path to zone definitions JSON (required)")
	dbPath      = flag.String("db", "occupancy.db", "SQLite database path (empty disables persistence)")
	workers     = flag.Int("workers", 0, "Streams processed concurrently (0 = all at once)")
	listen      = flag.String("listen", "", "Serve the /debug/ admin pages and /api/ on this address")
	serve       = flag.Bool("serve", false, "Keep serving admin pages after the streams finish, until interrupted")
	reportPath  = flag.String("report", "", "Write a JSON run report to this path")
	debug       = flag.Bool("debug", false, "Enable diagnostic logging")
	trace       = flag.Bool("trace", false, "Enable per-frame trace logging")
	showVersion = flag.Bool("version", false, "Print version and exit")

	detections stringList
)

func init() {
	flag.Var(&detections, "detections", "Detection JSONL file, one stream per file (repeatable or comma-separated)")
}

// options is the parsed command line handed to run.
type options struct {
	ConfigPath string
	ZonesPath  string
	Detections []string
	DBPath     string
	Workers    int
	Listen     string
	Serve      bool
	ReportPath string
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	var diagW, traceW io.Writer
	if *debug || *trace {
		diagW = os.Stderr
	}
	if *trace {
		traceW = os.Stderr
	}
	configureLogging(os.Stderr, diagW, traceW)

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	files := append([]string(nil), detections...)
	files = append(files, flag.Args()...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, options{
		ConfigPath: *configPath,
		ZonesPath:  *zonesPath,
		Detections: files,
		DBPath:     *dbPath,
		Workers:    *workers,
		Listen:     *listen,
		Serve:      *serve,
		ReportPath: *reportPath,
	}, os.Stdout)
	if err != nil {
		log.Fatalf("occupancy: %v", err)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: occupancy [flags] -zones zones.json detections.jsonl...\n")
	fmt.Fprintf(out, "       occupancy [-db path] migrate <action>\n\n")
	flag.PrintDefaults()
}

// configureLogging routes every layer's log streams. ops is always on;
// nil diag or trace writers silence those streams.
func configureLogging(ops, diag, trace io.Writer) {
	l2track.SetLogWriters(ops, diag, trace)
	l3zones.SetLogWriters(ops, diag, trace)
	l4activity.SetLogWriters(ops, diag, trace)
	pipeline.SetLogWriters(ops, diag, trace)
	monitoring.SetLogger(monitoring.WriterLogger(ops, "[occupancy] "))
}

// streamNames derives one unique stream name per detection file.
func streamNames(paths []string) []string {
	seen := make(map[string]int, len(paths))
	names := make([]string, len(paths))
	for i, p := range paths {
		base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		name := security.SanitizeFilename(base)
		if name == "" {
			name = "stream"
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s-%d", name, n)
		}
		names[i] = name
	}
	return names
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// run processes every detection file to completion and returns the first
// stream failure. An interrupt stops streams at a frame boundary; their
// partial results are still persisted and reported.
func run(ctx context.Context, opts options, out io.Writer) error {
	if opts.ZonesPath == "" {
		return errors.New("-zones is required")
	}
	if len(opts.Detections) == 0 {
		return errors.New("at least one detections file is required")
	}
	if opts.ReportPath != "" {
		if err := security.ValidateOutputPath(opts.ReportPath); err != nil {
			return fmt.Errorf("report path: %w", err)
		}
	}

	tuning, err := loadTuning(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}
	if err := tuning.Validate(); err != nil {
		return fmt.Errorf("invalid tuning: %w", err)
	}
	zones, err := l3zones.LoadZones(fsutil.OSFileSystem{}, opts.ZonesPath)
	if err != nil {
		return err
	}

	var (
		database *db.DB
		sessions *sqlite.SessionStore
	)
	if opts.DBPath != "" {
		database, err = db.NewDB(opts.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
		sessions = sqlite.NewSessionStore(database.DB, nil)
	}

	if opts.Listen != "" {
		if database == nil {
			return errors.New("-listen needs a database")
		}
		shutdown, err := startAdmin(opts.Listen, database)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	names := streamNames(opts.Detections)
	streams := make([]pipeline.Stream, 0, len(opts.Detections))
	sessionIDs := make([]string, len(opts.Detections))
	for i, path := range opts.Detections {
		src, err := l1detect.OpenJSONLSource(path)
		if err != nil {
			return err
		}
		defer src.Close()
		src.WithConfidenceThreshold(tuning.GetDetectionConfidenceThreshold())

		var sink pipeline.Sink = &pipeline.MemorySink{}
		if sessions != nil {
			sess, err := sessions.Start(ctx, names[i], tuning)
			if err != nil {
				return err
			}
			sessionIDs[i] = sess.SessionID
			sink = sqlite.NewEventStore(database.DB, sess.SessionID)
		}
		streams = append(streams, pipeline.Stream{Name: names[i], Source: src, Sink: sink})
	}

	monitoring.Logf("processing %d streams over %d zones", len(streams), len(zones))
	started := time.Now()
	results, runErr := pipeline.RunStreams(ctx, tuning, zones, streams, opts.Workers)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		monitoring.Logf("interrupted, partial results kept")
		runErr = nil
	}

	if sessions != nil {
		// The run context may already be cancelled; bookkeeping still lands.
		bg := context.WithoutCancel(ctx)
		for i, res := range results {
			if err := sessions.End(bg, sessionIDs[i], res.Stats.Frames, res.Stats.Identities); err != nil {
				return err
			}
			if err := sessions.SaveZoneSummaries(bg, sessionIDs[i], res.Summary); err != nil {
				return err
			}
		}
	}

	printSummaries(out, results)
	monitoring.Logf("finished in %s", time.Since(started).Round(time.Millisecond))

	if opts.ReportPath != "" {
		if err := writeReport(opts.ReportPath, buildReport(results, sessionIDs)); err != nil {
			return err
		}
	}

	if opts.Serve && opts.Listen != "" && ctx.Err() == nil {
		monitoring.Logf("serving admin pages on %s until interrupted", opts.Listen)
		<-ctx.Done()
	}
	return runErr
}

// adminMux mounts the /debug/ pages and the read-only /api/ routes.
func adminMux(database *db.DB) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	api.NewServer(database.DB).AttachRoutes(mux)
	return mux, nil
}

// startAdmin serves adminMux and returns a shutdown func.
func startAdmin(addr string, database *db.DB) (func(), error) {
	mux, err := adminMux(database)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           api.LogRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("admin server: %v", err)
		}
	}()
	monitoring.Logf("admin pages on http://%s/debug/", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("admin server shutdown error: %v", err)
			server.Close()
		}
	}, nil
}

func printSummaries(out io.Writer, results []pipeline.StreamResult) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tZONE\tPEAK\tENTRIES\tEXITS\tAVG DWELL")
	for _, res := range results {
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
			fmt.Fprintf(tw, "%s\t(failed: %v)\t\t\t\t\n", res.Name, res.Err)
			continue
		}
		for _, zs := range res.Summary {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
				res.Name, zs.Name, zs.PeakOccupancy, zs.TotalEntries, zs.TotalExits,
				zs.AverageDwell.Round(100*time.Millisecond))
		}
	}
	tw.Flush()
}

type zoneReport struct {
	ZoneID              int     `json:"zone_id"`
	Name                string  `json:"name"`
	PeakOccupancy       int     `json:"peak_occupancy"`
	TotalEntries        int     `json:"total_entries"`
	TotalExits          int     `json:"total_exits"`
	AverageDwellSeconds float64 `json:"average_dwell_seconds"`
}

type streamReport struct {
	Stream       string       `json:"stream"`
	SessionID    string       `json:"session_id,omitempty"`
	Frames       int64        `json:"frames"`
	Identities   int64        `json:"identities"`
	ZoneEvents   int64        `json:"zone_events"`
	Observations int64        `json:"observations"`
	Dropped      int64        `json:"dropped"`
	Error        string       `json:"error,omitempty"`
	Zones        []zoneReport `json:"zones"`
}

type runReport struct {
	Version string         `json:"version"`
	Streams []streamReport `json:"streams"`
}

func buildReport(results []pipeline.StreamResult, sessionIDs []string) runReport {
	rep := runReport{Version: version.Version, Streams: make([]streamReport, len(results))}
	for i, res := range results {
		sr := streamReport{
			Stream:       res.Name,
			SessionID:    sessionIDs[i],
			Frames:       res.Stats.Frames,
			Identities:   res.Stats.Identities,
			ZoneEvents:   res.Stats.ZoneEvents,
			Observations: res.Stats.Observations,
			Dropped:      res.Stats.Dropped,
			Zones:        make([]zoneReport, len(res.Summary)),
		}
		if res.Err != nil {
			sr.Error = res.Err.Error()
		}
		for j, zs := range res.Summary {
			sr.Zones[j] = zoneReport{
				ZoneID:              zs.ZoneID,
				Name:                zs.Name,
				PeakOccupancy:       zs.PeakOccupancy,
				TotalEntries:        zs.TotalEntries,
				TotalExits:          zs.TotalExits,
				AverageDwellSeconds: zs.AverageDwell.Seconds(),
			}
		}
		rep.Streams[i] = sr
	}
	return rep
}

func writeReport(path string, rep runReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	monitoring.Logf("wrote report to %s", path)
	return nil
}
