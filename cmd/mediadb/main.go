// Command mediadb inspects and maintains a media metadata store.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/mediadb"
	"github.com/andreyvit/mediadb/changelog"
)

const usage = `Usage: mediadb [flags] <command> [args]

Commands:
  stats                          record counts and store size
  metrics                        the same as Prometheus text exposition
  dump                           every record of both collections
  list broadcasts|vods [offset] [size]
  cameras [ip]                   all cameras, or the camera with the given IP
  get <id>                       a broadcast or VOD by id
  reset-status                   move broadcasting streams back to created
  journal                        committed changes recorded in the journal

Flags:
`

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "mediadb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	cfg := defaultConfig()
	configPath := flag.String("config", "", "YAML config file")
	dbPath := flag.String("db", cfg.DB, "Store file (bolt, sqlite) or directory (badger)")
	backend := flag.String("backend", cfg.Backend, "Storage backend (bolt, badger, sqlite)")
	encoding := flag.String("encoding", cfg.Encoding, "Document encoding (json, msgpack)")
	journal := flag.String("journal", "", "Journal directory")
	ids := flag.String("ids", "numeric", "Id generator for new records (numeric, uuid, sortable)")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	verbose := flag.Bool("v", false, "Log every mutation")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *configPath != "" {
		var err error
		cfg, err = loadConfig(*configPath, cfg)
		if err != nil {
			return err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *dbPath
		case "backend":
			cfg.Backend = *backend
		case "encoding":
			cfg.Encoding = *encoding
		case "journal":
			cfg.Journal = *journal
		case "ids":
			cfg.IDs = *ids
		case "log-level":
			cfg.LogLevel = *logLevel
		case "v":
			cfg.Verbose = *verbose
		}
	})

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("no command given")
	}
	cmd, args := args[0], args[1:]

	if cmd == "journal" {
		if cfg.Journal == "" {
			return fmt.Errorf("journal: -journal directory not configured")
		}
		return printJournal(os.Stdout, cfg.Journal, logger)
	}

	opt, err := cfg.options(logger)
	if err != nil {
		return err
	}
	db, err := mediadb.Open(cfg.DB, opt)
	if err != nil {
		return err
	}
	defer db.Close()

	return run(os.Stdout, db, cmd, args)
}

func run(w io.Writer, db *mediadb.DB, cmd string, args []string) error {
	switch cmd {
	case "stats":
		s, err := db.Stats()
		if err != nil {
			return err
		}
		return yaml.NewEncoder(w).Encode(s)

	case "metrics":
		reg := prometheus.NewRegistry()
		if err := reg.Register(db.Collector()); err != nil {
			return err
		}
		mfs, err := reg.Gather()
		if err != nil {
			return err
		}
		for _, mf := range mfs {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				return err
			}
		}
		return nil

	case "dump":
		out, err := db.Dump(mediadb.DumpAll)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err

	case "list":
		if len(args) < 1 {
			return fmt.Errorf("list: specify broadcasts or vods")
		}
		offset, size, err := pageArgs(args[1:])
		if err != nil {
			return err
		}
		var list any
		switch args[0] {
		case "broadcasts":
			list, err = db.BroadcastList(offset, size)
		case "vods":
			list, err = db.VodList(offset, size)
		default:
			return fmt.Errorf("list: unknown collection %q", args[0])
		}
		if err != nil {
			return err
		}
		return writeJSON(w, list)

	case "cameras":
		if len(args) > 0 {
			cam, err := db.Camera(args[0])
			if err != nil {
				return err
			}
			if cam == nil {
				return fmt.Errorf("no camera with IP %s", args[0])
			}
			return writeJSON(w, cam)
		}
		cams, err := db.CameraList()
		if err != nil {
			return err
		}
		return writeJSON(w, cams)

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("get: specify one id")
		}
		b, err := db.Get(args[0])
		if err != nil {
			return err
		}
		if b != nil {
			return writeJSON(w, b)
		}
		v, err := db.GetVod(args[0])
		if err != nil {
			return err
		}
		if v != nil {
			return writeJSON(w, v)
		}
		return fmt.Errorf("%s: %w", args[0], mediadb.ErrNotFound)

	case "reset-status":
		n, err := db.ResetBroadcastStatus()
		fmt.Fprintf(w, "reset %d broadcasts\n", n)
		return err

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func pageArgs(args []string) (offset, size int, err error) {
	size = mediadb.MaxPageSize
	if len(args) > 0 {
		if offset, err = strconv.Atoi(args[0]); err != nil {
			return 0, 0, fmt.Errorf("invalid offset %q", args[0])
		}
	}
	if len(args) > 1 {
		if size, err = strconv.Atoi(args[1]); err != nil {
			return 0, 0, fmt.Errorf("invalid size %q", args[1])
		}
	}
	return offset, size, nil
}

func printJournal(w io.Writer, dir string, logger *slog.Logger) error {
	recs, err := changelog.ReadAll(dir, changelog.Options{FileName: mediadb.JournalFileName, Logger: logger})
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Fprintf(w, "%s %-6s %s/%s (%d bytes)\n", r.Time.Format(time.DateTime), r.Op, r.Collection, r.Key, len(r.Doc))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
