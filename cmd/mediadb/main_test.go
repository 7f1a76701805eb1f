package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andreyvit/mediadb"
)

func writeFile(t testing.TB, name, content string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(fn, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return fn
}

func TestLoadConfig(t *testing.T) {
	fn := writeFile(t, "mediadb.yaml", `
db: /var/lib/media/store
backend: badger
encoding: msgpack
journal: /var/lib/media/journal
ids: sortable
`)
	cfg, err := loadConfig(fn, defaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	want := config{
		DB:       "/var/lib/media/store",
		Backend:  "badger",
		Encoding: "msgpack",
		Journal:  "/var/lib/media/journal",
		IDs:      "sortable",
		LogLevel: "info",
	}
	if cfg != want {
		t.Errorf("** got %+v, wanted %+v", cfg, want)
	}

	opt, err := cfg.options(slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if opt.Backend != mediadb.Badger || opt.Encoding != mediadb.MsgPack || opt.JournalDir != want.Journal || opt.IDs != (mediadb.SortableIDs{}) {
		t.Errorf("** options = %+v", opt)
	}
}

func TestLoadConfig_empty(t *testing.T) {
	cfg, err := loadConfig(writeFile(t, "empty.yaml", ""), defaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if cfg != defaultConfig() {
		t.Errorf("** got %+v, wanted defaults", cfg)
	}
}

func TestLoadConfig_errors(t *testing.T) {
	if _, err := loadConfig(writeFile(t, "typo.yaml", "bakend: bolt\n"), defaultConfig()); err == nil {
		t.Errorf("** unknown key accepted")
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), defaultConfig()); err == nil {
		t.Errorf("** missing file accepted")
	}

	cfg := defaultConfig()
	cfg.Backend = "leveldb"
	if _, err := cfg.options(slog.Default()); err == nil {
		t.Errorf("** unknown backend accepted")
	}
	cfg = defaultConfig()
	cfg.IDs = "serial"
	if _, err := cfg.options(slog.Default()); err == nil {
		t.Errorf("** unknown id supplier accepted")
	}
	cfg = defaultConfig()
	cfg.Encoding = "xml"
	if _, err := cfg.options(slog.Default()); err == nil {
		t.Errorf("** unknown encoding accepted")
	}
}

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]slog.Level{"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn, "error": slog.LevelError} {
		got, err := parseLevel(s)
		if err != nil || got != want {
			t.Errorf("** parseLevel(%q) = %v, %v; wanted %v", s, got, err, want)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Errorf("** parseLevel(loud) succeeded")
	}
}

func TestRun(t *testing.T) {
	journal := t.TempDir()
	db, err := mediadb.Open(filepath.Join(t.TempDir(), "media.db"), mediadb.Options{
		IsTesting:  true,
		JournalDir: journal,
		Logger:     slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Save(&mediadb.Broadcast{StreamID: "live1", Name: "Morning", Status: mediadb.StatusBroadcasting}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddCamera(&mediadb.Broadcast{Name: "Door", IPAddr: "10.1.1.1"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		args    []string
		want    string
		wantErr bool
	}{
		{[]string{"stats"}, "broadcasts: 2", false},
		{[]string{"metrics"}, `mediadb_records{collection="camera"} 1`, false},
		{[]string{"dump"}, "broadcast (2 rows)", false},
		{[]string{"list", "broadcasts"}, `"streamId": "live1"`, false},
		{[]string{"list", "vods", "0", "5"}, "[]", false},
		{[]string{"list", "things"}, "", true},
		{[]string{"list", "broadcasts", "x"}, "", true},
		{[]string{"cameras"}, `"ipAddr": "10.1.1.1"`, false},
		{[]string{"cameras", "10.1.1.1"}, `"name": "Door"`, false},
		{[]string{"cameras", "10.9.9.9"}, "", true},
		{[]string{"get", "live1"}, `"name": "Morning"`, false},
		{[]string{"get", "nope"}, "", true},
		{[]string{"reset-status"}, "reset 1 broadcasts", false},
		{[]string{"frobnicate"}, "", true},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		err := run(&buf, db, tt.args[0], tt.args[1:])
		if (err != nil) != tt.wantErr {
			t.Errorf("** %v: err = %v, wanted error %v", tt.args, err, tt.wantErr)
			continue
		}
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("** %v: output lacks %q; got:\n%s", tt.args, tt.want, buf.String())
		}
	}

	var buf bytes.Buffer
	if err := printJournal(&buf, journal, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "put    broadcast/live1") {
		t.Errorf("** journal output lacks the first save; got:\n%s", buf.String())
	}
}
