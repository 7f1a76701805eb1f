package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/andreyvit/mediadb"
)

// config is the optional YAML file given by -config. Flags set on the
// command line take precedence over it.
type config struct {
	DB       string `yaml:"db"`
	Backend  string `yaml:"backend"`
	Encoding string `yaml:"encoding"`
	Journal  string `yaml:"journal"`
	IDs      string `yaml:"ids"`
	LogLevel string `yaml:"log_level"`
	Verbose  bool   `yaml:"verbose"`
}

func defaultConfig() config {
	return config{
		DB:       "media.db",
		Backend:  mediadb.Bolt.String(),
		Encoding: mediadb.JSON.String(),
		LogLevel: "info",
	}
}

// loadConfig overlays the file at path on top of base. Unknown keys are
// rejected so that typos do not go unnoticed.
func loadConfig(path string, base config) (config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c config) options(logger *slog.Logger) (mediadb.Options, error) {
	backend, err := mediadb.ParseBackend(c.Backend)
	if err != nil {
		return mediadb.Options{}, err
	}
	enc, err := mediadb.ParseEncoding(c.Encoding)
	if err != nil {
		return mediadb.Options{}, err
	}
	ids, err := mediadb.ParseIDSupplier(c.IDs)
	if err != nil {
		return mediadb.Options{}, err
	}
	return mediadb.Options{
		Backend:    backend,
		IDs:        ids,
		Encoding:   enc,
		JournalDir: c.Journal,
		Logger:     logger,
		Verbose:    c.Verbose,
	}, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
