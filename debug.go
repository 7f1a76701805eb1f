package mediadb

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders both collections for debugging. Documents are always shown
// as JSON, whatever the store encoding; undecodable ones are reported inline.
func (db *DB) Dump(f DumpFlags) (string, error) {
	var buf strings.Builder
	if f.Contains(DumpStats) {
		s, err := db.Stats()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&buf, "stats: broadcasts = %d, cameras = %d, vods = %d, undecodable = %d, size = %d, reads = %d, writes = %d, failures = %d\n",
			s.Broadcasts, s.Cameras, s.Vods, s.Undecodable, s.Size, s.Reads, s.Writes, s.Failures)
	}
	err := dumpCollection[Broadcast](&buf, db, f, db.broadcasts)
	if err != nil {
		return "", err
	}
	err = dumpCollection[Vod](&buf, db, f, db.vods)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func dumpCollection[T any](w *strings.Builder, db *DB, f DumpFlags, m *OrderedMap) error {
	entries, err := m.Entries()
	if err != nil {
		return err
	}
	if f.Contains(DumpHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d rows)\n", m.Name(), len(entries))
	}
	if f.Contains(DumpRows) {
		if f.Contains(DumpHeaders) {
			fmt.Fprintln(w, dumpSep2)
		}
		for i, e := range entries {
			v, err := decodeDoc[T](db.enc, e.Value)
			if err != nil {
				fmt.Fprintf(w, "%s.%d %s ** ERROR: %v\n", m.Name(), i+1, e.Key, err)
				continue
			}
			fmt.Fprintf(w, "%s.%d %s = %s\n", m.Name(), i+1, e.Key, must(json.Marshal(v)))
		}
	}
	return nil
}
