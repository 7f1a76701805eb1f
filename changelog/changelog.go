// Package changelog implements an append-only log of committed store
// changes, split into segment files.
//
// Features:
//
//  1. Crash-resistant (if followed by Commit). Every commit ends with an
//     xxhash checksum of everything written to the segment so far; records
//     not covered by a valid checksum are ignored when reading.
//
//  2. Automatically starts a new segment when the current one reaches
//     MaxFileSize, and on every Open. Segments are never rewritten.
//
// File format:
//
//   - file = segmentHeader (record* commit)*
//   - segmentHeader = magic:64 version:8 pad:8 flags:16 pad:32 segmentOrdinal:32 timestamp:32 reserved:64*4 checksum:64
//   - record = size<<1:uvarint tsDelta:uvarint payload:msgpack
//   - commit = checksum:64, with the lowest bit of the first byte set
package changelog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnsupportedVersion = fmt.Errorf("unsupported changelog version")
	ErrClosed             = fmt.Errorf("changelog closed")
	errCorruptedFile      = fmt.Errorf("corrupted changelog segment file")
)

// Record is one committed change.
type Record struct {
	Time       time.Time `msgpack:"-"`
	Op         string    `msgpack:"o"`
	Collection string    `msgpack:"c"`
	Key        string    `msgpack:"k"`
	Doc        []byte    `msgpack:"d,omitempty"`
}

type Options struct {
	FileName    string // e.g. "mydb-*.log"
	MaxFileSize int64  // new segment after this size
	Now         func() time.Time
	Logger      *slog.Logger
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x474f4c474e414843 // "CHANGLOG" as little-endian uint64
	version0 uint8 = 0

	segmentHeaderSize = 8 * 8
	commitSize        = 8
	maxRecordSize     = 64 * 1024 * 1024

	recordFlagCommit byte = 1
	recordFlagShift       = 1
	timestampFmt          = "20060102T150405"
)

type segmentHeader struct {
	Magic          uint64
	Version        uint8
	_              uint8
	Flags          uint16
	_              uint32
	SegmentOrdinal uint32
	Timestamp      uint32
	_              [4]uint64
	Checksum       uint64
}

// Log is an open changelog directory. It is safe for concurrent use.
type Log struct {
	dir            string
	fileNamePrefix string
	fileNameSuffix string
	maxFileSize    int64
	now            func() time.Time
	logger         *slog.Logger

	writeLock sync.Mutex
	closed    bool
	writeSeg  uint32
	writeRec  uint64
	segWriter *segmentWriter
}

func (o *Options) setDefaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Open prepares dir (creating it if needed) for appending. The first Append
// starts a new segment after the last existing one.
func Open(dir string, o Options) (*Log, error) {
	o.setDefaults()
	prefix, suffix, _ := strings.Cut(o.FileName, "*")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	l := &Log{
		dir:            dir,
		fileNamePrefix: prefix,
		fileNameSuffix: suffix,
		maxFileSize:    o.MaxFileSize,
		now:            o.Now,
		logger:         o.Logger,
	}

	names, err := segmentNames(dir, prefix, suffix)
	if err != nil {
		return nil, err
	}
	if n := len(names); n > 0 {
		seq, _, rec, err := parseSegmentName(prefix, suffix, names[n-1])
		if err != nil {
			return nil, err
		}
		l.writeSeg = seq
		l.writeRec = rec
	}
	return l, nil
}

func (l *Log) String() string {
	return l.dir
}

func (l *Log) timestamp() uint32 {
	v := l.now().Unix()
	if v < 0 || uint64(v)&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed")
	}
	return uint32(v)
}

// Append writes a record. It becomes durable with the next Commit.
func (l *Log) Append(rec Record) error {
	payload, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("changelog: encode: %w", err)
	}

	l.writeLock.Lock()
	defer l.writeLock.Unlock()
	if l.closed {
		return ErrClosed
	}

	ts := l.timestamp()
	l.writeRec++

	if l.segWriter == nil {
		l.writeSeg++
		sw, err := startSegment(l, l.writeSeg, ts, l.writeRec)
		if err != nil {
			return l.fail(err)
		}
		l.segWriter = sw
	}
	return l.fail(l.segWriter.writeRecord(ts, payload))
}

// Commit seals the records appended since the previous Commit with a
// checksum and syncs the segment to disk.
func (l *Log) Commit() error {
	l.writeLock.Lock()
	defer l.writeLock.Unlock()
	if l.segWriter == nil {
		return nil
	}
	err := l.segWriter.commit()
	if err != nil {
		return l.fail(err)
	}
	if l.segWriter.size >= l.maxFileSize {
		l.segWriter.close()
		l.segWriter = nil
	}
	return nil
}

func (l *Log) Close() error {
	l.writeLock.Lock()
	defer l.writeLock.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.segWriter == nil {
		return nil
	}
	err := l.segWriter.commit()
	l.segWriter.close()
	l.segWriter = nil
	return err
}

// fail drops the current segment after a write error; the next Append starts
// a fresh one, and readers ignore the unsealed tail.
func (l *Log) fail(err error) error {
	if err == nil {
		return nil
	}
	l.logger.Error("changelog: write failed", "dir", l.dir, "err", err)
	if l.segWriter != nil {
		l.segWriter.close()
		l.segWriter = nil
	}
	return err
}

type segmentWriter struct {
	f           *os.File
	ts          uint32
	size        int64
	hash        xxhash.Digest
	uncommitted bool
}

func startSegment(l *Log, seg, ts uint32, rec uint64) (*segmentWriter, error) {
	name := formatSegmentName(l.fileNamePrefix, l.fileNameSuffix, seg, ts, rec)
	f, err := os.OpenFile(filepath.Join(l.dir, name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}

	sw := &segmentWriter{
		f:    f,
		ts:   ts,
		size: segmentHeaderSize,
	}
	sw.hash.Reset()

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], seg, ts, &sw.hash)
	if _, err := f.Write(hbuf[:]); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return sw, nil
}

const maxRecHeaderLen = binary.MaxVarintLen64 + binary.MaxVarintLen32

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}
	sw.uncommitted = true

	var hbuf [maxRecHeaderLen]byte
	h := appendRecordHeader(hbuf[:0], len(data), tsDelta)

	buf := make([]byte, 0, len(h)+len(data))
	buf = append(append(buf, h...), data...)
	sw.hash.Write(buf)
	n, err := sw.f.Write(buf)
	sw.size += int64(n)
	return err
}

func (sw *segmentWriter) commit() error {
	if !sw.uncommitted {
		return nil
	}
	sw.uncommitted = false

	var buf [commitSize]byte
	binary.LittleEndian.PutUint64(buf[:], sw.hash.Sum64())
	buf[0] |= recordFlagCommit

	sw.hash.Write(buf[:])
	n, err := sw.f.Write(buf[:])
	sw.size += int64(n)
	if err != nil {
		return err
	}
	return datasync(sw.f)
}

func (sw *segmentWriter) close() {
	if sw.f == nil {
		return
	}
	sw.f.Close()
	sw.f = nil
}

func fillSegmentHeader(buf []byte, seg, ts uint32, hash *xxhash.Digest) {
	h := segmentHeader{
		Magic:          magic,
		Version:        version0,
		SegmentOrdinal: seg,
		Timestamp:      ts,
	}
	n, err := binary.Encode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	hash.Write(buf[:segmentHeaderSize-8])
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], hash.Sum64())
	hash.Write(buf[segmentHeaderSize-8 : segmentHeaderSize])
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = binary.AppendUvarint(b, uint64(size)<<recordFlagShift)
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

// ReadAll returns the committed records of every segment in dir, oldest
// first. Unsealed or corrupted tails of segments are skipped.
func ReadAll(dir string, o Options) ([]Record, error) {
	o.setDefaults()
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	names, err := segmentNames(dir, prefix, suffix)
	if err != nil {
		return nil, err
	}

	var result []Record
	for _, name := range names {
		seq, _, _, err := parseSegmentName(prefix, suffix, name)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		recs, err := readSegment(data, seq)
		if errors.Is(err, errCorruptedFile) {
			o.Logger.Warn("changelog: ignoring corrupted tail", "file", name, "records", len(recs))
		} else if err != nil {
			return nil, fmt.Errorf("changelog: %s: %w", name, err)
		}
		result = append(result, recs...)
	}
	return result, nil
}

func readSegment(data []byte, expectedSeq uint32) ([]Record, error) {
	if len(data) < segmentHeaderSize {
		return nil, errCorruptedFile
	}
	var h segmentHeader
	if _, err := binary.Decode(data[:segmentHeaderSize], binary.LittleEndian, &h); err != nil {
		return nil, errCorruptedFile
	}
	if h.Magic != magic || h.SegmentOrdinal != expectedSeq {
		return nil, errCorruptedFile
	}
	if xxhash.Sum64(data[:segmentHeaderSize-8]) != h.Checksum {
		return nil, errCorruptedFile
	}
	if h.Version > version0 {
		return nil, ErrUnsupportedVersion
	}

	var hash xxhash.Digest
	hash.Reset()
	hash.Write(data[:segmentHeaderSize])

	var committed, pending []Record
	ts := h.Timestamp
	r := bytes.NewReader(data[segmentHeaderSize:])
	off := segmentHeaderSize
	for {
		first, err := r.ReadByte()
		if err == io.EOF {
			return committed, nil
		} else if err != nil {
			return committed, errCorruptedFile
		}
		r.UnreadByte()

		if first&recordFlagCommit != 0 {
			var buf [commitSize]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return committed, errCorruptedFile
			}
			var want [commitSize]byte
			binary.LittleEndian.PutUint64(want[:], hash.Sum64())
			want[0] |= recordFlagCommit
			if buf != want {
				return committed, errCorruptedFile
			}
			hash.Write(buf[:])
			off += commitSize
			committed = append(committed, pending...)
			pending = pending[:0]
			continue
		}

		sizeAndFlags, err := binary.ReadUvarint(r)
		if err != nil {
			return committed, errCorruptedFile
		}
		tsDelta, err := binary.ReadUvarint(r)
		if err != nil || tsDelta > 0xFFFF_FFFF {
			return committed, errCorruptedFile
		}
		size := sizeAndFlags >> recordFlagShift
		if size > maxRecordSize || size > uint64(r.Len()) {
			return committed, errCorruptedFile
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return committed, errCorruptedFile
		}
		end := len(data) - r.Len()
		hash.Write(data[off:end])
		off = end

		var rec Record
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			return committed, errCorruptedFile
		}
		ts += uint32(tsDelta)
		rec.Time = time.Unix(int64(ts), 0).UTC()
		pending = append(pending, rec)
	}
}

func segmentNames(dir, prefix, suffix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func formatSegmentName(prefix, suffix string, seq, ts uint32, rec uint64) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, seq, t.Format(timestampFmt), rec, suffix)
}

func parseSegmentName(prefix, suffix, name string) (seq, ts uint32, rec uint64, err error) {
	s, ok := strings.CutPrefix(name, prefix)
	if ok {
		s, ok = strings.CutSuffix(s, suffix)
	}
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}

	seqStr, rem, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)

	tsStr, recStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())

	rec, err = strconv.ParseUint(recStr, 16, 64)
	if err != nil {
		return seq, ts, 0, fmt.Errorf("invalid segment file name %q (invalid record identifier)", name)
	}
	return
}
