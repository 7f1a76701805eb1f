package mediadb

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyvit/mediadb/changelog"
)

const (
	broadcastCollection = "broadcast"
	vodCollection       = "vod"
)

// JournalFileName is the segment name pattern of the journal kept in
// Options.JournalDir.
const JournalFileName = "mediadb-*.log"

// DB is an open store holding the broadcast and VOD collections. It is safe
// for concurrent use.
type DB struct {
	st      storage
	enc     EncodingMethod
	ids     IDSupplier
	now     func() time.Time
	logger  *slog.Logger
	verbose bool

	broadcasts *OrderedMap
	vods       *OrderedMap

	onChange func(chg Change)
	journal  *changelog.Log

	closeOnce sync.Once
	closed    atomic.Bool

	ReadCount     atomic.Uint64
	WriteCount    atomic.Uint64
	FailureCount  atomic.Uint64
	NotFoundCount atomic.Uint64
}

type Options struct {
	Backend  Backend
	Encoding EncodingMethod

	// IDs generates keys for new records. Defaults to NumericIDs{}.
	IDs IDSupplier

	Logger  *slog.Logger
	Verbose bool

	// OnChange is called after every committed mutation, in commit order
	// per collection. It runs after the collection's write lock is released
	// and may write to the store; changes committed meanwhile by other
	// goroutines may be delivered on the goroutine already delivering.
	OnChange func(chg Change)

	// JournalDir, if set, enables an append-only journal of committed
	// changes in that directory.
	JournalDir string

	Now       func() time.Time
	IsTesting bool
	MmapSize  int
}

// Open opens (creating if needed) the store at path. Bolt and SQLite stores
// are single files, Badger stores are directories.
func Open(path string, opt Options) (*DB, error) {
	st, err := openStorage(path, opt)
	if err != nil {
		return nil, fmt.Errorf("mediadb: %v: %w", opt.Backend, err)
	}
	db, err := openWithStorage(st, opt)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return db, nil
}

func openWithStorage(st storage, opt Options) (*DB, error) {
	if opt.IDs == nil {
		opt.IDs = NumericIDs{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}

	err := update(st, func(tx storageTx) error {
		for _, name := range []string{broadcastCollection, vodCollection} {
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("creating %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mediadb: %w", err)
	}

	db := &DB{
		st:         st,
		enc:        opt.Encoding,
		ids:        opt.IDs,
		now:        opt.Now,
		logger:     opt.Logger,
		verbose:    opt.Verbose,
		broadcasts: newOrderedMap(broadcastCollection, st),
		vods:       newOrderedMap(vodCollection, st),
		onChange:   opt.OnChange,
	}

	if opt.JournalDir != "" {
		db.journal, err = changelog.Open(opt.JournalDir, changelog.Options{
			FileName: JournalFileName,
			Logger:   opt.Logger,
			Now:      opt.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("mediadb: journal: %w", err)
		}
	}

	db.broadcasts.afterCommit = db.committed
	db.vods.afterCommit = db.committed
	return db, nil
}

// Close releases the underlying store. Every successful operation has
// already committed, so Close has nothing to flush.
func (db *DB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		db.closed.Store(true)
		if db.journal != nil {
			err = db.journal.Close()
		}
		err = errors.Join(err, db.st.Close())
	})
	return err
}

// Broadcasts exposes the raw broadcast collection for tooling and tests.
//
// Direct Put, Replace and Remove calls bypass the write lock the DB methods
// take: a concurrent DB write may commit them, or roll them back on failure.
// Wrap direct mutations in OrderedMap.Update to serialize them with the DB.
func (db *DB) Broadcasts() *OrderedMap {
	return db.broadcasts
}

// Vods exposes the raw VOD collection, with the same caveats as Broadcasts.
func (db *DB) Vods() *OrderedMap {
	return db.vods
}

func (db *DB) Encoding() EncodingMethod {
	return db.enc
}

// Size returns the size of the store in bytes, if the backend knows it.
func (db *DB) Size() (int64, error) {
	if db.closed.Load() {
		return 0, ErrClosed
	}
	var n int64
	err := view(db.st, func(tx storageTx) error {
		n = tx.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mediadb: size: %w", err)
	}
	return n, nil
}

func (db *DB) committed(changes []Change) {
	if db.journal != nil {
		for _, chg := range changes {
			err := db.journal.Append(changelog.Record{
				Op:         chg.Op.String(),
				Collection: chg.Collection,
				Key:        chg.Key,
				Doc:        chg.Doc,
			})
			if err != nil {
				db.logger.Error("mediadb: journal append failed", "change", chg.String(), "err", err)
			}
		}
		if err := db.journal.Commit(); err != nil {
			db.logger.Error("mediadb: journal commit failed", "err", err)
		}
	}
	if db.onChange != nil {
		for _, chg := range changes {
			db.onChange(chg)
		}
	}
}

// run executes a facade operation, turning panics into errors and logging
// failures other than missing records.
func (db *DB) run(op string, write bool, f func() error) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if write {
		db.WriteCount.Add(1)
	} else {
		db.ReadCount.Add(1)
	}
	err := safelyCall(f)
	switch {
	case err == nil:
		if db.verbose && write {
			db.logger.Debug("mediadb: op", "op", op)
		}
	case IsNotFound(err):
		db.NotFoundCount.Add(1)
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrDuplicateKey):
		db.logger.Warn("mediadb: rejected", "op", op, "err", err)
	default:
		db.FailureCount.Add(1)
		db.logger.Error("mediadb: failed", "op", op, "err", err)
	}
	return err
}

func (db *DB) encode(obj any) ([]byte, error) {
	return db.enc.Encode(obj)
}

func (db *DB) nowMillis() int64 {
	return db.now().UnixMilli()
}
