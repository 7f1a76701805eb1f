package mediadb

import (
	"errors"
	"fmt"
)

// ErrBucketNotFound is returned when a transaction references a bucket that
// has not been created.
var ErrBucketNotFound = errors.New("bucket not found")

// Backend selects the key-value engine a DB is stored in.
type Backend int

const (
	// Bolt keeps the store in a single bbolt file. This is the default.
	Bolt Backend = iota
	// Badger keeps the store in a Badger directory, with buckets simulated by
	// key prefixes.
	Badger
	// SQLite keeps the store in a single SQLite file.
	SQLite
	// Memory keeps the store in memory only; nothing survives Close.
	Memory
)

func (b Backend) String() string {
	switch b {
	case Bolt:
		return "bolt"
	case Badger:
		return "badger"
	case SQLite:
		return "sqlite"
	case Memory:
		return "memory"
	default:
		return fmt.Sprintf("invalid backend %d", int(b))
	}
}

// ParseBackend is the inverse of Backend.String.
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "", "bolt":
		return Bolt, nil
	case "badger":
		return Badger, nil
	case "sqlite":
		return SQLite, nil
	case "memory":
		return Memory, nil
	default:
		return 0, fmt.Errorf("%w: unknown backend %q", ErrInvalidArgument, s)
	}
}

// storage represents a key-value storage backend (Bolt, Badger, SQLite, in-memory).
type storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns a bucket, or nil if the bucket doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times,
	// including after Commit.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

// storageBucket represents a bucket (sorted key-value collection). Byte
// slices returned by a bucket are only valid until the transaction ends.
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) ([]byte, error)

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// ForEach calls fn for every pair in ascending key order, stopping at the
	// first error.
	ForEach(fn func(k, v []byte) error) error

	// KeyCount returns the number of keys in the bucket.
	KeyCount() (int, error)
}

func openStorage(path string, opt Options) (storage, error) {
	switch opt.Backend {
	case Bolt:
		return openBoltStorage(path, opt)
	case Badger:
		return openBadgerStorage(path, opt)
	case SQLite:
		return openSQLiteStorage(path, opt)
	case Memory:
		return newMemStorage(), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, opt.Backend)
	}
}
