package mediadb

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// Badger has no buckets. A bucket is a key prefix, and its existence is
// recorded under a marker key in the reserved meta namespace.
const (
	badgerBucketSep  = "\x00"
	badgerMetaPrefix = "\x00meta" + badgerBucketSep
)

type badgerStorage struct {
	bdb *badger.DB
}

func openBadgerStorage(path string, opt Options) (storage, error) {
	bopt := badger.DefaultOptions(path).WithLogger(nil)
	if opt.IsTesting {
		bopt = bopt.WithSyncWrites(false).WithNumVersionsToKeep(1)
	} else {
		bopt = bopt.WithSyncWrites(true)
	}
	if path == "" {
		bopt = bopt.WithInMemory(true)
	}
	bdb, err := badger.Open(bopt)
	if err != nil {
		return nil, err
	}
	return &badgerStorage{bdb: bdb}, nil
}

func (s *badgerStorage) BeginTx(writable bool) (storageTx, error) {
	if s.bdb.IsClosed() {
		return nil, ErrClosed
	}
	return &badgerStorageTx{s: s, txn: s.bdb.NewTransaction(writable), writable: writable}, nil
}

func (s *badgerStorage) Close() error {
	return s.bdb.Close()
}

type badgerStorageTx struct {
	s        *badgerStorage
	txn      *badger.Txn
	writable bool
	done     bool
}

func (tx *badgerStorageTx) Writable() bool { return tx.writable }

func (tx *badgerStorageTx) Bucket(name string) storageBucket {
	_, err := tx.txn.Get([]byte(badgerMetaPrefix + name))
	if err != nil {
		return nil
	}
	return badgerBucket{tx: tx, prefix: []byte(name + badgerBucketSep)}
}

func (tx *badgerStorageTx) CreateBucket(name string) (storageBucket, error) {
	if b := tx.Bucket(name); b != nil {
		return b, nil
	}
	err := tx.txn.Set([]byte(badgerMetaPrefix+name), []byte{1})
	if err != nil {
		return nil, err
	}
	return badgerBucket{tx: tx, prefix: []byte(name + badgerBucketSep)}, nil
}

func (tx *badgerStorageTx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.txn.Commit()
}

func (tx *badgerStorageTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.txn.Discard()
	return nil
}

func (tx *badgerStorageTx) Size() int64 {
	lsm, vlog := tx.s.bdb.Size()
	return lsm + vlog
}

type badgerBucket struct {
	tx     *badgerStorageTx
	prefix []byte
}

func (b badgerBucket) key(k []byte) []byte {
	full := make([]byte, 0, len(b.prefix)+len(k))
	full = append(full, b.prefix...)
	return append(full, k...)
}

func (b badgerBucket) Get(key []byte) ([]byte, error) {
	item, err := b.tx.txn.Get(b.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	v, err := item.ValueCopy(nil)
	if err == nil && v == nil {
		v = []byte{}
	}
	return v, err
}

func (b badgerBucket) Put(key, value []byte) error {
	return b.tx.txn.Set(b.key(key), value)
}

func (b badgerBucket) Delete(key []byte) error {
	return b.tx.txn.Delete(b.key(key))
}

func (b badgerBucket) ForEach(fn func(k, v []byte) error) error {
	it := b.tx.txn.NewIterator(badger.IteratorOptions{
		PrefetchValues: true,
		PrefetchSize:   100,
		Prefix:         b.prefix,
	})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.Key()[len(b.prefix):], v); err != nil {
			return err
		}
	}
	return nil
}

func (b badgerBucket) KeyCount() (int, error) {
	it := b.tx.txn.NewIterator(badger.IteratorOptions{Prefix: b.prefix})
	defer it.Close()
	var n int
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n, nil
}
