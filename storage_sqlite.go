package mediadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS buckets (
	name TEXT PRIMARY KEY
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS entries (
	bucket TEXT NOT NULL,
	key    BLOB NOT NULL,
	value  BLOB NOT NULL,
	PRIMARY KEY (bucket, key)
) WITHOUT ROWID;
`

type sqliteStorage struct {
	sdb  *sql.DB
	path string
}

func openSQLiteStorage(path string, opt Options) (storage, error) {
	sync := "FULL"
	if opt.IsTesting {
		sync = "OFF"
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(%s)",
		path, (5 * time.Second).Milliseconds(), sync)

	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	// One connection serializes writers, matching bolt's single-writer model.
	sdb.SetMaxOpenConns(1)

	if _, err := sdb.Exec(sqliteSchema); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &sqliteStorage{sdb: sdb, path: path}, nil
}

func (s *sqliteStorage) BeginTx(writable bool) (storageTx, error) {
	stx, err := s.sdb.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, err
	}
	return &sqliteStorageTx{s: s, stx: stx, writable: writable}, nil
}

func (s *sqliteStorage) Close() error {
	return s.sdb.Close()
}

type sqliteStorageTx struct {
	s        *sqliteStorage
	stx      *sql.Tx
	writable bool
}

func (tx *sqliteStorageTx) Writable() bool { return tx.writable }

func (tx *sqliteStorageTx) Bucket(name string) storageBucket {
	var found string
	err := tx.stx.QueryRow(`SELECT name FROM buckets WHERE name = ?`, name).Scan(&found)
	if err != nil {
		return nil
	}
	return sqliteBucket{tx: tx, name: name}
}

func (tx *sqliteStorageTx) CreateBucket(name string) (storageBucket, error) {
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	_, err := tx.stx.Exec(`INSERT OR IGNORE INTO buckets (name) VALUES (?)`, name)
	if err != nil {
		return nil, err
	}
	return sqliteBucket{tx: tx, name: name}, nil
}

func (tx *sqliteStorageTx) Commit() error {
	err := tx.stx.Commit()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (tx *sqliteStorageTx) Rollback() error {
	err := tx.stx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (tx *sqliteStorageTx) Size() int64 {
	fi, err := os.Stat(tx.s.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

type sqliteBucket struct {
	tx   *sqliteStorageTx
	name string
}

func (b sqliteBucket) Get(key []byte) ([]byte, error) {
	var v []byte
	err := b.tx.stx.QueryRow(`SELECT value FROM entries WHERE bucket = ? AND key = ?`, b.name, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (b sqliteBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	_, err := b.tx.stx.Exec(`INSERT INTO entries (bucket, key, value) VALUES (?, ?, ?)
		ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value`, b.name, key, value)
	return err
}

func (b sqliteBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	_, err := b.tx.stx.Exec(`DELETE FROM entries WHERE bucket = ? AND key = ?`, b.name, key)
	return err
}

func (b sqliteBucket) ForEach(fn func(k, v []byte) error) error {
	rows, err := b.tx.stx.Query(`SELECT key, value FROM entries WHERE bucket = ? ORDER BY key`, b.name)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (b sqliteBucket) KeyCount() (int, error) {
	var n int
	err := b.tx.stx.QueryRow(`SELECT COUNT(*) FROM entries WHERE bucket = ?`, b.name).Scan(&n)
	return n, err
}
