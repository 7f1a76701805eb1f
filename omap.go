package mediadb

import (
	"slices"
	"strings"
	"sync"
)

// OrderedMap is a durable, key-ordered mapping from string keys to encoded
// documents, stored in one bucket of the underlying storage.
//
// Put, Replace and Remove only record pending mutations in memory; they are
// visible to reads on this map right away, but become durable only when
// Commit returns successfully. Rollback drops them.
type OrderedMap struct {
	name string
	st   storage

	writeMu sync.Mutex // held by Update for a whole mutate-and-commit sequence

	mu      sync.Mutex // guards pending, held for the duration of a commit
	pending map[string]pendingOp

	afterCommit func(changes []Change)

	deliverMu  sync.Mutex // guards queue and delivering
	queue      []Change
	delivering bool
}

type pendingOp struct {
	value   []byte
	deleted bool
}

// KV is one entry returned by Entries.
type KV struct {
	Key   string
	Value []byte
}

func newOrderedMap(name string, st storage) *OrderedMap {
	return &OrderedMap{
		name:    name,
		st:      st,
		pending: make(map[string]pendingOp),
	}
}

func (m *OrderedMap) Name() string {
	return m.name
}

func (m *OrderedMap) pendingLookup(key string) (pendingOp, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, found := m.pending[key]
	return op, found
}

func (m *OrderedMap) pendingSnapshot() map[string]pendingOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	snap := make(map[string]pendingOp, len(m.pending))
	for k, op := range m.pending {
		snap[k] = op
	}
	return snap
}

func (m *OrderedMap) setPending(key string, op pendingOp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[key] = op
}

func (m *OrderedMap) bucket(tx storageTx) (storageBucket, error) {
	b := tx.Bucket(m.name)
	if b == nil {
		return nil, storageErrf(m.name, "", ErrBucketNotFound, "open bucket")
	}
	return b, nil
}

func (m *OrderedMap) getStored(key string) ([]byte, error) {
	var value []byte
	err := view(m.st, func(tx storageTx) error {
		b, err := m.bucket(tx)
		if err != nil {
			return err
		}
		v, err := b.Get([]byte(key))
		if err != nil {
			return err
		}
		value = slices.Clone(v)
		return nil
	})
	if err != nil {
		return nil, storageErrf(m.name, key, err, "get")
	}
	return value, nil
}

// Get returns the document stored under key, or nil if there is none.
func (m *OrderedMap) Get(key string) ([]byte, error) {
	if op, found := m.pendingLookup(key); found {
		if op.deleted {
			return nil, nil
		}
		return slices.Clone(op.value), nil
	}
	return m.getStored(key)
}

func (m *OrderedMap) ContainsKey(key string) (bool, error) {
	v, err := m.Get(key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// Put stores doc under key, inserting or overwriting.
func (m *OrderedMap) Put(key string, doc []byte) {
	if doc == nil {
		doc = []byte{}
	}
	m.setPending(key, pendingOp{value: slices.Clone(doc)})
}

// Replace overwrites the document under key. It returns false and changes
// nothing if key is absent.
func (m *OrderedMap) Replace(key string, doc []byte) (bool, error) {
	found, err := m.ContainsKey(key)
	if err != nil || !found {
		return false, err
	}
	m.Put(key, doc)
	return true, nil
}

// Remove deletes key. It returns false if key is absent.
func (m *OrderedMap) Remove(key string) (bool, error) {
	found, err := m.ContainsKey(key)
	if err != nil || !found {
		return false, err
	}
	m.setPending(key, pendingOp{deleted: true})
	return true, nil
}

// Entries returns a snapshot of all entries in ascending key order,
// including pending mutations.
func (m *OrderedMap) Entries() ([]KV, error) {
	pending := m.pendingSnapshot()

	var result []KV
	err := view(m.st, func(tx storageTx) error {
		b, err := m.bucket(tx)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			key := string(k)
			if _, found := pending[key]; found {
				return nil
			}
			result = append(result, KV{key, slices.Clone(v)})
			return nil
		})
	})
	if err != nil {
		return nil, storageErrf(m.name, "", err, "scan")
	}

	if len(pending) > 0 {
		for k, op := range pending {
			if !op.deleted {
				result = append(result, KV{k, slices.Clone(op.value)})
			}
		}
		slices.SortFunc(result, func(a, b KV) int {
			return strings.Compare(a.Key, b.Key)
		})
	}
	return result, nil
}

// Values returns a snapshot of all documents in ascending key order.
func (m *OrderedMap) Values() ([][]byte, error) {
	entries, err := m.Entries()
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values, nil
}

func (m *OrderedMap) Size() (int, error) {
	pending := m.pendingSnapshot()

	var n int
	err := view(m.st, func(tx storageTx) error {
		b, err := m.bucket(tx)
		if err != nil {
			return err
		}
		n, err = b.KeyCount()
		if err != nil {
			return err
		}
		for k, op := range pending {
			v, err := b.Get([]byte(k))
			if err != nil {
				return err
			}
			stored := v != nil
			if op.deleted && stored {
				n--
			} else if !op.deleted && !stored {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, storageErrf(m.name, "", err, "count")
	}
	return n, nil
}

// Commit durably applies all pending mutations in a single storage
// transaction. On failure the pending mutations are kept.
func (m *OrderedMap) Commit() error {
	if err := m.commit(); err != nil {
		return err
	}
	m.deliver()
	return nil
}

// commit writes the pending mutations and queues the resulting changes for
// delivery. Changes are queued under mu, so the queue follows commit order.
func (m *OrderedMap) commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}

	keys := make([]string, 0, len(m.pending))
	for k := range m.pending {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	changes := make([]Change, 0, len(keys))
	err := update(m.st, func(tx storageTx) error {
		b, err := m.bucket(tx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			op := m.pending[k]
			if op.deleted {
				err = b.Delete([]byte(k))
				changes = append(changes, Change{Collection: m.name, Op: OpDelete, Key: k})
			} else {
				err = b.Put([]byte(k), op.value)
				changes = append(changes, Change{Collection: m.name, Op: OpPut, Key: k, Doc: op.value})
			}
			if err != nil {
				return storageErrf(m.name, k, err, "write")
			}
		}
		return nil
	})
	if err != nil {
		return storageErrf(m.name, "", err, "commit")
	}
	clear(m.pending)

	if m.afterCommit != nil {
		m.deliverMu.Lock()
		m.queue = append(m.queue, changes...)
		m.deliverMu.Unlock()
	}
	return nil
}

// deliver hands queued changes to afterCommit. Only one goroutine delivers
// at a time; a commit made while another goroutine is delivering (including
// one made from inside afterCommit) is picked up by that goroutine.
func (m *OrderedMap) deliver() {
	if m.afterCommit == nil {
		return
	}
	m.deliverMu.Lock()
	if m.delivering {
		m.deliverMu.Unlock()
		return
	}
	m.delivering = true
	for len(m.queue) > 0 {
		batch := m.queue
		m.queue = nil
		m.deliverMu.Unlock()
		m.deliverBatch(batch)
		m.deliverMu.Lock()
	}
	m.delivering = false
	m.deliverMu.Unlock()
}

func (m *OrderedMap) deliverBatch(batch []Change) {
	defer func() {
		if e := recover(); e != nil {
			m.deliverMu.Lock()
			m.delivering = false
			m.deliverMu.Unlock()
			panic(e)
		}
	}()
	m.afterCommit(batch)
}

// Rollback discards all pending mutations.
func (m *OrderedMap) Rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.pending)
}

// Update runs f with exclusive write access to the map, then commits the
// mutations f made. If f or the commit fails, the mutations are rolled back,
// so a failed Update never leaves state behind for a later commit.
//
// Committed changes are delivered after the write lock is released, so
// afterCommit may itself update the map.
func (m *OrderedMap) Update(f func() error) error {
	err := m.locked(f)
	m.deliver()
	return err
}

func (m *OrderedMap) locked(f func() error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	err := safelyCall(f)
	if err == nil {
		err = m.commit()
	}
	if err != nil {
		m.Rollback()
	}
	return err
}
