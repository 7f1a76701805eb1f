package mediadb

import (
	"errors"
	"fmt"
)

// errUnchanged lets a modifyBroadcast callback skip the write.
var errUnchanged = errors.New("unchanged")

// Save stores a new broadcast and returns its stream id. If b has no
// StreamID, a fresh one is generated; a non-empty RtmpURL gets the stream id
// appended. Empty Type and Status default to TypeLiveStream and
// StatusCreated. b itself is not modified.
func (db *DB) Save(b *Broadcast) (string, error) {
	var id string
	err := db.run("save", true, func() error {
		if b == nil {
			return fmt.Errorf("%w: nil broadcast", ErrInvalidArgument)
		}
		rec, err := db.prepareBroadcast(b)
		if err != nil {
			return err
		}
		return db.broadcasts.Update(func() error {
			if rec.StreamID == "" {
				rec.StreamID, err = freshKey(db.ids, db.broadcasts)
				if err != nil {
					return err
				}
			} else if taken, err := db.broadcasts.ContainsKey(rec.StreamID); err != nil {
				return err
			} else if taken {
				return fmt.Errorf("broadcast %s: %w", rec.StreamID, ErrDuplicateKey)
			}
			if rec.RtmpURL != "" {
				rec.RtmpURL += rec.StreamID
			}
			id = rec.StreamID
			return db.putBroadcast(rec)
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (db *DB) prepareBroadcast(b *Broadcast) (*Broadcast, error) {
	if b.Type != "" && !b.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown broadcast type %q", ErrInvalidArgument, b.Type)
	}
	if b.Status != "" && !b.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, b.Status)
	}
	rec := b.Clone()
	if rec.Type == "" {
		rec.Type = TypeLiveStream
	}
	if rec.Status == "" {
		rec.Status = StatusCreated
	}
	if rec.Date == 0 {
		rec.Date = db.nowMillis()
	}
	return rec, nil
}

func (db *DB) putBroadcast(rec *Broadcast) error {
	doc, err := db.encode(rec)
	if err != nil {
		return err
	}
	db.broadcasts.Put(rec.StreamID, doc)
	return nil
}

// Get returns the broadcast stored under id, or nil if there is none.
func (db *DB) Get(id string) (*Broadcast, error) {
	var result *Broadcast
	err := db.run("get", false, func() error {
		var err error
		result, err = db.loadBroadcast(id)
		return err
	})
	return result, err
}

func (db *DB) loadBroadcast(id string) (*Broadcast, error) {
	if id == "" {
		return nil, nil
	}
	doc, err := db.broadcasts.Get(id)
	if err != nil || doc == nil {
		return nil, err
	}
	return decodeDoc[Broadcast](db.enc, doc)
}

// modifyBroadcast is the read-modify-write cycle shared by all updates. The
// collection write lock is held throughout, so concurrent updates of the
// same record cannot overwrite each other's changes.
func (db *DB) modifyBroadcast(id string, f func(b *Broadcast) error) error {
	return db.broadcasts.Update(func() error {
		b, err := db.loadBroadcast(id)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("broadcast %q: %w", id, ErrNotFound)
		}
		err = f(b)
		if err == errUnchanged {
			return nil
		} else if err != nil {
			return err
		}
		doc, err := db.encode(b)
		if err != nil {
			return err
		}
		_, err = db.broadcasts.Replace(id, doc)
		return err
	})
}

func (db *DB) UpdateName(id, name, description string) error {
	return db.run("updateName", true, func() error {
		return db.modifyBroadcast(id, func(b *Broadcast) error {
			b.Name = name
			b.Description = description
			return nil
		})
	})
}

func (db *DB) UpdateStatus(id string, status Status) error {
	return db.run("updateStatus", true, func() error {
		if !status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
		}
		return db.modifyBroadcast(id, func(b *Broadcast) error {
			b.Status = status
			return nil
		})
	})
}

func (db *DB) UpdateDuration(id string, duration int64) error {
	return db.run("updateDuration", true, func() error {
		return db.modifyBroadcast(id, func(b *Broadcast) error {
			b.Duration = duration
			return nil
		})
	})
}

func (db *DB) UpdatePublish(id string, publish bool) error {
	return db.run("updatePublish", true, func() error {
		return db.modifyBroadcast(id, func(b *Broadcast) error {
			b.Publish = publish
			return nil
		})
	})
}

// AddEndpoint appends ep to the broadcast's endpoint list. Equal endpoints
// are not deduplicated.
func (db *DB) AddEndpoint(id string, ep *Endpoint) error {
	return db.run("addEndpoint", true, func() error {
		if ep == nil {
			return fmt.Errorf("%w: nil endpoint", ErrInvalidArgument)
		}
		epc := *ep
		return db.modifyBroadcast(id, func(b *Broadcast) error {
			b.EndPoints = append(b.EndPoints, &epc)
			return nil
		})
	})
}

// RemoveEndpoint removes the first endpoint whose RtmpURL equals ep's.
// It returns ErrEndpointNotFound, and writes nothing, if none matches.
func (db *DB) RemoveEndpoint(id string, ep *Endpoint) error {
	return db.run("removeEndpoint", true, func() error {
		if ep == nil {
			return fmt.Errorf("%w: nil endpoint", ErrInvalidArgument)
		}
		return db.modifyBroadcast(id, func(b *Broadcast) error {
			for i, item := range b.EndPoints {
				if item != nil && item.RtmpURL == ep.RtmpURL {
					b.EndPoints = append(b.EndPoints[:i], b.EndPoints[i+1:]...)
					return nil
				}
			}
			return fmt.Errorf("broadcast %q, endpoint %q: %w", id, ep.RtmpURL, ErrEndpointNotFound)
		})
	})
}

func (db *DB) RemoveAllEndpoints(id string) error {
	return db.run("removeAllEndpoints", true, func() error {
		return db.modifyBroadcast(id, func(b *Broadcast) error {
			b.EndPoints = nil
			return nil
		})
	})
}

// Delete removes the broadcast stored under id.
func (db *DB) Delete(id string) error {
	return db.run("delete", true, func() error {
		return db.deleteBroadcast(id)
	})
}

func (db *DB) deleteBroadcast(id string) error {
	return db.broadcasts.Update(func() error {
		removed, err := db.broadcasts.Remove(id)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("broadcast %q: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (db *DB) BroadcastCount() (int, error) {
	var n int
	err := db.run("broadcastCount", false, func() error {
		var err error
		n, err = db.broadcasts.Size()
		return err
	})
	return n, err
}

// BroadcastList returns up to size broadcasts (at most MaxPageSize), skipping
// the first offset, in stream id order.
func (db *DB) BroadcastList(offset, size int) ([]*Broadcast, error) {
	var result []*Broadcast
	err := db.run("broadcastList", false, func() error {
		docs, err := db.broadcasts.Values()
		if err != nil {
			return err
		}
		result, err = decodeAll[Broadcast](db.enc, page(docs, offset, size))
		return err
	})
	return result, err
}

// FilterBroadcastList is BroadcastList restricted to broadcasts of type typ.
func (db *DB) FilterBroadcastList(offset, size int, typ Type) ([]*Broadcast, error) {
	var result []*Broadcast
	err := db.run("filterBroadcastList", false, func() error {
		all, err := db.allBroadcasts()
		if err != nil {
			return err
		}
		result = page(filter(all, func(b *Broadcast) bool {
			return b.Type == typ
		}), offset, size)
		return nil
	})
	return result, err
}

func (db *DB) allBroadcasts() ([]*Broadcast, error) {
	docs, err := db.broadcasts.Values()
	if err != nil {
		return nil, err
	}
	return decodeAll[Broadcast](db.enc, docs)
}

// ResetBroadcastStatus moves every broadcast that is still marked as
// broadcasting back to created, committing each record separately. It is
// meant to be run at server start-up, when no stream can actually be live.
// It returns the number of records reset; records that fail to update are
// skipped and their errors joined into the returned error.
func (db *DB) ResetBroadcastStatus() (int, error) {
	var n int
	err := db.run("resetBroadcastStatus", true, func() error {
		entries, err := db.broadcasts.Entries()
		if err != nil {
			return err
		}
		var errs []error
		for _, e := range entries {
			b, err := decodeDoc[Broadcast](db.enc, e.Value)
			if err != nil {
				errs = append(errs, fmt.Errorf("broadcast %q: %w", e.Key, err))
				continue
			}
			if b.Status != StatusBroadcasting {
				continue
			}
			var reset bool
			err = db.modifyBroadcast(e.Key, func(b *Broadcast) error {
				// re-checked under the write lock, the record may have moved on
				if b.Status != StatusBroadcasting {
					return errUnchanged
				}
				b.Status = StatusCreated
				reset = true
				return nil
			})
			if errors.Is(err, ErrNotFound) {
				continue
			} else if err != nil {
				errs = append(errs, err)
				continue
			}
			if reset {
				n++
			}
		}
		return errors.Join(errs...)
	})
	return n, err
}
