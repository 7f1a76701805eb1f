package mediadb

import (
	"fmt"
	"strings"
)

// AddVod stores v under a freshly generated id, ignoring v.VodID, and
// returns that id.
func (db *DB) AddVod(v *Vod) (string, error) {
	var id string
	err := db.run("addVod", true, func() error {
		if v == nil {
			return fmt.Errorf("%w: nil vod", ErrInvalidArgument)
		}
		rec := v.Clone()
		return db.vods.Update(func() error {
			var err error
			rec.VodID, err = freshKey(db.ids, db.vods)
			if err != nil {
				return err
			}
			doc, err := db.encode(rec)
			if err != nil {
				return err
			}
			db.vods.Put(rec.VodID, doc)
			id = rec.VodID
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetVod returns the VOD stored under id, or nil if there is none.
func (db *DB) GetVod(id string) (*Vod, error) {
	var result *Vod
	err := db.run("getVod", false, func() error {
		if id == "" {
			return nil
		}
		doc, err := db.vods.Get(id)
		if err != nil || doc == nil {
			return err
		}
		result, err = decodeDoc[Vod](db.enc, doc)
		return err
	})
	return result, err
}

// VodList returns up to size VODs (at most MaxPageSize), skipping the first
// offset, in id order.
func (db *DB) VodList(offset, size int) ([]*Vod, error) {
	var result []*Vod
	err := db.run("vodList", false, func() error {
		docs, err := db.vods.Values()
		if err != nil {
			return err
		}
		result, err = decodeAll[Vod](db.enc, page(docs, offset, size))
		return err
	})
	return result, err
}

// FilterVodList pages through the VODs created strictly between startDate and
// endDate (epoch milliseconds). A non-empty keyword additionally requires the
// stream name to contain it.
func (db *DB) FilterVodList(offset, size int, keyword string, startDate, endDate int64) ([]*Vod, error) {
	var result []*Vod
	err := db.run("filterVodList", false, func() error {
		docs, err := db.vods.Values()
		if err != nil {
			return err
		}
		all, err := decodeAll[Vod](db.enc, docs)
		if err != nil {
			return err
		}
		result = page(filter(all, func(v *Vod) bool {
			if keyword != "" && !strings.Contains(v.StreamName, keyword) {
				return false
			}
			return startDate < v.CreationDate && v.CreationDate < endDate
		}), offset, size)
		return nil
	})
	return result, err
}

func (db *DB) DeleteVod(id string) error {
	return db.run("deleteVod", true, func() error {
		return db.vods.Update(func() error {
			removed, err := db.vods.Remove(id)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("vod %q: %w", id, ErrNotFound)
			}
			return nil
		})
	})
}

func (db *DB) TotalVodNumber() (int, error) {
	var n int
	err := db.run("totalVodNumber", false, func() error {
		var err error
		n, err = db.vods.Size()
		return err
	})
	return n, err
}
