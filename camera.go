package mediadb

import "fmt"

// AddCamera stores c as a new IP camera broadcast and returns its stream id.
// A fresh id is always generated, and the type is forced to TypeIPCamera.
func (db *DB) AddCamera(c *Broadcast) (string, error) {
	var id string
	err := db.run("addCamera", true, func() error {
		if c == nil {
			return fmt.Errorf("%w: nil camera", ErrInvalidArgument)
		}
		cam := c.Clone()
		cam.StreamID = ""
		cam.Type = TypeIPCamera
		rec, err := db.prepareBroadcast(cam)
		if err != nil {
			return err
		}
		return db.broadcasts.Update(func() error {
			rec.StreamID, err = freshKey(db.ids, db.broadcasts)
			if err != nil {
				return err
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

// EditCameraInfo copies the name, credentials and address of c into the
// stored record with the same stream id.
func (db *DB) EditCameraInfo(c *Broadcast) error {
	return db.run("editCameraInfo", true, func() error {
		if c == nil {
			return fmt.Errorf("%w: nil camera", ErrInvalidArgument)
		}
		return db.modifyBroadcast(c.StreamID, func(b *Broadcast) error {
			b.Name = c.Name
			b.Username = c.Username
			b.Password = c.Password
			b.IPAddr = c.IPAddr
			return nil
		})
	})
}

func (db *DB) DeleteCamera(id string) error {
	return db.run("deleteCamera", true, func() error {
		return db.deleteBroadcast(id)
	})
}

// Camera returns the first camera (in stream id order) with the given IP
// address, or nil if there is none.
func (db *DB) Camera(ipAddr string) (*Broadcast, error) {
	var result *Broadcast
	err := db.run("camera", false, func() error {
		all, err := db.allBroadcasts()
		if err != nil {
			return err
		}
		for _, b := range all {
			if b.IsCamera() && b.IPAddr == ipAddr {
				result = b
				break
			}
		}
		return nil
	})
	return result, err
}

func (db *DB) CameraList() ([]*Broadcast, error) {
	var result []*Broadcast
	err := db.run("cameraList", false, func() error {
		all, err := db.allBroadcasts()
		if err != nil {
			return err
		}
		result = filter(all, (*Broadcast).IsCamera)
		return nil
	})
	return result, err
}
