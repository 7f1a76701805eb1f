package mediadb

import "fmt"

type (
	// Status is the lifecycle state of a broadcast.
	Status string

	// Type determines how a broadcast is sourced. Filtering compares it by value.
	Type string

	Broadcast struct {
		StreamID    string      `json:"streamId,omitempty" msgpack:"streamId,omitempty"`
		Name        string      `json:"name,omitempty" msgpack:"name,omitempty"`
		Description string      `json:"description,omitempty" msgpack:"description,omitempty"`
		Status      Status      `json:"status,omitempty" msgpack:"status,omitempty"`
		Type        Type        `json:"type,omitempty" msgpack:"type,omitempty"`
		RtmpURL     string      `json:"rtmpURL,omitempty" msgpack:"rtmpURL,omitempty"`
		Date        int64       `json:"date,omitempty" msgpack:"date,omitempty"`
		Duration    int64       `json:"duration,omitempty" msgpack:"duration,omitempty"`
		Publish     bool        `json:"publish,omitempty" msgpack:"publish,omitempty"`
		IPAddr      string      `json:"ipAddr,omitempty" msgpack:"ipAddr,omitempty"`
		Username    string      `json:"username,omitempty" msgpack:"username,omitempty"`
		Password    string      `json:"password,omitempty" msgpack:"password,omitempty"`
		EndPoints   []*Endpoint `json:"endPointList" msgpack:"endPointList"`
	}

	// Endpoint is a delivery target a broadcast is re-streamed to. Endpoints
	// are identified by RtmpURL.
	Endpoint struct {
		RtmpURL     string `json:"rtmpUrl" msgpack:"rtmpUrl"`
		Type        string `json:"type,omitempty" msgpack:"type,omitempty"`
		Name        string `json:"name,omitempty" msgpack:"name,omitempty"`
		BroadcastID string `json:"broadcastId,omitempty" msgpack:"broadcastId,omitempty"`
		StreamID    string `json:"streamId,omitempty" msgpack:"streamId,omitempty"`
	}

	Vod struct {
		VodID        string `json:"vodId,omitempty" msgpack:"vodId,omitempty"`
		StreamName   string `json:"streamName,omitempty" msgpack:"streamName,omitempty"`
		VodName      string `json:"vodName,omitempty" msgpack:"vodName,omitempty"`
		StreamID     string `json:"streamId,omitempty" msgpack:"streamId,omitempty"`
		FilePath     string `json:"filePath,omitempty" msgpack:"filePath,omitempty"`
		Type         string `json:"type,omitempty" msgpack:"type,omitempty"`
		CreationDate int64  `json:"creationDate,omitempty" msgpack:"creationDate,omitempty"`
		Duration     int64  `json:"duration,omitempty" msgpack:"duration,omitempty"`
		FileSize     int64  `json:"fileSize,omitempty" msgpack:"fileSize,omitempty"`
	}
)

const (
	StatusCreated      Status = "created"
	StatusPreparing    Status = "preparing"
	StatusBroadcasting Status = "broadcasting"
	StatusFinished     Status = "finished"
)

const (
	TypeLiveStream   Type = "liveStream"
	TypeIPCamera     Type = "ipCamera"
	TypeStreamSource Type = "streamSource"
)

func (v Status) Valid() bool {
	switch v {
	case StatusCreated, StatusPreparing, StatusBroadcasting, StatusFinished:
		return true
	default:
		return false
	}
}

func (v Status) String() string {
	return string(v)
}

func (v Type) Valid() bool {
	switch v {
	case TypeLiveStream, TypeIPCamera, TypeStreamSource:
		return true
	default:
		return false
	}
}

func (v Type) String() string {
	return string(v)
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	v := Status(s)
	if !v.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
	}
	return v, nil
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, error) {
	v := Type(s)
	if !v.Valid() {
		return "", fmt.Errorf("%w: unknown broadcast type %q", ErrInvalidArgument, s)
	}
	return v, nil
}

// IsCamera reports whether b describes an IP camera.
func (b *Broadcast) IsCamera() bool {
	return b.Type == TypeIPCamera
}

// Clone returns a deep copy of b, including its endpoint list.
func (b *Broadcast) Clone() *Broadcast {
	if b == nil {
		return nil
	}
	c := *b
	if b.EndPoints != nil {
		c.EndPoints = make([]*Endpoint, len(b.EndPoints))
		for i, ep := range b.EndPoints {
			if ep != nil {
				epc := *ep
				c.EndPoints[i] = &epc
			}
		}
	}
	return &c
}

func (v *Vod) Clone() *Vod {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
