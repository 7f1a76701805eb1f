package mediadb

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodingMethod selects how records are serialized into documents.
type EncodingMethod int

const (
	// JSON stores textual documents, readable by other tools working on the
	// same store.
	JSON EncodingMethod = iota
	MsgPack

	defaultEncoding = JSON
)

func (enc EncodingMethod) String() string {
	switch enc {
	case JSON:
		return "json"
	case MsgPack:
		return "msgpack"
	default:
		return fmt.Sprintf("invalid encoding %d", int(enc))
	}
}

// ParseEncoding is the inverse of EncodingMethod.String.
func ParseEncoding(s string) (EncodingMethod, error) {
	switch s {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	default:
		return 0, fmt.Errorf("%w: unknown encoding %q", ErrInvalidArgument, s)
	}
}

func (enc EncodingMethod) Encode(obj any) ([]byte, error) {
	switch enc {
	case JSON:
		raw, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T to JSON: %w", obj, err)
		}
		return raw, nil
	case MsgPack:
		var buf bytes.Buffer
		e := msgpack.GetEncoder()
		e.Reset(&buf)
		e.SetSortMapKeys(true)
		err := e.Encode(obj)
		msgpack.PutEncoder(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", obj, err)
		}
		return buf.Bytes(), nil
	default:
		panic("unsupported encoding")
	}
}

// Decode parses data into objPtr. Failures are reported as *DecodeError.
func (enc EncodingMethod) Decode(data []byte, objPtr any) error {
	if len(data) == 0 {
		return decodeErrf(data, nil, "empty document for %T", objPtr)
	}
	switch enc {
	case JSON:
		err := json.Unmarshal(data, objPtr)
		if err != nil {
			return decodeErrf(data, err, "failed to decode JSON into %T", objPtr)
		}
		return nil
	case MsgPack:
		var r bytes.Reader
		r.Reset(data)
		d := msgpack.GetDecoder()
		d.Reset(&r)
		err := d.Decode(objPtr)
		msgpack.PutDecoder(d)
		if err != nil {
			return decodeErrf(data, err, "failed to decode msgpack into %T", objPtr)
		}
		return nil
	default:
		panic("unsupported encoding")
	}
}

func decodeDoc[T any](enc EncodingMethod, data []byte) (*T, error) {
	v := new(T)
	err := enc.Decode(data, v)
	if err != nil {
		return nil, err
	}
	return v, nil
}
