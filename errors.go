package mediadb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an operation references a key that is
	// absent from its collection.
	ErrNotFound = errors.New("not found")

	// ErrEndpointNotFound is returned by RemoveEndpoint when the broadcast has
	// no endpoint with a matching RTMP URL.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrDuplicateKey is returned when saving a record under a caller-supplied
	// key that is already taken.
	ErrDuplicateKey = errors.New("duplicate key")

	ErrInvalidArgument = errors.New("invalid argument")

	ErrClosed = errors.New("store closed")
)

// DecodeError means a stored document could not be parsed into a record.
type DecodeError struct {
	Data []byte
	Err  error
	Msg  string
}

func decodeErrf(data []byte, err error, format string, args ...any) error {
	return &DecodeError{data, err, fmt.Sprintf(format, args...)}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %q", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %q", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %q...%q", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %q...%q", e.Msg, n, p, s)
		}
	}
}

// StorageError reports a failure of the underlying store or of a commit.
type StorageError struct {
	Collection string
	Key        string
	Op         string
	Err        error
}

func storageErrf(coll, key string, err error, format string, args ...any) error {
	return &StorageError{coll, key, fmt.Sprintf(format, args...), err}
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Collection)
	if e.Key != "" {
		buf.WriteByte('/')
		buf.WriteString(e.Key)
	}
	if e.Op != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Op)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// IsNotFound reports whether err signals a missing record or endpoint.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrEndpointNotFound)
}
