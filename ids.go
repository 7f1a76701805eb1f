package mediadb

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
	"github.com/maruel/ksid"
)

// IDSupplier generates keys for new records. Keys are opaque strings to
// callers; a supplier only has to make collisions vanishingly unlikely, the
// store regenerates an id that is already taken.
type IDSupplier interface {
	NewID() (string, error)
}

// DefaultIDLength is the length of ids produced by NumericIDs{}.
const DefaultIDLength = 24

// NumericIDs generates random decimal strings of a fixed length (24 digits
// unless Length is set).
type NumericIDs struct {
	Length int
}

func (g NumericIDs) NewID() (string, error) {
	n := g.Length
	if n <= 0 {
		n = DefaultIDLength
	}
	out := make([]byte, 0, n)
	var buf [32]byte
	for len(out) < n {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("id: %w", err)
		}
		for _, b := range buf {
			// 250 is the largest multiple of 10 below 256; skip the rest to keep digits uniform.
			if b >= 250 {
				continue
			}
			out = append(out, '0'+b%10)
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// UUIDs generates random (version 4) UUID strings.
type UUIDs struct{}

func (UUIDs) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("id: %w", err)
	}
	return id.String(), nil
}

// SortableIDs generates k-sortable ids, so that listings follow creation
// order.
type SortableIDs struct{}

func (SortableIDs) NewID() (string, error) {
	return ksid.NewID().String(), nil
}

// ParseIDSupplier maps "numeric", "uuid" and "sortable" to a supplier.
func ParseIDSupplier(s string) (IDSupplier, error) {
	switch s {
	case "", "numeric":
		return NumericIDs{}, nil
	case "uuid":
		return UUIDs{}, nil
	case "sortable":
		return SortableIDs{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown id supplier %q", ErrInvalidArgument, s)
	}
}

const maxIDAttempts = 8

// freshKey asks ids for new keys until one is not present in m.
func freshKey(ids IDSupplier, m *OrderedMap) (string, error) {
	for range maxIDAttempts {
		id, err := ids.NewID()
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", fmt.Errorf("%w: id supplier returned an empty id", ErrInvalidArgument)
		}
		taken, err := m.ContainsKey(id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no free id after %d attempts", ErrDuplicateKey, maxIDAttempts)
}
