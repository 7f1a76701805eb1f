package mediadb

import (
	"fmt"
)

type (
	// Change describes one committed mutation of a collection.
	Change struct {
		Collection string
		Op         Op
		Key        string
		Doc        []byte // new document for OpPut, nil for OpDelete
	}

	Op int
)

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
)

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

func (chg Change) String() string {
	return fmt.Sprintf("%s %s/%s", chg.Op, chg.Collection, chg.Key)
}
