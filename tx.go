package mediadb

import (
	"fmt"
	"runtime/debug"
)

// view runs f inside a read-only transaction.
func view(s storage, f func(tx storageTx) error) error {
	tx, err := s.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

// update runs f inside a writable transaction and commits it unless f fails.
func update(s storage, f func(tx storageTx) error) error {
	tx, err := s.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	err = f(tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn()
}
