package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Error kinds returned by the store. Callers match them with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrBusy       = errors.New("database busy")
	ErrStorage    = errors.New("storage failure")
)

// ErrorKind is the coarse classification of a store error.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindGeneric
	KindNotFound
	KindConflict
	KindValidation
	KindDatabase
)

// ExitCode maps an error kind onto the CLI process exit status.
func (k ErrorKind) ExitCode() int {
	switch k {
	case KindNone:
		return 0
	case KindNotFound:
		return 2
	case KindConflict:
		return 3
	case KindValidation:
		return 4
	case KindDatabase:
		return 5
	default:
		return 1
	}
}

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindDatabase:
		return "database"
	default:
		return "error"
	}
}

// Classify reports which kind of failure err represents.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrBusy), errors.Is(err, ErrStorage):
		return KindDatabase
	}
	if kind := sentinelFor(err); kind != nil {
		return Classify(kind)
	}
	return KindGeneric
}

// wrapErr attaches the operation name and, when the cause is a raw driver
// error, the matching sentinel. Errors that already carry a sentinel or a
// context error pass through with only the operation prefix.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, known := range []error{ErrNotFound, ErrConflict, ErrValidation, ErrBusy, ErrStorage} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if sentinel := sentinelFor(err); sentinel != nil {
		return fmt.Errorf("%s: %w: %w", op, sentinel, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sqliteCode(err error) (sqlite3.ErrNo, bool) {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return 0, false
	}
	return sqlErr.Code, true
}

func sentinelFor(err error) error {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		if isSQLiteBusy(err) {
			return ErrBusy
		}
		return nil
	}
	switch sqlErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return ErrBusy
	case sqlite3.ErrCorrupt, sqlite3.ErrNotADB, sqlite3.ErrIoErr, sqlite3.ErrCantOpen,
		sqlite3.ErrFull, sqlite3.ErrReadonly:
		return ErrStorage
	case sqlite3.ErrConstraint:
		switch sqlErr.ExtendedCode {
		case sqlite3.ErrConstraintForeignKey:
			return ErrNotFound
		default:
			return ErrValidation
		}
	}
	return nil
}
