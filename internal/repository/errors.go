// Package repository holds the MySQL backed stores.  Sentinel errors let
// handlers distinguish failure scenarios without inspecting driver errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicateIdentity is returned when an email or username is taken.
// The concrete error is a *DuplicateError naming the field.
var ErrDuplicateIdentity = errors.New("duplicate identity")

// DuplicateError reports which unique field collided.
type DuplicateError struct {
	Field string // "email" or "username"
}

func (e *DuplicateError) Error() string { return e.Field + " already registered" }

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicateIdentity }

// mysqlErrDupEntry is ER_DUP_ENTRY.
const mysqlErrDupEntry = 1062

func isDuplicateKey(err error) (*mysql.MySQLError, bool) {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlErrDupEntry {
		return me, true
	}
	return nil, false
}
