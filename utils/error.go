package utils

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// IsDuplicateKeyErr matches unique-constraint violations from either the gorm
// error translator or the raw mysql driver (1062).
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// LocatedError remembers where an error was raised (file:line), used for run telemetry.
type LocatedError struct {
	Location string
	Err      error
}

func (e *LocatedError) Error() string { return e.Err.Error() }

func (e *LocatedError) Unwrap() error { return e.Err }

// Locate wraps err with the caller's file:line. Already located errors are returned as is.
func Locate(err error) error {
	if err == nil {
		return nil
	}
	var le *LocatedError
	if errors.As(err, &le) {
		return err
	}
	return &LocatedError{Location: CallerLocation(2), Err: err}
}

// ErrorLocation returns the recorded file:line of err, or "".
func ErrorLocation(err error) string {
	var le *LocatedError
	if errors.As(err, &le) {
		return le.Location
	}
	return ""
}

func CallerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
