// Package errors classifies failures coming back from the primary (MySQL)
// and fallback (SQLite) stores.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// DatabaseErrorType represents the type of database error.
type DatabaseErrorType int

const (
	// ErrorTypeUnknown represents an unclassified database error.
	ErrorTypeUnknown DatabaseErrorType = iota
	// ErrorTypeDuplicateKey represents a duplicate key violation (MySQL 1062, SQLite constraint).
	ErrorTypeDuplicateKey
	// ErrorTypeConstraintViolation represents a foreign key or check constraint violation.
	ErrorTypeConstraintViolation
	// ErrorTypeInvalidJSON represents an invalid JSON document (MySQL 3140..3143).
	ErrorTypeInvalidJSON
	// ErrorTypeDataTooLong represents a data too long error (MySQL 1406).
	ErrorTypeDataTooLong
	// ErrorTypeNotFound represents a record not found error.
	ErrorTypeNotFound
	// ErrorTypeDeadlock represents a deadlock (MySQL 1213).
	ErrorTypeDeadlock
	// ErrorTypeLockTimeout represents a lock wait timeout (MySQL 1205, SQLite busy/locked).
	ErrorTypeLockTimeout
	// ErrorTypeConnectionError represents a lost or refused connection.
	ErrorTypeConnectionError
	// ErrorTypeInvalidValue represents an invalid or truncated value.
	ErrorTypeInvalidValue
	// ErrorTypeStorageFull represents a full disk or database file (SQLite full).
	ErrorTypeStorageFull
	// ErrorTypeIO represents a disk I/O, corruption or read-only database failure.
	ErrorTypeIO
	// ErrorTypeTimeout represents an exceeded deadline.
	ErrorTypeTimeout
	// ErrorTypeCanceled represents a canceled context.
	ErrorTypeCanceled
)

var typeNames = map[DatabaseErrorType]string{
	ErrorTypeUnknown:             "unknown",
	ErrorTypeDuplicateKey:        "duplicate_key",
	ErrorTypeConstraintViolation: "constraint_violation",
	ErrorTypeInvalidJSON:         "invalid_json",
	ErrorTypeDataTooLong:         "data_too_long",
	ErrorTypeNotFound:            "not_found",
	ErrorTypeDeadlock:            "deadlock",
	ErrorTypeLockTimeout:         "lock_timeout",
	ErrorTypeConnectionError:     "connection",
	ErrorTypeInvalidValue:        "invalid_value",
	ErrorTypeStorageFull:         "storage_full",
	ErrorTypeIO:                  "io",
	ErrorTypeTimeout:             "timeout",
	ErrorTypeCanceled:            "canceled",
}

// String returns the value logged in the error_type field.
func (t DatabaseErrorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// DatabaseError wraps a database error with classification information.
type DatabaseError struct {
	Type        DatabaseErrorType
	OriginalErr error
	// Code is the MySQL error number or the SQLite extended result code.
	Code    int
	Driver  string
	Message string
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s (%s error %d): %v", e.Message, e.Driver, e.Code, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// ClassifyDBError classifies a store error into a specific error type.
//
//   - context.Canceled → ErrorTypeCanceled, context.DeadlineExceeded → ErrorTypeTimeout
//   - gorm.ErrRecordNotFound → ErrorTypeNotFound
//   - MySQL: 1062 duplicate, 1213 deadlock, 1205 lock wait, 1040/2002/2003/2006/2013 connection
//   - SQLite: busy/locked, full, I/O, read-only, constraint
//   - connection-shaped messages ("connection refused", "broken pipe", ...) → ErrorTypeConnectionError
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &DatabaseError{Type: ErrorTypeCanceled, OriginalErr: err, Message: "operation canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		return &DatabaseError{Type: ErrorTypeTimeout, OriginalErr: err, Message: "operation timed out"}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &DatabaseError{Type: ErrorTypeNotFound, OriginalErr: err, Message: "record not found"}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return classifyMySQLError(err, mysqlErr)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return classifySQLiteError(err, sqliteErr)
	}

	if errors.Is(err, mysql.ErrInvalidConn) || isConnectionError(err.Error()) {
		return &DatabaseError{Type: ErrorTypeConnectionError, OriginalErr: err, Message: "database connection error"}
	}

	return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err, Message: "unknown database error"}
}

func classifyMySQLError(err error, mysqlErr *mysql.MySQLError) *DatabaseError {
	dbErr := &DatabaseError{
		OriginalErr: err,
		Code:        int(mysqlErr.Number),
		Driver:      "MySQL",
	}

	switch mysqlErr.Number {
	case 1062: // ER_DUP_ENTRY
		dbErr.Type, dbErr.Message = ErrorTypeDuplicateKey, "duplicate key constraint violation"
	case 3140, 3141, 3142, 3143:
		dbErr.Type, dbErr.Message = ErrorTypeInvalidJSON, "invalid JSON data"
	case 1406: // ER_DATA_TOO_LONG
		dbErr.Type, dbErr.Message = ErrorTypeDataTooLong, "data too long for column"
	case 1451, 1452:
		dbErr.Type, dbErr.Message = ErrorTypeConstraintViolation, "foreign key constraint violation"
	case 1213: // ER_LOCK_DEADLOCK
		dbErr.Type, dbErr.Message = ErrorTypeDeadlock, "deadlock detected"
	case 1205: // ER_LOCK_WAIT_TIMEOUT
		dbErr.Type, dbErr.Message = ErrorTypeLockTimeout, "lock wait timeout exceeded"
	case 1040, 2002, 2003, 2006, 2013: // too many connections, can't connect, gone away, lost
		dbErr.Type, dbErr.Message = ErrorTypeConnectionError, "database connection error"
	case 1048, 1265, 1366:
		dbErr.Type, dbErr.Message = ErrorTypeInvalidValue, "invalid or truncated value"
	default:
		dbErr.Type, dbErr.Message = ErrorTypeUnknown, "MySQL error"
	}
	return dbErr
}

func classifySQLiteError(err error, sqliteErr sqlite3.Error) *DatabaseError {
	dbErr := &DatabaseError{
		OriginalErr: err,
		Code:        int(sqliteErr.ExtendedCode),
		Driver:      "SQLite",
	}
	if dbErr.Code == 0 {
		dbErr.Code = int(sqliteErr.Code)
	}

	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		dbErr.Type, dbErr.Message = ErrorTypeLockTimeout, "database is locked"
	case sqlite3.ErrFull:
		dbErr.Type, dbErr.Message = ErrorTypeStorageFull, "database or disk is full"
	case sqlite3.ErrIoErr, sqlite3.ErrCorrupt, sqlite3.ErrReadonly, sqlite3.ErrCantOpen:
		dbErr.Type, dbErr.Message = ErrorTypeIO, "database file unavailable"
	case sqlite3.ErrConstraint:
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			dbErr.Type, dbErr.Message = ErrorTypeDuplicateKey, "duplicate key constraint violation"
		} else {
			dbErr.Type, dbErr.Message = ErrorTypeConstraintViolation, "constraint violation"
		}
	case sqlite3.ErrTooBig, sqlite3.ErrMismatch:
		dbErr.Type, dbErr.Message = ErrorTypeInvalidValue, "invalid value"
	default:
		dbErr.Type, dbErr.Message = ErrorTypeUnknown, "SQLite error"
	}
	return dbErr
}

var connectionKeywords = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"connection lost",
	"can't connect",
	"server has gone away",
	"bad connection",
	"dial tcp",
}

func isConnectionError(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, keyword := range connectionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// ErrorType returns the error_type diagnostic value for err, or "" for nil.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	return ClassifyDBError(err).Type.String()
}

// IsTransient reports whether err is an outage-shaped failure that is
// expected to clear on its own: lost connections, timeouts, lock contention.
func IsTransient(err error) bool {
	dbErr := ClassifyDBError(err)
	if dbErr == nil {
		return false
	}
	switch dbErr.Type {
	case ErrorTypeConnectionError, ErrorTypeDeadlock, ErrorTypeLockTimeout, ErrorTypeTimeout:
		return true
	}
	return false
}

// IsPermanent reports whether retrying err cannot succeed: the data itself
// is rejected, or the caller gave up.
func IsPermanent(err error) bool {
	return IsRejected(err) || errors.Is(err, context.Canceled)
}

// IsRejected reports whether the store refused the data itself. Unlike
// IsPermanent it excludes cancellation, so a batch that will fail on every
// run can be told apart from an outage or a shutdown.
func IsRejected(err error) bool {
	dbErr := ClassifyDBError(err)
	if dbErr == nil {
		return false
	}
	switch dbErr.Type {
	case ErrorTypeDuplicateKey, ErrorTypeConstraintViolation, ErrorTypeInvalidJSON,
		ErrorTypeDataTooLong, ErrorTypeInvalidValue:
		return true
	}
	return false
}

// IsDuplicateKeyError checks if the error is a duplicate key constraint violation.
func IsDuplicateKeyError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeDuplicateKey
}

// IsConnectionError checks if the error is a connection failure.
func IsConnectionError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeConnectionError
}
