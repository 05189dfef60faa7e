package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyDBError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyDBError(nil))
	assert.Equal(t, "", ErrorType(nil))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsPermanent(nil))
}

func TestClassifyDBError_MySQL(t *testing.T) {
	tests := []struct {
		code     uint16
		expected DatabaseErrorType
	}{
		{1062, ErrorTypeDuplicateKey},
		{3140, ErrorTypeInvalidJSON},
		{3143, ErrorTypeInvalidJSON},
		{1406, ErrorTypeDataTooLong},
		{1452, ErrorTypeConstraintViolation},
		{1213, ErrorTypeDeadlock},
		{1205, ErrorTypeLockTimeout},
		{1040, ErrorTypeConnectionError},
		{2002, ErrorTypeConnectionError},
		{2003, ErrorTypeConnectionError},
		{2006, ErrorTypeConnectionError},
		{2013, ErrorTypeConnectionError},
		{1366, ErrorTypeInvalidValue},
		{9999, ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("mysql_%d", tt.code), func(t *testing.T) {
			wrapped := fmt.Errorf("insert batch: %w", &mysql.MySQLError{Number: tt.code, Message: "boom"})

			dbErr := ClassifyDBError(wrapped)

			assert.Equal(t, tt.expected, dbErr.Type)
			assert.Equal(t, int(tt.code), dbErr.Code)
			assert.Contains(t, dbErr.Error(), fmt.Sprintf("MySQL error %d", tt.code))
		})
	}
}

func TestClassifyDBError_SQLite(t *testing.T) {
	tests := []struct {
		name     string
		err      sqlite3.Error
		expected DatabaseErrorType
	}{
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, ErrorTypeLockTimeout},
		{"locked", sqlite3.Error{Code: sqlite3.ErrLocked}, ErrorTypeLockTimeout},
		{"full", sqlite3.Error{Code: sqlite3.ErrFull}, ErrorTypeStorageFull},
		{"io", sqlite3.Error{Code: sqlite3.ErrIoErr}, ErrorTypeIO},
		{"readonly", sqlite3.Error{Code: sqlite3.ErrReadonly}, ErrorTypeIO},
		{"primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, ErrorTypeDuplicateKey},
		{"not null", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, ErrorTypeConstraintViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbErr := ClassifyDBError(fmt.Errorf("fallback write: %w", tt.err))
			assert.Equal(t, tt.expected, dbErr.Type)
			assert.Equal(t, "SQLite", dbErr.Driver)
		})
	}
}

func TestClassifyDBError_Sentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected DatabaseErrorType
	}{
		{"record not found", gorm.ErrRecordNotFound, ErrorTypeNotFound},
		{"canceled", fmt.Errorf("ping: %w", context.Canceled), ErrorTypeCanceled},
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout},
		{"invalid conn", mysql.ErrInvalidConn, ErrorTypeConnectionError},
		{"refused", errors.New("dial tcp 10.0.0.5:3306: connect: Connection Refused"), ErrorTypeConnectionError},
		{"gone away", errors.New("MySQL server has gone away"), ErrorTypeConnectionError},
		{"other", errors.New("something odd"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyDBError(tt.err).Type)
		})
	}
}

func TestDatabaseError_Unwrap(t *testing.T) {
	inner := &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}
	dbErr := ClassifyDBError(inner)

	var target *mysql.MySQLError
	assert.True(t, errors.As(dbErr, &target))
	assert.Equal(t, uint16(1213), target.Number)
}

func TestTransientAndPermanent(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		permanent bool
		rejected  bool
	}{
		{"connection", &mysql.MySQLError{Number: 2013}, true, false, false},
		{"deadlock", &mysql.MySQLError{Number: 1213}, true, false, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true, false, false},
		{"deadline", context.DeadlineExceeded, true, false, false},
		{"duplicate", &mysql.MySQLError{Number: 1062}, false, true, true},
		{"bad json", &mysql.MySQLError{Number: 3140}, false, true, true},
		{"data too long", &mysql.MySQLError{Number: 1406}, false, true, true},
		{"invalid value", &mysql.MySQLError{Number: 1366}, false, true, true},
		{"canceled", context.Canceled, false, true, false},
		{"unknown", errors.New("odd"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
			assert.Equal(t, tt.rejected, IsRejected(tt.err))
		})
	}
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "connection", ErrorType(errors.New("broken pipe")))
	assert.Equal(t, "duplicate_key", ErrorType(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsDuplicateKeyError(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsConnectionError(mysql.ErrInvalidConn))
}
