// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

const (
	ER_DUP_ENTRY = 1062
)

var (
	// ErrConflictingMR occurs when a second push to a path carries a
	// different base than the already-open merge request.
	ErrConflictingMR = errors.New("conflicting open merge request for path")
	// ErrStorageUnavailable wraps connection-level database failures;
	// retries are a transport concern.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// wrapUnavailable marks a connection-level failure so the transport layer
// can retry with backoff.
func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// ConversionError occurs when the ancestor rewrite cannot reconstruct the
// path from a pushed subtree to root.
type ConversionError struct {
	Message string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion error: %s", e.Message)
}

func IsConversionError(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConversionError
	return errors.As(err, &ce)
}

func NewConversionError(format string, a ...any) error {
	return &ConversionError{Message: fmt.Sprintf(format, a...)}
}

type ErrRevisionNotFound struct {
	Revision string
}

func (err *ErrRevisionNotFound) Error() string {
	return fmt.Sprintf("revision '%s' not found", err.Revision)
}

func IsErrRevisionNotFound(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ErrRevisionNotFound)
	return ok
}

type ErrAlreadyLocked struct {
	Reference string
}

func (e *ErrAlreadyLocked) Error() string {
	return fmt.Sprintf("reference is already locked: %q", e.Reference)
}

func IsErrAlreadyLocked(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ErrAlreadyLocked)
	return ok
}

func IsErrorCode(err error, code uint16) bool {
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		return merr.Number == code
	}
	return false
}

func IsDupEntry(err error) bool {
	return IsErrorCode(err, ER_DUP_ENTRY)
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*ErrRevisionNotFound); ok {
		return true
	}
	return errors.Is(err, sql.ErrNoRows)
}
