// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestIsDupEntry(t *testing.T) {
	assert.True(t, IsDupEntry(&mysql.MySQLError{Number: ER_DUP_ENTRY, Message: "Duplicate entry"}))
	assert.False(t, IsDupEntry(&mysql.MySQLError{Number: 1045}))
	assert.False(t, IsDupEntry(nil))
	assert.False(t, IsDupEntry(errors.New("boom")))
}

func TestConversionError(t *testing.T) {
	err := NewConversionError("Can't find child")
	assert.True(t, IsConversionError(err))
	assert.Contains(t, err.Error(), "Can't find child")
	assert.False(t, IsConversionError(nil))
	assert.False(t, IsConversionError(errors.New("other")))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(sql.ErrNoRows))
	assert.True(t, IsNotFound(&ErrRevisionNotFound{Revision: "refs/heads/main"}))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(errors.New("boom")))
}

func TestWrapUnavailable(t *testing.T) {
	err := wrapUnavailable(fmt.Errorf("dial tcp: refused"))
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
}

func TestRefCommand(t *testing.T) {
	create := &RefCommand{OldRev: "0000000000000000000000000000000000000000", NewRev: "ce013625030ba8dba906f756967f9e9ca394464a"}
	assert.True(t, create.IsCreate())
	assert.False(t, create.IsDelete())

	remove := &RefCommand{OldRev: "ce013625030ba8dba906f756967f9e9ca394464a", NewRev: "0000000000000000000000000000000000000000"}
	assert.True(t, remove.IsDelete())
	assert.False(t, remove.IsCreate())
}
