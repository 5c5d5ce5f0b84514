// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOptions(t *testing.T) {
	db, err := NewWithOptions(WithDSN("prism:secret@tcp(db.internal:3306)/indexer"))
	require.NoError(t, err)
	assert.Equal(t, "indexer", db.dbName)
	assert.Contains(t, db.dsn, "prism:secret@tcp(db.internal:3306)/indexer")
	assert.Contains(t, db.dsn, "parseTime=true")
	assert.NoError(t, db.Close())

	db, err = NewWithOptions(WithDSN("user:pw@tcp(localhost:3306)/other"), WithMaxOpenConns(3))
	require.NoError(t, err)
	assert.Equal(t, "other", db.dbName)
	assert.Equal(t, 3, db.pool.MaxOpenConns)
}

func TestNewErrors(t *testing.T) {
	_, err := NewWithOptions()
	assert.ErrorIs(t, err, ErrMissingDSN)
	_, err = NewWithOptions(WithDSN("user:pw@tcp(localhost:3306)/"))
	assert.ErrorContains(t, err, "does not name a database")
	_, err = NewWithOptions(WithDSN("not a dsn"))
	assert.Error(t, err)
}
