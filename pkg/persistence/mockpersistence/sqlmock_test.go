// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
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

package mockpersistence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
)

func TestSQLMockProvider(t *testing.T) {
	m, err := NewSQLMockProvider()
	require.NoError(t, err)

	assert.Equal(t, "sqlmock", m.Dialect.Name)
	_, err = m.Dialect.MigrationDriver(m.DB)
	assert.Regexp(t, "not supported", err)

	m.Mock.ExpectBegin()
	m.Mock.ExpectExec("pg_advisory_xact_lock").WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	m.Mock.ExpectCommit()
	err = m.P.Transaction(context.Background(), func(ctx context.Context, dbTX persistence.DBTX) error {
		return m.P.TakeNamedLock(ctx, dbTX, "consumed")
	})
	require.NoError(t, err)
	assert.NoError(t, m.Mock.ExpectationsWereMet())
}
