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

// Package mockpersistence runs the real persistence layer over go-sqlmock, for driving DB failure paths in tests.
package mockpersistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DATA-DOG/go-sqlmock"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/persistence"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var SQLMockDefaults = &obconf.SQLDBConfig{
	MaxOpenConns:    confutil.P(1),
	MaxIdleConns:    confutil.P(1),
	ConnMaxIdleTime: confutil.P("0"),
	ConnMaxLifetime: confutil.P("0"),
	AutoMigrate:     confutil.P(false),
	StatementCache:  confutil.P(false),
}

type SQLMockProvider struct {
	DB      *sql.DB
	Mock    sqlmock.Sqlmock
	P       persistence.Persistence
	Dialect *persistence.Dialect
}

// NewSQLMockProvider speaks the postgres dialect, so named locks issue advisory lock SQL the mock can expect
func NewSQLMockProvider() (mp *SQLMockProvider, err error) {
	mp = &SQLMockProvider{}
	mp.DB, mp.Mock, err = sqlmock.New()
	if err != nil {
		return nil, err
	}
	mp.Dialect = &persistence.Dialect{
		Name: "sqlmock",
		Open: func(string) gorm.Dialector {
			return gormpostgres.New(gormpostgres.Config{Conn: mp.DB})
		},
		MigrationDriver: func(*sql.DB) (migratedb.Driver, error) {
			return nil, fmt.Errorf("migrations not supported over sqlmock")
		},
		LockSQL: persistence.Postgres.LockSQL,
	}
	mp.P, err = persistence.NewSQLProvider(context.Background(), mp.Dialect, &obconf.SQLDBConfig{DSN: "mocked"}, SQLMockDefaults)
	return mp, err
}
