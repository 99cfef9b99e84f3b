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

package persistence

import (
	"database/sql"
	"hash/fnv"

	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	gormpostgres "gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect describes how to reach one kind of database
type Dialect struct {
	Name            string
	Open            func(dsn string) gorm.Dialector
	MigrationDriver func(db *sql.DB) (migratedb.Driver, error)
	// LockSQL takes a transaction scoped lock on a single int64 argument.
	// Empty where the database already serializes writers.
	LockSQL string
}

var Postgres = &Dialect{
	Name: "postgres",
	Open: gormpostgres.Open,
	MigrationDriver: func(db *sql.DB) (migratedb.Driver, error) {
		return migratepostgres.WithInstance(db, &migratepostgres.Config{})
	},
	LockSQL: `SELECT pg_advisory_xact_lock( ? )`,
}

// SQLite runs on a single connection
var SQLite = &Dialect{
	Name: "sqlite",
	Open: gormsqlite.Open,
	MigrationDriver: func(db *sql.DB) (migratedb.Driver, error) {
		return migratesqlite3.WithInstance(db, &migratesqlite3.Config{})
	},
}

// lockID maps a lock name onto the non-negative int64 key space of advisory locks
func lockID(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	v := int64(h.Sum64())
	if v < 0 {
		return -v
	}
	return v
}
