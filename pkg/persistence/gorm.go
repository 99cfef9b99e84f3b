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
	"context"
	"database/sql"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/log"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"github.com/suweicong/obligation-cordapp/pkg/obtypes"
	"gorm.io/gorm"

	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type provider struct {
	dialect *Dialect
	gdb     *gorm.DB
	db      *sql.DB
}

type transaction struct {
	gdb         *gorm.DB
	postCommits []func(ctx context.Context)
}

func (t *transaction) DB() *gorm.DB {
	return t.gdb
}

func (t *transaction) AddPostCommit(fn func(ctx context.Context)) {
	t.postCommits = append(t.postCommits, fn)
}

// NewSQLProvider connects, tunes the pool and optionally migrates the schema to the latest version
func NewSQLProvider(ctx context.Context, d *Dialect, conf *obconf.SQLDBConfig, defs *obconf.SQLDBConfig) (Persistence, error) {
	if conf.DSN == "" {
		return nil, i18n.NewError(ctx, msgs.MsgPersistenceMissingDSN)
	}
	gdb, err := gorm.Open(d.Open(conf.DSN), &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            confutil.Bool(conf.StatementCache, *defs.StatementCache),
	})
	var db *sql.DB
	if err == nil {
		db, err = gdb.DB()
	}
	if err == nil {
		// some drivers only connect lazily
		err = db.PingContext(ctx)
	}
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgPersistenceInitFailed)
	}
	if conf.DebugQueries {
		gdb = gdb.Debug()
	}
	db.SetMaxOpenConns(confutil.IntMin(conf.MaxOpenConns, 1, *defs.MaxOpenConns))
	db.SetMaxIdleConns(confutil.Int(conf.MaxIdleConns, *defs.MaxIdleConns))
	db.SetConnMaxIdleTime(confutil.DurationMin(conf.ConnMaxIdleTime, 0, *defs.ConnMaxIdleTime))
	db.SetConnMaxLifetime(confutil.DurationMin(conf.ConnMaxLifetime, 0, *defs.ConnMaxLifetime))

	gp := &provider{dialect: d, gdb: gdb, db: db}
	if confutil.Bool(conf.AutoMigrate, *defs.AutoMigrate) {
		dir := confutil.StringNotEmpty(&conf.MigrationsDir, defs.MigrationsDir)
		if err := gp.migrateUp(ctx, dir); err != nil {
			gp.Close()
			return nil, err
		}
	}
	return gp, nil
}

func (gp *provider) migrateUp(ctx context.Context, dir string) error {
	if dir == "" {
		return i18n.NewError(ctx, msgs.MsgPersistenceMissingMigrationDir)
	}
	driver, err := gp.dialect.MigrationDriver(gp.db)
	var m *migrate.Migrate
	if err == nil {
		log.L(ctx).Infof("Applying %s migrations from %s", gp.dialect.Name, dir)
		m, err = migrate.NewWithDatabaseInstance("file://"+dir, gp.dialect.Name, driver)
	}
	if err == nil {
		if err = m.Up(); errors.Is(err, migrate.ErrNoChange) {
			err = nil
		}
	}
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgPersistenceMigrationFailed)
	}
	version, dirty, _ := m.Version()
	log.L(ctx).Infof("Schema at version %d (dirty=%t)", version, dirty)
	return nil
}

func (gp *provider) DB() *gorm.DB {
	return gp.gdb
}

func (gp *provider) Close() {
	err := gp.db.Close()
	log.L(context.Background()).Infof("Database closed (err=%v)", err)
}

func (gp *provider) TakeNamedLock(ctx context.Context, dbTX DBTX, lockName string) error {
	if gp.dialect.LockSQL == "" {
		return nil
	}
	return dbTX.DB().WithContext(ctx).Exec(gp.dialect.LockSQL, lockID(lockName)).Error
}

// Transaction commits when fn returns nil and rolls back otherwise, including on panic.
// Post-commit callbacks run after the commit, outside the transaction.
func (gp *provider) Transaction(ctx context.Context, fn func(ctx context.Context, dbTX DBTX) error) error {
	ctx = log.WithLogField(ctx, "dbtx", obtypes.ShortID())
	tx := &transaction{}
	err := gp.gdb.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		tx.gdb = gtx
		return fn(ctx, tx)
	})
	if err != nil {
		log.L(ctx).Debugf("Transaction rolled back: %s", err)
		return err
	}
	for _, fn := range tx.postCommits {
		fn(ctx)
	}
	return nil
}
