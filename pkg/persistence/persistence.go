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

// Package persistence owns the gorm connection, schema migrations and transactions
// for the vault, key store, notary ledger and negotiation checkpoints.
package persistence

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/suweicong/obligation-cordapp/internal/msgs"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
	"gorm.io/gorm"
)

type Persistence interface {
	DB() *gorm.DB
	Close()
	Transaction(ctx context.Context, fn func(ctx context.Context, dbTX DBTX) error) error
	// TakeNamedLock serializes writers sharing a name until dbTX ends
	TakeNamedLock(ctx context.Context, dbTX DBTX, lockName string) error
}

// DBTX is the transaction handed to the function passed to Transaction
type DBTX interface {
	DB() *gorm.DB
	// AddPostCommit runs fn once the transaction has committed, and never on rollback
	AddPostCommit(fn func(ctx context.Context))
}

func NewPersistence(ctx context.Context, conf *obconf.DBConfig) (Persistence, error) {
	switch conf.Type {
	case "", obconf.DBTypeSQLite:
		return NewSQLProvider(ctx, SQLite, &conf.SQLite.SQLDBConfig, obconf.SQLiteDefaults)
	case obconf.DBTypePostgres:
		return NewSQLProvider(ctx, Postgres, &conf.Postgres.SQLDBConfig, obconf.PostgresDefaults)
	default:
		return nil, i18n.NewError(ctx, msgs.MsgPersistenceInvalidType, conf.Type)
	}
}
