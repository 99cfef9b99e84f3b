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
	"path"
	"runtime"

	"github.com/suweicong/obligation-cordapp/pkg/confutil"
	"github.com/suweicong/obligation-cordapp/pkg/obconf"
)

// UnitTestMigrationsDir locates the migrations relative to this source file,
// so tests in any package can find them
func UnitTestMigrationsDir(dbType string) string {
	_, thisFile, _, _ := runtime.Caller(0)
	return path.Join(path.Dir(thisFile), "..", "..", "db", "migrations", dbType)
}

// NewUnitTestPersistence is a migrated in-memory SQLite database, with the function that closes it
func NewUnitTestPersistence(ctx context.Context) (Persistence, func(), error) {
	p, err := NewSQLProvider(ctx, SQLite, &obconf.SQLDBConfig{
		DSN:           ":memory:",
		AutoMigrate:   confutil.P(true),
		MigrationsDir: UnitTestMigrationsDir(obconf.DBTypeSQLite),
	}, obconf.SQLiteDefaults)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}
