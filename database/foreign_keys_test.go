/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database_test

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/shadowfk/database"
	_ "github.com/tomoncle/shadowfk/model"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func TestForeignKeysDerivedFromModels(t *testing.T) {
	fkm := database.NewForeignKeyManager(nil)
	constraints := fkm.GetConstraintsByTable("actions")
	require.Len(t, constraints, 1)

	fk := constraints[0]
	assert.Equal(t, "user_id", fk.Column)
	assert.Equal(t, "users", fk.ReferenceTable)
	assert.Equal(t, "id", fk.ReferenceColumn)
	assert.Equal(t, "SET NULL", fk.OnDelete)
	assert.Equal(t, "fk_actions_user_id", fk.GenerateConstraintName())
	assert.Empty(t, fkm.GetConstraintsByTable("users"))
	assert.Empty(t, fkm.ValidateConstraints())

	clause, args := fk.InlineClause()
	assert.Equal(t, "(?) REFERENCES ? (?) ON DELETE SET NULL", clause)
	assert.Equal(t, []interface{}{bun.Ident("user_id"), bun.Ident("users"), bun.Ident("id")}, args)
}

func TestForeignKeyConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	exported := filepath.Join(dir, "out", "fk.yaml")

	derived := database.NewConfigurableForeignKeyManager(nil, "")
	require.NoError(t, derived.ExportToConfig(exported))

	loaded := database.NewConfigurableForeignKeyManager(nil, exported)
	assert.Equal(t, exported, loaded.GetConfigPath())
	assert.Equal(t, derived.ListAllConstraints(), loaded.ListAllConstraints())

	require.NoError(t, os.WriteFile(exported, []byte(`
foreign_keys:
  - table: actions
    column: user_id
    reference_table: users
    reference_column: id
    on_delete: explode
`), 0o644))
	require.NoError(t, loaded.ReloadConfig())
	require.Len(t, loaded.ListAllConstraints(), 1)
	assert.Len(t, loaded.ValidateConstraints(), 1)
}

func TestForeignKeyConfigMissingFileKeepsDefaults(t *testing.T) {
	fkm := database.NewConfigurableForeignKeyManager(nil, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Len(t, fkm.GetConstraintsByTable("actions"), 1)
	assert.Error(t, fkm.ReloadConfig())
}

func TestAddForeignKeysToExistingTables(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(regexp.QuoteMeta(
		`ALTER TABLE "actions" ADD CONSTRAINT "fk_actions_user_id" FOREIGN KEY ("user_id") REFERENCES "users" ("id") ON DELETE SET NULL`,
	)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(
		`ALTER TABLE "actions" DROP CONSTRAINT "fk_actions_user_id"`,
	)).WillReturnResult(sqlmock.NewResult(0, 0))

	fkm := database.NewForeignKeyManager(nil)
	ctx := context.Background()
	require.NoError(t, fkm.AddForeignKeys(ctx, db))
	require.NoError(t, fkm.RemoveForeignKey(ctx, db, "actions", "fk_actions_user_id"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
