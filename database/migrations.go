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

package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Migration is the bookkeeping row written for every applied step.
type Migration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version     string    `bun:"version,pk"`
	Name        string    `bun:"name"`
	AppliedAt   time.Time `bun:"applied_at"`
	Description string    `bun:"description"`
}

// MigrationFunc runs one step inside the transaction of that step.
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationItem is a versioned step. Steps run once, by ascending version.
type MigrationItem struct {
	Version     string
	Name        string
	Description string
	Up          MigrationFunc
}

// MigrationManager brings the schema of the registered models up to date:
// it creates their tables with foreign keys and indexes their key columns.
type MigrationManager struct {
	db     *bun.DB
	logger Logger
	cfg    DataMigrateConfig
}

func NewMigrationManager(db *bun.DB, logger Logger, cfg DataMigrateConfig) *MigrationManager {
	if logger == nil {
		logger = GetLogger()
	}
	return &MigrationManager{db: db, logger: logger, cfg: cfg}
}

// steps lists the migrations enabled by the configuration.
func (mm *MigrationManager) steps() []MigrationItem {
	if !mm.cfg.Synchronize {
		return nil
	}
	return []MigrationItem{
		{
			Version:     "001",
			Name:        "create_tables",
			Description: "Create the tables of the registered models",
			Up:          mm.createTables,
		},
		{
			Version:     "002",
			Name:        "index_key_columns",
			Description: "Index the key columns of belongs-to relations",
			Up:          mm.indexKeyColumns,
		},
	}
}

// RunMigrations drops the schema first when DropSchema is set, then applies
// the pending steps. bun query logging is muted unless BUNDEBUG_MIGRATION is
// set.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, ok := os.LookupEnv("BUNDEBUG_MIGRATION"); !ok {
		EnableBunSqlSilent(true)
		defer EnableBunSqlSilent(false)
	}

	if mm.cfg.DropSchema {
		if err := mm.DropSchema(ctx); err != nil {
			return fmt.Errorf("failed to drop schema: %w", err)
		}
	}
	if _, err := mm.db.NewCreateTable().Model((*Migration)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := 0
	for _, step := range mm.steps() {
		done, err := mm.apply(ctx, step)
		if err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", step.Version, err)
		}
		if done {
			applied++
		}
	}
	mm.logger.Info("Database migrations completed", "applied", applied)
	return nil
}

// apply runs step unless it is recorded already. done reports whether it ran.
func (mm *MigrationManager) apply(ctx context.Context, step MigrationItem) (done bool, err error) {
	exists, err := mm.db.NewSelect().
		Model((*Migration)(nil)).
		Where("version = ?", step.Version).
		Exists(ctx)
	if err != nil || exists {
		return false, err
	}

	err = mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := step.Up(ctx, tx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&Migration{
			Version:     step.Version,
			Name:        step.Name,
			AppliedAt:   time.Now(),
			Description: step.Description,
		}).Exec(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	mm.logger.Info("Migration executed", "version", step.Version, "name", step.Name)
	return true, nil
}

// DropSchema drops the registered tables in reverse priority order and the
// migration bookkeeping table.
func (mm *MigrationManager) DropSchema(ctx context.Context) error {
	instances := RegisteredModelInstances()
	for i := len(instances) - 1; i >= 0; i-- {
		if _, err := mm.db.NewDropTable().Model(instances[i]).IfExists().Cascade().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table %T: %w", instances[i], err)
		}
	}
	if _, err := mm.db.NewDropTable().Model((*Migration)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop migrations table: %w", err)
	}
	mm.logger.Info("Database schema dropped", "tables", len(instances))
	return nil
}

// createTables creates every registered table by ascending priority. With
// EnableForeignKey each table carries its foreign keys inline, which is the
// only form SQLite accepts.
func (mm *MigrationManager) createTables(ctx context.Context, db bun.IDB) error {
	var fks *ConfigurableForeignKeyManager
	if mm.cfg.EnableForeignKey {
		fks = NewConfigurableForeignKeyManager(mm.logger, mm.cfg.ForeignKeyFile)
		if errs := fks.ValidateConstraints(); len(errs) > 0 {
			for _, err := range errs {
				mm.logger.Error("Invalid foreign key constraint", "error", err.Error())
			}
			return fmt.Errorf("%d invalid foreign key constraints", len(errs))
		}
	}

	for _, model := range RegisteredModelInstances() {
		query := db.NewCreateTable().Model(model).IfNotExists()
		if fks != nil {
			table, err := ResolveTableName(model)
			if err != nil {
				return err
			}
			for _, fk := range fks.GetConstraintsByTable(table) {
				clause, args := fk.InlineClause()
				query = query.ForeignKey(clause, args...)
				mm.logger.Debug("Adding foreign key constraint", "constraint", fk.GenerateConstraintName())
			}
		}
		if _, err := query.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table %T: %w", model, err)
		}
	}
	return nil
}

// indexKeyColumns adds idx_<table>_<column> for the key column of every
// single column belongs-to relation.
func (mm *MigrationManager) indexKeyColumns(ctx context.Context, db bun.IDB) error {
	for _, model := range RegisteredModelInstances() {
		meta, err := ResolveModelMeta(model)
		if err != nil {
			return err
		}
		for _, rel := range meta.BelongsTo() {
			if len(rel.Joins) != 1 {
				continue
			}
			column := rel.Joins[0].Column
			query := db.NewCreateIndex().
				Model(model).
				Index(fmt.Sprintf("idx_%s_%s", meta.Table, column)).
				Column(column)
			if db.Dialect().Name() != dialect.MySQL {
				query = query.IfNotExists()
			}
			if _, err := query.Exec(ctx); err != nil {
				return fmt.Errorf("failed to index %s.%s: %w", meta.Table, column, err)
			}
		}
	}
	return nil
}

// GetAppliedMigrations returns the applied steps by version.
func (mm *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]Migration, error) {
	var migrations []Migration
	err := mm.db.NewSelect().
		Model(&migrations).
		Order("version ASC").
		Scan(ctx)
	return migrations, err
}
