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

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/tomoncle/shadowfk/database"
	"github.com/tomoncle/shadowfk/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"
)

type baseRepositoryImpl[T any] struct {
	db      *bun.DB
	meta    *database.ModelMeta
	metaErr error
	tracker *tracker
}

// NewRepository returns a generic repository backed by the provided Bun DB.
func NewRepository[T any](db *bun.DB) Repository[T] {
	r := &baseRepositoryImpl[T]{db: db}
	r.meta, r.metaErr = database.ResolveModelMeta((*T)(nil))
	if r.metaErr == nil {
		r.tracker = newTracker(r.meta)
	}
	return r
}

func (r *baseRepositoryImpl[T]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *baseRepositoryImpl[T]) NewSelect() *bun.SelectQuery { return r.db.NewSelect() }

func (r *baseRepositoryImpl[T]) NewInsert() *bun.InsertQuery { return r.db.NewInsert() }

func (r *baseRepositoryImpl[T]) NewUpdate() *bun.UpdateQuery { return r.db.NewUpdate() }

func (r *baseRepositoryImpl[T]) NewDelete() *bun.DeleteQuery { return r.db.NewDelete() }

func (r *baseRepositoryImpl[T]) ValsToSlice(entity ...*T) []*T {
	entities := make([]*T, 0, len(entity))
	for _, e := range entity {
		if e != nil {
			entities = append(entities, e)
		}
	}
	return entities
}

func (r *baseRepositoryImpl[T]) Forget(entity *T) {
	if entity == nil || r.tracker == nil {
		return
	}
	r.tracker.forget(reflect.ValueOf(entity).Elem())
}

// track normalizes freshly read or written entities and snapshots them.
func (r *baseRepositoryImpl[T]) track(entities ...*T) {
	for _, e := range entities {
		if e == nil {
			continue
		}
		v := reflect.ValueOf(e).Elem()
		normalizeRelations(r.meta, v)
		r.tracker.capture(v)
	}
}

func (r *baseRepositoryImpl[T]) primaryKey() (database.ColumnMeta, error) {
	if r.metaErr != nil {
		return database.ColumnMeta{}, r.metaErr
	}
	pks := r.meta.PKs()
	if len(pks) != 1 {
		return database.ColumnMeta{}, fmt.Errorf("%w: %s has %d primary key columns", ErrNoPrimaryKey, r.meta.Table, len(pks))
	}
	return pks[0], nil
}

// isNew reports whether v has not been inserted yet: an auto-generated key
// is still zero, or every key is zero when none is generated.
func (r *baseRepositoryImpl[T]) isNew(v reflect.Value) bool {
	pks := r.meta.PKs()
	allZero := true
	for _, pk := range pks {
		fv := fieldByIndex(v, pk.Index)
		zero := !fv.IsValid() || fv.IsZero()
		if pk.AutoIncrement && zero {
			return true
		}
		allZero = allZero && zero
	}
	return allZero
}

func (r *baseRepositoryImpl[T]) GetOne(ctx context.Context, id any, relations ...string) (*T, error) {
	pk, err := r.primaryKey()
	if err != nil {
		return nil, err
	}
	opts := types.NewFindOptions("?TableAlias.? = ?", bun.Ident(pk.Name), id).WithRelations(relations...)
	return r.FindOne(ctx, opts)
}

func (r *baseRepositoryImpl[T]) FindOne(ctx context.Context, opts *types.FindOptions) (*T, error) {
	if r.metaErr != nil {
		return nil, r.metaErr
	}
	entity := new(T)
	query := r.db.NewSelect().Model(entity)
	if opts != nil {
		for _, rel := range opts.Relations {
			query = query.Relation(rel)
		}
		if opts.Filter != nil {
			query = query.Where(opts.Filter.Schema, opts.Filter.Args...)
		}
		if len(opts.Orders) > 0 {
			query = query.Order(opts.Orders...)
		}
	}
	if err := query.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, r.meta.Table)
		}
		return nil, err
	}
	r.track(entity)
	return entity, nil
}

func (r *baseRepositoryImpl[T]) GetAll(ctx context.Context) ([]*T, error) {
	if r.metaErr != nil {
		return nil, r.metaErr
	}
	var entities []*T
	if err := r.db.NewSelect().Model(&entities).Scan(ctx); err != nil {
		return nil, err
	}
	r.track(entities...)
	return entities, nil
}

func (r *baseRepositoryImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	if r.metaErr != nil {
		return nil, r.metaErr
	}
	var entities []*T
	query := r.db.NewSelect().Model(&entities)
	if filter != nil {
		query = query.Where(filter.Schema, filter.Args...)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	r.track(entities...)
	return entities, nil
}

func (r *baseRepositoryImpl[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	return r.List(ctx, types.NewQueryFilter(query, args...))
}

func (r *baseRepositoryImpl[T]) Page(ctx context.Context, pageRequest *types.PageRequest) (*types.Pagination[T], error) {
	if r.metaErr != nil {
		return nil, r.metaErr
	}
	var entities []*T
	query := r.db.NewSelect().Model(&entities)
	for _, rel := range pageRequest.GetRelations() {
		query = query.Relation(rel)
	}
	if pageRequest.GetFilter() != nil {
		query = query.Where(pageRequest.GetFilter().Schema, pageRequest.GetFilter().Args...)
	}
	pagination := types.NewDefaultPagination[T](pageRequest.GetPage(), pageRequest.GetPageSize())
	total, err := query.Count(ctx)
	if err != nil || total == 0 {
		return pagination, err
	}
	err = query.
		Offset(pageRequest.GetOffset()).
		Limit(pageRequest.GetPageSize()).
		Order(pageRequest.GetOrders()...).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	r.track(entities...)
	pagination.Total = total
	pagination.Items = entities
	return pagination, nil
}

func (r *baseRepositoryImpl[T]) Create(ctx context.Context, entity ...*T) error {
	return r.create(ctx, r.db, r.ValsToSlice(entity...))
}

func (r *baseRepositoryImpl[T]) Save(ctx context.Context, entity *T) error {
	return r.save(ctx, r.db, entity)
}

func (r *baseRepositoryImpl[T]) Upsert(ctx context.Context, fields []string, duplicateKeys []string, entity ...*T) error {
	return r.multipleUpsert(ctx, r.db, fields, duplicateKeys, entity...)
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, entity *T) error {
	return r.update(ctx, r.db, entity, true)
}

func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, id any) error {
	return r.delete(ctx, r.db, id)
}

func (r *baseRepositoryImpl[T]) CreateWithTx(ctx context.Context, tx *bun.Tx, entity ...*T) error {
	return r.create(ctx, tx, r.ValsToSlice(entity...))
}

func (r *baseRepositoryImpl[T]) SaveWithTx(ctx context.Context, tx *bun.Tx, entity *T) error {
	return r.save(ctx, tx, entity)
}

func (r *baseRepositoryImpl[T]) UpsertWithTx(ctx context.Context, tx *bun.Tx, fields []string, duplicateKeys []string, entity ...*T) error {
	return r.multipleUpsert(ctx, tx, fields, duplicateKeys, entity...)
}

func (r *baseRepositoryImpl[T]) UpdateWithTx(ctx context.Context, tx *bun.Tx, entity *T) error {
	return r.update(ctx, tx, entity, true)
}

func (r *baseRepositoryImpl[T]) DeleteWithTx(ctx context.Context, tx *bun.Tx, id any) error {
	return r.delete(ctx, tx, id)
}

func (r *baseRepositoryImpl[T]) create(ctx context.Context, db bun.IDB, entities []*T) error {
	if r.metaErr != nil {
		return r.metaErr
	}
	if len(entities) == 0 {
		return nil
	}
	bindings := make([][]keyBinding, len(entities))
	for i, e := range entities {
		b, err := reconcileKeys(r.meta, reflect.ValueOf(e).Elem(), nil)
		if err != nil {
			return err
		}
		bindings[i] = b
	}
	if _, err := db.NewInsert().Model(&entities).Exec(ctx); err != nil {
		return err
	}
	for i, e := range entities {
		v := reflect.ValueOf(e).Elem()
		if err := syncRelations(ctx, db, v, bindings[i]); err != nil {
			return err
		}
		r.tracker.capture(v)
	}
	return nil
}

func (r *baseRepositoryImpl[T]) save(ctx context.Context, db bun.IDB, entity *T) error {
	if r.metaErr != nil {
		return r.metaErr
	}
	if entity == nil {
		return fmt.Errorf("entity cannot be nil")
	}
	if r.isNew(reflect.ValueOf(entity).Elem()) {
		return r.create(ctx, db, []*T{entity})
	}
	return r.update(ctx, db, entity, false)
}

// update writes entity by primary key. Without all, only the columns that
// differ from the tracked snapshot are assigned, and an entity without
// changes produces no statement.
func (r *baseRepositoryImpl[T]) update(ctx context.Context, db bun.IDB, entity *T, all bool) error {
	if r.metaErr != nil {
		return r.metaErr
	}
	if entity == nil {
		return fmt.Errorf("entity cannot be nil")
	}
	v := reflect.ValueOf(entity).Elem()
	snap := r.tracker.lookup(v)
	bindings, err := reconcileKeys(r.meta, v, snap)
	if err != nil {
		return err
	}

	columns := r.tracker.dirtyColumns(v, snap)
	if all {
		columns = r.tracker.dirtyColumns(v, nil)
	}
	if len(columns) > 0 {
		res, err := db.NewUpdate().Model(entity).Column(columns...).WherePK().Exec(ctx)
		if err != nil {
			return err
		}
		// MySQL reports matched rows whose values did not change as unaffected.
		if r.db.Dialect().Name() != dialect.MySQL {
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("%w: %s", ErrNotFound, r.meta.Table)
			}
		}
	}

	if err := syncRelations(ctx, db, v, bindings); err != nil {
		return err
	}
	r.tracker.capture(v)
	return nil
}

func (r *baseRepositoryImpl[T]) delete(ctx context.Context, db bun.IDB, id any) error {
	pk, err := r.primaryKey()
	if err != nil {
		return err
	}
	if _, err := db.NewDelete().Model((*T)(nil)).Where("? = ?", bun.Ident(pk.Name), id).Exec(ctx); err != nil {
		return err
	}
	r.tracker.forgetKey(fmt.Sprint(id))
	return nil
}

func (r *baseRepositoryImpl[T]) multipleUpsert(ctx context.Context, db bun.IDB, fields []string, duplicateKeys []string, entity ...*T) error {
	if len(fields) == 0 {
		return fmt.Errorf("fields cannot be empty")
	}
	if r.metaErr != nil {
		return r.metaErr
	}

	entities := r.ValsToSlice(entity...)
	if len(entities) == 0 {
		return nil
	}
	// Rows may have been written by other means; the next Save of an
	// upserted entity writes every column.
	defer func() {
		for _, e := range entities {
			r.tracker.forget(reflect.ValueOf(e).Elem())
		}
	}()

	bindings := make([][]keyBinding, len(entities))
	for i, e := range entities {
		b, err := reconcileKeys(r.meta, reflect.ValueOf(e).Elem(), nil)
		if err != nil {
			return err
		}
		bindings[i] = b
	}

	var err error
	insertQuery := db.NewInsert()
	switch {
	case r.db.HasFeature(feature.InsertOnConflict):
		err = r.upsertWithPostgresqlOrSQLite(ctx, insertQuery, fields, duplicateKeys, entities)
	case r.db.HasFeature(feature.InsertOnDuplicateKey):
		err = r.upsertWithMySQL(ctx, insertQuery, fields, entities)
	default:
		err = r.upsertFallback(ctx, db, entities)
	}
	if err != nil {
		return err
	}
	for i, e := range entities {
		if err := syncRelations(ctx, db, reflect.ValueOf(e).Elem(), bindings[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *baseRepositoryImpl[T]) upsertWithMySQL(ctx context.Context, insertQuery *bun.InsertQuery, fields []string, entities []*T) error {
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = VALUES(%s)", bun.Ident(field), bun.Ident(field)))
	}
	_, err := insertQuery.
		Model(&entities).
		On("DUPLICATE KEY UPDATE " + strings.Join(queryArgs, ", ")).
		Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertWithPostgresqlOrSQLite(ctx context.Context, insertQuery *bun.InsertQuery, fields []string, duplicateKeys []string, entities []*T) error {
	if len(duplicateKeys) == 0 {
		duplicateKeys = []string{"id"}
	}
	keyNames := strings.Join(duplicateKeys, ",")
	var queryArgs []string
	for _, field := range fields {
		queryArgs = append(queryArgs, fmt.Sprintf("%s = EXCLUDED.%s", bun.Ident(field), bun.Ident(field)))
	}
	_, err := insertQuery.
		Model(&entities).
		On("CONFLICT (" + keyNames + ") DO UPDATE").
		Set(strings.Join(queryArgs, ", ")).
		Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertFallback(ctx context.Context, db bun.IDB, entities []*T) error {
	for _, entity := range entities {
		_, err := db.NewInsert().Model(entity).Exec(ctx)
		if err != nil {
			_, updateErr := db.NewUpdate().Model(entity).WherePK().Exec(ctx)
			if updateErr != nil {
				return fmt.Errorf("upsert failed for entity: insert error: %v, update error: %v", err, updateErr)
			}
		}
	}
	return nil
}
