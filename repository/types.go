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

	"github.com/tomoncle/shadowfk/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// Reader loads entities. Every entity it returns is tracked: its column
// values and loaded relation keys are remembered until the next write.
type Reader[T any] interface {
	// GetOne loads an entity by primary key together with relations.
	GetOne(ctx context.Context, id any, relations ...string) (*T, error)
	// FindOne returns the first entity matching opts, or ErrNotFound.
	FindOne(ctx context.Context, opts *types.FindOptions) (*T, error)
	GetAll(ctx context.Context) ([]*T, error)
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)
}

// Writer persists entities. Belongs-to relations are reconciled with their
// key columns before anything is written.
type Writer[T any] interface {
	Create(ctx context.Context, entity ...*T) error
	// Save inserts an entity whose primary key is unset and otherwise
	// updates the columns changed since it was last read or written.
	// Nothing is sent when no column changed.
	Save(ctx context.Context, entity *T) error
	// Update writes every non key column of an existing entity.
	Update(ctx context.Context, entity *T) error
	Upsert(ctx context.Context, fields []string, duplicateKeys []string, entity ...*T) error
	Delete(ctx context.Context, id any) error
}

// TxWriter is Writer bound to a caller owned transaction.
type TxWriter[T any] interface {
	CreateWithTx(ctx context.Context, tx *bun.Tx, entity ...*T) error
	SaveWithTx(ctx context.Context, tx *bun.Tx, entity *T) error
	UpdateWithTx(ctx context.Context, tx *bun.Tx, entity *T) error
	UpsertWithTx(ctx context.Context, tx *bun.Tx, fields []string, duplicateKeys []string, entity ...*T) error
	DeleteWithTx(ctx context.Context, tx *bun.Tx, id any) error
}

type Repository[T any] interface {
	Reader[T]
	Writer[T]
	TxWriter[T]

	// Forget drops the tracked state of entity; its next Save writes every
	// column.
	Forget(entity *T)

	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
	NewInsert() *bun.InsertQuery
	NewUpdate() *bun.UpdateQuery
	NewDelete() *bun.DeleteQuery
}
