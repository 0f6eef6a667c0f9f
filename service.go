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

package shadowfk

import (
	"context"
	"database/sql"
	"sync"

	"github.com/tomoncle/shadowfk/database"
	"github.com/tomoncle/shadowfk/repository"
	"github.com/tomoncle/shadowfk/types"
	"github.com/uptrace/bun"
)

// Service is the entry point for working with one entity type. Entities read
// or written through it are change tracked, so Save writes only what changed
// and keeps belongs-to relations in step with their key columns.
type Service[T any] interface {
	Get(ctx context.Context, id any, relations ...string) (*T, error)
	FindOne(ctx context.Context, opts *types.FindOptions) (*T, error)
	All(ctx context.Context) ([]*T, error)
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)
	// Query lists entities matching a WHERE clause.
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	Create(ctx context.Context, model ...*T) error
	// Save inserts a new entity or writes the changed columns of a known one.
	Save(ctx context.Context, model *T) error
	// Update writes every column of an existing entity.
	Update(ctx context.Context, model *T) error
	Delete(ctx context.Context, id any) error
	SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error
	// Forget drops the tracked state of model.
	Forget(model *T)

	// Transaction runs fn in a transaction that is rolled back when fn
	// returns an error. Entities written through this service's WithTx
	// methods inside fn lose their tracked state when the transaction does
	// not commit, so their next Save writes every column again.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *bun.Tx) error) error
	CreateWithTx(ctx context.Context, tx *bun.Tx, model ...*T) error
	SaveWithTx(ctx context.Context, tx *bun.Tx, model *T) error
	SaveOrUpdateWithTx(ctx context.Context, tx *bun.Tx, fields []string, duplicateKeys []string, model ...*T) error
	UpdateWithTx(ctx context.Context, tx *bun.Tx, model *T) error
	DeleteWithTx(ctx context.Context, tx *bun.Tx, id any) error

	SelectBuilder() *bun.SelectQuery
	InsertBuilder() *bun.InsertQuery
	UpdateBuilder() *bun.UpdateQuery
	DeleteBuilder() *bun.DeleteQuery
}

// NewService returns a Service on the global connection opened by
// database.InitDB. The connection is looked up on first use.
func NewService[T any]() Service[T] {
	return &service[T]{}
}

// NewServiceWithDB returns a Service bound to db.
func NewServiceWithDB[T any](db *bun.DB) Service[T] {
	return &service[T]{db: db}
}

type service[T any] struct {
	db *bun.DB

	once  sync.Once
	bound *bun.DB
	repo  repository.Repository[T]

	txMu     sync.Mutex
	txWrites map[*bun.Tx][]*T
}

func (s *service[T]) store() repository.Repository[T] {
	s.once.Do(func() {
		s.bound = s.db
		if s.bound == nil {
			s.bound = database.GetDB()
		}
		s.repo = repository.NewRepository[T](s.bound)
	})
	return s.repo
}

func (s *service[T]) Get(ctx context.Context, id any, relations ...string) (*T, error) {
	return s.store().GetOne(ctx, id, relations...)
}

func (s *service[T]) FindOne(ctx context.Context, opts *types.FindOptions) (*T, error) {
	return s.store().FindOne(ctx, opts)
}

func (s *service[T]) All(ctx context.Context) ([]*T, error) {
	return s.store().GetAll(ctx)
}

func (s *service[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return s.store().List(ctx, filter)
}

func (s *service[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	return s.store().Query(ctx, query, args...)
}

func (s *service[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	return s.store().Page(ctx, page)
}

func (s *service[T]) Create(ctx context.Context, model ...*T) error {
	return s.store().Create(ctx, model...)
}

func (s *service[T]) Save(ctx context.Context, model *T) error {
	return s.store().Save(ctx, model)
}

func (s *service[T]) Update(ctx context.Context, model *T) error {
	return s.store().Update(ctx, model)
}

func (s *service[T]) Delete(ctx context.Context, id any) error {
	return s.store().Delete(ctx, id)
}

func (s *service[T]) SaveOrUpdate(ctx context.Context, fields []string, duplicateKeys []string, model ...*T) error {
	return s.store().Upsert(ctx, fields, duplicateKeys, model...)
}

func (s *service[T]) Forget(model *T) {
	s.store().Forget(model)
}

func (s *service[T]) Transaction(ctx context.Context, fn func(ctx context.Context, tx *bun.Tx) error) error {
	repo := s.store()
	var handle *bun.Tx
	err := s.bound.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		handle = &tx
		s.beginTx(handle)
		return fn(ctx, handle)
	})
	written := s.endTx(handle)
	if err != nil {
		for _, model := range written {
			repo.Forget(model)
		}
	}
	return err
}

func (s *service[T]) beginTx(tx *bun.Tx) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.txWrites == nil {
		s.txWrites = make(map[*bun.Tx][]*T)
	}
	s.txWrites[tx] = nil
}

func (s *service[T]) endTx(tx *bun.Tx) []*T {
	if tx == nil {
		return nil
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	written := s.txWrites[tx]
	delete(s.txWrites, tx)
	return written
}

// recordTx remembers models written through tx when tx belongs to a
// running Transaction.
func (s *service[T]) recordTx(tx *bun.Tx, models ...*T) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if written, ok := s.txWrites[tx]; ok {
		s.txWrites[tx] = append(written, models...)
	}
}

func (s *service[T]) CreateWithTx(ctx context.Context, tx *bun.Tx, model ...*T) error {
	s.recordTx(tx, model...)
	return s.store().CreateWithTx(ctx, tx, model...)
}

func (s *service[T]) SaveWithTx(ctx context.Context, tx *bun.Tx, model *T) error {
	s.recordTx(tx, model)
	return s.store().SaveWithTx(ctx, tx, model)
}

func (s *service[T]) SaveOrUpdateWithTx(ctx context.Context, tx *bun.Tx, fields []string, duplicateKeys []string, model ...*T) error {
	return s.store().UpsertWithTx(ctx, tx, fields, duplicateKeys, model...)
}

func (s *service[T]) UpdateWithTx(ctx context.Context, tx *bun.Tx, model *T) error {
	s.recordTx(tx, model)
	return s.store().UpdateWithTx(ctx, tx, model)
}

func (s *service[T]) DeleteWithTx(ctx context.Context, tx *bun.Tx, id any) error {
	return s.store().DeleteWithTx(ctx, tx, id)
}

func (s *service[T]) SelectBuilder() *bun.SelectQuery {
	return s.store().NewSelect()
}

func (s *service[T]) InsertBuilder() *bun.InsertQuery {
	return s.store().NewInsert()
}

func (s *service[T]) UpdateBuilder() *bun.UpdateQuery {
	return s.store().NewUpdate()
}

func (s *service[T]) DeleteBuilder() *bun.DeleteQuery {
	return s.store().NewDelete()
}
