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

import "errors"

var (
	// ErrNotFound is returned when a lookup or an update matches no row.
	ErrNotFound = errors.New("repository: not found")

	// ErrRelationConflict is returned when a belongs-to relation and its
	// scalar key column were both changed to different keys.
	ErrRelationConflict = errors.New("repository: relation and key column disagree")

	// ErrUnsavedRelation is returned when a relation points at an entity
	// that has no primary key yet.
	ErrUnsavedRelation = errors.New("repository: related entity has no primary key")

	// ErrNoPrimaryKey is returned for models without a primary key column.
	ErrNoPrimaryKey = errors.New("repository: model has no primary key")
)
