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

package types

// QueryFilter is a WHERE clause in bun placeholder syntax and its arguments,
// e.g. NewQueryFilter("?TableAlias.user_id = ?", 1).
type QueryFilter struct {
	Schema string
	Args   []interface{}
}

func NewQueryFilter(schema string, args ...interface{}) *QueryFilter {
	return &QueryFilter{Schema: schema, Args: args}
}

// FindOptions selects a single entity: an optional filter, the relations
// to load with it and the ordering used when several rows match.
type FindOptions struct {
	Filter    *QueryFilter
	Relations []string
	Orders    []string
}

// NewFindOptions builds options filtering on schema and args.
func NewFindOptions(schema string, args ...interface{}) *FindOptions {
	return &FindOptions{Filter: NewQueryFilter(schema, args...)}
}

// WithRelations appends relations, named by struct field, to load.
func (o *FindOptions) WithRelations(relations ...string) *FindOptions {
	o.Relations = append(o.Relations, relations...)
	return o
}

// WithOrders appends ORDER BY expressions such as "a.id DESC".
func (o *FindOptions) WithOrders(orders ...string) *FindOptions {
	o.Orders = append(o.Orders, orders...)
	return o
}
