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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageRequestBounds(t *testing.T) {
	p := NewDefaultPageRequest(0, 0)
	assert.Equal(t, 1, p.GetPage())
	assert.Equal(t, 10, p.GetPageSize())
	assert.Equal(t, 0, p.GetOffset())

	p = NewPageRequestWithOrders(3, 5000, []string{"a.id ASC"}).WithRelations("User")
	assert.Equal(t, 1000, p.GetPageSize())
	assert.Equal(t, 2000, p.GetOffset())
	assert.Equal(t, []string{"a.id ASC"}, p.GetOrders())
	assert.Equal(t, []string{"User"}, p.GetRelations())
	assert.Nil(t, p.GetFilter())
}

func TestPaginationPages(t *testing.T) {
	page := NewDefaultPagination[struct{}](1, 2)
	assert.Zero(t, page.TotalPages())
	assert.False(t, page.HasNext())

	page.Total = 5
	assert.Equal(t, 3, page.TotalPages())
	assert.True(t, page.HasNext())
	page.Page = 3
	assert.False(t, page.HasNext())
}

func TestFindOptions(t *testing.T) {
	o := NewFindOptions("?TableAlias.id = ?", 1).WithRelations("User").WithOrders("a.id DESC")
	assert.Equal(t, "?TableAlias.id = ?", o.Filter.Schema)
	assert.Equal(t, []interface{}{1}, o.Filter.Args)
	assert.Equal(t, []string{"User"}, o.Relations)
	assert.Equal(t, []string{"a.id DESC"}, o.Orders)
}
