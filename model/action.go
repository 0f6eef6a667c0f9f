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

package model

import (
	"github.com/tomoncle/shadowfk/database"
	"github.com/uptrace/bun"
)

// Action optionally belongs to a User. UserID is the shadow scalar of the
// User relation: both describe the same user_id column.
type Action struct {
	bun.BaseModel `bun:"table:actions,alias:a"`

	ID          int64  `bun:"id,pk,autoincrement" json:"id"`
	Description string `bun:"description,notnull" json:"description"`
	UserID      *int64 `bun:"user_id" json:"user_id"`
	User        *User  `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
}

func init() {
	database.RegisteredModel(database.NewModelAdapter((*Action)(nil), 20))
}
