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
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// ColumnMeta describes one struct field mapped to a table column.
type ColumnMeta struct {
	Name          string
	GoName        string
	Index         []int
	PK            bool
	AutoIncrement bool
	NotNull       bool
}

// JoinPair maps a local column to the referenced column of a relation.
type JoinPair struct {
	Column    string
	RefColumn string
}

// RelationMeta describes a struct field declared with a bun rel: tag.
type RelationMeta struct {
	GoName string
	Index  []int
	Kind   string
	Type   reflect.Type
	Joins  []JoinPair
}

// ModelMeta is the column and relation layout of a Bun model, read from its
// struct tags.
type ModelMeta struct {
	Type      reflect.Type
	Table     string
	Columns   []ColumnMeta
	Relations []RelationMeta
}

var metaCache sync.Map

// ResolveModelMeta reads the bun tags of model, which may be a struct value,
// a struct pointer or a reflect.Type of either. Results are cached per type.
func ResolveModelMeta(model interface{}) (*ModelMeta, error) {
	t, ok := model.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(model)
	}
	if t == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model must be a struct, got %s", t.Kind())
	}
	if cached, ok := metaCache.Load(t); ok {
		return cached.(*ModelMeta), nil
	}

	meta := &ModelMeta{Type: t}
	if err := collectModelMeta(t, nil, meta); err != nil {
		return nil, err
	}
	if meta.Table == "" {
		return nil, fmt.Errorf("missing table tag on bun.BaseModel of %s", t.Name())
	}
	actual, _ := metaCache.LoadOrStore(t, meta)
	return actual.(*ModelMeta), nil
}

// ResolveTableName returns the table declared on the model's bun.BaseModel.
func ResolveTableName(model interface{}) (string, error) {
	meta, err := ResolveModelMeta(model)
	if err != nil {
		return "", err
	}
	return meta.Table, nil
}

// Column looks a column up by its SQL name.
func (m *ModelMeta) Column(name string) (ColumnMeta, bool) {
	for _, c := range m.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnMeta{}, false
}

// PKs returns the primary key columns in declaration order.
func (m *ModelMeta) PKs() []ColumnMeta {
	var pks []ColumnMeta
	for _, c := range m.Columns {
		if c.PK {
			pks = append(pks, c)
		}
	}
	return pks
}

// BelongsTo returns relations whose key lives on this model's table.
func (m *ModelMeta) BelongsTo() []RelationMeta {
	var rels []RelationMeta
	for _, r := range m.Relations {
		if r.Kind == "belongs-to" {
			rels = append(rels, r)
		}
	}
	return rels
}

func collectModelMeta(t reflect.Type, parent []int, meta *ModelMeta) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int{}, parent...), i)
		tag := f.Tag.Get("bun")

		if f.Type.Name() == "BaseModel" && strings.Contains(f.Type.PkgPath(), "uptrace/bun") {
			meta.Table = tagOption(tag, "table")
			continue
		}
		if tag == "-" {
			continue
		}
		if f.Anonymous && tag == "" {
			ft := f.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if err := collectModelMeta(ft, index, meta); err != nil {
					return err
				}
			}
			continue
		}
		if !f.IsExported() {
			continue
		}

		name, opts := splitTag(tag)
		if kind, ok := opts["rel"]; ok {
			rel := RelationMeta{GoName: f.Name, Index: index, Kind: kind[0], Type: f.Type}
			for _, join := range opts["join"] {
				col, ref, found := strings.Cut(join, "=")
				if !found {
					return fmt.Errorf("invalid join %q on %s.%s", join, t.Name(), f.Name)
				}
				rel.Joins = append(rel.Joins, JoinPair{Column: strings.TrimSpace(col), RefColumn: strings.TrimSpace(ref)})
			}
			meta.Relations = append(meta.Relations, rel)
			continue
		}
		if _, ok := opts["m2m"]; ok {
			continue
		}

		if name == "" {
			name = underscore(f.Name)
		}
		_, pk := opts["pk"]
		_, auto := opts["autoincrement"]
		_, identity := opts["identity"]
		_, notNull := opts["notnull"]
		meta.Columns = append(meta.Columns, ColumnMeta{
			Name:          name,
			GoName:        f.Name,
			Index:         index,
			PK:            pk,
			AutoIncrement: auto || identity,
			NotNull:       notNull || pk,
		})
	}
	return nil
}

// splitTag splits a bun tag into its column name and options. Options may
// repeat (join:), so values are collected per key.
func splitTag(tag string) (string, map[string][]string) {
	opts := make(map[string][]string)
	if tag == "" {
		return "", opts
	}
	parts := strings.Split(tag, ",")
	name := ""
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key, val, hasVal := strings.Cut(p, ":")
		if i == 0 && !hasVal {
			name = p
			continue
		}
		opts[key] = append(opts[key], val)
	}
	return name, opts
}

func tagOption(tag, key string) string {
	_, opts := splitTag(tag)
	if v, ok := opts[key]; ok && len(v) > 0 {
		return strings.Trim(v[0], `"`)
	}
	return ""
}

// underscore converts a Go field name to snake_case the way bun does:
// UserID -> user_id, HTTPServer -> http_server.
func underscore(s string) string {
	r := []rune(s)
	var b strings.Builder
	for i, c := range r {
		if unicode.IsUpper(c) {
			if i > 0 && (unicode.IsLower(r[i-1]) || (i+1 < len(r) && unicode.IsLower(r[i+1]) && unicode.IsUpper(r[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(c))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
