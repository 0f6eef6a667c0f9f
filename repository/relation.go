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

	"github.com/tomoncle/shadowfk/database"
	"github.com/uptrace/bun"
)

// keyBinding is the resolved state of one belongs-to relation and the scalar
// column holding its key.
type keyBinding struct {
	rel    database.RelationMeta
	join   database.JoinPair
	column database.ColumnMeta
	key    interface{}
}

// belongsToBindings returns the single column belongs-to relations of meta
// whose join column is mapped by a struct field.
func belongsToBindings(meta *database.ModelMeta) []keyBinding {
	var bindings []keyBinding
	for _, rel := range meta.BelongsTo() {
		if len(rel.Joins) != 1 || rel.Type.Kind() != reflect.Ptr {
			continue
		}
		col, ok := meta.Column(rel.Joins[0].Column)
		if !ok {
			continue
		}
		bindings = append(bindings, keyBinding{rel: rel, join: rel.Joins[0], column: col})
	}
	return bindings
}

// reconcileKeys settles every belongs-to relation of v against its scalar
// column before a write. The scalar wins when only it changed, the relation
// wins when only it changed, and changing both to different keys is a
// conflict. snap is nil for entities never persisted through the tracker.
// The scalar fields of v are updated in place.
func reconcileKeys(meta *database.ModelMeta, v reflect.Value, snap *snapshot) ([]keyBinding, error) {
	bindings := belongsToBindings(meta)
	for i := range bindings {
		b := &bindings[i]
		scalar := scalarKey(v, b.column)
		related, err := relatedKey(v, b.rel)
		if err != nil {
			return nil, err
		}

		var scalarChanged, relationChanged bool
		if snap != nil {
			scalarChanged = !sameKey(scalar, normalizeKey(snap.columns[b.column.Name]))
			relationChanged = !sameKey(related, snap.relations[b.rel.GoName])
		} else {
			scalarChanged = scalar != nil
			relationChanged = related != nil
		}

		switch {
		case scalarChanged && relationChanged:
			if !sameKey(scalar, related) {
				return nil, fmt.Errorf("%w: %s.%s=%v, %s=%v", ErrRelationConflict,
					meta.Table, b.column.Name, scalar, b.rel.GoName, related)
			}
			b.key = scalar
		case relationChanged:
			if err := setScalar(fieldByIndex(v, b.column.Index), related); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", meta.Table, b.column.Name, err)
			}
			b.key = related
		default:
			b.key = scalar
		}
	}
	return bindings, nil
}

// syncRelations makes every relation of v agree with its written key: a nil
// key clears the relation, a key the loaded relation does not carry is
// selected again through db.
func syncRelations(ctx context.Context, db bun.IDB, v reflect.Value, bindings []keyBinding) error {
	for _, b := range bindings {
		field := fieldByIndex(v, b.rel.Index)
		if !field.IsValid() {
			continue
		}
		if b.key == nil {
			field.Set(reflect.Zero(field.Type()))
			continue
		}
		current, err := relatedKey(v, b.rel)
		if err == nil && sameKey(current, b.key) {
			continue
		}
		related, err := loadRelated(ctx, db, b.rel.Type.Elem(), b.join.RefColumn, b.key)
		if err != nil {
			return fmt.Errorf("failed to load relation %s: %w", b.rel.GoName, err)
		}
		field.Set(related)
	}
	return nil
}

// normalizeRelations clears relations the scan left half populated: a nil
// scalar key or a related entity without its key means no related row.
func normalizeRelations(meta *database.ModelMeta, v reflect.Value) {
	for _, b := range belongsToBindings(meta) {
		field := fieldByIndex(v, b.rel.Index)
		if !field.IsValid() || field.IsNil() {
			continue
		}
		related, err := relatedKey(v, b.rel)
		if scalarKey(v, b.column) == nil || err != nil || related == nil {
			field.Set(reflect.Zero(field.Type()))
		}
	}
}

func loadRelated(ctx context.Context, db bun.IDB, typ reflect.Type, refColumn string, key interface{}) (reflect.Value, error) {
	related := reflect.New(typ)
	err := db.NewSelect().
		Model(related.Interface()).
		Where("?TableAlias.? = ?", bun.Ident(refColumn), key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return reflect.Value{}, fmt.Errorf("%w: %s=%v", ErrNotFound, refColumn, key)
	}
	if err != nil {
		return reflect.Value{}, err
	}
	return related, nil
}

// scalarKey returns the key held by a scalar column, nil for NULL or zero.
func scalarKey(v reflect.Value, col database.ColumnMeta) interface{} {
	return normalizeKey(columnValue(fieldByIndex(v, col.Index)))
}

// relatedKey returns the referenced key of the entity loaded into rel, nil
// when the relation is empty.
func relatedKey(v reflect.Value, rel database.RelationMeta) (interface{}, error) {
	field := fieldByIndex(v, rel.Index)
	if !field.IsValid() || field.Kind() != reflect.Ptr || field.IsNil() {
		return nil, nil
	}
	relMeta, err := database.ResolveModelMeta(rel.Type)
	if err != nil {
		return nil, err
	}
	refCol, ok := relMeta.Column(rel.Joins[0].RefColumn)
	if !ok {
		return nil, fmt.Errorf("relation %s references unknown column %s", rel.GoName, rel.Joins[0].RefColumn)
	}
	key := normalizeKey(columnValue(fieldByIndex(field.Elem(), refCol.Index)))
	if key == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsavedRelation, rel.GoName)
	}
	return key, nil
}

func normalizeKey(key interface{}) interface{} {
	if key == nil || reflect.ValueOf(key).IsZero() {
		return nil
	}
	return key
}

// sameKey compares keys of possibly different integer kinds by value.
func sameKey(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isInt(av) && isInt(bv):
		return av.Int() == bv.Int()
	case isUint(av) && isUint(bv):
		return av.Uint() == bv.Uint()
	case isInt(av) && isUint(bv):
		return av.Int() >= 0 && uint64(av.Int()) == bv.Uint()
	case isUint(av) && isInt(bv):
		return bv.Int() >= 0 && uint64(bv.Int()) == av.Uint()
	}
	return reflect.DeepEqual(a, b)
}

func isInt(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// setScalar stores key into a scalar key field, allocating when the field
// is a pointer. A nil key stores nil or the zero value.
func setScalar(field reflect.Value, key interface{}) error {
	if !field.IsValid() || !field.CanSet() {
		return fmt.Errorf("key field is not settable")
	}
	if key == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	target := field.Type()
	if target.Kind() == reflect.Ptr {
		target = target.Elem()
	}
	kv := reflect.ValueOf(key)
	if !kv.Type().ConvertibleTo(target) {
		return fmt.Errorf("cannot assign key of type %s to %s", kv.Type(), field.Type())
	}
	converted := kv.Convert(target)
	if field.Kind() == reflect.Ptr {
		p := reflect.New(target)
		p.Elem().Set(converted)
		field.Set(p)
		return nil
	}
	field.Set(converted)
	return nil
}
