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
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/tomoncle/shadowfk/database"
)

// snapshot holds the persisted state of one entity: column values keyed by
// column name and, for each belongs-to relation, the key of the related
// entity that was loaded with it (nil when none was).
type snapshot struct {
	columns   map[string]interface{}
	relations map[string]interface{}
}

// tracker remembers the last persisted state of entities by primary key.
// Snapshots are not rolled back together with a failed transaction.
type tracker struct {
	meta  *database.ModelMeta
	mu    sync.RWMutex
	snaps map[string]*snapshot
}

func newTracker(meta *database.ModelMeta) *tracker {
	return &tracker{meta: meta, snaps: make(map[string]*snapshot)}
}

// key identifies v by its primary key values. ok is false while any of them
// is still zero.
func (t *tracker) key(v reflect.Value) (string, bool) {
	pks := t.meta.PKs()
	if len(pks) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(pks))
	for _, pk := range pks {
		fv := fieldByIndex(v, pk.Index)
		if !fv.IsValid() || fv.IsZero() {
			return "", false
		}
		parts = append(parts, fmt.Sprint(columnValue(fv)))
	}
	return strings.Join(parts, "|"), true
}

func (t *tracker) capture(v reflect.Value) {
	k, ok := t.key(v)
	if !ok {
		return
	}
	snap := &snapshot{
		columns:   make(map[string]interface{}, len(t.meta.Columns)),
		relations: make(map[string]interface{}),
	}
	for _, col := range t.meta.Columns {
		snap.columns[col.Name] = columnValue(fieldByIndex(v, col.Index))
	}
	for _, rel := range t.meta.BelongsTo() {
		relKey, _ := relatedKey(v, rel)
		snap.relations[rel.GoName] = relKey
	}

	t.mu.Lock()
	t.snaps[k] = snap
	t.mu.Unlock()
}

func (t *tracker) lookup(v reflect.Value) *snapshot {
	k, ok := t.key(v)
	if !ok {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snaps[k]
}

func (t *tracker) forget(v reflect.Value) {
	if k, ok := t.key(v); ok {
		t.forgetKey(k)
	}
}

func (t *tracker) forgetKey(k string) {
	t.mu.Lock()
	delete(t.snaps, k)
	t.mu.Unlock()
}

// dirtyColumns lists the non primary key columns of v whose value differs
// from snap, each column once and in declaration order. A nil snap marks
// every column dirty.
func (t *tracker) dirtyColumns(v reflect.Value, snap *snapshot) []string {
	var cols []string
	for _, col := range t.meta.Columns {
		if col.PK {
			continue
		}
		if snap != nil {
			prev, seen := snap.columns[col.Name]
			if seen && reflect.DeepEqual(prev, columnValue(fieldByIndex(v, col.Index))) {
				continue
			}
		}
		cols = append(cols, col.Name)
	}
	return cols
}

// fieldByIndex walks index through embedded pointers and returns an invalid
// Value when one of them is nil.
func fieldByIndex(v reflect.Value, index []int) reflect.Value {
	fv, err := v.FieldByIndexErr(index)
	if err != nil {
		return reflect.Value{}
	}
	return fv
}

// columnValue returns a comparable copy of a column field: pointers are
// dereferenced (nil stays nil) and byte slices are copied.
func columnValue(fv reflect.Value) interface{} {
	if !fv.IsValid() {
		return nil
	}
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil
		}
		fv = fv.Elem()
	}
	if fv.Kind() == reflect.Slice {
		if fv.IsNil() {
			return nil
		}
		c := reflect.MakeSlice(fv.Type(), fv.Len(), fv.Len())
		reflect.Copy(c, fv)
		return c.Interface()
	}
	return fv.Interface()
}
