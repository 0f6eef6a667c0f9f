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
	"sort"
	"sync"
)

// SQLModel is a model whose table is created on migration and dropped on
// schema teardown. Priority orders creation (lower first) and teardown
// (higher first), so referenced tables take lower priorities.
type SQLModel interface {
	Instance() interface{}
	Priority() int
}

// ModelRegistry stores SQL models and exposes them in a deterministic order.
type ModelRegistry interface {
	Register(model SQLModel) error
	Models() []SQLModel
}

type modelRegistry struct {
	mu     sync.RWMutex
	models []SQLModel
	tables map[string]reflect.Type
}

var defaultRegistry ModelRegistry = newModelRegistry()

func newModelRegistry() *modelRegistry {
	return &modelRegistry{tables: make(map[string]reflect.Type)}
}

// Register adds model once per table. Registering the same type again is a
// no-op; a second type claiming an existing table is an error.
func (r *modelRegistry) Register(model SQLModel) error {
	table, err := ResolveTableName(model.Instance())
	if err != nil {
		return err
	}
	typ := reflect.TypeOf(model.Instance())

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.tables[table]; ok {
		if prev == typ {
			return nil
		}
		return fmt.Errorf("table %s is already mapped by %s", table, prev)
	}
	r.tables[table] = typ
	r.models = append(r.models, model)
	return nil
}

// Models returns the models by ascending priority, registration order
// breaking ties.
func (r *modelRegistry) Models() []SQLModel {
	r.mu.RLock()
	result := append([]SQLModel(nil), r.models...)
	r.mu.RUnlock()
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority() < result[j].Priority()
	})
	return result
}

type ModelAdapter struct {
	instance interface{}
	priority int
}

func NewModelAdapter(instance interface{}, priority int) SQLModel {
	return &ModelAdapter{instance: instance, priority: priority}
}

func (a *ModelAdapter) Instance() interface{} { return a.instance }

func (a *ModelAdapter) Priority() int { return a.priority }

// RegisteredModel adds a model to the default registry and panics when its
// table cannot be resolved or is taken; it is meant for init functions.
func RegisteredModel(model SQLModel) {
	if err := defaultRegistry.Register(model); err != nil {
		panic(fmt.Sprintf("database: register model %T: %v", model.Instance(), err))
	}
}

func GetRegisteredModels() []SQLModel {
	return defaultRegistry.Models()
}

// RegisteredModelInstances returns the registered struct pointers by
// ascending priority.
func RegisteredModelInstances() []interface{} {
	models := GetRegisteredModels()
	instances := make([]interface{}, len(models))
	for i, m := range models {
		instances[i] = m.Instance()
	}
	return instances
}
