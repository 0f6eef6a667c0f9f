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
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
)

func TestDuplicateAssignments(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "repeated quoted column",
			query: `UPDATE "action" SET "userId" = 1, "userId" = 1 WHERE "id" IN (1)`,
			want:  []string{"userId"},
		},
		{
			name:  "single assignment",
			query: `UPDATE "actions" AS "a" SET "user_id" = 7 WHERE ("a"."id" = 1)`,
		},
		{
			name:  "qualified and unqualified",
			query: `UPDATE actions SET a.user_id = 1, user_id = 2`,
			want:  []string{"user_id"},
		},
		{
			name:  "commas inside values",
			query: `UPDATE "actions" SET "description" = 'a, "user_id" = 2', "user_id" = coalesce(1, 2) WHERE id = 1`,
		},
		{
			name:  "mysql backticks",
			query: "UPDATE `actions` SET `user_id` = 1, `description` = 'x', `user_id` = 2",
			want:  []string{"user_id"},
		},
		{
			name:  "returning clause ignored",
			query: `UPDATE "actions" SET "user_id" = 1 WHERE "id" = 1 RETURNING "user_id", "user_id"`,
		},
		{
			name:  "not an update",
			query: `SELECT "user_id", "user_id" FROM "actions"`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DuplicateAssignments(tc.query))
		})
	}
}

type captureLogger struct {
	errors []string
}

func (l *captureLogger) Debug(string, ...interface{}) {}
func (l *captureLogger) Info(string, ...interface{})  {}
func (l *captureLogger) Warn(string, ...interface{})  {}
func (l *captureLogger) Error(msg string, _ ...interface{}) {
	l.errors = append(l.errors, msg)
}
func (l *captureLogger) SetLevel(LogLevel) {}

func TestAssignmentGuardHook(t *testing.T) {
	logger := &captureLogger{}
	guard := NewAssignmentGuardHook(logger)
	var reported []string
	guard.OnDuplicate(func(_ string, cols []string) { reported = append(reported, cols...) })

	ctx := context.Background()
	for _, q := range []string{
		`SELECT 1`,
		`UPDATE "actions" SET "user_id" = 1 WHERE "id" = 1`,
		`UPDATE "actions" SET "user_id" = 1, "user_id" = 1 WHERE "id" = 1`,
	} {
		event := &bun.QueryEvent{Query: q}
		ctx = guard.BeforeQuery(ctx, event)
		guard.AfterQuery(ctx, event)
	}

	assert.EqualValues(t, 2, guard.Inspected())
	assert.EqualValues(t, 1, guard.Duplicates())
	assert.Equal(t, []string{"user_id"}, reported)
	assert.Len(t, logger.errors, 1)
}

func TestQueryHookSilent(t *testing.T) {
	var buf bytes.Buffer
	hook := NewQueryHook(&buf)
	event := &bun.QueryEvent{Query: `UPDATE "actions" SET "user_id" = 1`}

	EnableBunSqlSilent(true)
	hook.AfterQuery(context.Background(), event)
	EnableBunSqlSilent(false)
	assert.Zero(t, buf.Len())

	hook.AfterQuery(context.Background(), event)
	assert.Contains(t, buf.String(), `"user_id" = 1`)
}

func TestSlowQueryHookSkipsFailures(t *testing.T) {
	logger := &captureLogger{}
	hook := NewSlowQueryHook(0, logger)
	event := &bun.QueryEvent{Query: "SELECT 1", Err: errors.New("boom")}
	hook.AfterQuery(hook.BeforeQuery(context.Background(), event), event)
	assert.Empty(t, logger.errors)
}

func TestDefaultLoggerFields(t *testing.T) {
	fields := toLogrusFields([]interface{}{"table", "actions", "columns", 2, "dangling"})
	assert.Equal(t, "actions", fields["table"])
	assert.Equal(t, 2, fields["columns"])
	assert.Equal(t, "dangling", fields["extra"])
	assert.Equal(t, "warning", LogLevelWarn.String())
}
