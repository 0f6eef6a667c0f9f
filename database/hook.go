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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var bunSqlSilentMode atomic.Bool

// EnableBunSqlSilent mutes the query log hooks, e.g. while creating tables.
func EnableBunSqlSilent(b bool) {
	bunSqlSilentMode.Store(b)
}

var (
	selectColor = color.New(color.FgGreen)
	insertColor = color.New(color.FgBlue)
	updateColor = color.New(color.FgYellow)
	deleteColor = color.New(color.FgMagenta)
	otherColor  = color.New(color.FgRed)
	tagColor    = color.New(color.FgCyan)
	errorColor  = color.New(color.BgRed, color.FgHiWhite)
	slowColor   = color.New(color.BgYellow, color.FgHiWhite)
)

// QueryHook prints every statement with its duration, colored by operation.
type QueryHook struct {
	writer io.Writer
}

var _ bun.QueryHook = (*QueryHook)(nil)

// NewQueryHook returns a hook that writes one line per statement to w.
func NewQueryHook(w io.Writer) *QueryHook {
	return &QueryHook{writer: w}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if bunSqlSilentMode.Load() {
		return
	}

	now := time.Now()
	args := []interface{}{
		now.Format("2006-01-02 15:04:05.000"),
		tagColor.Sprintf("%8s", "[BUN]"),
		fmt.Sprintf("%12s", now.Sub(event.StartTime).Round(time.Microsecond)),
		" ", operationColor(event.Operation()).Sprint(event.Query),
	}
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		typ := reflect.TypeOf(event.Err).String()
		args = append(args, "\t", errorColor.Sprintf(" %s: %s ", typ, event.Err.Error()))
	}
	_, _ = fmt.Fprintln(h.writer, args...)
}

func operationColor(operation string) *color.Color {
	switch operation {
	case "SELECT":
		return selectColor
	case "INSERT":
		return insertColor
	case "UPDATE":
		return updateColor
	case "DELETE":
		return deleteColor
	default:
		return otherColor
	}
}

// SlowQueryHook logs statements that take longer than the threshold.
type SlowQueryHook struct {
	slowTime time.Duration
	logger   Logger
}

// NewSlowQueryHook returns a hook warning about statements slower than d.
func NewSlowQueryHook(d time.Duration, logger Logger) *SlowQueryHook {
	return &SlowQueryHook{slowTime: d, logger: logger}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil || h.logger == nil {
		return
	}
	duration := time.Since(event.StartTime)
	if duration > h.slowTime {
		h.logger.Warn(slowColor.Sprint("Database slow query detected"),
			"duration", duration,
			"slow_threshold", h.slowTime,
			"query", event.Query,
		)
	}
}

// AssignmentGuardHook inspects every UPDATE and reports columns that are
// assigned more than once in the same SET list.
type AssignmentGuardHook struct {
	logger     Logger
	inspected  atomic.Int64
	duplicates atomic.Int64
	onDup      func(query string, columns []string)
}

var _ bun.QueryHook = (*AssignmentGuardHook)(nil)

// NewAssignmentGuardHook returns a guard that logs offending statements.
func NewAssignmentGuardHook(logger Logger) *AssignmentGuardHook {
	return &AssignmentGuardHook{logger: logger}
}

// OnDuplicate registers a callback fired for every offending statement.
func (h *AssignmentGuardHook) OnDuplicate(fn func(query string, columns []string)) {
	h.onDup = fn
}

// Inspected returns the number of UPDATE statements seen.
func (h *AssignmentGuardHook) Inspected() int64 { return h.inspected.Load() }

// Duplicates returns the number of UPDATE statements with a repeated column.
func (h *AssignmentGuardHook) Duplicates() int64 { return h.duplicates.Load() }

func (h *AssignmentGuardHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *AssignmentGuardHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Operation() != "UPDATE" {
		return
	}
	h.inspected.Add(1)
	cols := DuplicateAssignments(event.Query)
	if len(cols) == 0 {
		return
	}
	h.duplicates.Add(1)
	if h.logger != nil {
		h.logger.Error("UPDATE assigns the same column more than once", "columns", strings.Join(cols, ","), "query", event.Query)
	}
	if h.onDup != nil {
		h.onDup(event.Query, cols)
	}
}

// DuplicateAssignments returns the columns that appear more than once on the
// left-hand side of an UPDATE statement's SET list, in first-repeat order.
// Column names are unquoted and stripped of any table qualifier.
// Statements that are not UPDATEs yield nil.
func DuplicateAssignments(query string) []string {
	q := strings.TrimSpace(query)
	if len(q) < len("UPDATE") || !strings.EqualFold(q[:len("UPDATE")], "UPDATE") {
		return nil
	}
	set := indexKeyword(q, "SET", 0)
	if set < 0 {
		return nil
	}
	start := set + len("SET")
	end := len(q)
	for _, kw := range []string{"WHERE", "FROM", "RETURNING", "ORDER BY", "LIMIT"} {
		if i := indexKeyword(q, kw, start); i >= 0 && i < end {
			end = i
		}
	}

	seen := make(map[string]int)
	var dups []string
	for _, assignment := range splitTopLevel(q[start:end], ',') {
		eq := indexTopLevel(assignment, '=')
		if eq < 0 {
			continue
		}
		col := normalizeColumn(assignment[:eq])
		if col == "" {
			continue
		}
		seen[col]++
		if seen[col] == 2 {
			dups = append(dups, col)
		}
	}
	return dups
}

func normalizeColumn(s string) string {
	s = strings.TrimSpace(s)
	if i := lastTopLevel(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.Trim(s, "\"`[] ")
}

// sqlScanner tracks quoting and parenthesis depth while walking a statement.
type sqlScanner struct {
	quote byte
	depth int
}

// step consumes s[i] and reports whether it sits at the top level.
func (sc *sqlScanner) step(c byte) bool {
	if sc.quote != 0 {
		if c == sc.quote {
			sc.quote = 0
		}
		return false
	}
	switch c {
	case '\'', '"', '`':
		sc.quote = c
		return false
	case '(':
		sc.depth++
		return false
	case ')':
		if sc.depth > 0 {
			sc.depth--
		}
		return false
	}
	return sc.depth == 0
}

func indexKeyword(s, kw string, from int) int {
	var sc sqlScanner
	for i := 0; i < len(s); i++ {
		top := sc.step(s[i])
		if i < from || !top {
			continue
		}
		if i+len(kw) > len(s) || !strings.EqualFold(s[i:i+len(kw)], kw) {
			continue
		}
		before := i == 0 || isSpace(s[i-1]) || s[i-1] == ')'
		after := i+len(kw) == len(s) || isSpace(s[i+len(kw)]) || s[i+len(kw)] == '('
		if before && after {
			return i
		}
	}
	return -1
}

func indexTopLevel(s string, c byte) int {
	var sc sqlScanner
	for i := 0; i < len(s); i++ {
		if sc.step(s[i]) && s[i] == c {
			return i
		}
	}
	return -1
}

func lastTopLevel(s string, c byte) int {
	var sc sqlScanner
	last := -1
	for i := 0; i < len(s); i++ {
		if sc.step(s[i]) && s[i] == c {
			last = i
		}
	}
	return last
}

func splitTopLevel(s string, sep byte) []string {
	var sc sqlScanner
	var parts []string
	begin := 0
	for i := 0; i < len(s); i++ {
		if sc.step(s[i]) && s[i] == sep {
			parts = append(parts, s[begin:i])
			begin = i + 1
		}
	}
	return append(parts, s[begin:])
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
