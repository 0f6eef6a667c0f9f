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

package shadowfk_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/shadowfk"
	"github.com/tomoncle/shadowfk/database"
	"github.com/tomoncle/shadowfk/model"
	"github.com/tomoncle/shadowfk/types"
	"github.com/uptrace/bun"
)

// statementRecorder keeps every UPDATE sent to the database.
type statementRecorder struct {
	mu      sync.Mutex
	updates []string
}

func (r *statementRecorder) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (r *statementRecorder) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if event.Operation() != "UPDATE" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, event.Query)
}

func (r *statementRecorder) Updates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.updates...)
}

func setupDB(t *testing.T) *statementRecorder {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.ConnectionConfig.DBName = filepath.Join(t.TempDir(), "issue")
	cfg.DataMigrateConfig.DropSchema = true

	db, err := database.InitDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.CloseDB() })

	recorder := &statementRecorder{}
	db.AddQueryHook(recorder)
	return recorder
}

func TestUpdateShadowForeignKey(t *testing.T) {
	recorder := setupDB(t)
	ctx := context.Background()
	users := shadowfk.NewService[model.User]()
	actions := shadowfk.NewService[model.Action]()

	user := &model.User{Name: "Tester"}
	require.NoError(t, users.Save(ctx, user))
	require.NotZero(t, user.ID)

	action := &model.Action{Description: "Demonstrate the issue"}
	require.NoError(t, actions.Save(ctx, action))
	require.NotZero(t, action.ID)
	assert.Nil(t, action.UserID)

	fetched, err := actions.FindOne(ctx, types.NewFindOptions("?TableAlias.id = ?", action.ID).WithRelations("User"))
	require.NoError(t, err)
	assert.Nil(t, fetched.UserID)
	assert.Nil(t, fetched.User)

	fetched.UserID = &user.ID
	require.NoError(t, actions.Save(ctx, fetched))

	require.NotNil(t, fetched.UserID)
	assert.Equal(t, user.ID, *fetched.UserID)
	require.NotNil(t, fetched.User)
	assert.Equal(t, user.ID, fetched.User.ID)
	assert.Equal(t, "Tester", fetched.User.Name)

	updates := recorder.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, 1, strings.Count(updates[0], `"user_id"`), updates[0])
	assert.Empty(t, database.DuplicateAssignments(updates[0]))
	assert.Zero(t, database.GetDatabaseStats().DuplicateAssignments)

	again, err := actions.Get(ctx, action.ID, "User")
	require.NoError(t, err)
	require.NotNil(t, again.UserID)
	assert.Equal(t, user.ID, *again.UserID)
	require.NotNil(t, again.User)
	assert.Equal(t, user.ID, again.User.ID)
}

func TestUpdateThroughRelation(t *testing.T) {
	recorder := setupDB(t)
	ctx := context.Background()
	users := shadowfk.NewService[model.User]()
	actions := shadowfk.NewService[model.Action]()

	first := &model.User{Name: "First"}
	second := &model.User{Name: "Second"}
	require.NoError(t, users.Create(ctx, first, second))

	action := &model.Action{Description: "Reassign", User: first}
	require.NoError(t, actions.Save(ctx, action))
	require.NotNil(t, action.UserID)
	assert.Equal(t, first.ID, *action.UserID)

	fetched, err := actions.Get(ctx, action.ID, "User")
	require.NoError(t, err)
	require.NotNil(t, fetched.User)

	fetched.User = second
	require.NoError(t, actions.Save(ctx, fetched))
	require.NotNil(t, fetched.UserID)
	assert.Equal(t, second.ID, *fetched.UserID)

	fetched.UserID = nil
	require.NoError(t, actions.Save(ctx, fetched))
	assert.Nil(t, fetched.User)

	for _, q := range recorder.Updates() {
		assert.Empty(t, database.DuplicateAssignments(q), q)
	}
	assert.Zero(t, database.GetDatabaseStats().DuplicateAssignments)
	assert.EqualValues(t, 2, database.GetDatabaseStats().UpdatesInspected)

	reloaded, err := actions.Get(ctx, action.ID, "User")
	require.NoError(t, err)
	assert.Nil(t, reloaded.UserID)
	assert.Nil(t, reloaded.User)
}

func TestDeleteReferencedUserClearsKey(t *testing.T) {
	setupDB(t)
	ctx := context.Background()
	users := shadowfk.NewService[model.User]()
	actions := shadowfk.NewService[model.Action]()

	user := &model.User{Name: "Gone"}
	require.NoError(t, users.Save(ctx, user))
	action := &model.Action{Description: "Orphaned", UserID: &user.ID}
	require.NoError(t, actions.Save(ctx, action))
	require.NotNil(t, action.User)

	require.NoError(t, users.Delete(ctx, user.ID))

	fetched, err := actions.Get(ctx, action.ID, "User")
	require.NoError(t, err)
	assert.Nil(t, fetched.UserID)
	assert.Nil(t, fetched.User)
}

func storedAction(t *testing.T, actions shadowfk.Service[model.Action], id int64) *model.Action {
	t.Helper()
	stored := new(model.Action)
	err := actions.SelectBuilder().Model(stored).Where("?TableAlias.id = ?", id).Scan(context.Background())
	require.NoError(t, err)
	return stored
}

func TestTransactionRollbackKeepsKeyChangePending(t *testing.T) {
	recorder := setupDB(t)
	ctx := context.Background()
	users := shadowfk.NewService[model.User]()
	actions := shadowfk.NewService[model.Action]()

	user := &model.User{Name: "Rollback"}
	require.NoError(t, users.Save(ctx, user))
	action := &model.Action{Description: "Unassigned"}
	require.NoError(t, actions.Save(ctx, action))

	failed := errors.New("abort")
	err := actions.Transaction(ctx, func(ctx context.Context, tx *bun.Tx) error {
		action.UserID = &user.ID
		if err := actions.SaveWithTx(ctx, tx, action); err != nil {
			return err
		}
		assert.Equal(t, user.ID, action.User.ID)
		return failed
	})
	require.ErrorIs(t, err, failed)
	assert.Nil(t, storedAction(t, actions, action.ID).UserID)

	// the rolled back change is written again by the next Save
	before := len(recorder.Updates())
	require.NoError(t, actions.Save(ctx, action))
	require.Len(t, recorder.Updates(), before+1)

	stored := storedAction(t, actions, action.ID)
	require.NotNil(t, stored.UserID)
	assert.Equal(t, user.ID, *stored.UserID)
	require.NotNil(t, action.User)
	assert.Equal(t, user.ID, action.User.ID)
}

func TestTransactionCommitKeepsTrackedState(t *testing.T) {
	recorder := setupDB(t)
	ctx := context.Background()
	users := shadowfk.NewService[model.User]()
	actions := shadowfk.NewService[model.Action]()

	user := &model.User{Name: "Commit"}
	require.NoError(t, users.Save(ctx, user))
	action := &model.Action{Description: "Assigned in tx"}
	require.NoError(t, actions.Save(ctx, action))

	err := actions.Transaction(ctx, func(ctx context.Context, tx *bun.Tx) error {
		action.UserID = &user.ID
		return actions.SaveWithTx(ctx, tx, action)
	})
	require.NoError(t, err)

	before := len(recorder.Updates())
	require.NoError(t, actions.Save(ctx, action))
	assert.Len(t, recorder.Updates(), before)
	assert.Equal(t, user.ID, *storedAction(t, actions, action.ID).UserID)
}

func TestUpsertLoadsRelation(t *testing.T) {
	recorder := setupDB(t)
	ctx := context.Background()
	users := shadowfk.NewService[model.User]()
	actions := shadowfk.NewService[model.Action]()

	user := &model.User{Name: "Upserted"}
	require.NoError(t, users.Save(ctx, user))

	action := &model.Action{ID: 50, Description: "upserted", UserID: &user.ID}
	require.NoError(t, actions.SaveOrUpdate(ctx, []string{"description", "user_id"}, nil, action))
	require.NotNil(t, action.User)
	assert.Equal(t, user.ID, action.User.ID)

	fetched, err := actions.Get(ctx, int64(50), "User")
	require.NoError(t, err)
	assert.Equal(t, "upserted", fetched.Description)
	require.NotNil(t, fetched.User)
	assert.Equal(t, user.ID, fetched.User.ID)

	// conflicting row: the key is cleared and the relation follows
	again := &model.Action{ID: 50, Description: "cleared"}
	require.NoError(t, actions.SaveOrUpdate(ctx, []string{"description", "user_id"}, nil, again))
	assert.Nil(t, again.UserID)
	assert.Nil(t, again.User)

	// an upserted entity is not tracked: its next Save writes every column
	before := len(recorder.Updates())
	require.NoError(t, actions.Save(ctx, again))
	updates := recorder.Updates()
	require.Len(t, updates, before+1)
	assert.Contains(t, updates[before], `"description"`)

	stored := storedAction(t, actions, 50)
	assert.Equal(t, "cleared", stored.Description)
	assert.Nil(t, stored.UserID)

	all, err := actions.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
