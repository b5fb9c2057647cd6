package store_test

import (
	"context"
	"testing"

	"github.com/d9705996/ama/internal/model"
	"github.com/d9705996/ama/internal/store"
	"github.com/d9705996/ama/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStore_Create(t *testing.T) {
	db := testutil.NewDB(t)
	creator := testutil.NewFixtures(t, db).CreateUser(model.RoleModerator)
	events := store.NewEventStore(db)
	ctx := context.Background()

	ev := &model.Event{Name: "All hands", IsPublic: true}
	require.NoError(t, events.Create(ctx, ev, creator))
	assert.True(t, ev.IsActive)
	assert.Len(t, ev.ShareLink, 64)
	assert.NotEqual(t, ev.ShareLink, ev.InviteLink)

	got, err := events.Get(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, got.Moderators, 1)
	assert.Equal(t, creator.ID, got.Moderators[0].ID)

	for _, token := range []string{ev.ShareLink, ev.InviteLink} {
		byLink, err := events.GetByLink(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, ev.ID, byLink.ID)
	}
	_, err = events.GetByLink(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEventStore_ListVisible(t *testing.T) {
	db := testutil.NewDB(t)
	fx := testutil.NewFixtures(t, db)
	owner := fx.CreateUser(model.RoleModerator)
	viewer := fx.CreateUser(model.RoleUser)

	public := fx.CreateEvent(owner, true)
	private := fx.CreateEvent(owner, false)
	joined := fx.CreateEvent(owner, false)
	fx.AddParticipant(joined, viewer)

	events := store.NewEventStore(db)
	ctx := context.Background()

	closedPublic := fx.CreateEvent(owner, true)
	_, err := events.Close(ctx, closedPublic.ID)
	require.NoError(t, err)

	ids := func(evs []model.Event) []string {
		out := make([]string, 0, len(evs))
		for _, e := range evs {
			out = append(out, e.ID)
		}
		return out
	}

	visible, err := events.ListVisible(ctx, viewer.ID, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{public.ID, joined.ID}, ids(visible))

	mine, err := events.ListVisible(ctx, owner.ID, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{public.ID, private.ID, joined.ID, closedPublic.ID}, ids(mine))

	all, err := events.ListVisible(ctx, viewer.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestEventStore_CloseStopsQuestions(t *testing.T) {
	db := testutil.NewDB(t)
	fx := testutil.NewFixtures(t, db)
	owner := fx.CreateUser(model.RoleModerator)
	ev := fx.CreateEvent(owner, true)
	ctx := context.Background()

	closed, err := store.NewEventStore(db).Close(ctx, ev.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsActive)
	require.NotNil(t, closed.CloseDate)

	err = store.NewQuestionStore(db).Create(ctx, &model.Question{EventID: ev.ID, AuthorID: owner.ID, Text: "late?"})
	require.ErrorIs(t, err, store.ErrEventClosed)

	_, err = store.NewEventStore(db).Close(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEventStore_JoinAndModerators(t *testing.T) {
	db := testutil.NewDB(t)
	fx := testutil.NewFixtures(t, db)
	owner := fx.CreateUser(model.RoleModerator)
	user := fx.CreateUser(model.RoleUser)
	ev := fx.CreateEvent(owner, false)
	events := store.NewEventStore(db)
	ctx := context.Background()

	ok, err := events.CanView(ctx, ev, user.ID, false)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, events.Join(ctx, ev, user))
	require.NoError(t, events.Join(ctx, ev, user))
	ok, err = events.CanView(ctx, ev, user.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)

	var joins int64
	require.NoError(t, db.Table("event_participants").Where("event_id = ?", ev.ID).Count(&joins).Error)
	assert.EqualValues(t, 1, joins)

	require.NoError(t, events.AddModerator(ctx, ev.ID, user.ID))
	require.NoError(t, events.AddModerator(ctx, ev.ID, user.ID))
	ok, err = events.IsModerator(ctx, ev, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.ErrorIs(t, events.AddModerator(ctx, ev.ID, "missing"), store.ErrNotFound)
	require.ErrorIs(t, events.RemoveModerator(ctx, ev.ID, owner.ID), store.ErrConflict)
	require.NoError(t, events.RemoveModerator(ctx, ev.ID, user.ID))
	require.ErrorIs(t, events.RemoveModerator(ctx, ev.ID, user.ID), store.ErrNotFound)

	ok, err = events.IsModerator(ctx, ev, user.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventStore_Delete(t *testing.T) {
	db := testutil.NewDB(t)
	fx := testutil.NewFixtures(t, db)
	owner := fx.CreateUser(model.RoleModerator)
	ev := fx.CreateEvent(owner, true)
	q := fx.CreateQuestion(ev, owner, "Anything?")
	fx.Vote(q, owner)
	ctx := context.Background()

	events := store.NewEventStore(db)
	require.NoError(t, events.Delete(ctx, ev.ID))

	_, err := events.Get(ctx, ev.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = store.NewQuestionStore(db).Get(ctx, q.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	var votes int64
	require.NoError(t, db.Model(&model.Vote{}).Count(&votes).Error)
	assert.Zero(t, votes)

	require.ErrorIs(t, events.Delete(ctx, ev.ID), store.ErrNotFound)
}

func TestEventStore_Update(t *testing.T) {
	db := testutil.NewDB(t)
	fx := testutil.NewFixtures(t, db)
	ev := fx.CreateEvent(fx.CreateUser(model.RoleModerator), true)
	events := store.NewEventStore(db)
	ctx := context.Background()

	ev.Name = "Renamed"
	ev.IsPublic = false
	require.NoError(t, events.Update(ctx, ev))

	got, err := events.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.False(t, got.IsPublic)
	assert.Len(t, got.Moderators, 1)
}
