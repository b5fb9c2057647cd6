package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/d9705996/ama/internal/model"
	"github.com/d9705996/ama/internal/store"
	"github.com/d9705996/ama/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type questionEnv struct {
	questions *store.QuestionStore
	fx        *testutil.Fixtures
	owner     *model.User
	user      *model.User
	event     *model.Event
}

func newQuestionEnv(t *testing.T) *questionEnv {
	t.Helper()
	db := testutil.NewDB(t)
	fx := testutil.NewFixtures(t, db)
	owner := fx.CreateUser(model.RoleModerator)
	return &questionEnv{
		questions: store.NewQuestionStore(db),
		fx:        fx,
		owner:     owner,
		user:      fx.CreateUser(model.RoleUser),
		event:     fx.CreateEvent(owner, true),
	}
}

func TestQuestionStore_Create(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()

	q := &model.Question{EventID: env.event.ID, AuthorID: env.user.ID, Text: "Why?"}
	require.NoError(t, env.questions.Create(ctx, q))

	got, err := env.questions.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "Why?", got.Text)
	assert.NotNil(t, got.Tags)
	assert.Empty(t, got.Tags)
	assert.False(t, got.AIProcessed)

	err = env.questions.Create(ctx, &model.Question{EventID: "missing", AuthorID: env.user.ID, Text: "x"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestQuestionStore_CreateOutsideWindow(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()
	events := store.NewEventStore(env.fx.DB())

	future := time.Now().UTC().Add(time.Hour)
	env.event.OpenDate = &future
	require.NoError(t, events.Update(ctx, env.event))
	err := env.questions.Create(ctx, &model.Question{EventID: env.event.ID, AuthorID: env.user.ID, Text: "early"})
	require.ErrorIs(t, err, store.ErrEventClosed)

	past := time.Now().UTC().Add(-time.Hour)
	env.event.OpenDate = nil
	env.event.CloseDate = &past
	require.NoError(t, events.Update(ctx, env.event))
	err = env.questions.Create(ctx, &model.Question{EventID: env.event.ID, AuthorID: env.user.ID, Text: "late"})
	require.ErrorIs(t, err, store.ErrEventClosed)
}

func TestQuestionStore_Votes(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()
	q := env.fx.CreateQuestion(env.event, env.user, "Vote for me")

	require.NoError(t, env.questions.Upvote(ctx, q.ID, env.owner.ID))
	require.ErrorIs(t, env.questions.Upvote(ctx, q.ID, env.owner.ID), store.ErrAlreadyVoted)
	require.NoError(t, env.questions.Upvote(ctx, q.ID, env.user.ID))
	require.ErrorIs(t, env.questions.Upvote(ctx, "missing", env.user.ID), store.ErrNotFound)

	v, err := env.questions.View(ctx, q.ID, env.owner.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v.Votes)
	assert.True(t, v.VotedByMe)

	require.NoError(t, env.questions.RemoveUpvote(ctx, q.ID, env.owner.ID))
	require.ErrorIs(t, env.questions.RemoveUpvote(ctx, q.ID, env.owner.ID), store.ErrNotVoted)

	v, err = env.questions.View(ctx, q.ID, env.owner.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v.Votes)
	assert.False(t, v.VotedByMe)
}

func TestQuestionStore_ListByEvent(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()
	first := env.fx.CreateQuestion(env.event, env.user, "first")
	second := env.fx.CreateQuestion(env.event, env.user, "second")
	third := env.fx.CreateQuestion(env.event, env.user, "third")
	env.fx.Vote(third, env.owner)
	env.fx.Vote(third, env.user)
	env.fx.Vote(second, env.owner)

	texts := func(views []store.QuestionView) []string {
		out := make([]string, len(views))
		for i := range views {
			out[i] = views[i].Text
		}
		return out
	}

	byVotes, err := env.questions.ListByEvent(ctx, env.event.ID, store.QuestionFilter{ViewerID: env.user.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, texts(byVotes))
	assert.True(t, byVotes[0].VotedByMe)
	assert.False(t, byVotes[1].VotedByMe)

	recent, err := env.questions.ListByEvent(ctx, env.event.ID, store.QuestionFilter{Sort: store.SortRecent})
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, texts(recent))

	_, err = env.questions.SetStarred(ctx, first.ID, true)
	require.NoError(t, err)
	starred := true
	onlyStarred, err := env.questions.ListByEvent(ctx, env.event.ID, store.QuestionFilter{Starred: &starred})
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, texts(onlyStarred))

	_, err = env.questions.SetParent(ctx, second.ID, &first.ID)
	require.NoError(t, err)
	children, err := env.questions.ListByEvent(ctx, env.event.ID, store.QuestionFilter{ParentID: &first.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, texts(children))
	top, err := env.questions.ListByEvent(ctx, env.event.ID, store.QuestionFilter{TopLevel: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "first"}, texts(top))
}

func TestQuestionStore_StageKeepsOnePerEvent(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()
	a := env.fx.CreateQuestion(env.event, env.user, "a")
	b := env.fx.CreateQuestion(env.event, env.user, "b")

	otherEvent := env.fx.CreateEvent(env.owner, true)
	c := env.fx.CreateQuestion(otherEvent, env.user, "c")

	_, err := env.questions.Stage(ctx, a.ID)
	require.NoError(t, err)
	_, err = env.questions.Stage(ctx, c.ID)
	require.NoError(t, err)
	staged, err := env.questions.Stage(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, staged.IsStaged)

	yes := true
	list, err := env.questions.ListByEvent(ctx, env.event.ID, store.QuestionFilter{Staged: &yes})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	stillStaged, err := env.questions.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stillStaged.IsStaged)

	unstaged, err := env.questions.Unstage(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, unstaged.IsStaged)

	_, err = env.questions.Stage(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestQuestionStore_AnsweringUnstages(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()
	q := env.fx.CreateQuestion(env.event, env.user, "q")

	_, err := env.questions.Stage(ctx, q.ID)
	require.NoError(t, err)

	answered, err := env.questions.SetAnswered(ctx, q.ID, true)
	require.NoError(t, err)
	assert.True(t, answered.IsAnswered)
	assert.False(t, answered.IsStaged)
	assert.NotNil(t, answered.AnsweredAt)

	reopened, err := env.questions.SetAnswered(ctx, q.ID, false)
	require.NoError(t, err)
	assert.False(t, reopened.IsAnswered)
	assert.Nil(t, reopened.AnsweredAt)
}

func TestQuestionStore_UpdateIgnoresStaging(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()
	q := env.fx.CreateQuestion(env.event, env.user, "original")

	q.Text = "edited"
	q.PresenterNotes = "ask about roadmap"
	q.Tags = []string{"roadmap"}
	q.IsStaged = true
	require.NoError(t, env.questions.Update(ctx, q))

	got, err := env.questions.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Text)
	assert.Equal(t, "ask about roadmap", got.PresenterNotes)
	assert.Equal(t, []string{"roadmap"}, []string(got.Tags))
	assert.False(t, got.IsStaged)
}

func TestQuestionStore_SetParentRules(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()
	a := env.fx.CreateQuestion(env.event, env.user, "a")
	other := env.fx.CreateQuestion(env.fx.CreateEvent(env.owner, true), env.user, "elsewhere")

	missing := "missing"
	for _, parent := range []*string{&a.ID, &other.ID, &missing} {
		_, err := env.questions.SetParent(ctx, a.ID, parent)
		require.ErrorIs(t, err, store.ErrInvalidParent, *parent)
	}

	b := env.fx.CreateQuestion(env.event, env.user, "b")
	grouped, err := env.questions.SetParent(ctx, b.ID, &a.ID)
	require.NoError(t, err)
	require.NotNil(t, grouped.ParentQuestionID)
	assert.Equal(t, a.ID, *grouped.ParentQuestionID)

	detached, err := env.questions.SetParent(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, detached.ParentQuestionID)
}

func TestQuestionStore_Delete(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()
	parent := env.fx.CreateQuestion(env.event, env.user, "parent")
	child := env.fx.CreateQuestion(env.event, env.user, "child")
	env.fx.Vote(parent, env.owner)
	_, err := env.questions.SetParent(ctx, child.ID, &parent.ID)
	require.NoError(t, err)

	require.NoError(t, env.questions.Delete(ctx, parent.ID))
	require.ErrorIs(t, env.questions.Delete(ctx, parent.ID), store.ErrNotFound)

	got, err := env.questions.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentQuestionID)
}

func TestQuestionStore_Embeddings(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()
	a := env.fx.CreateQuestion(env.event, env.user, "a")
	b := env.fx.CreateQuestion(env.event, env.user, "b")
	env.fx.CreateQuestion(env.event, env.user, "unprocessed")

	b.Tags = []string{"kept"}
	require.NoError(t, env.questions.Update(ctx, b))

	rec := store.EmbeddingRecord{
		Vector:  []byte{0, 0, 128, 63},
		JSON:    "[1]",
		Model:   "mock",
		Summary: "summary",
		Tags:    []string{"generated"},
	}
	require.NoError(t, env.questions.SaveEmbedding(ctx, a.ID, rec))
	require.NoError(t, env.questions.SaveEmbedding(ctx, b.ID, rec))

	processed, err := env.questions.ListEmbedded(ctx, env.event.ID)
	require.NoError(t, err)
	require.Len(t, processed, 2)
	assert.Equal(t, a.ID, processed[0].ID)
	assert.Equal(t, []byte{0, 0, 128, 63}, processed[0].EmbeddingVector)
	assert.Equal(t, "summary", processed[0].AISummary)
	assert.True(t, processed[0].AIProcessed)
	assert.NotNil(t, processed[0].AIProcessedAt)
	assert.Equal(t, []string{"generated"}, []string(processed[0].Tags))
	assert.Equal(t, []string{"kept"}, []string(processed[1].Tags))

	require.NoError(t, env.questions.SaveEmbeddingError(ctx, a.ID, "provider down"))
	got, err := env.questions.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "provider down", got.AIProcessingError)
	require.ErrorIs(t, env.questions.SaveEmbeddingError(ctx, "missing", "x"), store.ErrNotFound)
}

func TestQuestionStore_StageAnswered(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()
	q := env.fx.CreateQuestion(env.event, env.user, "q")
	_, err := env.questions.SetAnswered(ctx, q.ID, true)
	require.NoError(t, err)

	_, err = env.questions.Stage(ctx, q.ID)
	require.ErrorIs(t, err, store.ErrQuestionAnswered)
}

func TestQuestionStore_Apply(t *testing.T) {
	ptr := func(v bool) *bool { return &v }
	str := func(v string) *string { return &v }

	tests := []struct {
		name     string
		answered bool
		change   func(other *model.Question) store.QuestionChange
		wantErr  error
		check    func(t *testing.T, got *model.Question)
	}{
		{
			name: "FieldsAndStaging",
			change: func(*model.Question) store.QuestionChange {
				return store.QuestionChange{
					Text: str("edited"), IsStarred: ptr(true), IsStaged: ptr(true),
					Tags: []string{"roadmap"}, PresenterNotes: str("notes"),
				}
			},
			check: func(t *testing.T, got *model.Question) {
				assert.Equal(t, "edited", got.Text)
				assert.True(t, got.IsStarred)
				assert.True(t, got.IsStaged)
				assert.Equal(t, []string{"roadmap"}, []string(got.Tags))
				assert.Equal(t, "notes", got.PresenterNotes)
			},
		},
		{
			name: "AnsweringWinsOverStaging",
			change: func(*model.Question) store.QuestionChange {
				return store.QuestionChange{IsAnswered: ptr(true), IsStaged: ptr(true)}
			},
			check: func(t *testing.T, got *model.Question) {
				assert.True(t, got.IsAnswered)
				assert.NotNil(t, got.AnsweredAt)
				assert.False(t, got.IsStaged)
			},
		},
		{
			name:     "ReopenAndStage",
			answered: true,
			change: func(*model.Question) store.QuestionChange {
				return store.QuestionChange{IsAnswered: ptr(false), IsStaged: ptr(true)}
			},
			check: func(t *testing.T, got *model.Question) {
				assert.False(t, got.IsAnswered)
				assert.Nil(t, got.AnsweredAt)
				assert.True(t, got.IsStaged)
			},
		},
		{
			name:     "StageAnsweredRollsBack",
			answered: true,
			change: func(*model.Question) store.QuestionChange {
				return store.QuestionChange{IsStarred: ptr(true), IsStaged: ptr(true)}
			},
			wantErr: store.ErrQuestionAnswered,
		},
		{
			name:     "EditAnsweredText",
			answered: true,
			change: func(*model.Question) store.QuestionChange {
				return store.QuestionChange{Text: str("late"), IsStarred: ptr(true)}
			},
			wantErr: store.ErrQuestionAnswered,
		},
		{
			name: "BadParentRollsBack",
			change: func(*model.Question) store.QuestionChange {
				return store.QuestionChange{IsStarred: ptr(true), ParentSet: true, ParentID: str("missing")}
			},
			wantErr: store.ErrInvalidParent,
		},
		{
			name: "ParentAndDetach",
			change: func(other *model.Question) store.QuestionChange {
				return store.QuestionChange{ParentSet: true, ParentID: &other.ID}
			},
			check: func(t *testing.T, got *model.Question) {
				require.NotNil(t, got.ParentQuestionID)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newQuestionEnv(t)
			ctx := context.Background()
			q := env.fx.CreateQuestion(env.event, env.user, "original")
			other := env.fx.CreateQuestion(env.event, env.user, "other")
			if tc.answered {
				_, err := env.questions.SetAnswered(ctx, q.ID, true)
				require.NoError(t, err)
			}
			before, err := env.questions.Get(ctx, q.ID)
			require.NoError(t, err)

			got, err := env.questions.Apply(ctx, q.ID, tc.change(other))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				after, gerr := env.questions.Get(ctx, q.ID)
				require.NoError(t, gerr)
				assert.Equal(t, before.IsStarred, after.IsStarred)
				assert.Equal(t, before.Text, after.Text)
				assert.Equal(t, before.ParentQuestionID, after.ParentQuestionID)
				return
			}
			require.NoError(t, err)
			tc.check(t, got)
		})
	}
}

func TestQuestionStore_ApplyStagingUnstagesOthers(t *testing.T) {
	env := newQuestionEnv(t)
	ctx := context.Background()
	a := env.fx.CreateQuestion(env.event, env.user, "a")
	b := env.fx.CreateQuestion(env.event, env.user, "b")
	_, err := env.questions.Stage(ctx, a.ID)
	require.NoError(t, err)

	staged := true
	_, err = env.questions.Apply(ctx, b.ID, store.QuestionChange{IsStaged: &staged})
	require.NoError(t, err)

	got, err := env.questions.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsStaged)

	_, err = env.questions.Apply(ctx, "missing", store.QuestionChange{})
	require.ErrorIs(t, err, store.ErrNotFound)
}
