package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/d9705996/ama/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Question listing orders.
const (
	SortVotes  = "votes"
	SortRecent = "recent"
)

// QuestionFilter narrows ListByEvent. Nil fields do not filter.
type QuestionFilter struct {
	Answered *bool
	Starred  *bool
	Staged   *bool
	// ParentID lists the children of one question. TopLevel lists only
	// questions without a parent. They are mutually exclusive.
	ParentID *string
	TopLevel bool
	Sort     string
	// ViewerID fills VotedByMe.
	ViewerID string
}

// QuestionView is a question with its vote tally as seen by one viewer.
type QuestionView struct {
	model.Question
	Votes     int64
	VotedByMe bool
}

// EmbeddingRecord is the output of the similarity pipeline for one question.
type EmbeddingRecord struct {
	Vector  []byte
	JSON    string
	Model   string
	Summary string
	Tags    []string
}

// QuestionStore persists questions and votes.
type QuestionStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewQuestionStore creates a QuestionStore.
func NewQuestionStore(db *gorm.DB) *QuestionStore {
	return &QuestionStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts q after checking its event is accepting questions.
func (s *QuestionStore) Create(ctx context.Context, q *model.Question) error {
	var ev model.Event
	if err := s.db.WithContext(ctx).First(&ev, "id = ?", q.EventID).Error; err != nil {
		return translate(err)
	}
	if !ev.AcceptsQuestions(s.now()) {
		return ErrEventClosed
	}
	if err := s.db.WithContext(ctx).Create(q).Error; err != nil {
		return fmt.Errorf("create question: %w", translate(err))
	}
	return nil
}

// Get returns the question with the given id.
func (s *QuestionStore) Get(ctx context.Context, id string) (*model.Question, error) {
	var q model.Question
	if err := s.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &q, nil
}

// View returns one question with its vote tally for viewerID.
func (s *QuestionStore) View(ctx context.Context, id, viewerID string) (*QuestionView, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	views, err := s.withVotes(ctx, []model.Question{*q}, viewerID)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListByEvent lists an event's questions. The default order is by votes,
// most first, ties broken by age; SortRecent lists newest first.
func (s *QuestionStore) ListByEvent(ctx context.Context, eventID string, f QuestionFilter) ([]QuestionView, error) {
	q := s.db.WithContext(ctx).Where("event_id = ?", eventID)
	if f.Answered != nil {
		q = q.Where("is_answered = ?", *f.Answered)
	}
	if f.Starred != nil {
		q = q.Where("is_starred = ?", *f.Starred)
	}
	if f.Staged != nil {
		q = q.Where("is_staged = ?", *f.Staged)
	}
	switch {
	case f.ParentID != nil:
		q = q.Where("parent_question_id = ?", *f.ParentID)
	case f.TopLevel:
		q = q.Where("parent_question_id IS NULL")
	}

	var questions []model.Question
	if err := q.Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	views, err := s.withVotes(ctx, questions, f.ViewerID)
	if err != nil {
		return nil, err
	}

	if f.Sort == SortRecent {
		sort.SliceStable(views, func(i, j int) bool {
			return views[i].CreatedAt.After(views[j].CreatedAt)
		})
	} else {
		sort.SliceStable(views, func(i, j int) bool {
			if views[i].Votes != views[j].Votes {
				return views[i].Votes > views[j].Votes
			}
			return views[i].CreatedAt.Before(views[j].CreatedAt)
		})
	}
	return views, nil
}

func (s *QuestionStore) withVotes(ctx context.Context, questions []model.Question, viewerID string) ([]QuestionView, error) {
	views := make([]QuestionView, len(questions))
	if len(questions) == 0 {
		return views, nil
	}
	ids := make([]string, len(questions))
	for i := range questions {
		ids[i] = questions[i].ID
	}

	var tallies []struct {
		QuestionID string
		N          int64
	}
	err := s.db.WithContext(ctx).Model(&model.Vote{}).
		Select("question_id, COUNT(*) AS n").
		Where("question_id IN ?", ids).
		Group("question_id").
		Scan(&tallies).Error
	if err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}
	counts := make(map[string]int64, len(tallies))
	for _, t := range tallies {
		counts[t.QuestionID] = t.N
	}

	mine := map[string]bool{}
	if viewerID != "" {
		var voted []string
		err := s.db.WithContext(ctx).Model(&model.Vote{}).
			Where("user_id = ? AND question_id IN ?", viewerID, ids).
			Pluck("question_id", &voted).Error
		if err != nil {
			return nil, fmt.Errorf("load own votes: %w", err)
		}
		for _, id := range voted {
			mine[id] = true
		}
	}

	for i := range questions {
		views[i] = QuestionView{
			Question:  questions[i],
			Votes:     counts[questions[i].ID],
			VotedByMe: mine[questions[i].ID],
		}
	}
	return views, nil
}

// Update saves the editable columns of q. Staging, answering and grouping go
// through their dedicated methods so their rules hold.
func (s *QuestionStore) Update(ctx context.Context, q *model.Question) error {
	q.UpdatedAt = s.now()
	err := s.db.WithContext(ctx).Model(q).
		Select("text", "is_anonymous", "is_starred", "presenter_notes", "ai_summary", "tags", "updated_at").
		Updates(q).Error
	if err != nil {
		return fmt.Errorf("update question: %w", translate(err))
	}
	return nil
}

func unstageOthers(tx *gorm.DB, q *model.Question, now time.Time) error {
	err := tx.Model(&model.Question{}).
		Where("event_id = ? AND is_staged = ? AND id <> ?", q.EventID, true, q.ID).
		Updates(map[string]any{"is_staged": false, "updated_at": now}).Error
	if err != nil {
		return fmt.Errorf("unstage others: %w", err)
	}
	return nil
}

// Stage makes q the event's staged question, un-staging any other. Answered
// questions yield ErrQuestionAnswered.
func (s *QuestionStore) Stage(ctx context.Context, id string) (*model.Question, error) {
	var q model.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&q, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if q.IsAnswered {
			return ErrQuestionAnswered
		}
		now := s.now()
		if err := unstageOthers(tx, &q, now); err != nil {
			return err
		}
		if err := tx.Model(&q).Updates(map[string]any{"is_staged": true, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("stage question: %w", translate(err))
		}
		q.IsStaged, q.UpdatedAt = true, now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Unstage clears the staged flag of q.
func (s *QuestionStore) Unstage(ctx context.Context, id string) (*model.Question, error) {
	return s.setFlags(ctx, id, map[string]any{"is_staged": false})
}

// SetAnswered marks q answered or not. Answering also un-stages it.
func (s *QuestionStore) SetAnswered(ctx context.Context, id string, answered bool) (*model.Question, error) {
	fields := map[string]any{"is_answered": answered, "answered_at": nil}
	if answered {
		fields["answered_at"] = s.now()
		fields["is_staged"] = false
	}
	return s.setFlags(ctx, id, fields)
}

// SetStarred stars or un-stars q.
func (s *QuestionStore) SetStarred(ctx context.Context, id string, starred bool) (*model.Question, error) {
	return s.setFlags(ctx, id, map[string]any{"is_starred": starred})
}

func (s *QuestionStore) setFlags(ctx context.Context, id string, fields map[string]any) (*model.Question, error) {
	fields["updated_at"] = s.now()
	res := s.db.WithContext(ctx).Model(&model.Question{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return nil, fmt.Errorf("update question: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// checkParent enforces that parentID, when set, names another question of
// q's event.
func checkParent(db *gorm.DB, q *model.Question, parentID *string) error {
	if parentID == nil {
		return nil
	}
	if *parentID == q.ID {
		return fmt.Errorf("%w: a question cannot be its own parent", ErrInvalidParent)
	}
	var parent model.Question
	err := db.Select("id", "event_id").First(&parent, "id = ?", *parentID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: parent question does not exist", ErrInvalidParent)
	case err != nil:
		return fmt.Errorf("load parent: %w", err)
	case parent.EventID != q.EventID:
		return fmt.Errorf("%w: parent belongs to another event", ErrInvalidParent)
	}
	return nil
}

// SetParent groups q under parentID, or detaches it when parentID is nil.
// The parent must be another question of the same event, else
// ErrInvalidParent.
func (s *QuestionStore) SetParent(ctx context.Context, id string, parentID *string) (*model.Question, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkParent(s.db.WithContext(ctx), q, parentID); err != nil {
		return nil, err
	}
	return s.setFlags(ctx, id, map[string]any{"parent_question_id": parentID})
}

// QuestionChange is a partial edit of a question. Nil members are left as
// they are; ParentSet distinguishes detaching (ParentID nil) from no change.
type QuestionChange struct {
	Text           *string
	IsAnonymous    *bool
	IsStarred      *bool
	IsAnswered     *bool
	IsStaged       *bool
	PresenterNotes *string
	AISummary      *string
	Tags           []string
	ParentSet      bool
	ParentID       *string
}

// Apply validates and writes ch in one transaction, so a rejected change
// leaves the question untouched. Text and anonymity of an answered question
// are frozen, answered questions cannot be staged, and answering in the same
// change wins over staging.
func (s *QuestionStore) Apply(ctx context.Context, id string, ch QuestionChange) (*model.Question, error) {
	var q model.Question
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&q, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if q.IsAnswered && (ch.Text != nil || ch.IsAnonymous != nil) {
			return ErrQuestionAnswered
		}
		if ch.ParentSet {
			if err := checkParent(tx, &q, ch.ParentID); err != nil {
				return err
			}
		}

		now := s.now()
		fields := map[string]any{"updated_at": now}
		if ch.Text != nil {
			fields["text"] = *ch.Text
		}
		if ch.IsAnonymous != nil {
			fields["is_anonymous"] = *ch.IsAnonymous
		}
		if ch.IsStarred != nil {
			fields["is_starred"] = *ch.IsStarred
		}
		if ch.PresenterNotes != nil {
			fields["presenter_notes"] = *ch.PresenterNotes
		}
		if ch.AISummary != nil {
			fields["ai_summary"] = *ch.AISummary
		}
		if ch.Tags != nil {
			fields["tags"] = datatypes.NewJSONSlice(ch.Tags)
		}
		if ch.ParentSet {
			fields["parent_question_id"] = ch.ParentID
		}

		answered := q.IsAnswered
		if ch.IsAnswered != nil {
			answered = *ch.IsAnswered
			fields["is_answered"] = answered
			fields["answered_at"] = nil
			if answered {
				fields["answered_at"] = now
				fields["is_staged"] = false
			}
		}
		switch {
		case ch.IsStaged == nil, ch.IsAnswered != nil && *ch.IsAnswered:
		case !*ch.IsStaged:
			fields["is_staged"] = false
		case answered:
			return ErrQuestionAnswered
		default:
			if err := unstageOthers(tx, &q, now); err != nil {
				return err
			}
			fields["is_staged"] = true
		}

		if err := tx.Model(&model.Question{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return fmt.Errorf("update question: %w", translate(err))
		}
		return translate(tx.First(&q, "id = ?", id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Delete removes q and its votes. Questions grouped under q are detached.
func (s *QuestionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model.Question{}, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("question_id = ?", id).Delete(&model.Vote{}).Error; err != nil {
			return fmt.Errorf("delete votes: %w", err)
		}
		if err := tx.Model(&model.Question{}).Where("parent_question_id = ?", id).
			Update("parent_question_id", nil).Error; err != nil {
			return fmt.Errorf("detach children: %w", err)
		}
		if err := tx.Delete(&model.Question{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete question: %w", err)
		}
		return nil
	})
}

// Upvote records userID's vote on the question. A second vote yields
// ErrAlreadyVoted.
func (s *QuestionStore) Upvote(ctx context.Context, questionID, userID string) error {
	if _, err := s.Get(ctx, questionID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Create(&model.Vote{QuestionID: questionID, UserID: userID}).Error
	if err != nil {
		if errors.Is(translate(err), ErrConflict) {
			return ErrAlreadyVoted
		}
		return fmt.Errorf("upvote: %w", err)
	}
	return nil
}

// RemoveUpvote withdraws userID's vote. ErrNotVoted when there is none.
func (s *QuestionStore) RemoveUpvote(ctx context.Context, questionID, userID string) error {
	if _, err := s.Get(ctx, questionID); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Where("question_id = ? AND user_id = ?", questionID, userID).
		Delete(&model.Vote{})
	if res.Error != nil {
		return fmt.Errorf("remove upvote: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotVoted
	}
	return nil
}

// SaveEmbedding stores the pipeline output and marks q processed. Tags the
// question already carries are kept.
func (s *QuestionStore) SaveEmbedding(ctx context.Context, id string, rec EmbeddingRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q model.Question
		if err := tx.First(&q, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		now := s.now()
		fields := map[string]any{
			"embedding_vector":    rec.Vector,
			"embedding_json":      rec.JSON,
			"embedding_model":     rec.Model,
			"ai_summary":          rec.Summary,
			"ai_processed":        true,
			"ai_processed_at":     now,
			"ai_processing_error": "",
			"updated_at":          now,
		}
		if len(q.Tags) == 0 && len(rec.Tags) > 0 {
			fields["tags"] = datatypes.NewJSONSlice(rec.Tags)
		}
		if err := tx.Model(&q).Updates(fields).Error; err != nil {
			return fmt.Errorf("save embedding: %w", err)
		}
		return nil
	})
}

// SaveEmbeddingError records why processing q failed.
func (s *QuestionStore) SaveEmbeddingError(ctx context.Context, id, msg string) error {
	res := s.db.WithContext(ctx).Model(&model.Question{}).Where("id = ?", id).
		Updates(map[string]any{"ai_processing_error": msg, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("save embedding error: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEmbedded returns the event's processed questions in creation order.
func (s *QuestionStore) ListEmbedded(ctx context.Context, eventID string) ([]model.Question, error) {
	var questions []model.Question
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND ai_processed = ?", eventID, true).
		Order("created_at, id").
		Find(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("list embedded questions: %w", err)
	}
	return questions, nil
}
