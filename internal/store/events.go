package store

import (
	"context"
	"fmt"
	"time"

	"github.com/d9705996/ama/internal/auth"
	"github.com/d9705996/ama/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventStore persists events and their moderator and participant lists.
type EventStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewEventStore creates an EventStore.
func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts ev as an active event owned by creator. The creator becomes
// its first moderator and fresh share and invite tokens are generated.
func (s *EventStore) Create(ctx context.Context, ev *model.Event, creator *model.User) error {
	share, err := auth.GenerateToken()
	if err != nil {
		return fmt.Errorf("generate share link: %w", err)
	}
	invite, err := auth.GenerateToken()
	if err != nil {
		return fmt.Errorf("generate invite link: %w", err)
	}
	ev.CreatedByID = creator.ID
	ev.ShareLink = share
	ev.InviteLink = invite
	ev.IsActive = true
	ev.Moderators = []model.User{*creator}

	// The creator row already exists; only the join row is written.
	if err := s.db.WithContext(ctx).Omit("Moderators.*", "Participants").Create(ev).Error; err != nil {
		return fmt.Errorf("create event: %w", translate(err))
	}
	return nil
}

// Get returns the event with its moderators loaded.
func (s *EventStore) Get(ctx context.Context, id string) (*model.Event, error) {
	var ev model.Event
	if err := s.db.WithContext(ctx).Preload("Moderators").First(&ev, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &ev, nil
}

// GetByLink resolves a share or invite token.
func (s *EventStore) GetByLink(ctx context.Context, token string) (*model.Event, error) {
	var ev model.Event
	err := s.db.WithContext(ctx).Preload("Moderators").
		Where("share_link = ? OR invite_link = ?", token, token).
		First(&ev).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ev, nil
}

// ListVisible returns the events userID may see, newest first. Admins see
// every event. Everyone else sees active public events plus events they
// created, moderate or joined.
func (s *EventStore) ListVisible(ctx context.Context, userID string, admin bool) ([]model.Event, error) {
	q := s.db.WithContext(ctx).Preload("Moderators").Order("created_at DESC, id")
	if !admin {
		q = q.Where(
			"(is_public = ? AND is_active = ?) OR created_by_id = ? "+
				"OR id IN (SELECT event_id FROM event_moderators WHERE user_id = ?) "+
				"OR id IN (SELECT event_id FROM event_participants WHERE user_id = ?)",
			true, true, userID, userID, userID)
	}
	var events []model.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Update saves the event's own columns. Moderator and participant lists are
// changed through their dedicated methods.
func (s *EventStore) Update(ctx context.Context, ev *model.Event) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(ev).Error; err != nil {
		return fmt.Errorf("update event: %w", translate(err))
	}
	return nil
}

// Close deactivates the event and stamps its close date.
func (s *EventStore) Close(ctx context.Context, id string) (*model.Event, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&model.Event{}).Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "close_date": now, "updated_at": now})
	if res.Error != nil {
		return nil, fmt.Errorf("close event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes the event with its questions, votes and memberships.
func (s *EventStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model.Event{}, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		questions := tx.Model(&model.Question{}).Select("id").Where("event_id = ?", id)
		if err := tx.Where("question_id IN (?)", questions).Delete(&model.Vote{}).Error; err != nil {
			return fmt.Errorf("delete votes: %w", err)
		}
		if err := tx.Where("event_id = ?", id).Delete(&model.Question{}).Error; err != nil {
			return fmt.Errorf("delete questions: %w", err)
		}
		for _, table := range []string{"event_moderators", "event_participants"} {
			if err := tx.Exec("DELETE FROM "+table+" WHERE event_id = ?", id).Error; err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		if err := tx.Delete(&model.Event{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		return nil
	})
}

// Join adds u to the event's participants. Joining twice is a no-op.
func (s *EventStore) Join(ctx context.Context, ev *model.Event, u *model.User) error {
	ok, err := s.IsParticipant(ctx, ev.ID, u.ID)
	if err != nil || ok {
		return err
	}
	if err := s.db.WithContext(ctx).Model(ev).Association("Participants").Append(u); err != nil {
		return fmt.Errorf("join event: %w", err)
	}
	return nil
}

// AddModerator grants userID moderator rights on the event.
func (s *EventStore) AddModerator(ctx context.Context, eventID, userID string) error {
	ev, err := s.Get(ctx, eventID)
	if err != nil {
		return err
	}
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return translate(err)
	}
	ok, err := s.IsModerator(ctx, ev, userID)
	if err != nil || ok {
		return err
	}
	if err := s.db.WithContext(ctx).Model(ev).Association("Moderators").Append(&u); err != nil {
		return fmt.Errorf("add moderator: %w", err)
	}
	return nil
}

// RemoveModerator revokes userID's moderator rights. The creator always
// stays a moderator.
func (s *EventStore) RemoveModerator(ctx context.Context, eventID, userID string) error {
	ev, err := s.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.CreatedByID == userID {
		return ErrConflict
	}
	res := s.db.WithContext(ctx).Exec(
		"DELETE FROM event_moderators WHERE event_id = ? AND user_id = ?", eventID, userID)
	if res.Error != nil {
		return fmt.Errorf("remove moderator: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IsModerator reports whether userID created or moderates ev.
func (s *EventStore) IsModerator(ctx context.Context, ev *model.Event, userID string) (bool, error) {
	if ev.CreatedByID == userID {
		return true, nil
	}
	return s.member(ctx, "event_moderators", ev.ID, userID)
}

// IsParticipant reports whether userID joined the event.
func (s *EventStore) IsParticipant(ctx context.Context, eventID, userID string) (bool, error) {
	return s.member(ctx, "event_participants", eventID, userID)
}

// CanView reports whether a user may see the event and its questions.
func (s *EventStore) CanView(ctx context.Context, ev *model.Event, userID string, admin bool) (bool, error) {
	if admin || ev.IsPublic {
		return true, nil
	}
	if ok, err := s.IsModerator(ctx, ev, userID); err != nil || ok {
		return ok, err
	}
	return s.IsParticipant(ctx, ev.ID, userID)
}

func (s *EventStore) member(ctx context.Context, table, eventID, userID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Table(table).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check %s: %w", table, err)
	}
	return n > 0, nil
}
