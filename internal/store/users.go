package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/d9705996/ama/internal/model"
	"gorm.io/gorm"
)

// UserStore persists user accounts.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore creates a UserStore.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// NormalizeEmail lower-cases and trims an address before it is stored or
// looked up.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts u. A duplicate email or Microsoft ID yields ErrConflict.
func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", translate(err))
	}
	return nil
}

// Get returns the user with the given id.
func (s *UserStore) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// GetByEmail returns the user with the given address.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "email = ?", NormalizeEmail(email)).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// GetByMicrosoftID returns the user linked to a Microsoft account.
func (s *UserStore) GetByMicrosoftID(ctx context.Context, microsoftID string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "microsoft_id = ?", microsoftID).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// List returns one page of users ordered by creation time, plus the total.
func (s *UserStore) List(ctx context.Context, page Page) ([]model.User, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	var users []model.User
	if err := page.apply(s.db.WithContext(ctx)).Order("created_at, id").Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// Update saves every column of u.
func (s *UserStore) Update(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		return fmt.Errorf("update user: %w", translate(err))
	}
	return nil
}

// SetPassword replaces the stored password hash.
func (s *UserStore) SetPassword(ctx context.Context, id, hash string) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		Updates(map[string]any{"password_hash": hash, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("set password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLogin records a successful sign-in.
func (s *UserStore) TouchLogin(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).
		UpdateColumn("last_login_at", time.Now().UTC()).Error
}

// Delete removes a user together with their votes, questions, refresh tokens
// and event memberships. Users who created events must have those events
// deleted first.
func (s *UserStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model.User{}, "id = ?", id).Error; err != nil {
			return translate(err)
		}

		var owned int64
		if err := tx.Model(&model.Event{}).Where("created_by_id = ?", id).Count(&owned).Error; err != nil {
			return fmt.Errorf("count owned events: %w", err)
		}
		if owned > 0 {
			return ErrOwnsEvents
		}

		authored := tx.Model(&model.Question{}).Select("id").Where("author_id = ?", id)
		steps := []struct {
			what string
			run  func() error
		}{
			{"votes by user", func() error {
				return tx.Where("user_id = ?", id).Delete(&model.Vote{}).Error
			}},
			{"votes on user's questions", func() error {
				return tx.Where("question_id IN (?)", authored).Delete(&model.Vote{}).Error
			}},
			{"detach grouped questions", func() error {
				return tx.Model(&model.Question{}).Where("parent_question_id IN (?)", authored).
					Update("parent_question_id", nil).Error
			}},
			{"questions", func() error {
				return tx.Where("author_id = ?", id).Delete(&model.Question{}).Error
			}},
			{"refresh tokens", func() error {
				return tx.Where("user_id = ?", id).Delete(&model.RefreshToken{}).Error
			}},
			{"moderator memberships", func() error {
				return tx.Exec("DELETE FROM event_moderators WHERE user_id = ?", id).Error
			}},
			{"participant memberships", func() error {
				return tx.Exec("DELETE FROM event_participants WHERE user_id = ?", id).Error
			}},
			{"user", func() error {
				return tx.Delete(&model.User{}, "id = ?", id).Error
			}},
		}
		for _, step := range steps {
			if err := step.run(); err != nil {
				return fmt.Errorf("delete %s: %w", step.what, err)
			}
		}
		return nil
	})
}
