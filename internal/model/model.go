// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Role is the global role of a user account.
type Role string

// Built-in roles.
const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RolePresenter Role = "presenter"
	RoleUser      Role = "user"
)

// Valid reports whether r is one of the built-in roles.
func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

// Auth sources. Guests are manual accounts with IsAnonymous set.
const (
	AuthSourceManual    = "manual"
	AuthSourceMicrosoft = "microsoft"
)

// AuthSources lists every value the auth_source column accepts.
var AuthSources = []string{AuthSourceManual, AuthSourceMicrosoft}

// Roles lists every value the role column accepts.
var Roles = []Role{RoleAdmin, RoleModerator, RolePresenter, RoleUser}

// User is the GORM model for the users table.
type User struct {
	ID           string  `gorm:"type:text;primaryKey"`
	Email        string  `gorm:"type:text;not null;uniqueIndex"`
	Name         string  `gorm:"type:text;not null;default:''"`
	PasswordHash string  `gorm:"type:text;not null;default:''"`
	Role         Role    `gorm:"type:text;not null;check:chk_users_role,role IN ('admin','moderator','presenter','user')"`
	IsAnonymous  bool    `gorm:"not null"`
	IsAdmin      bool    `gorm:"not null"`
	MicrosoftID  *string `gorm:"type:text;uniqueIndex"`
	AuthSource   string  `gorm:"type:text;not null;check:chk_users_auth_source,auth_source IN ('manual','microsoft')"`
	LastLoginAt  *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set and fills defaults.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.AuthSource == "" {
		u.AuthSource = AuthSourceManual
	}
	return nil
}

// BeforeSave keeps IsAdmin in step with Role.
func (u *User) BeforeSave(_ *gorm.DB) error {
	u.IsAdmin = u.Role == RoleAdmin
	return nil
}

// Event is a live Q&A session. The creator is always one of its moderators.
type Event struct {
	ID           string `gorm:"type:text;primaryKey"`
	Name         string `gorm:"type:text;not null"`
	Description  string `gorm:"type:text;not null;default:''"`
	OpenDate     *time.Time
	CloseDate    *time.Time
	CreatedByID  string    `gorm:"type:text;not null;index"`
	CreatedBy    *User     `gorm:"foreignKey:CreatedByID"`
	Moderators   []User    `gorm:"many2many:event_moderators"`
	Participants []User    `gorm:"many2many:event_participants"`
	ShareLink    string    `gorm:"type:text;not null;uniqueIndex"`
	InviteLink   string    `gorm:"type:text;not null;uniqueIndex"`
	IsPublic     bool      `gorm:"not null"`
	IsActive     bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (e *Event) BeforeCreate(_ *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// AcceptsQuestions reports whether the event is open for submissions at now.
func (e *Event) AcceptsQuestions(now time.Time) bool {
	if !e.IsActive {
		return false
	}
	if e.OpenDate != nil && now.Before(*e.OpenDate) {
		return false
	}
	if e.CloseDate != nil && !now.Before(*e.CloseDate) {
		return false
	}
	return true
}

// Question is a question submitted to an event.
type Question struct {
	ID               string `gorm:"type:text;primaryKey"`
	EventID          string `gorm:"type:text;not null;index"`
	Event            *Event `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
	AuthorID         string `gorm:"type:text;not null;index"`
	Author           *User  `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE"`
	Text             string `gorm:"type:text;not null"`
	IsAnonymous      bool   `gorm:"not null"`
	IsAnswered       bool   `gorm:"not null"`
	AnsweredAt       *time.Time
	IsStarred        bool                        `gorm:"not null"`
	IsStaged         bool                        `gorm:"not null;index"`
	PresenterNotes   string                      `gorm:"type:text;not null;default:''"`
	AISummary        string                      `gorm:"column:ai_summary;type:text;not null;default:''"`
	ParentQuestionID *string                     `gorm:"type:text;index"`
	Parent           *Question                   `gorm:"foreignKey:ParentQuestionID;constraint:OnDelete:SET NULL"`
	Tags             datatypes.JSONSlice[string] `gorm:"not null"`

	EmbeddingVector   []byte
	EmbeddingJSON     string     `gorm:"column:embedding_json;type:text;not null;default:''"`
	EmbeddingModel    string     `gorm:"type:text;not null;default:''"`
	AIProcessed       bool       `gorm:"column:ai_processed;not null"`
	AIProcessedAt     *time.Time `gorm:"column:ai_processed_at"`
	AIProcessingError string     `gorm:"column:ai_processing_error;type:text;not null;default:''"`

	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (q *Question) BeforeCreate(_ *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}

// BeforeSave stores an empty list instead of JSON null.
func (q *Question) BeforeSave(_ *gorm.DB) error {
	if q.Tags == nil {
		q.Tags = datatypes.JSONSlice[string]{}
	}
	return nil
}

// Vote is a single upvote. (QuestionID, UserID) is unique.
type Vote struct {
	ID         string    `gorm:"type:text;primaryKey"`
	QuestionID string    `gorm:"type:text;not null;uniqueIndex:idx_votes_question_user"`
	Question   *Question `gorm:"constraint:OnDelete:CASCADE"`
	UserID     string    `gorm:"type:text;not null;uniqueIndex:idx_votes_question_user;index"`
	User       *User     `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (v *Vote) BeforeCreate(_ *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return nil
}

// RefreshToken is the GORM model for the refresh_tokens table.
type RefreshToken struct {
	ID        string    `gorm:"type:text;primaryKey"`
	UserID    string    `gorm:"type:text;not null;index"`
	User      *User     `gorm:"constraint:OnDelete:CASCADE"`
	TokenHash string    `gorm:"type:text;not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null"`
	RevokedAt *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (rt *RefreshToken) BeforeCreate(_ *gorm.DB) error {
	if rt.ID == "" {
		rt.ID = uuid.New().String()
	}
	return nil
}

// All lists every model in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&RefreshToken{},
		&Event{},
		&Question{},
		&Vote{},
	}
}
