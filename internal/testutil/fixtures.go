package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/d9705996/ama/internal/model"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Password is the plaintext password of every fixture user.
const Password = "correct-horse-battery"

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *gorm.DB
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *gorm.DB) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *gorm.DB {
	return f.db
}

// CreateUser creates a manual account with the given role and Password.
func (f *Fixtures) CreateUser(role model.Role) *model.User {
	f.t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	if err != nil {
		f.t.Fatalf("hash password: %v", err)
	}
	id := uuid.New().String()
	u := &model.User{
		ID:           id,
		Email:        fmt.Sprintf("%s-%s@example.com", role, id[:8]),
		Name:         "Test " + string(role),
		PasswordHash: string(hash),
		Role:         role,
		AuthSource:   model.AuthSourceManual,
	}
	if err := f.db.Create(u).Error; err != nil {
		f.t.Fatalf("create user: %v", err)
	}
	return u
}

// CreateEvent creates an active event owned by creator, who is also added as
// a moderator.
func (f *Fixtures) CreateEvent(creator *model.User, public bool) *model.Event {
	f.t.Helper()

	id := uuid.New().String()
	ev := &model.Event{
		ID:          id,
		Name:        "Event " + id[:8],
		CreatedByID: creator.ID,
		ShareLink:   "share-" + id,
		InviteLink:  "invite-" + id,
		IsPublic:    public,
		IsActive:    true,
	}
	if err := f.db.Create(ev).Error; err != nil {
		f.t.Fatalf("create event: %v", err)
	}
	if err := f.db.Model(ev).Association("Moderators").Append(creator); err != nil {
		f.t.Fatalf("add creator as moderator: %v", err)
	}
	return ev
}

// AddParticipant adds u to the event's participants.
func (f *Fixtures) AddParticipant(ev *model.Event, u *model.User) {
	f.t.Helper()
	if err := f.db.Model(ev).Association("Participants").Append(u); err != nil {
		f.t.Fatalf("add participant: %v", err)
	}
}

// CreateQuestion creates a question in ev by author. Each call is one
// millisecond apart so creation order is stable.
func (f *Fixtures) CreateQuestion(ev *model.Event, author *model.User, text string) *model.Question {
	f.t.Helper()

	var n int64
	f.db.Model(&model.Question{}).Where("event_id = ?", ev.ID).Count(&n)
	q := &model.Question{
		EventID:   ev.ID,
		AuthorID:  author.ID,
		Text:      text,
		CreatedAt: time.Now().UTC().Add(time.Duration(n) * time.Millisecond),
	}
	if err := f.db.Create(q).Error; err != nil {
		f.t.Fatalf("create question: %v", err)
	}
	return q
}

// Vote records an upvote by u on q.
func (f *Fixtures) Vote(q *model.Question, u *model.User) {
	f.t.Helper()
	if err := f.db.Create(&model.Vote{QuestionID: q.ID, UserID: u.ID}).Error; err != nil {
		f.t.Fatalf("vote: %v", err)
	}
}
