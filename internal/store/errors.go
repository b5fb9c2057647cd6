// Package store implements the GORM repositories for users, events,
// questions and votes.
package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Sentinel errors returned by the stores. Handlers map them onto HTTP
// statuses.
var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("record conflicts with an existing one")
	ErrAlreadyVoted = errors.New("question already upvoted by this user")
	ErrNotVoted     = errors.New("question not upvoted by this user")
	ErrEventClosed  = errors.New("event is not accepting questions")
	ErrOwnsEvents   = errors.New("user still owns events")
	// ErrQuestionAnswered rejects edits and staging of answered questions.
	ErrQuestionAnswered = errors.New("question is already answered")
	// ErrInvalidParent rejects grouping under a missing question, the
	// question itself, or a question of another event.
	ErrInvalidParent = errors.New("invalid parent question")
	// ErrInvalidValue reports a value the schema's CHECK constraints reject.
	ErrInvalidValue = errors.New("value rejected by a check constraint")
)

// Postgres SQLSTATE codes.
const (
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// translate maps GORM and driver errors onto the store sentinels and leaves
// everything else untouched. A dangling reference reads as ErrNotFound.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	isPG := errors.As(err, &pgErr)
	msg := err.Error()
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(msg, "UNIQUE constraint failed"):
		return ErrConflict
	case errors.Is(err, gorm.ErrForeignKeyViolated),
		isPG && pgErr.Code == pgForeignKeyViolation,
		strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return ErrNotFound
	case errors.Is(err, gorm.ErrCheckConstraintViolated),
		isPG && pgErr.Code == pgCheckViolation,
		strings.Contains(msg, "CHECK constraint failed"):
		return ErrInvalidValue
	}
	return err
}

// Page selects a window of a listing.
type Page struct {
	Offset int
	Limit  int
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

func (p Page) apply(db *gorm.DB) *gorm.DB {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset := max(p.Offset, 0)
	return db.Offset(offset).Limit(limit)
}
