package handler

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/d9705996/ama/internal/api/jsonapi"
	"github.com/d9705996/ama/internal/model"
	"github.com/d9705996/ama/internal/similarity"
	"github.com/d9705996/ama/internal/store"
)

// JSON:API resource types.
const (
	typeUsers          = "users"
	typeEvents         = "events"
	typeQuestions      = "questions"
	typeQuestionGroups = "question_groups"
	typeAuthTokens     = "auth_tokens"
)

type identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func toOne(typ, id string) jsonapi.Relationship {
	return jsonapi.Relationship{Data: identifier{Type: typ, ID: id}}
}

// ---- users ----------------------------------------------------------------

type userAttrs struct {
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        model.Role `json:"role"`
	IsAdmin     bool       `json:"is_admin"`
	IsAnonymous bool       `json:"is_anonymous"`
	AuthSource  string     `json:"auth_source"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func userResource(u *model.User) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type: typeUsers,
		ID:   u.ID,
		Attributes: userAttrs{
			Email:       u.Email,
			Name:        u.Name,
			Role:        u.Role,
			IsAdmin:     u.IsAdmin,
			IsAnonymous: u.IsAnonymous,
			AuthSource:  u.AuthSource,
			LastLoginAt: u.LastLoginAt,
			CreatedAt:   u.CreatedAt,
			UpdatedAt:   u.UpdatedAt,
		},
		Links: &jsonapi.Links{Self: "/api/v1/users/" + u.ID},
	}
}

// ---- auth tokens ----------------------------------------------------------

// tokenAttrs is the auth_tokens payload. The tokens are unexported for the
// same linter reason as credentials.
type tokenAttrs struct {
	accessToken  string
	refreshToken string
	TokenType    string
	ExpiresIn    int64
}

func (t tokenAttrs) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"access_token":  t.accessToken,
		"refresh_token": t.refreshToken,
		"token_type":    t.TokenType,
		"expires_in":    t.ExpiresIn,
	})
}

// ---- events ---------------------------------------------------------------

type eventAttrs struct {
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	OpenDate           *time.Time `json:"open_date"`
	CloseDate          *time.Time `json:"close_date"`
	IsPublic           bool       `json:"is_public"`
	IsActive           bool       `json:"is_active"`
	AcceptingQuestions bool       `json:"accepting_questions"`
	ShareLink          string     `json:"share_link"`
	ShareURL           string     `json:"share_url"`
	InviteLink         string     `json:"invite_link,omitempty"`
	InviteURL          string     `json:"invite_url,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// eventResource renders ev. Invite links are only shown to moderators.
func eventResource(ev *model.Event, baseURL string, moderator bool, now time.Time) jsonapi.ResourceObject {
	linkURL := func(token string) string {
		return strings.TrimRight(baseURL, "/") + "/api/v1/links/" + token
	}
	attrs := eventAttrs{
		Name:               ev.Name,
		Description:        ev.Description,
		OpenDate:           ev.OpenDate,
		CloseDate:          ev.CloseDate,
		IsPublic:           ev.IsPublic,
		IsActive:           ev.IsActive,
		AcceptingQuestions: ev.AcceptsQuestions(now),
		ShareLink:          ev.ShareLink,
		ShareURL:           linkURL(ev.ShareLink),
		CreatedAt:          ev.CreatedAt,
		UpdatedAt:          ev.UpdatedAt,
	}
	if moderator {
		attrs.InviteLink = ev.InviteLink
		attrs.InviteURL = linkURL(ev.InviteLink)
	}

	mods := make([]identifier, 0, len(ev.Moderators))
	for _, m := range ev.Moderators {
		mods = append(mods, identifier{Type: typeUsers, ID: m.ID})
	}
	return jsonapi.ResourceObject{
		Type:       typeEvents,
		ID:         ev.ID,
		Attributes: attrs,
		Relationships: map[string]jsonapi.Relationship{
			"created_by": toOne(typeUsers, ev.CreatedByID),
			"moderators": {Data: mods},
		},
		Links: &jsonapi.Links{Self: "/api/v1/events/" + ev.ID},
	}
}

// ---- questions ------------------------------------------------------------

// viewer describes who is looking at a question.
type viewer struct {
	userID    string
	admin     bool
	moderator bool
}

type questionAttrs struct {
	Text              string     `json:"text"`
	IsAnonymous       bool       `json:"is_anonymous"`
	IsAnswered        bool       `json:"is_answered"`
	AnsweredAt        *time.Time `json:"answered_at"`
	IsStarred         bool       `json:"is_starred"`
	IsStaged          bool       `json:"is_staged"`
	PresenterNotes    string     `json:"presenter_notes,omitempty"`
	AISummary         string     `json:"ai_summary"`
	Tags              []string   `json:"tags"`
	Upvotes           int64      `json:"upvotes"`
	VotedByMe         bool       `json:"voted_by_me"`
	AIProcessed       bool       `json:"ai_processed"`
	AIProcessedAt     *time.Time `json:"ai_processed_at"`
	AIProcessingError string     `json:"ai_processing_error,omitempty"`
	EmbeddingModel    string     `json:"embedding_model,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// questionResource renders v for vw. The author of an anonymous question is
// only revealed to the author and to admins. Presenter notes are only shown
// to moderators.
func questionResource(v *store.QuestionView, vw viewer) jsonapi.ResourceObject {
	q := &v.Question
	tags := []string(q.Tags)
	if tags == nil {
		tags = []string{}
	}
	attrs := questionAttrs{
		Text:           q.Text,
		IsAnonymous:    q.IsAnonymous,
		IsAnswered:     q.IsAnswered,
		AnsweredAt:     q.AnsweredAt,
		IsStarred:      q.IsStarred,
		IsStaged:       q.IsStaged,
		AISummary:      q.AISummary,
		Tags:           tags,
		Upvotes:        v.Votes,
		VotedByMe:      v.VotedByMe,
		AIProcessed:    q.AIProcessed,
		AIProcessedAt:  q.AIProcessedAt,
		EmbeddingModel: q.EmbeddingModel,
		CreatedAt:      q.CreatedAt,
		UpdatedAt:      q.UpdatedAt,
	}
	if vw.moderator {
		attrs.PresenterNotes = q.PresenterNotes
		attrs.AIProcessingError = q.AIProcessingError
	}

	rels := map[string]jsonapi.Relationship{
		"event": toOne(typeEvents, q.EventID),
	}
	if !q.IsAnonymous || vw.userID == q.AuthorID || vw.admin {
		rels["author"] = toOne(typeUsers, q.AuthorID)
	}
	if q.ParentQuestionID != nil {
		rels["parent"] = toOne(typeQuestions, *q.ParentQuestionID)
	}
	return jsonapi.ResourceObject{
		Type:          typeQuestions,
		ID:            q.ID,
		Attributes:    attrs,
		Relationships: rels,
		Links:         &jsonapi.Links{Self: "/api/v1/questions/" + q.ID},
	}
}

// matchResource renders a similarity match with its score in meta. Vote
// tallies are not loaded for matches.
func matchResource(m similarity.Match, vw viewer) jsonapi.ResourceObject {
	res := questionResource(&store.QuestionView{Question: m.Question}, vw)
	res.Meta = jsonapi.Meta{"score": m.Score}
	return res
}

type groupAttrs struct {
	Size int `json:"size"`
}

// groupResource renders a group and returns the questions it references for
// the included member.
func groupResource(g similarity.Group, vw viewer) (jsonapi.ResourceObject, []any) {
	children := make([]identifier, 0, len(g.Children))
	included := make([]any, 0, len(g.Children)+1)
	included = append(included, questionResource(&store.QuestionView{Question: g.Root}, vw))
	for _, c := range g.Children {
		children = append(children, identifier{Type: typeQuestions, ID: c.Question.ID})
		included = append(included, matchResource(c, vw))
	}
	return jsonapi.ResourceObject{
		Type:       typeQuestionGroups,
		ID:         g.Root.ID,
		Attributes: groupAttrs{Size: len(g.Children) + 1},
		Relationships: map[string]jsonapi.Relationship{
			"root":     toOne(typeQuestions, g.Root.ID),
			"children": {Data: children},
		},
	}, included
}
