package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/d9705996/ama/internal/api/jsonapi"
	"github.com/d9705996/ama/internal/model"
	"github.com/d9705996/ama/internal/observability"
	"github.com/d9705996/ama/internal/ratelimit"
	"github.com/d9705996/ama/internal/sanitize"
	"github.com/d9705996/ama/internal/similarity"
	"github.com/d9705996/ama/internal/store"
)

// Enqueuer schedules background embedding of a question. worker.Queue
// satisfies it.
type Enqueuer interface {
	EnqueueEmbedding(ctx context.Context, questionID string) error
}

// Finder looks up similar questions. similarity.Pipeline satisfies it.
type Finder interface {
	Similar(ctx context.Context, questionID string, threshold float64, limit int) ([]similarity.Match, error)
	Group(ctx context.Context, eventID string, threshold float64) ([]similarity.Group, error)
}

// QuestionHandler handles question routes under /api/v1/events/{id} and
// /api/v1/questions/*.
type QuestionHandler struct {
	access
	questions *store.QuestionStore
	queue     Enqueuer
	finder    Finder
	limiter   *ratelimit.Limiter
	metrics   *observability.Metrics
	threshold float64
}

// QuestionDeps bundles the collaborators of a QuestionHandler.
type QuestionDeps struct {
	Events    *store.EventStore
	Questions *store.QuestionStore
	Queue     Enqueuer
	Finder    Finder
	Limiter   *ratelimit.Limiter
	Metrics   *observability.Metrics
	// Threshold is the default similarity cut-off.
	Threshold float64
	Log       *slog.Logger
}

// NewQuestionHandler creates a QuestionHandler.
func NewQuestionHandler(d QuestionDeps) *QuestionHandler {
	return &QuestionHandler{
		access:    access{events: d.Events, log: d.Log},
		questions: d.Questions,
		queue:     d.Queue,
		finder:    d.Finder,
		limiter:   d.Limiter,
		metrics:   d.Metrics,
		threshold: d.Threshold,
	}
}

// viewerOf describes the caller relative to ev.
func (h *QuestionHandler) viewerOf(r *http.Request, ev *model.Event) (viewer, error) {
	c := claimsOf(r)
	mod, err := h.isModerator(r.Context(), ev, c)
	if err != nil {
		return viewer{}, err
	}
	return viewer{userID: c.UserID, admin: c.IsAdmin(), moderator: mod}, nil
}

// load fetches the question named in the path and its event, checking the
// caller may see the event.
func (h *QuestionHandler) load(w http.ResponseWriter, r *http.Request) (*model.Question, *model.Event, viewer, bool) {
	q, err := h.questions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		storeError(w, r, h.log, "question", err)
		return nil, nil, viewer{}, false
	}
	ev, ok := h.viewEvent(w, r, q.EventID)
	if !ok {
		return nil, nil, viewer{}, false
	}
	vw, err := h.viewerOf(r, ev)
	if err != nil {
		storeError(w, r, h.log, "event", err)
		return nil, nil, viewer{}, false
	}
	return q, ev, vw, true
}

// renderOne reloads the question with its tally and writes it.
func (h *QuestionHandler) renderOne(w http.ResponseWriter, r *http.Request, status int, id string, vw viewer) {
	v, err := h.questions.View(r.Context(), id, vw.userID)
	if err != nil {
		storeError(w, r, h.log, "question", err)
		return
	}
	jsonapi.RenderOne(w, status, questionResource(v, vw))
}

// List handles GET /api/v1/events/{id}/questions. It accepts
// filter[answered], filter[starred], filter[staged], filter[parent] (a
// question id or "none") and sort (votes or recent).
func (h *QuestionHandler) List(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.viewEvent(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	vw, err := h.viewerOf(r, ev)
	if err != nil {
		storeError(w, r, h.log, "event", err)
		return
	}

	f := store.QuestionFilter{ViewerID: vw.userID}
	for param, dst := range map[string]**bool{
		"filter[answered]": &f.Answered,
		"filter[starred]":  &f.Starred,
		"filter[staged]":   &f.Staged,
	} {
		b, err := boolParam(r, param)
		if err != nil {
			invalidParameter(w, param, "must be true or false")
			return
		}
		*dst = b
	}
	switch parent := r.URL.Query().Get("filter[parent]"); parent {
	case "":
	case "none":
		f.TopLevel = true
	default:
		f.ParentID = &parent
	}
	switch sort := r.URL.Query().Get("sort"); sort {
	case "", store.SortVotes, "-votes":
		f.Sort = store.SortVotes
	case store.SortRecent, "-created_at":
		f.Sort = store.SortRecent
	default:
		invalidParameter(w, "sort", "must be votes or recent")
		return
	}

	views, err := h.questions.ListByEvent(r.Context(), ev.ID, f)
	if err != nil {
		storeError(w, r, h.log, "questions", err)
		return
	}
	data := make([]any, 0, len(views))
	for i := range views {
		data = append(data, questionResource(&views[i], vw))
	}
	jsonapi.RenderList(w, http.StatusOK, data, jsonapi.ListMeta{Total: len(data)})
}

// Create handles POST /api/v1/events/{id}/questions. Submissions are rate
// limited per user and queued for embedding.
func (h *QuestionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.viewEvent(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	c := claimsOf(r)
	var req struct {
		Text        string `json:"text"`
		IsAnonymous bool   `json:"is_anonymous"`
	}
	if !decode(w, r, questionCreateSchema, &req) {
		return
	}
	text := sanitize.Text(req.Text)
	if text == "" {
		invalidAttribute(w, "/text", "text is empty once markup is removed")
		return
	}
	if !ev.AcceptsQuestions(time.Now()) {
		storeError(w, r, h.log, "event", store.ErrEventClosed)
		return
	}
	if !h.limiter.Allow(c.UserID) {
		retry := h.limiter.RetryAfter(c.UserID)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		jsonapi.RenderError(w, http.StatusTooManyRequests, "rate_limited",
			"too many questions submitted, try again later")
		return
	}

	ctx := r.Context()
	q := &model.Question{
		EventID:     ev.ID,
		AuthorID:    c.UserID,
		Text:        text,
		IsAnonymous: req.IsAnonymous,
	}
	if err := h.questions.Create(ctx, q); err != nil {
		storeError(w, r, h.log, "question", err)
		return
	}
	h.metrics.QuestionSubmitted(ctx)
	h.enqueue(ctx, q.ID)

	vw, err := h.viewerOf(r, ev)
	if err != nil {
		storeError(w, r, h.log, "event", err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, questionResource(&store.QuestionView{Question: *q}, vw))
}

// enqueue schedules embedding. A failure leaves the question unprocessed
// and never fails the request.
func (h *QuestionHandler) enqueue(ctx context.Context, id string) {
	if err := h.queue.EnqueueEmbedding(ctx, id); err != nil {
		h.log.WarnContext(ctx, "enqueue embedding", "question_id", id, "err", err)
	}
}

// Get handles GET /api/v1/questions/{id}.
func (h *QuestionHandler) Get(w http.ResponseWriter, r *http.Request) {
	q, _, vw, ok := h.load(w, r)
	if !ok {
		return
	}
	h.renderOne(w, r, http.StatusOK, q.ID, vw)
}

type questionPatch struct {
	Text           *string          `json:"text"`
	IsAnonymous    *bool            `json:"is_anonymous"`
	IsStarred      *bool            `json:"is_starred"`
	IsAnswered     *bool            `json:"is_answered"`
	IsStaged       *bool            `json:"is_staged"`
	PresenterNotes *string          `json:"presenter_notes"`
	AISummary      *string          `json:"ai_summary"`
	Tags           []string         `json:"tags"`
	ParentID       optional[string] `json:"parent_question_id"`
}

func (p *questionPatch) authorFields() bool {
	return p.Text != nil || p.IsAnonymous != nil
}

func (p *questionPatch) moderatorFields() bool {
	return p.IsStarred != nil || p.IsAnswered != nil || p.IsStaged != nil ||
		p.PresenterNotes != nil || p.AISummary != nil || p.Tags != nil || p.ParentID.Set
}

// Update handles PATCH /api/v1/questions/{id}. Authors edit text and
// anonymity while the question is unanswered; moderators change flags,
// notes, summary, tags and grouping.
func (h *QuestionHandler) Update(w http.ResponseWriter, r *http.Request) {
	q, _, vw, ok := h.load(w, r)
	if !ok {
		return
	}
	var req questionPatch
	if !decode(w, r, questionPatchSchema, &req) {
		return
	}

	if req.authorFields() {
		if q.AuthorID != vw.userID {
			forbidden(w, "only the author may edit the question text")
			return
		}
	}
	if req.moderatorFields() && !vw.moderator {
		forbidden(w, "only moderators of this event may change these attributes")
		return
	}

	ch := store.QuestionChange{
		IsAnonymous: req.IsAnonymous,
		IsStarred:   req.IsStarred,
		IsAnswered:  req.IsAnswered,
		IsStaged:    req.IsStaged,
		Tags:        req.Tags,
		ParentSet:   req.ParentID.Set,
		ParentID:    req.ParentID.Value,
	}
	if req.Text != nil {
		text := sanitize.Text(*req.Text)
		if text == "" {
			invalidAttribute(w, "/text", "text is empty once markup is removed")
			return
		}
		ch.Text = &text
	}
	if req.PresenterNotes != nil {
		notes := sanitize.Text(*req.PresenterNotes)
		ch.PresenterNotes = &notes
	}
	if req.AISummary != nil {
		summary := sanitize.Text(*req.AISummary)
		ch.AISummary = &summary
	}

	ctx := r.Context()
	if _, err := h.questions.Apply(ctx, q.ID, ch); err != nil {
		if errors.Is(err, store.ErrInvalidParent) {
			invalidAttribute(w, "/parent_question_id", err.Error())
			return
		}
		storeError(w, r, h.log, "question", err)
		return
	}
	if req.Text != nil {
		h.enqueue(ctx, q.ID)
	}
	h.renderOne(w, r, http.StatusOK, q.ID, vw)
}

// setStaged stages or un-stages q. Answered questions cannot be staged.
func (h *QuestionHandler) setStaged(w http.ResponseWriter, r *http.Request, q *model.Question, staged bool) bool {
	var err error
	if staged {
		_, err = h.questions.Stage(r.Context(), q.ID)
	} else {
		_, err = h.questions.Unstage(r.Context(), q.ID)
	}
	if err != nil {
		storeError(w, r, h.log, "question", err)
		return false
	}
	return true
}

// Delete handles DELETE /api/v1/questions/{id} (author or event moderator).
func (h *QuestionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	q, _, vw, ok := h.load(w, r)
	if !ok {
		return
	}
	if q.AuthorID != vw.userID && !vw.moderator {
		forbidden(w, "only the author or a moderator may delete this question")
		return
	}
	if err := h.questions.Delete(r.Context(), q.ID); err != nil {
		storeError(w, r, h.log, "question", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Upvote handles POST /api/v1/questions/{id}/upvote.
func (h *QuestionHandler) Upvote(w http.ResponseWriter, r *http.Request) {
	q, _, vw, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.questions.Upvote(r.Context(), q.ID, vw.userID); err != nil {
		storeError(w, r, h.log, "question", err)
		return
	}
	h.metrics.VoteCast(r.Context())
	h.renderOne(w, r, http.StatusOK, q.ID, vw)
}

// RemoveUpvote handles DELETE /api/v1/questions/{id}/upvote.
func (h *QuestionHandler) RemoveUpvote(w http.ResponseWriter, r *http.Request) {
	q, _, vw, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.questions.RemoveUpvote(r.Context(), q.ID, vw.userID); err != nil {
		storeError(w, r, h.log, "question", err)
		return
	}
	h.renderOne(w, r, http.StatusOK, q.ID, vw)
}

// Stage handles POST /api/v1/questions/{id}/stage. Any other staged question
// of the event is un-staged.
func (h *QuestionHandler) Stage(w http.ResponseWriter, r *http.Request) {
	h.staging(w, r, true)
}

// Unstage handles DELETE /api/v1/questions/{id}/stage.
func (h *QuestionHandler) Unstage(w http.ResponseWriter, r *http.Request) {
	h.staging(w, r, false)
}

func (h *QuestionHandler) staging(w http.ResponseWriter, r *http.Request, staged bool) {
	q, _, vw, ok := h.load(w, r)
	if !ok {
		return
	}
	if !vw.moderator {
		forbidden(w, "only moderators of this event may stage questions")
		return
	}
	if !h.setStaged(w, r, q, staged) {
		return
	}
	h.renderOne(w, r, http.StatusOK, q.ID, vw)
}

// Similar handles GET /api/v1/questions/{id}/similar?threshold=&limit=.
func (h *QuestionHandler) Similar(w http.ResponseWriter, r *http.Request) {
	q, _, vw, ok := h.load(w, r)
	if !ok {
		return
	}
	threshold, ok := floatParam(r, "threshold", h.threshold)
	if !ok {
		invalidParameter(w, "threshold", "must be a number in (0, 1]")
		return
	}
	limit, ok := intParam(r, "limit", 10, 1, 50)
	if !ok {
		invalidParameter(w, "limit", "must be between 1 and 50")
		return
	}

	matches, err := h.finder.Similar(r.Context(), q.ID, threshold, limit)
	if err != nil {
		storeError(w, r, h.log, "question", err)
		return
	}
	data := make([]any, 0, len(matches))
	for _, m := range matches {
		data = append(data, matchResource(m, vw))
	}
	jsonapi.RenderList(w, http.StatusOK, data, jsonapi.ListMeta{Total: len(data), Limit: limit})
}

// Reembed handles POST /api/v1/questions/{id}/embedding (event moderators).
func (h *QuestionHandler) Reembed(w http.ResponseWriter, r *http.Request) {
	q, _, vw, ok := h.load(w, r)
	if !ok {
		return
	}
	if !vw.moderator {
		forbidden(w, "only moderators of this event may re-queue embeddings")
		return
	}
	if err := h.queue.EnqueueEmbedding(r.Context(), q.ID); err != nil {
		h.log.WarnContext(r.Context(), "re-queue embedding", "question_id", q.ID, "err", err)
		jsonapi.RenderError(w, http.StatusServiceUnavailable, "queue_unavailable",
			"the embedding queue is not accepting work")
		return
	}
	h.renderOne(w, r, http.StatusAccepted, q.ID, vw)
}

// Group handles POST /api/v1/events/{id}/questions/group?threshold=. It
// attaches near-duplicate questions to the earliest similar question.
func (h *QuestionHandler) Group(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.moderateEvent(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	threshold, ok := floatParam(r, "threshold", h.threshold)
	if !ok {
		invalidParameter(w, "threshold", "must be a number in (0, 1]")
		return
	}
	vw, err := h.viewerOf(r, ev)
	if err != nil {
		storeError(w, r, h.log, "event", err)
		return
	}

	groups, err := h.finder.Group(r.Context(), ev.ID, threshold)
	if err != nil {
		storeError(w, r, h.log, "questions", err)
		return
	}
	data := make([]any, 0, len(groups))
	var included []any
	for _, g := range groups {
		res, inc := groupResource(g, vw)
		data = append(data, res)
		included = append(included, inc...)
	}
	jsonapi.Render(w, http.StatusOK, jsonapi.ListDocument{
		Data:     data,
		Included: included,
		Meta:     &jsonapi.ListMeta{Total: len(data)},
	})
}
