// Package similarity embeds questions and groups near-duplicates within an
// event.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/d9705996/ama/internal/embedding"
	"github.com/d9705996/ama/internal/model"
	"github.com/d9705996/ama/internal/store"
	"github.com/d9705996/ama/internal/summary"
)

// Embedder is the part of embedding.Service the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, text string) (embedding.Result, error)
}

// Match is a question scored against another.
type Match struct {
	Question model.Question
	Score    float64
}

// Group is a root question and the later questions attached to it.
type Group struct {
	Root     model.Question
	Children []Match
}

// Pipeline processes questions after they are submitted.
type Pipeline struct {
	questions  *store.QuestionStore
	embedder   Embedder
	summarizer summary.Summarizer
	log        *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(questions *store.QuestionStore, embedder Embedder, summarizer summary.Summarizer, log *slog.Logger) *Pipeline {
	return &Pipeline{questions: questions, embedder: embedder, summarizer: summarizer, log: log}
}

// Process embeds one question, stores the vector and fills its summary and
// tags. Failures are also recorded on the question.
func (p *Pipeline) Process(ctx context.Context, questionID string) error {
	q, err := p.questions.Get(ctx, questionID)
	if err != nil {
		return fmt.Errorf("load question %s: %w", questionID, err)
	}

	res, err := p.embedder.Embed(ctx, q.Text)
	if err != nil {
		if serr := p.questions.SaveEmbeddingError(ctx, q.ID, err.Error()); serr != nil {
			p.log.Error("record embedding error", "question_id", q.ID, "err", serr)
		}
		return fmt.Errorf("embed question %s: %w", q.ID, err)
	}

	js, err := embedding.VectorJSON(res.Vector)
	if err != nil {
		return err
	}
	report := p.summarizer.Summarize(q.Text)
	err = p.questions.SaveEmbedding(ctx, q.ID, store.EmbeddingRecord{
		Vector:  embedding.EncodeVector(res.Vector),
		JSON:    js,
		Model:   res.Model,
		Summary: report.Summary,
		Tags:    report.Tags,
	})
	if err != nil {
		return fmt.Errorf("save embedding for %s: %w", q.ID, err)
	}

	p.log.Debug("question processed",
		"question_id", q.ID, "provider", res.Provider, "fallback", res.Fallback, "cached", res.Cached)
	return nil
}

// Similar returns processed questions of the same event scoring at least
// threshold against questionID, best first, at most limit of them.
func (p *Pipeline) Similar(ctx context.Context, questionID string, threshold float64, limit int) ([]Match, error) {
	q, err := p.questions.Get(ctx, questionID)
	if err != nil {
		return nil, err
	}
	target, err := p.vectorOf(ctx, q)
	if err != nil {
		return nil, err
	}
	candidates, err := p.questions.ListEmbedded(ctx, q.EventID)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, c := range candidates {
		if c.ID == q.ID || c.EmbeddingModel != q.EmbeddingModel {
			continue
		}
		vec, err := embedding.DecodeVector(c.EmbeddingVector)
		if err != nil {
			p.log.Warn("skip undecodable embedding", "question_id", c.ID, "err", err)
			continue
		}
		if score := embedding.Similarity(target, vec); score >= threshold {
			matches = append(matches, Match{Question: c, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// vectorOf returns q's stored vector, embedding it first when the pipeline
// has not processed it yet.
func (p *Pipeline) vectorOf(ctx context.Context, q *model.Question) ([]float32, error) {
	if !q.AIProcessed {
		if err := p.Process(ctx, q.ID); err != nil {
			return nil, err
		}
		fresh, err := p.questions.Get(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		*q = *fresh
	}
	vec, err := embedding.DecodeVector(q.EmbeddingVector)
	if err != nil {
		return nil, fmt.Errorf("decode embedding of %s: %w", q.ID, err)
	}
	if len(vec) == 0 {
		return nil, errors.New("question has no embedding")
	}
	return vec, nil
}

// Group walks the event's processed questions in creation order and
// attaches each question without a parent to the most similar earlier root
// scoring at least threshold. Existing parent links are kept. It returns
// every group, including roots without children. A question linked to a
// parent that is not itself a root (a later, unprocessed or grouped
// question) is reported under a group rooted at that parent, appended after
// the similarity groups.
func (p *Pipeline) Group(ctx context.Context, eventID string, threshold float64) ([]Group, error) {
	questions, err := p.questions.ListEmbedded(ctx, eventID)
	if err != nil {
		return nil, err
	}

	type root struct {
		group Group
		vec   []float32
	}
	var (
		roots   []*root
		byID    = map[string]*root{}
		vecs    = map[string][]float32{}
		listed  = map[string]model.Question{}
		pending []model.Question
	)

	for _, q := range questions {
		vec, err := embedding.DecodeVector(q.EmbeddingVector)
		if err != nil || len(vec) == 0 {
			p.log.Warn("skip question without usable embedding", "question_id", q.ID)
			continue
		}
		vecs[q.ID] = vec
		listed[q.ID] = q

		if q.ParentQuestionID != nil {
			pending = append(pending, q)
			continue
		}

		var best *root
		var bestScore float64
		for _, r := range roots {
			if r.group.Root.EmbeddingModel != q.EmbeddingModel {
				continue
			}
			s := embedding.Similarity(r.vec, vec)
			if s >= threshold && (best == nil || s > bestScore) {
				best, bestScore = r, s
			}
		}
		if best == nil {
			r := &root{group: Group{Root: q}, vec: vec}
			roots = append(roots, r)
			byID[q.ID] = r
			continue
		}

		parentID := best.group.Root.ID
		updated, err := p.questions.SetParent(ctx, q.ID, &parentID)
		if err != nil {
			return nil, fmt.Errorf("group question %s: %w", q.ID, err)
		}
		best.group.Children = append(best.group.Children, Match{Question: *updated, Score: bestScore})
	}

	for _, q := range pending {
		parentID := *q.ParentQuestionID
		r, ok := byID[parentID]
		if !ok {
			parent, found := listed[parentID]
			if !found {
				loaded, err := p.questions.Get(ctx, parentID)
				if err != nil {
					return nil, fmt.Errorf("load parent %s of %s: %w", parentID, q.ID, err)
				}
				parent = *loaded
			}
			r = &root{group: Group{Root: parent}, vec: vecs[parentID]}
			roots = append(roots, r)
			byID[parentID] = r
		}
		r.group.Children = append(r.group.Children, Match{Question: q, Score: embedding.Similarity(r.vec, vecs[q.ID])})
	}

	groups := make([]Group, len(roots))
	for i, r := range roots {
		groups[i] = r.group
	}
	return groups, nil
}
