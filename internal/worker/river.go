package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/d9705996/ama/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// embeddingsQueue keeps embedding jobs apart from anything else sharing the
// River schema.
const embeddingsQueue = "embeddings"

const maxAttempts = 3

// EmbedQuestionArgs is the River payload for one question.
type EmbedQuestionArgs struct {
	QuestionID string `json:"question_id"`
}

// Kind names the job type in river_job.
func (EmbedQuestionArgs) Kind() string { return "embed_question" }

// InsertOpts routes every embedding job to its own queue.
func (EmbedQuestionArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: embeddingsQueue, MaxAttempts: maxAttempts}
}

type embedWorker struct {
	river.WorkerDefaults[EmbedQuestionArgs]
	proc Processor
}

func (w *embedWorker) Work(ctx context.Context, job *river.Job[EmbedQuestionArgs]) error {
	err := w.proc.Process(ctx, job.Args.QuestionID)
	if errors.Is(err, store.ErrNotFound) {
		// deleted while queued
		return river.JobCancel(err)
	}
	return err
}

type riverQueue struct {
	client *river.Client[pgx.Tx]
}

func newRiverQueue(opts Options) (*riverQueue, error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, &embedWorker{proc: opts.Processor})

	client, err := river.NewClient(riverpgxv5.New(opts.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			embeddingsQueue: {MaxWorkers: max(opts.Concurrency, 1)},
		},
		Workers: workers,
		Logger:  opts.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("river client: %w", err)
	}
	return &riverQueue{client: client}, nil
}

func (q *riverQueue) Start(ctx context.Context) error { return q.client.Start(ctx) }

func (q *riverQueue) Stop(ctx context.Context) error { return q.client.Stop(ctx) }

func (q *riverQueue) EnqueueEmbedding(ctx context.Context, questionID string) error {
	if _, err := q.client.Insert(ctx, EmbedQuestionArgs{QuestionID: questionID}, nil); err != nil {
		return fmt.Errorf("enqueue embedding for %s: %w", questionID, err)
	}
	return nil
}

func migrateRiver(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("river needs a postgres pool")
	}
	m, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("river migrator: %w", err)
	}
	if _, err := m.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrations: %w", err)
	}
	return nil
}
