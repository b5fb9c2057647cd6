// Package worker embeds questions in the background. Postgres deployments
// use River; SQLite deployments use the in-process Pool.
package worker

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Processor embeds one question. similarity.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, questionID string) error
}

// Queue accepts embedding work until Stop.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	EnqueueEmbedding(ctx context.Context, questionID string) error
}

// Options selects and sizes the queue.
type Options struct {
	// Pool is required for River and ignored otherwise.
	Pool        *pgxpool.Pool
	Driver      string
	Concurrency int
	Processor   Processor
	Log         *slog.Logger
}

// New returns River when opts.Driver is postgres, migrating its tables
// first, and an in-process Pool for every other driver.
func New(ctx context.Context, opts Options) (Queue, error) {
	if opts.Driver != "postgres" {
		return NewPool(opts.Processor, PoolConfig{Concurrency: opts.Concurrency}, opts.Log), nil
	}
	if err := migrateRiver(ctx, opts.Pool); err != nil {
		return nil, err
	}
	return newRiverQueue(opts)
}
