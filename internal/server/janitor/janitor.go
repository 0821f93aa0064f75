// Package janitor deletes objects that lost their metadata record, for
// example after an upload whose metadata write failed.
package janitor

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	"github.com/dmitrijs2005/bhopmaps/internal/logging"
	"github.com/dmitrijs2005/bhopmaps/internal/server/metrics"
)

// Deleter removes one object; a missing object wraps common.ErrObjectNotFound.
type Deleter interface {
	DeleteObject(ctx context.Context, key string) error
}

const (
	retryAttempts = 3
	retryBase     = 100 * time.Millisecond
)

// Janitor retries orphan deletions inline and parks the keys it could not
// remove on a Queue drained by Run.
type Janitor struct {
	store    Deleter
	queue    Queue
	logger   logging.Logger
	interval time.Duration
	batch    int
	backoff  func() retry.Backoff
}

// New builds a Janitor. Non-positive interval or batch fall back to one
// minute and 100 keys.
func New(store Deleter, queue Queue, logger logging.Logger, interval time.Duration, batch int) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Janitor{
		store:    store,
		queue:    queue,
		logger:   logger.With("module", "janitor"),
		interval: interval,
		batch:    batch,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(retryAttempts-1, retry.NewExponential(retryBase))
		},
	}
}

// Schedule tries to delete every key now; keys that still fail are queued.
// Deletion is idempotent, so scheduling a key twice is harmless.
func (j *Janitor) Schedule(ctx context.Context, keys ...string) {
	metrics.OrphansScheduledTotal.Add(float64(len(keys)))

	var pending []string
	for _, key := range keys {
		if !j.remove(ctx, key) {
			pending = append(pending, key)
		}
	}
	j.park(ctx, pending)
}

// Run drains the queue every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info(ctx, "janitor started", "interval", j.interval.String())
	for {
		select {
		case <-ctx.Done():
			j.logger.Info(context.WithoutCancel(ctx), "janitor stopped")
			return
		case <-ticker.C:
			if _, err := j.Drain(ctx); err != nil {
				j.logger.Error(ctx, "orphan drain failed", "error", err)
			}
		}
	}
}

// Drain processes one batch and returns how many keys were resolved.
func (j *Janitor) Drain(ctx context.Context) (int, error) {
	keys, err := j.queue.Pop(ctx, j.batch)
	if err != nil {
		return 0, err
	}

	var pending []string
	for _, key := range keys {
		if !j.remove(ctx, key) {
			pending = append(pending, key)
		}
	}
	j.park(ctx, pending)
	return len(keys) - len(pending), nil
}

// Pending reports the queue length.
func (j *Janitor) Pending(ctx context.Context) (int64, error) {
	return j.queue.Len(ctx)
}

func (j *Janitor) remove(ctx context.Context, key string) bool {
	err := retry.Do(ctx, j.backoff(), func(ctx context.Context) error {
		err := j.store.DeleteObject(ctx, key)
		switch {
		case err == nil, errors.Is(err, common.ErrObjectNotFound):
			return err
		default:
			return retry.RetryableError(err)
		}
	})

	switch {
	case err == nil:
		metrics.OrphanCleanupTotal.WithLabelValues("deleted").Inc()
		j.logger.Info(ctx, "orphan deleted", "key", key)
		return true
	case errors.Is(err, common.ErrObjectNotFound):
		metrics.OrphanCleanupTotal.WithLabelValues("missing").Inc()
		j.logger.Debug(ctx, "orphan already gone", "key", key)
		return true
	default:
		metrics.OrphanCleanupTotal.WithLabelValues("requeued").Inc()
		j.logger.Warn(ctx, "orphan delete failed", "key", key, "error", err)
		return false
	}
}

func (j *Janitor) park(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := j.queue.Push(context.WithoutCancel(ctx), keys...); err != nil {
		j.logger.Error(ctx, "orphan queue push failed", "keys", keys, "error", err)
	}
}
