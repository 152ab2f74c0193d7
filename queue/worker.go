package queue

import (
	"context"
	"fmt"
	"time"

	"imovel-scraper/models"
)

// Handler processes tasks taken from the queue.
type Handler interface {
	// Handle runs t. A non-nil error schedules a retry.
	Handle(ctx context.Context, t *models.Task) error
	// Exhausted is called once t has failed for the last time or could not
	// be put back on the queue.
	Exhausted(ctx context.Context, t *models.Task, err error)
}

// Consume drains due tasks into h until ctx is done, sleeping poll between
// empty polls.
func (q *Queue) Consume(ctx context.Context, h Handler, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		worked, err := q.ProcessNext(ctx, h)
		if err != nil {
			q.logger.Error("[queue] %v", err)
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessNext handles at most one due task and reports whether it found one.
func (q *Queue) ProcessNext(ctx context.Context, h Handler) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	t, err := q.Dequeue(ctx)
	if err != nil || t == nil {
		return false, err
	}

	herr := h.Handle(ctx, t)
	if herr == nil {
		q.count(t, StatusDone)
		return true, nil
	}

	q.logger.Warn("[queue] %s %s failed: %v", t.Type, t.ID, herr)
	retried, err := q.Retry(ctx, t)
	if err != nil {
		// the task is off the queue and cannot go back, so this failure is final
		q.count(t, StatusExhausted)
		h.Exhausted(ctx, t, fmt.Errorf("%w (requeue failed: %v)", herr, err))
		return true, err
	}
	if !retried {
		q.count(t, StatusExhausted)
		h.Exhausted(ctx, t, herr)
	}
	return true, nil
}
