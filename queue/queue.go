// Package queue is a delayed priority task queue on Redis sorted sets.
// Each priority lane is a sorted set of JSON tasks scored by the time they
// become due; the high lane is always drained first.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"imovel-scraper/metrics"
	"imovel-scraper/models"
	"imovel-scraper/utils"
)

const keyPrefix = "tasks:"

// Lanes in dequeue order.
var Lanes = []string{models.PriorityHigh, models.PriorityDefault}

// DefaultBackoff is the delay before each retry of a failed task.
var DefaultBackoff = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

const (
	DefaultMaxAttempts = 3
	DefaultDeadline    = 24 * time.Hour
)

// Task statuses reported to metrics.
const (
	StatusDone      = "done"
	StatusRetried   = "retried"
	StatusExhausted = "exhausted"
)

// popScript removes and returns the first due member of a lane.
var popScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
  return false
end
redis.call('ZREM', KEYS[1], items[1])
return items[1]
`)

// Queue is safe for concurrent use by any number of workers.
type Queue struct {
	rdb         *redis.Client
	logger      *utils.Logger
	metrics     *metrics.Metrics
	backoff     []time.Duration
	maxAttempts int
	deadline    time.Duration
	now         func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithRetryPolicy sets the attempt budget, backoff schedule and deadline.
func WithRetryPolicy(maxAttempts int, backoff []time.Duration, deadline time.Duration) Option {
	return func(q *Queue) {
		if maxAttempts > 0 {
			q.maxAttempts = maxAttempts
		}
		if len(backoff) > 0 {
			q.backoff = backoff
		}
		if deadline > 0 {
			q.deadline = deadline
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue.
func New(rdb *redis.Client, logger *utils.Logger, m *metrics.Metrics, opts ...Option) *Queue {
	q := &Queue{
		rdb:         rdb,
		logger:      logger,
		metrics:     m,
		backoff:     DefaultBackoff,
		maxAttempts: DefaultMaxAttempts,
		deadline:    DefaultDeadline,
		now:         time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func laneKey(priority string) string {
	return keyPrefix + priority
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Enqueue schedules t to run after delay. A missing ID or priority is
// filled in.
func (q *Queue) Enqueue(ctx context.Context, t *models.Task, delay time.Duration) error {
	now := q.now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority != models.PriorityHigh {
		t.Priority = models.PriorityDefault
	}
	if t.FirstQueuedAt.IsZero() {
		t.FirstQueuedAt = now
	}
	t.RunAt = now.Add(delay)

	if err := q.push(ctx, t); err != nil {
		return err
	}
	if q.metrics != nil {
		q.metrics.TasksEnqueued.WithLabelValues(t.Type, t.Priority).Inc()
	}
	q.logger.Debug("[queue] enqueued %s %s (%s) due %s", t.Type, t.ID, t.Priority, t.RunAt.Format(time.RFC3339))
	return nil
}

func (q *Queue) push(ctx context.Context, t *models.Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("queue: marshal task: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, laneKey(t.Priority), redis.Z{Score: score(t.RunAt), Member: body}).Err(); err != nil {
		return fmt.Errorf("queue: push %s: %w", t.ID, err)
	}
	return nil
}

// Dequeue pops the next due task, high priority first. It returns nil
// when nothing is due.
func (q *Queue) Dequeue(ctx context.Context) (*models.Task, error) {
	cutoff := strconv.FormatFloat(score(q.now()), 'f', 0, 64)
	for _, lane := range Lanes {
		raw, err := popScript.Run(ctx, q.rdb, []string{laneKey(lane)}, cutoff).Text()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("queue: pop %s: %w", lane, err)
		}
		var t models.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			q.logger.Error("[queue] dropping unreadable task in %s: %v", lane, err)
			continue
		}
		return &t, nil
	}
	return nil, nil
}

// Retry schedules a failed task again after the backoff for its attempt
// count. It returns false, without requeueing, once the attempt budget or
// the deadline is exhausted. When the task cannot be pushed back it is left
// as it was and the error is returned.
func (q *Queue) Retry(ctx context.Context, t *models.Task) (bool, error) {
	t.Attempts++
	now := q.now().UTC()
	if t.Attempts >= q.maxAttempts || now.Sub(t.FirstQueuedAt) >= q.deadline {
		return false, nil
	}

	delay := q.backoff[min(t.Attempts-1, len(q.backoff)-1)]
	runAt := t.RunAt
	t.RunAt = now.Add(delay)
	if err := q.push(ctx, t); err != nil {
		t.Attempts--
		t.RunAt = runAt
		return false, err
	}
	q.count(t, StatusRetried)
	q.logger.Info("[queue] retrying %s %s in %s (attempt %d/%d)", t.Type, t.ID, delay, t.Attempts+1, q.maxAttempts)
	return true, nil
}

// Len returns the number of queued tasks per lane, due or not.
func (q *Queue) Len(ctx context.Context) (map[string]int64, error) {
	pipe := q.rdb.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(Lanes))
	for _, lane := range Lanes {
		cmds[lane] = pipe.ZCard(ctx, laneKey(lane))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue: len: %w", err)
	}
	out := make(map[string]int64, len(cmds))
	for lane, cmd := range cmds {
		out[lane] = cmd.Val()
	}
	return out, nil
}

func (q *Queue) count(t *models.Task, status string) {
	if q.metrics != nil {
		q.metrics.TasksProcessed.WithLabelValues(t.Type, status).Inc()
	}
}
