// Package retention purges guest carts that have been idle past their TTL.
// The sweep runs as an asynq periodic task.
package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskPurgeGuests is the asynq task type for the guest sweep.
const TaskPurgeGuests = "cart:purge_guests"

// Queue is the asynq queue the sweep is scheduled on.
const Queue = "maintenance"

// Purger is the cart service surface used by the sweep.
type Purger interface {
	PurgeGuests(ctx context.Context, before time.Time) (int64, error)
}

// Payload optionally overrides the handler's TTL for a single run.
type Payload struct {
	MaxAgeSeconds int64 `json:"maxAgeSeconds,omitempty"`
}

// NewPurgeTask builds a sweep task. A zero maxAge defers to the handler TTL.
func NewPurgeTask(maxAge time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(Payload{MaxAgeSeconds: int64(maxAge / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPurgeGuests, body, asynq.Queue(Queue), asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)), nil
}

// Handler processes TaskPurgeGuests.
type Handler struct {
	Carts  Purger
	TTL    time.Duration
	Now    func() time.Time
	Logger zerolog.Logger
}

func (h Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// ProcessTask implements asynq.Handler.
func (h Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if h.Carts == nil {
		return fmt.Errorf("retention: cart service not configured: %w", asynq.SkipRetry)
	}
	var p Payload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("retention: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	maxAge := h.TTL
	if p.MaxAgeSeconds > 0 {
		maxAge = time.Duration(p.MaxAgeSeconds) * time.Second
	}
	if maxAge <= 0 {
		return fmt.Errorf("retention: guest ttl not configured: %w", asynq.SkipRetry)
	}

	before := h.now().Add(-maxAge)
	start := time.Now()
	n, err := h.Carts.PurgeGuests(ctx, before)
	if err != nil {
		h.Logger.Error().Err(err).Time("before", before).Msg("guest cart sweep failed")
		return err
	}
	h.Logger.Info().
		Int64("deleted", n).
		Time("before", before).
		Dur("took", time.Since(start)).
		Msg("guest cart sweep complete")
	return nil
}

// Register mounts the handler on mux.
func Register(mux *asynq.ServeMux, h Handler) {
	mux.Handle(TaskPurgeGuests, h)
}

// Schedule registers the periodic sweep. Runs are unique for one interval so
// several schedulers cannot stack sweeps.
func Schedule(s *asynq.Scheduler, every time.Duration) (string, error) {
	if every <= 0 {
		every = time.Hour
	}
	task, err := NewPurgeTask(0)
	if err != nil {
		return "", err
	}
	return s.Register("@every "+every.String(), task, asynq.Unique(every))
}
