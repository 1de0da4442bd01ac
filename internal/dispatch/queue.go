// Package dispatch serialises message evaluation and settings changes on a
// single goroutine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"keyword_tracker/internal/engine"
	"keyword_tracker/internal/model"
)

// ErrStopped is returned by Update and View once Run has returned.
var ErrStopped = errors.New("dispatch queue stopped")

// DefaultSize is the message buffer used when New is given a size below 1.
const DefaultSize = 256

// SettingsStore loads and persists the tracker settings.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s *model.Settings) error
}

// Evaluator decides whether a message is a match.
type Evaluator interface {
	Evaluate(ctx context.Context, s *model.Settings, msg model.Message) engine.Result
}

// Stats are running counters of the queue.
type Stats struct {
	Received int64
	Matched  int64
	Faulted  int64
	Dropped  int64
}

type job struct {
	msg *model.Message
	op  func(*model.Settings) error
	// save persists the settings after op succeeds.
	save bool
	done chan error
}

// Queue owns the settings and feeds messages to the evaluator in arrival
// order. Settings are only touched from the goroutine running Run.
type Queue struct {
	store SettingsStore
	log   *slog.Logger
	jobs  chan job
	stop  chan struct{}

	received atomic.Int64
	matched  atomic.Int64
	faulted  atomic.Int64
	dropped  atomic.Int64

	settings *model.Settings
}

// New creates a Queue with room for size pending messages.
func New(store SettingsStore, size int, log *slog.Logger) *Queue {
	if size < 1 {
		size = DefaultSize
	}
	return &Queue{
		store: store,
		log:   log,
		jobs:  make(chan job, size),
		stop:  make(chan struct{}),
	}
}

// Submit enqueues a message without blocking. When the buffer is full the
// message is dropped and false is returned.
func (q *Queue) Submit(msg model.Message) bool {
	select {
	case <-q.stop:
		return false
	default:
	}
	select {
	case q.jobs <- job{msg: &msg}:
		return true
	default:
		q.dropped.Add(1)
		q.log.Warn("queue full, message dropped", "message_id", msg.ID, "channel_id", msg.ChannelID)
		return false
	}
}

// Update applies fn to a copy of the settings inside the loop. When fn
// succeeds the copy is normalised, saved and becomes current. A failing fn
// or save leaves the current settings untouched.
func (q *Queue) Update(ctx context.Context, fn func(*model.Settings) error) error {
	return q.do(ctx, fn, true)
}

// View runs fn with the current settings inside the loop. fn must not keep
// the pointer.
func (q *Queue) View(ctx context.Context, fn func(*model.Settings)) error {
	return q.do(ctx, func(s *model.Settings) error {
		fn(s)
		return nil
	}, false)
}

func (q *Queue) do(ctx context.Context, fn func(*model.Settings) error, save bool) error {
	j := job{op: fn, save: save, done: make(chan error, 1)}
	select {
	case q.jobs <- j:
	case <-q.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-q.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Received: q.received.Load(),
		Matched:  q.matched.Load(),
		Faulted:  q.faulted.Load(),
		Dropped:  q.dropped.Load(),
	}
}

// Len returns the number of jobs waiting to be processed.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Run loads the settings and processes jobs with eval until ctx is
// cancelled. It must be called once.
func (q *Queue) Run(ctx context.Context, eval Evaluator) error {
	defer close(q.stop)

	settings, err := q.store.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	q.settings = settings
	q.log.Info("dispatch started",
		"rules", len(settings.Rules),
		"guilds", len(settings.Guilds),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-q.jobs:
			q.handle(ctx, eval, j)
		}
	}
}

func (q *Queue) handle(ctx context.Context, eval Evaluator, j job) {
	if j.msg != nil {
		q.evaluate(ctx, eval, *j.msg)
		return
	}
	j.done <- q.apply(ctx, j)
}

func (q *Queue) evaluate(ctx context.Context, eval Evaluator, msg model.Message) {
	q.received.Add(1)
	res := eval.Evaluate(ctx, q.settings, msg)
	switch res.Outcome {
	case engine.Matched:
		q.matched.Add(1)
	case engine.Faulted:
		q.faulted.Add(1)
	default:
		if res.Err != nil {
			q.log.Debug("message dropped", "message_id", msg.ID, "reason", res.Reason, "error", res.Err)
		}
	}
}

func (q *Queue) apply(ctx context.Context, j job) error {
	if !j.save {
		return j.op(q.settings)
	}
	next := q.settings.Clone()
	if err := j.op(next); err != nil {
		return err
	}
	next.Normalize()
	if err := q.store.SaveSettings(ctx, next); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	q.settings = next
	return nil
}
