// Package events implements C11 EventEmitter: append-only activity
// records emitted after an authoritative write completes. Emission is
// best-effort — spec.md §4.11/§9 are explicit that a dropped or delayed
// activity event must never fail or roll back the write it describes.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/splitledger/core/internal/jobs"
	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/storage"
)

const jobType = "activity.persist"

// Emitter appends ActivityEvent rows through the JobRunner so a slow or
// momentarily unavailable ActivityStore never adds latency to the
// LedgerService call that triggered the event.
type Emitter struct {
	store   storage.ActivityStore
	runner  *jobs.Runner
	sync    bool // true only in tests, to make emission observable without sleeping
}

// New wires an Emitter around store and registers its handler on runner.
// Call before runner.Start().
func New(store storage.ActivityStore, runner *jobs.Runner) *Emitter {
	e := &Emitter{store: store, runner: runner}
	runner.Register(jobType, e.handle)
	return e
}

func (e *Emitter) handle(ctx context.Context, payload any) error {
	event, ok := payload.(models.ActivityEvent)
	if !ok {
		slog.Error("activity emitter received unexpected payload type")
		return nil
	}
	return e.store.Save(ctx, event)
}

// Emit enqueues an ActivityEvent for durable, idempotent persistence
// (ActivityEvent.DedupeKey() absorbs the at-least-once retries jobs.Runner
// may perform). Callers should invoke Emit only after their own
// authoritative write has already committed.
func (e *Emitter) Emit(ctx context.Context, evt models.ActivityEvent) {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	if e.sync {
		if err := e.handle(ctx, evt); err != nil {
			slog.Error("activity emit failed", "error", err, "type", evt.Type)
		}
		return
	}
	e.runner.Enqueue(jobType, evt, jobs.Options{MaxAttempts: 5})
}

// EmitSync makes Emit run inline instead of through the job queue. Meant
// for tests that need to observe persisted events without a race against
// the background worker.
func EmitSync(e *Emitter) *Emitter {
	e.sync = true
	return e
}
