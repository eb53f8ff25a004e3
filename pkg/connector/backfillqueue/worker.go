// Copyright 2024-2026 Aiku AI

// Package backfillqueue drains one user's persisted backfill queue: pull
// the next task, hand it to the connector's dispatch function, mark it
// done, repeat. The queue itself lives in the connector's database package;
// this is only the scheduling loop around it.
package backfillqueue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/mautrix-meta/pkg/connector/database"
	msgrapihttp "go.mau.fi/mautrix-meta/pkg/msgrapi/http"
)

// Store is the queue persistence the worker runs against. Satisfied by
// *database.BackfillQueue.
type Store interface {
	GetNext(ctx context.Context, userMXID id.UserID) (*database.BackfillTask, error)
	MarkDispatched(ctx context.Context, task *database.BackfillTask) error
	MarkDone(ctx context.Context, task *database.BackfillTask) error
	Insert(ctx context.Context, task *database.BackfillTask) error
}

// DispatchFunc performs one task's worth of history fetching. It is
// expected to respect the task's page counts and delays internally.
type DispatchFunc func(ctx context.Context, task *database.BackfillTask) error

// idlePollInterval bounds how long the worker sleeps with an empty queue
// before checking again. Re-checks via ReCheck cut the wait short; the
// poll also picks up tasks whose stale-dispatch window expired.
const idlePollInterval = time.Minute

// rateLimitedRequeuePriority is the priority a rate-limited task is
// re-queued at, behind freshly enqueued work.
const rateLimitedRequeuePriority = 2

// Worker drains one user's backfill queue sequentially.
type Worker struct {
	store    Store
	userMXID id.UserID
	dispatch DispatchFunc
	log      zerolog.Logger

	// rateLimitBackoff is how long the loop pauses after the remote
	// reports a rate limit, before looking at the queue again.
	rateLimitBackoff time.Duration

	recheck chan struct{}
}

func NewWorker(store Store, userMXID id.UserID, dispatch DispatchFunc, rateLimitBackoff time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		store:            store,
		userMXID:         userMXID,
		dispatch:         dispatch,
		rateLimitBackoff: rateLimitBackoff,
		log:              log.With().Str("component", "backfill_queue").Logger(),
		recheck:          make(chan struct{}, 1),
	}
}

// ReCheck nudges a sleeping worker to look at the queue immediately,
// called after inserting a task. A full signal channel means a re-check is
// already pending, which is just as good.
func (w *Worker) ReCheck() {
	select {
	case w.recheck <- struct{}{}:
	default:
	}
}

// Loop runs until ctx is cancelled.
func (w *Worker) Loop(ctx context.Context) {
	for {
		task, err := w.store.GetNext(ctx, w.userMXID)
		if err != nil {
			w.log.Err(err).Msg("Failed to fetch next backfill task")
			if !w.sleep(ctx, idlePollInterval) {
				return
			}
			continue
		}
		if task == nil {
			if !w.waitForWork(ctx) {
				return
			}
			continue
		}
		if !w.runTask(ctx, task) {
			return
		}
	}
}

// runTask dispatches one task, handling rate limiting by re-queuing at a
// lower priority and sleeping out the backoff. Returns false when ctx
// ended mid-task.
func (w *Worker) runTask(ctx context.Context, task *database.BackfillTask) bool {
	log := w.log.With().Int64("queue_id", task.QueueID).Int64("portal_fbid", task.PortalFBID).Logger()
	if err := w.store.MarkDispatched(ctx, task); err != nil {
		log.Err(err).Msg("Failed to mark backfill task dispatched")
		return ctx.Err() == nil
	}

	err := w.dispatch(ctx, task)
	var rateLimited *msgrapihttp.RateLimitExceededError
	switch {
	case err == nil:
		if err := w.store.MarkDone(ctx, task); err != nil {
			log.Err(err).Msg("Failed to mark backfill task done")
		}
	case errors.As(err, &rateLimited):
		log.Warn().Msg("Backfill rate limited, re-queuing at low priority")
		if err := w.store.MarkDone(ctx, task); err != nil {
			log.Err(err).Msg("Failed to mark rate-limited backfill task done")
		}
		requeued := *task
		requeued.QueueID = 0
		requeued.Priority = rateLimitedRequeuePriority
		requeued.DispatchedAt = nil
		requeued.CompletedAt = nil
		if err := w.store.Insert(ctx, &requeued); err != nil {
			log.Err(err).Msg("Failed to re-queue rate-limited backfill task")
		}
		if !w.sleep(ctx, w.rateLimitBackoff) {
			return false
		}
	case ctx.Err() != nil:
		// Leave the task dispatched-but-unfinished; the stale-dispatch
		// window makes it eligible again after a restart.
		return false
	default:
		log.Err(err).Msg("Backfill task failed, leaving for stale re-dispatch")
	}

	if task.PostBatchDelay > 0 {
		return w.sleep(ctx, time.Duration(task.PostBatchDelay)*time.Second)
	}
	return ctx.Err() == nil
}

func (w *Worker) waitForWork(ctx context.Context) bool {
	t := time.NewTimer(idlePollInterval)
	defer t.Stop()
	select {
	case <-w.recheck:
		return true
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
