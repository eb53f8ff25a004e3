// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"
)

// BackfillType orders queue entries by urgency class before priority:
// immediate fills run before forward fills, which run before deferred
// deep-history fills.
type BackfillType int

const (
	BackfillImmediate BackfillType = 0
	BackfillForward   BackfillType = 100
	BackfillDeferred  BackfillType = 200
)

// staleDispatchAge is how long a dispatched-but-unfinished task stays
// invisible to GetNext. A worker that died mid-task (process restart,
// crashed goroutine) leaves dispatch_time set and completed_at null; after
// this long the task becomes eligible for re-dispatch.
const staleDispatchAge = 15 * time.Minute

// BackfillTask is one queued unit of history work for one portal.
type BackfillTask struct {
	QueueID          int64
	UserMXID         id.UserID
	Type             BackfillType
	Priority         int
	PortalFBID       int64
	PortalFBReceiver int64
	NumPages         int
	PageDelay        int
	PostBatchDelay   int
	MaxTotalPages    int
	DispatchedAt     *time.Time
	CompletedAt      *time.Time
}

// BackfillQueue is the persisted scheduler for history backfill: tasks are
// inserted when portals are created, pulled one at a time per user in
// (type, priority, insertion) order, and survive restarts so a half-done
// backfill resumes instead of silently disappearing.
type BackfillQueue struct {
	db *dbutil.Database
}

// NewBackfillQueue wraps the bridge's database with the connector's own
// upgrade table, versioned separately from the bridgev2 core tables.
func NewBackfillQueue(db *dbutil.Database, log zerolog.Logger) *BackfillQueue {
	return &BackfillQueue{
		db: db.Child("messenger_backfill_version", table, dbutil.ZeroLogger(log)),
	}
}

// Upgrade creates or migrates the queue table. Call once at connector
// startup, after the bridge's own database is ready.
func (bq *BackfillQueue) Upgrade(ctx context.Context) error {
	return bq.db.Upgrade(ctx)
}

const insertTaskQuery = `
	INSERT INTO messenger_backfill_queue
		(user_mxid, type, priority, portal_fbid, portal_fb_receiver,
		 num_pages, page_delay, post_batch_delay, max_total_pages,
		 dispatch_time, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, NULL)
	RETURNING queue_id
`

// Insert queues a task and fills in its assigned QueueID.
func (bq *BackfillQueue) Insert(ctx context.Context, task *BackfillTask) error {
	return bq.db.QueryRow(ctx, insertTaskQuery,
		task.UserMXID, int(task.Type), task.Priority,
		task.PortalFBID, task.PortalFBReceiver,
		task.NumPages, task.PageDelay, task.PostBatchDelay, task.MaxTotalPages,
	).Scan(&task.QueueID)
}

const getNextTaskQuery = `
	SELECT queue_id, user_mxid, type, priority, portal_fbid, portal_fb_receiver,
	       num_pages, page_delay, post_batch_delay, max_total_pages,
	       dispatch_time, completed_at
	FROM messenger_backfill_queue
	WHERE user_mxid = $1
	  AND (
	      dispatch_time IS NULL
	      OR (dispatch_time < $2 AND completed_at IS NULL)
	  )
	ORDER BY type, priority, queue_id
	LIMIT 1
`

// GetNext returns the next runnable task for a user: never-dispatched
// tasks, plus dispatched tasks that went stale without completing. Returns
// nil with no error when the queue is drained.
func (bq *BackfillQueue) GetNext(ctx context.Context, userMXID id.UserID) (*BackfillTask, error) {
	staleCutoff := time.Now().Add(-staleDispatchAge).UnixMilli()
	row := bq.db.QueryRow(ctx, getNextTaskQuery, userMXID, staleCutoff)

	var task BackfillTask
	var taskType int
	var dispatchTime, completedAt sql.NullInt64
	err := row.Scan(
		&task.QueueID, &task.UserMXID, &taskType, &task.Priority,
		&task.PortalFBID, &task.PortalFBReceiver,
		&task.NumPages, &task.PageDelay, &task.PostBatchDelay, &task.MaxTotalPages,
		&dispatchTime, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	task.Type = BackfillType(taskType)
	if dispatchTime.Valid {
		t := time.UnixMilli(dispatchTime.Int64)
		task.DispatchedAt = &t
	}
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64)
		task.CompletedAt = &t
	}
	return &task, nil
}

// MarkDispatched stamps the task as in-flight so GetNext skips it until it
// either completes or goes stale.
func (bq *BackfillQueue) MarkDispatched(ctx context.Context, task *BackfillTask) error {
	now := time.Now()
	task.DispatchedAt = &now
	_, err := bq.db.Exec(ctx,
		"UPDATE messenger_backfill_queue SET dispatch_time=$1 WHERE queue_id=$2",
		now.UnixMilli(), task.QueueID)
	return err
}

// MarkDone stamps the task completed.
func (bq *BackfillQueue) MarkDone(ctx context.Context, task *BackfillTask) error {
	now := time.Now()
	task.CompletedAt = &now
	_, err := bq.db.Exec(ctx,
		"UPDATE messenger_backfill_queue SET completed_at=$1 WHERE queue_id=$2",
		now.UnixMilli(), task.QueueID)
	return err
}

// DeleteForUser drops every queued task for a user, used on logout.
func (bq *BackfillQueue) DeleteForUser(ctx context.Context, userMXID id.UserID) error {
	_, err := bq.db.Exec(ctx,
		"DELETE FROM messenger_backfill_queue WHERE user_mxid=$1", userMXID)
	return err
}

// DeleteForPortal drops every queued task targeting a portal, used when the
// portal itself is deleted.
func (bq *BackfillQueue) DeleteForPortal(ctx context.Context, fbid, receiver int64) error {
	_, err := bq.db.Exec(ctx,
		"DELETE FROM messenger_backfill_queue WHERE portal_fbid=$1 AND portal_fb_receiver=$2",
		fbid, receiver)
	return err
}
