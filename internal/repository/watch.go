package repository

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/mindfold/tutorbot/internal/domain"
)

const (
	notifyChannel     = "conversations_changed"
	watchRetryBackoff = 5 * time.Second
)

// Watch delivers live snapshots of an owner's conversation list, newest
// created first. The first snapshot arrives immediately; afterwards a trigger
// on the conversations table NOTIFYs owner ids and matching notifications
// cause a re-query. The channel is closed when ctx is cancelled. Query and
// connection errors are logged and the last snapshot stays stale; the watcher
// keeps retrying with backoff.
func (r *Conversations) Watch(ctx context.Context, ownerID int64) <-chan []domain.Conversation {
	out := make(chan []domain.Conversation, 1)

	go func() {
		defer close(out)

		r.sendSnapshot(ctx, ownerID, out)

		payload := strconv.FormatInt(ownerID, 10)
		for {
			if err := r.listenLoop(ctx, ownerID, payload, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("conversation watch interrupted", "error", err, "owner_id", ownerID)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(watchRetryBackoff):
			}
			// The listener may have missed notifications while down.
			r.sendSnapshot(ctx, ownerID, out)
		}
	}()

	return out
}

// listenLoop holds one dedicated connection in LISTEN mode and forwards
// snapshots for matching notifications until the connection or ctx dies.
func (r *Conversations) listenLoop(ctx context.Context, ownerID int64, payload string, out chan []domain.Conversation) error {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n.Payload != payload {
			continue
		}
		r.sendSnapshot(ctx, ownerID, out)
	}
}

// sendSnapshot re-queries the list and hands it to the channel.
func (r *Conversations) sendSnapshot(ctx context.Context, ownerID int64, out chan []domain.Conversation) {
	list, err := r.ListByOwner(ctx, ownerID)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("conversation list refresh failed", "error", err, "owner_id", ownerID)
		}
		return
	}
	replaceSnapshot(ctx, out, list)
}

// replaceSnapshot delivers list, discarding any undelivered older snapshot so
// a slow consumer only ever sees the latest state.
func replaceSnapshot(ctx context.Context, out chan []domain.Conversation, list []domain.Conversation) {
	for {
		select {
		case out <- list:
			return
		case <-ctx.Done():
			return
		default:
		}
		// Buffer full: discard the stale snapshot and try again.
		select {
		case <-out:
		default:
		}
	}
}
