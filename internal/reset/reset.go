// Package reset wipes the entire store once per calendar month, guarded by
// a distributed lock so multi-instance deployments perform exactly one wipe.
package reset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkotenko/relaychat-server/internal/store"
)

// lockTTL bounds how long a crashed coordinator can hold the reset lock.
const lockTTL = 30 * time.Second

// RoomLister snapshots rooms that should receive the reset notice.
type RoomLister interface {
	RoomNames() []string
}

// Notifier delivers a system notice to a room's members.
type Notifier interface {
	BroadcastNotice(room, text string)
}

// Coordinator runs the monthly wipe.
type Coordinator struct {
	store      store.Store
	rooms      RoomLister // optional
	notify     Notifier   // optional
	zone       *time.Location
	instanceID string
	log        *zerolog.Logger
	now        func() time.Time
}

// New creates a coordinator. rooms and notify may be nil (one-shot CLI use).
func New(st store.Store, rooms RoomLister, notify Notifier, zone *time.Location, instanceID string, logger *zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:      st,
		rooms:      rooms,
		notify:     notify,
		zone:       zone,
		instanceID: instanceID,
		log:        logger,
		now:        time.Now,
	}
}

// RunIfDue performs the wipe when the civil month has rolled over since the
// last recorded reset. Idempotent and safe to invoke from several instances
// concurrently: the month marker short-circuits repeats and the lock
// serializes the transition. Returns whether this call performed the wipe.
func (c *Coordinator) RunIfDue(ctx context.Context) (bool, error) {
	month := c.now().In(c.zone).Format("2006-01")

	current, err := c.store.Get(ctx, store.CurrentMonthKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("read current month: %w", err)
	}
	if err == nil && current == month {
		return false, nil
	}

	acquired, err := c.store.SetNX(ctx, store.ResetLockKey, c.instanceID, lockTTL)
	if err != nil {
		return false, fmt.Errorf("acquire reset lock: %w", err)
	}
	if !acquired {
		c.log.Debug().Str("month", month).Msg("reset already in progress elsewhere")
		return false, nil
	}

	// The wipe deletes the lock along with everything else, so a peer that
	// raced past the first month read could acquire a fresh lock right
	// after. Re-reading the marker under the lock closes that window: the
	// marker is rewritten in the same atomic batch as the flush.
	current, err = c.store.Get(ctx, store.CurrentMonthKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("re-read current month: %w", err)
	}
	if err == nil && current == month {
		_ = c.store.Del(ctx, store.ResetLockKey)
		return false, nil
	}

	var rooms []string
	if c.rooms != nil {
		rooms = c.rooms.RoomNames()
	}

	if err := c.store.Wipe(ctx, store.CurrentMonthKey, month); err != nil {
		return false, fmt.Errorf("wipe store: %w", err)
	}
	c.log.Info().Str("month", month).Int("rooms", len(rooms)).Msg("monthly reset performed")

	if c.notify != nil {
		for _, room := range rooms {
			c.notify.BroadcastNotice(room, "monthly reset: chat state was cleared")
		}
	}
	return true, nil
}
