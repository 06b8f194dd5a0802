package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/npezzotti/go-flashroom/internal/stats"
	"github.com/npezzotti/go-flashroom/internal/types"
	"github.com/sirupsen/logrus"
)

type RoomExpirer interface {
	// ExpireDueRooms marks due rooms expired and returns only the rooms
	// this call changed.
	ExpireDueRooms(ctx context.Context) ([]types.Room, error)
}

type RoomPurger interface {
	PurgeExpiredRooms(ctx context.Context, retention time.Duration) (int64, error)
}

// ExpiryNotifier tears down the live session of an expired room.
type ExpiryNotifier interface {
	ExpireRoom(ctx context.Context, room types.Room) error
}

type ExpirySweeper struct {
	rooms    RoomExpirer
	notifier ExpiryNotifier
	stats    stats.StatsProvider
	log      logrus.FieldLogger
}

func NewExpirySweeper(log logrus.FieldLogger, rooms RoomExpirer, notifier ExpiryNotifier, st stats.StatsProvider) *ExpirySweeper {
	return &ExpirySweeper{
		rooms:    rooms,
		notifier: notifier,
		stats:    st,
		log:      log,
	}
}

// Sweep expires every due room and notifies its participants. A room is
// returned by exactly one sweep, so a second sweep emits nothing.
func (s *ExpirySweeper) Sweep(ctx context.Context) error {
	rooms, err := s.rooms.ExpireDueRooms(ctx)
	if err != nil {
		return fmt.Errorf("expire rooms: %w", err)
	}

	if len(rooms) == 0 {
		return nil
	}
	s.stats.Add(stats.RoomsExpired, len(rooms))

	for _, room := range rooms {
		if err := s.notifier.ExpireRoom(ctx, room); err != nil {
			s.log.WithError(err).WithField("room_code", room.Code).Error("notify room expired")
		}
	}

	s.log.WithField("count", len(rooms)).Info("expired rooms")
	return nil
}

type RetentionReaper struct {
	rooms     RoomPurger
	retention time.Duration
	stats     stats.StatsProvider
	log       logrus.FieldLogger
}

func NewRetentionReaper(log logrus.FieldLogger, rooms RoomPurger, retention time.Duration, st stats.StatsProvider) *RetentionReaper {
	return &RetentionReaper{
		rooms:     rooms,
		retention: retention,
		stats:     st,
		log:       log,
	}
}

// Reap permanently deletes rooms, and their messages, that expired more than
// the retention period ago.
func (r *RetentionReaper) Reap(ctx context.Context) error {
	deleted, err := r.rooms.PurgeExpiredRooms(ctx, r.retention)
	if err != nil {
		return fmt.Errorf("purge rooms: %w", err)
	}

	if deleted > 0 {
		r.stats.Add(stats.RoomsReaped, int(deleted))
		r.log.WithField("count", deleted).Info("reaped expired rooms")
	}

	return nil
}
