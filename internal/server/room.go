package server

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/npezzotti/go-flashroom/internal/directory"
	"github.com/npezzotti/go-flashroom/internal/stats"
	"github.com/npezzotti/go-flashroom/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	idleRoomTimeout = time.Second * 30
	roomInboxSize   = 256
	ingestTimeout   = 5 * time.Second
)

type eventKind int

const (
	eventJoin eventKind = iota
	eventLeave
	eventPublish
	eventExpire
	eventUnload
	eventShutdown
)

// roomEvent is the unit of work for a room. Every change to a room's
// membership and every message goes through its inbox, so they are applied
// in arrival order.
type roomEvent struct {
	kind    eventKind
	client  *Client
	room    types.Room
	content string
	// done, when set, is closed once the event has been applied.
	done chan struct{}
}

type Room struct {
	id    int
	code  string
	info  types.Room
	cs    *ChatServer
	clock clockwork.Clock
	log   logrus.FieldLogger
	inbox chan *roomEvent
	// joinsForwarded is owned by the chat server loop, joinsHandled by the
	// room goroutine. The room may only be unloaded while they are equal.
	joinsForwarded int
	joinsHandled   int
	// killTimer unloads the room after it has been idle for idleRoomTimeout
	killTimer clockwork.Timer
	done      chan struct{}
}

func newRoom(cs *ChatServer, info types.Room) *Room {
	return &Room{
		id:    info.Id,
		code:  info.Code,
		info:  info,
		cs:    cs,
		clock: cs.clock,
		log: cs.log.WithFields(logrus.Fields{
			"room_id":   info.Id,
			"room_code": info.Code,
		}),
		inbox: make(chan *roomEvent, roomInboxSize),
		done:  make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Debug("starting room")
	r.killTimer = r.clock.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	defer func() {
		r.killTimer.Stop()
		r.cs.stats.Decr(stats.NumActiveRooms)
		close(r.done)
		r.log.Debug("room exited")
	}()

	for {
		select {
		case ev := <-r.inbox:
			switch ev.kind {
			case eventJoin:
				r.handleJoin(ev)
			case eventLeave:
				r.handleLeave(ev)
			case eventPublish:
				r.handlePublish(ev)
			case eventExpire:
				r.handleExpire(ev)
				return
			case eventUnload, eventShutdown:
				r.evictAll()
				return
			}
		case <-r.killTimer.Chan():
			r.handleRoomTimeout()
		}
	}
}

func (r *Room) startKillTimerIfIdle() {
	if r.cs.mux.Count(r.code) == 0 {
		r.log.Debug("no clients in room, starting kill timer")
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomTimeout() {
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.id, joins: r.joinsHandled}:
		r.log.Debug("room timed out, requesting unload")
	default:
		r.log.Warn("unload channel full, restarting kill timer")
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleJoin(ev *roomEvent) {
	defer close(ev.done)
	r.joinsHandled++

	c := ev.client
	if r.info.ExpiredAt(r.clock.Now()) {
		c.queueMessage(ErrRoomNotFound())
		r.startKillTimerIfIdle()
		return
	}

	r.killTimer.Stop()

	// Repeated joins from one connection re-send the notifications but are
	// only counted once.
	if r.cs.mux.Subscribe(r.code, c) {
		r.cs.registry.Join(r.id, c.user.Id)
	}
	c.bindRoom(r)

	r.cs.mux.Publish(r.code, NewUserJoined(c.user.Username), c)
	c.queueMessage(NewRoomJoined(r.info))

	r.log.WithField("username", c.user.Username).Info("user joined room")
}

func (r *Room) handleLeave(ev *roomEvent) {
	defer close(ev.done)

	c := ev.client
	c.unbindRoom(r)
	if !r.cs.mux.Unsubscribe(r.code, c) {
		return
	}
	r.cs.registry.Leave(r.id, c.user.Id)

	r.cs.mux.Publish(r.code, NewUserLeft(c.user.Username), c)
	r.log.WithField("username", c.user.Username).Info("user left room")

	r.startKillTimerIfIdle()
}

// handlePublish checks the room is still live, persists the message and only
// then broadcasts it to every subscriber, the sender included.
func (r *Room) handlePublish(ev *roomEvent) {
	c := ev.client
	if !r.cs.mux.IsSubscribed(r.code, c) {
		c.queueMessage(ErrNotInRoom())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	if _, err := r.cs.directory.CheckRoomLive(ctx, r.id); err != nil {
		if errors.Is(err, directory.ErrRoomExpired) || errors.Is(err, directory.ErrRoomNotFound) {
			c.queueMessage(ErrRoomExpired())
			return
		}

		r.log.WithError(err).Error("check room live")
		c.queueMessage(ErrSendFailed())
		return
	}

	msg, err := r.cs.directory.SaveMessage(ctx, r.id, c.user.Id, c.user.Username, ev.content)
	if err != nil {
		r.log.WithError(err).Error("save message")
		c.queueMessage(ErrSendFailed())
		return
	}
	r.cs.stats.Incr(stats.MessagesPersisted)

	r.cs.mux.Publish(r.code, NewMessage(msg), nil)
}

func (r *Room) handleExpire(ev *roomEvent) {
	r.log.Info("room expired")
	r.cs.mux.Publish(r.code, NewRoomExpired(), nil)
	r.evictAll()

	if ev.done != nil {
		close(ev.done)
	}
}

// evictAll removes every subscriber without closing their connections.
func (r *Room) evictAll() {
	for _, c := range r.cs.mux.Evict(r.code) {
		c.unbindRoom(r)
	}
	r.cs.registry.Drop(r.id)
}
