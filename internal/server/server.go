package server

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/npezzotti/go-flashroom/internal/stats"
	"github.com/npezzotti/go-flashroom/internal/types"
	"github.com/sirupsen/logrus"
)

var ErrServerClosed = errors.New("chat server closed")

// RoomDirectory is the subset of the room directory the chat server needs.
type RoomDirectory interface {
	LookupRoom(ctx context.Context, code string) (types.Room, error)
	CheckRoomLive(ctx context.Context, roomId int) (types.Room, error)
	SaveMessage(ctx context.Context, roomId, userId int, username, content string) (types.Message, error)
}

type MessageLimiter interface {
	Allow(ctx context.Context, userId int) (bool, error)
}

type joinRequest struct {
	client *Client
	room   types.Room
	done   chan struct{}
}

type unloadRoomRequest struct {
	roomId int
	joins  int
}

type expireRequest struct {
	roomId int
	result chan *Room
}

type ChatServer struct {
	log            logrus.FieldLogger
	directory      RoomDirectory
	limiter        MessageLimiter
	stats          stats.StatsProvider
	clock          clockwork.Clock
	registry       *Registry
	mux            *Multiplexer
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *joinRequest
	unloadRoomChan chan unloadRoomRequest
	expireChan     chan *expireRequest
	rooms          map[int]*Room
	stop           chan struct{}
	stopOnce       sync.Once
	done           chan struct{}
}

// NewChatServer builds a chat server. limiter may be nil to disable message
// rate limiting.
func NewChatServer(logger logrus.FieldLogger, dir RoomDirectory, limiter MessageLimiter, st stats.StatsProvider, clock clockwork.Clock) *ChatServer {
	return &ChatServer{
		log:            logger,
		directory:      dir,
		limiter:        limiter,
		stats:          st,
		clock:          clock,
		registry:       NewRegistry(),
		mux:            NewMultiplexer(),
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *joinRequest, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 64),
		expireChan:     make(chan *expireRequest),
		rooms:          make(map[int]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (cs *ChatServer) Registry() *Registry {
	return cs.registry
}

// Run owns the set of loaded rooms. It never performs I/O; all database
// work happens on the room goroutines.
func (cs *ChatServer) Run() {
	for {
		select {
		case req := <-cs.joinChan:
			cs.handleJoin(req)
		case req := <-cs.unloadRoomChan:
			cs.handleUnload(req)
		case req := <-cs.expireChan:
			r, ok := cs.rooms[req.roomId]
			if ok {
				delete(cs.rooms, req.roomId)
			}
			req.result <- r
		case <-cs.stop:
			cs.log.Info("shutting down rooms")
			for _, r := range cs.rooms {
				select {
				case r.inbox <- &roomEvent{kind: eventShutdown}:
				case <-r.done:
				}
				<-r.done
			}

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) handleJoin(req *joinRequest) {
	r, ok := cs.rooms[req.room.Id]
	if !ok {
		r = newRoom(cs, req.room)
		cs.rooms[r.id] = r
		cs.stats.Incr(stats.NumActiveRooms)
		go r.start()
	}

	select {
	case r.inbox <- &roomEvent{kind: eventJoin, client: req.client, room: req.room, done: req.done}:
		r.joinsForwarded++
	default:
		cs.log.WithField("room_id", r.id).Warn("room inbox full, dropping join")
		req.client.queueMessage(ErrJoinFailed())
		close(req.done)
	}
}

func (cs *ChatServer) handleUnload(req unloadRoomRequest) {
	r, ok := cs.rooms[req.roomId]
	if !ok || r.joinsForwarded != req.joins {
		// a join arrived after the room went idle
		return
	}

	delete(cs.rooms, req.roomId)
	select {
	case r.inbox <- &roomEvent{kind: eventUnload}:
	case <-r.done:
	}
	r.log.Debug("unloaded idle room")
}

// ExpireRoom notifies and evicts every connection subscribed to room and
// forgets its participants. It returns once the room has been torn down.
func (cs *ChatServer) ExpireRoom(ctx context.Context, room types.Room) error {
	req := &expireRequest{roomId: room.Id, result: make(chan *Room, 1)}
	select {
	case cs.expireChan <- req:
	case <-cs.done:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	var r *Room
	select {
	case r = <-req.result:
	case <-ctx.Done():
		return ctx.Err()
	}

	if r == nil {
		cs.registry.Drop(room.Id)
		return nil
	}

	select {
	case r.inbox <- &roomEvent{kind: eventExpire}:
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.NumConnections)
	c.log.Debug("registered connection")
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	cs.stats.Decr(stats.NumConnections)
	c.log.Debug("removed connection")
}

// Shutdown stops every connection and room and waits for the run loop to
// exit or ctx to be done.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	cs.stopOnce.Do(func() { close(cs.stop) })

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
