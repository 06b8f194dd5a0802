package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-flashroom/internal/directory"
	"github.com/npezzotti/go-flashroom/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 256
	lookupTimeout  = 5 * time.Second
)

type Client struct {
	id       string
	conn     *websocket.Conn
	cs       *ChatServer
	log      logrus.FieldLogger
	user     types.User
	send     chan *ServerMessage
	room     *Room
	roomLock sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l logrus.FieldLogger) *Client {
	id := shortid.MustGenerate()

	return &Client{
		id:   id,
		conn: conn,
		cs:   cs,
		log: l.WithFields(logrus.Fields{
			"conn_id":  id,
			"username": user.Username,
		}),
		user: user,
		send: make(chan *ServerMessage, sendQueueSize),
		stop: make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.WithError(err).Error("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("ws read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Debug("error parsing message")
			c.queueMessage(ErrInvalidMessage())
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch msg.Event {
	case EventJoinRoom:
		c.joinRoom(msg)
	case EventLeaveRoom:
		if !c.leaveRoom() {
			c.queueMessage(ErrNotInRoom())
		}
	case EventSendMessage:
		c.publish(msg)
	default:
		c.log.WithField("event", msg.Event).Debug("unknown event")
		c.queueMessage(ErrInvalidMessage())
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.WithError(err).Warn("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// cleanup runs once when the read pump exits. The leave is delivered
// whether or not the client asked for it.
func (c *Client) cleanup() {
	c.leaveRoom()
	c.cs.removeClient(c)
	c.stopClient()
}

func (c *Client) currentRoom() *Room {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	return c.room
}

func (c *Client) bindRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	c.room = r
}

// unbindRoom clears the binding only if it still points at r, so a late
// leave from an old room cannot clobber a newer binding.
func (c *Client) unbindRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	if c.room == r {
		c.room = nil
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	var code string
	if err := json.Unmarshal(msg.Data, &code); err != nil {
		c.queueMessage(ErrInvalidMessage())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	room, err := c.cs.directory.LookupRoom(ctx, code)
	cancel()
	if err != nil {
		if errors.Is(err, directory.ErrRoomNotFound) || errors.Is(err, directory.ErrRoomExpired) {
			c.queueMessage(ErrRoomNotFound())
			return
		}

		c.log.WithError(err).WithField("room_code", code).Error("lookup room")
		c.queueMessage(ErrJoinFailed())
		return
	}

	// A connection is bound to at most one room.
	if cur := c.currentRoom(); cur != nil && cur.id != room.Id {
		c.leaveRoom()
	}

	req := &joinRequest{client: c, room: room, done: make(chan struct{})}
	select {
	case c.cs.joinChan <- req:
	case <-c.cs.done:
		c.queueMessage(ErrJoinFailed())
		return
	default:
		c.log.Warn("joinChan full")
		c.queueMessage(ErrJoinFailed())
		return
	}

	// Wait for the room to apply the join so that the next event read from
	// this connection observes the new binding.
	select {
	case <-req.done:
	case <-c.stop:
	case <-c.cs.done:
	}
}

// leaveRoom leaves the bound room and waits until the room has applied it.
// It reports false if the connection was not bound.
func (c *Client) leaveRoom() bool {
	r := c.currentRoom()
	if r == nil {
		return false
	}

	ev := &roomEvent{kind: eventLeave, client: c, done: make(chan struct{})}
	select {
	case r.inbox <- ev:
	case <-r.done:
		c.unbindRoom(r)
		return true
	}

	select {
	case <-ev.done:
	case <-r.done:
		c.unbindRoom(r)
	}

	return true
}

func (c *Client) publish(msg *ClientMessage) {
	var payload SendMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.queueMessage(ErrInvalidMessage())
		return
	}

	r := c.currentRoom()
	if r == nil {
		c.queueMessage(ErrNotInRoom())
		return
	}

	content := strings.TrimSpace(payload.Message)
	if content == "" {
		return
	}

	if c.cs.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		ok, err := c.cs.limiter.Allow(ctx, c.user.Id)
		cancel()
		if err != nil {
			c.log.WithError(err).Warn("rate limiter unavailable, allowing message")
		} else if !ok {
			c.queueMessage(ErrTooManyMessages())
			return
		}
	}

	ev := &roomEvent{kind: eventPublish, client: c, content: content}
	select {
	case r.inbox <- ev:
	case <-r.done:
		c.queueMessage(ErrRoomExpired())
	}
}
