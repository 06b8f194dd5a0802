package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-flashroom/internal/directory"
	"github.com/npezzotti/go-flashroom/internal/server"
	"github.com/npezzotti/go-flashroom/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoom() types.Room {
	return types.Room{
		Id:        1,
		Name:      "standup",
		Code:      "AB12CD",
		CreatorId: 1,
		Creator:   "alice",
		ExpiresAt: t0.Add(15 * time.Minute),
		CreatedAt: t0,
	}
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t)
			app.repo.On("Ping").Return(tc.mockErr).Once()

			rr := app.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
			app.repo.AssertExpectations(t)
		})
	}
}

func TestCreateRoomHandler(t *testing.T) {
	tcases := []struct {
		name   string
		body   string
		setup  func(rooms *mockDirectory)
		status int
	}{
		{
			name: "success",
			body: `{"name":"  standup  "}`,
			setup: func(rooms *mockDirectory) {
				rooms.On("CreateRoom", "standup", 1).Return(testRoom(), nil)
			},
			status: http.StatusCreated,
		},
		{
			name:   "blank name",
			body:   `{"name":"   "}`,
			setup:  func(rooms *mockDirectory) {},
			status: http.StatusBadRequest,
		},
		{
			name:   "name too long",
			body:   `{"name":"` + strings.Repeat("x", 101) + `"}`,
			setup:  func(rooms *mockDirectory) {},
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid json",
			body:   `{`,
			setup:  func(rooms *mockDirectory) {},
			status: http.StatusBadRequest,
		},
		{
			name: "codes exhausted",
			body: `{"name":"standup"}`,
			setup: func(rooms *mockDirectory) {
				rooms.On("CreateRoom", "standup", 1).Return(types.Room{}, directory.ErrCodeExhausted)
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t)
			tc.setup(app.rooms)

			req := httptest.NewRequest(http.MethodPost, "/api/rooms", strings.NewReader(tc.body))
			req.AddCookie(app.login(t, 1, "alice"))
			rr := app.serve(req)

			assert.Equal(t, tc.status, rr.Code)
			if tc.status != http.StatusCreated {
				return
			}

			var resp map[string]any
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, "AB12CD", resp["code"])
			assert.Equal(t, "standup", resp["name"])
			assert.Equal(t, "alice", resp["creator"])
			assert.Equal(t, "2025-03-01T12:15:00Z", resp["expiresAt"])
			assert.NotContains(t, resp, "IsExpired")
		})
	}
}

func TestGetRoomHandler(t *testing.T) {
	tcases := []struct {
		name   string
		code   string
		err    error
		status int
	}{
		{name: "live room", code: "ab12cd", status: http.StatusOK},
		{name: "unknown room", code: "ZZZZZZ", err: directory.ErrRoomNotFound, status: http.StatusNotFound},
		{name: "expired room", code: "EXP111", err: directory.ErrRoomExpired, status: http.StatusGone},
		{name: "database error", code: "AB12CD", err: errors.New("connection refused"), status: http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t)
			room := testRoom()
			if tc.err != nil {
				room = types.Room{}
			}
			app.rooms.On("LookupRoom", tc.code).Return(room, tc.err)
			app.cs.Registry().Join(1, 1)
			app.cs.Registry().Join(1, 2)

			req := httptest.NewRequest(http.MethodGet, "/api/rooms/"+tc.code, nil)
			req.AddCookie(app.login(t, 1, "alice"))
			rr := app.serve(req)

			assert.Equal(t, tc.status, rr.Code)
			if tc.status != http.StatusOK {
				return
			}

			var resp RoomResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, "AB12CD", resp.Code)
			assert.Equal(t, 2, resp.Participants)
		})
	}
}

func TestGetMessagesHandler(t *testing.T) {
	t.Run("history in order", func(t *testing.T) {
		app := newTestApp(t)
		app.rooms.On("History", "AB12CD").Return([]types.Message{
			{Id: 1, Content: "first", Username: "alice", CreatedAt: t0},
			{Id: 2, Content: "second", Username: "bob", CreatedAt: t0.Add(time.Second)},
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/rooms/AB12CD/messages", nil)
		req.AddCookie(app.login(t, 1, "alice"))
		rr := app.serve(req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[
			{"id":1,"content":"first","username":"alice","createdAt":"2025-03-01T12:00:00Z"},
			{"id":2,"content":"second","username":"bob","createdAt":"2025-03-01T12:00:01Z"}
		]`, rr.Body.String())
	})

	t.Run("empty history", func(t *testing.T) {
		app := newTestApp(t)
		app.rooms.On("History", "AB12CD").Return([]types.Message{}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/rooms/AB12CD/messages", nil)
		req.AddCookie(app.login(t, 1, "alice"))
		rr := app.serve(req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("expired room", func(t *testing.T) {
		app := newTestApp(t)
		app.rooms.On("History", "EXP111").Return([]types.Message(nil), directory.ErrRoomExpired)

		req := httptest.NewRequest(http.MethodGet, "/api/rooms/EXP111/messages", nil)
		req.AddCookie(app.login(t, 1, "alice"))
		rr := app.serve(req)

		assert.Equal(t, http.StatusGone, rr.Code)
	})
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialWs(t *testing.T, srv *httptest.Server, cookie *http.Cookie) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Add("Cookie", cookie.String())
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, event, msg.Event, "unexpected event: %+v", msg)

	return msg.Data
}

func TestServeWs_RequiresSession(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	tcases := []struct {
		name   string
		header http.Header
	}{
		{
			name:   "no cookie",
			header: http.Header{},
		},
		{
			name:   "bad token",
			header: http.Header{"Cookie": []string{tokenCookieKey + "=not-a-token"}},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), tc.header)
			if conn != nil {
				conn.Close()
			}

			assert.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestServeWs_ChatFlow(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	room := testRoom()
	app.rooms.On("LookupRoom", "AB12CD").Return(room, nil)
	app.rooms.On("CheckRoomLive", room.Id).Return(room, nil)
	app.rooms.On("SaveMessage", room.Id, 1, "alice", "hello bob").Return(types.Message{
		Id:        10,
		Content:   "hello bob",
		Username:  "alice",
		CreatedAt: t0,
	}, nil)

	alice := dialWs(t, srv, app.login(t, 1, "alice"))
	bob := dialWs(t, srv, app.login(t, 2, "bob"))

	require.NoError(t, alice.WriteJSON(server.ClientMessage{Event: server.EventJoinRoom, Data: []byte(`"AB12CD"`)}))
	joined := readEvent(t, alice, server.EventRoomJoined)
	assert.Equal(t, "AB12CD", joined["roomCode"])
	assert.Equal(t, "standup", joined["roomName"])

	require.NoError(t, bob.WriteJSON(server.ClientMessage{Event: server.EventJoinRoom, Data: []byte(`"AB12CD"`)}))
	readEvent(t, bob, server.EventRoomJoined)

	presence := readEvent(t, alice, server.EventUserJoined)
	assert.Equal(t, "bob", presence["username"])
	assert.Equal(t, 2, app.cs.Registry().Count(room.Id))

	require.NoError(t, alice.WriteJSON(server.ClientMessage{
		Event: server.EventSendMessage,
		Data:  []byte(`{"message":"  hello bob  "}`),
	}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := readEvent(t, conn, server.EventNewMessage)
		assert.Equal(t, "hello bob", msg["content"])
		assert.Equal(t, "alice", msg["username"])
		assert.Equal(t, "2025-03-01T12:00:00Z", msg["createdAt"])
	}

	require.NoError(t, bob.Close())
	left := readEvent(t, alice, server.EventUserLeft)
	assert.Equal(t, "bob", left["username"])

	app.rooms.AssertExpectations(t)
}
