package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-flashroom/internal/auth"
	"github.com/npezzotti/go-flashroom/internal/directory"
	"github.com/npezzotti/go-flashroom/internal/server"
	"github.com/npezzotti/go-flashroom/internal/types"
)

const healthCheckTimeout = 2 * time.Second

type CreateRoomRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// RoomResponse is a room together with the number of users currently
// joined to it on this server.
type RoomResponse struct {
	types.Room
	Participants int `json:"participants"`
}

func (s *FlashroomApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("json encode")
	}
}

func (s *FlashroomApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.log.WithError(err).Error("health check failed")
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// roomError maps directory errors onto API errors.
func roomError(err error) *ApiError {
	switch {
	case errors.Is(err, directory.ErrRoomNotFound):
		return NewNotFoundError()
	case errors.Is(err, directory.ErrRoomExpired):
		return NewGoneError()
	default:
		return NewInternalServerError(err)
	}
}

func (s *FlashroomApp) createRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		errResp := NewValidationError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.CreateRoom(r.Context(), req.Name, id.UserId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, directory.ErrInvalidRoomName) {
			errResp = NewValidationError(err)
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, RoomResponse{Room: room})
}

func (s *FlashroomApp) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.LookupRoom(r.Context(), r.PathValue("code"))
	if err != nil {
		errResp := roomError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, RoomResponse{
		Room:         room,
		Participants: s.cs.Registry().Count(room.Id),
	})
}

func (s *FlashroomApp) getMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.rooms.History(r.Context(), r.PathValue("code"))
	if err != nil {
		errResp := roomError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *FlashroomApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// if no origin header, allow the request
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *FlashroomApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("error upgrading connection")
		return
	}

	client := server.NewClient(types.User{
		Id:       id.UserId,
		Username: id.Username,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)

	go client.Write()
	go client.Read()
}
