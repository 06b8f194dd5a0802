package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/jonboulle/clockwork"
	"github.com/npezzotti/go-flashroom/internal/database"
	"github.com/npezzotti/go-flashroom/internal/types"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength      = 6
	maxCodeAttempts = 5
	maxRoomNameLen  = 100
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomExpired     = errors.New("room has expired")
	ErrInvalidRoomName = errors.New("invalid room name")
	// ErrCodeExhausted is returned when every generated code collided with
	// an existing room.
	ErrCodeExhausted = errors.New("could not allocate a unique room code")

	codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)
)

// Directory is the authority on which rooms exist and whether they are
// still live. Every expiry decision is made against its clock.
type Directory struct {
	repo    database.Repository
	clock   clockwork.Clock
	roomTTL time.Duration
	newCode func() string
	log     logrus.FieldLogger
}

func New(log logrus.FieldLogger, repo database.Repository, clock clockwork.Clock, roomTTL time.Duration) (*Directory, error) {
	gen, err := nanoid.CustomASCII(codeAlphabet, codeLength)
	if err != nil {
		return nil, fmt.Errorf("code generator: %w", err)
	}

	return &Directory{
		repo:    repo,
		clock:   clock,
		roomTTL: roomTTL,
		newCode: gen,
		log:     log,
	}, nil
}

// NormalizeCode trims and uppercases a user supplied room code. The second
// return value is false when the result cannot be a room code.
func NormalizeCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code, codePattern.MatchString(code)
}

func (d *Directory) now() time.Time {
	return d.clock.Now().UTC()
}

func (d *Directory) CreateRoom(ctx context.Context, name string, creatorId int) (types.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxRoomNameLen {
		return types.Room{}, ErrInvalidRoomName
	}

	createdAt := d.now()
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		dbRoom, err := d.repo.CreateRoom(ctx, database.CreateRoomParams{
			Code:      d.newCode(),
			Name:      name,
			CreatorId: creatorId,
			CreatedAt: createdAt,
			ExpiresAt: createdAt.Add(d.roomTTL),
		})
		if errors.Is(err, database.ErrConflict) {
			d.log.WithField("attempt", attempt).Warn("room code collision, retrying")
			continue
		} else if err != nil {
			return types.Room{}, fmt.Errorf("create room: %w", err)
		}

		d.log.WithFields(logrus.Fields{
			"room_id":   dbRoom.Id,
			"room_code": dbRoom.Code,
		}).Info("created room")

		return toRoom(dbRoom), nil
	}

	return types.Room{}, ErrCodeExhausted
}

// LookupRoom resolves a room code to a live room.
func (d *Directory) LookupRoom(ctx context.Context, code string) (types.Room, error) {
	code, ok := NormalizeCode(code)
	if !ok {
		return types.Room{}, ErrRoomNotFound
	}

	dbRoom, err := d.repo.GetRoomByCode(ctx, code)
	if errors.Is(err, database.ErrNotFound) {
		return types.Room{}, ErrRoomNotFound
	} else if err != nil {
		return types.Room{}, fmt.Errorf("get room: %w", err)
	}

	return d.live(dbRoom)
}

// CheckRoomLive re-reads the room by id and applies the same expiry rules
// as LookupRoom.
func (d *Directory) CheckRoomLive(ctx context.Context, roomId int) (types.Room, error) {
	dbRoom, err := d.repo.GetRoomById(ctx, roomId)
	if errors.Is(err, database.ErrNotFound) {
		return types.Room{}, ErrRoomNotFound
	} else if err != nil {
		return types.Room{}, fmt.Errorf("get room: %w", err)
	}

	return d.live(dbRoom)
}

func (d *Directory) live(dbRoom database.Room) (types.Room, error) {
	room := toRoom(dbRoom)
	if room.ExpiredAt(d.now()) {
		return room, ErrRoomExpired
	}

	return room, nil
}

// SaveMessage records a message with a server assigned timestamp. The
// caller is responsible for the liveness check.
func (d *Directory) SaveMessage(ctx context.Context, roomId, userId int, username, content string) (types.Message, error) {
	dbMsg, err := d.repo.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:    roomId,
		UserId:    userId,
		Username:  username,
		Content:   content,
		CreatedAt: d.now().Round(time.Millisecond),
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	return toMessage(dbMsg, 0), nil
}

// History returns the messages of a live room, oldest first.
func (d *Directory) History(ctx context.Context, code string) ([]types.Message, error) {
	room, err := d.LookupRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	dbMsgs, err := d.repo.GetMessages(ctx, room.Id)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	return lo.Map(dbMsgs, toMessage), nil
}

// ExpireDueRooms flips the expired flag on every room past its expiry and
// returns the rooms this call changed.
func (d *Directory) ExpireDueRooms(ctx context.Context) ([]types.Room, error) {
	dbRooms, err := d.repo.ExpireRooms(ctx, d.now())
	if err != nil {
		return nil, err
	}

	return lo.Map(dbRooms, func(r database.Room, _ int) types.Room {
		return toRoom(r)
	}), nil
}

// PurgeExpiredRooms deletes rooms that expired more than retention ago.
func (d *Directory) PurgeExpiredRooms(ctx context.Context, retention time.Duration) (int64, error) {
	return d.repo.DeleteExpiredRooms(ctx, d.now().Add(-retention))
}

func toRoom(r database.Room) types.Room {
	return types.Room{
		Id:        r.Id,
		Name:      r.Name,
		Code:      r.Code,
		CreatorId: r.CreatorId,
		Creator:   r.CreatorUsername,
		ExpiresAt: r.ExpiresAt,
		IsExpired: r.IsExpired,
		CreatedAt: r.CreatedAt,
	}
}

func toMessage(m database.Message, _ int) types.Message {
	return types.Message{
		Id:        m.Id,
		Content:   m.Content,
		Username:  m.Username,
		CreatedAt: m.CreatedAt,
	}
}
