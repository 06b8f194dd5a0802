package database

import (
	"context"
	"fmt"
	"time"
)

const (
	roomColumns = "r.id, r.code, r.name, r.creator_id, a.username, r.expires_at, r.is_expired, r.created_at"
	roomSelect  = "SELECT " + roomColumns + " FROM rooms r JOIN accounts a ON a.id = r.creator_id "
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (Room, error) {
	var room Room
	err := row.Scan(
		&room.Id,
		&room.Code,
		&room.Name,
		&room.CreatorId,
		&room.CreatorUsername,
		&room.ExpiresAt,
		&room.IsExpired,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email, created_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, translateError(err)
}

func (db *PgRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, created_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
	)

	return user, translateError(err)
}

func (db *PgRepository) GetAccountByUsername(ctx context.Context, username string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, created_at FROM accounts "+
			"WHERE username = $1 LIMIT 1",
		username,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
	)

	return user, translateError(err)
}

func (db *PgRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"WITH r AS ("+
			"INSERT INTO rooms (code, name, creator_id, expires_at, is_expired, created_at) "+
			"VALUES ($1, $2, $3, $4, false, $5) "+
			"RETURNING id, code, name, creator_id, expires_at, is_expired, created_at) "+
			"SELECT "+roomColumns+" FROM r JOIN accounts a ON a.id = r.creator_id",
		params.Code,
		params.Name,
		params.CreatorId,
		params.ExpiresAt,
		params.CreatedAt,
	)

	room, err := scanRoom(row)
	return room, translateError(err)
}

func (db *PgRepository) GetRoomByCode(ctx context.Context, code string) (Room, error) {
	row := db.conn.QueryRowContext(ctx, roomSelect+"WHERE r.code = $1 LIMIT 1", code)

	room, err := scanRoom(row)
	return room, translateError(err)
}

func (db *PgRepository) GetRoomById(ctx context.Context, id int) (Room, error) {
	row := db.conn.QueryRowContext(ctx, roomSelect+"WHERE r.id = $1 LIMIT 1", id)

	room, err := scanRoom(row)
	return room, translateError(err)
}

func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (room_id, user_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, room_id, user_id, content, created_at",
		params.RoomId,
		params.UserId,
		params.Content,
		params.CreatedAt,
	)

	msg := Message{Username: params.Username}
	err := res.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.UserId,
		&msg.Content,
		&msg.CreatedAt,
	)

	return msg, translateError(err)
}

func (db *PgRepository) GetMessages(ctx context.Context, roomId int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT m.id, m.room_id, m.user_id, a.username, m.content, m.created_at "+
			"FROM messages m JOIN accounts a ON a.id = m.user_id "+
			"WHERE m.room_id = $1 ORDER BY m.created_at ASC, m.id ASC",
		roomId,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Id, &msg.RoomId, &msg.UserId, &msg.Username, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

func (db *PgRepository) ExpireRooms(ctx context.Context, now time.Time) ([]Room, error) {
	// The is_expired predicate on the UPDATE itself makes concurrent sweeps
	// disjoint: a row is returned by exactly one statement.
	rows, err := db.conn.QueryContext(ctx,
		"WITH r AS ("+
			"UPDATE rooms SET is_expired = true "+
			"WHERE expires_at <= $1 AND is_expired = false "+
			"RETURNING id, code, name, creator_id, expires_at, is_expired, created_at) "+
			"SELECT "+roomColumns+" FROM r JOIN accounts a ON a.id = r.creator_id",
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("expire rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}

		rooms = append(rooms, room)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return rooms, nil
}

func (db *PgRepository) DeleteExpiredRooms(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM messages WHERE room_id IN "+
			"(SELECT id FROM rooms WHERE is_expired = true AND expires_at <= $1)",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM rooms WHERE is_expired = true AND expires_at <= $1",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete rooms: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return deleted, nil
}
