package server

import (
	"slices"
	"sync"
)

// Registry tracks which users have a live, joined connection in each room.
// A user with several connections in one room is counted once per
// connection and stays a participant until the last one leaves.
type Registry struct {
	mu    sync.Mutex
	rooms map[int]map[int]int
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[int]map[int]int)}
}

func (r *Registry) Join(roomId, userId int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.rooms[roomId]
	if !ok {
		users = make(map[int]int)
		r.rooms[roomId] = users
	}
	users[userId]++
}

func (r *Registry) Leave(roomId, userId int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.rooms[roomId]
	if !ok {
		return
	}

	if users[userId] <= 1 {
		delete(users, userId)
	} else {
		users[userId]--
	}

	if len(users) == 0 {
		delete(r.rooms, roomId)
	}
}

// Participants returns the distinct user ids in a room, ascending.
func (r *Registry) Participants(roomId int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int, 0, len(r.rooms[roomId]))
	for id := range r.rooms[roomId] {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

func (r *Registry) Count(roomId int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rooms[roomId])
}

// Drop forgets every participant of a room.
func (r *Registry) Drop(roomId int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rooms, roomId)
}
