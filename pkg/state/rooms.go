package state

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks room membership for one channel. Collab and signaling each
// get their own instance, so rooms sharing an id across channels are distinct
// membership sets. Rooms are created lazily on first join and removed when the
// last member leaves.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]map[uuid.UUID]*Session // roomID -> sessionID -> session
	bySession map[uuid.UUID]string              // sessionID -> roomID

	channel Channel
	logger  *slog.Logger
}

func NewRegistry(channel Channel, logger *slog.Logger) *Registry {
	return &Registry{
		rooms:     make(map[string]map[uuid.UUID]*Session),
		bySession: make(map[uuid.UUID]string),
		channel:   channel,
		logger:    logger.With(slog.String("component", "rooms"), slog.String("channel", string(channel))),
	}
}

// Join adds the session to the room, creating the room on first join. A
// session is a member of at most one room per channel.
func (r *Registry) Join(roomID string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.bySession[s.ID()]; ok {
		r.logger.Warn("Session attempted to join a second room", "connID", s.ID(), "current", current, "requested", roomID)
		return errors.New("session already belongs to a room")
	}

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[uuid.UUID]*Session)
		r.rooms[roomID] = room
	}
	room[s.ID()] = s
	r.bySession[s.ID()] = roomID

	r.logger.Debug("Session joined room", "roomID", roomID, "connID", s.ID(), "members", len(room))
	return nil
}

// Leave removes the session from its room, deleting the room if it becomes
// empty. Returns the room id the session belonged to.
func (r *Registry) Leave(s *Session) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.bySession[s.ID()]
	if !ok {
		return "", false
	}
	delete(r.bySession, s.ID())

	room := r.rooms[roomID]
	delete(room, s.ID())
	if len(room) == 0 {
		delete(r.rooms, roomID)
		r.logger.Debug("Removed empty room", "roomID", roomID)
	}

	r.logger.Debug("Session left room", "roomID", roomID, "connID", s.ID())
	return roomID, true
}

// RoomOf returns the room the session currently belongs to.
func (r *Registry) RoomOf(sessionID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.bySession[sessionID]
	return roomID, ok
}

// Find looks a session up by transport id within a room, for directed
// forwarding.
func (r *Registry) Find(roomID string, sessionID uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rooms[roomID][sessionID]
	return s, ok
}

// Members returns the sessions currently in the room.
func (r *Registry) Members(roomID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomID]
	members := make([]*Session, 0, len(room))
	for _, s := range room {
		members = append(members, s)
	}
	return members
}

// Broadcast delivers the payload as text to every session in the room except
// the excluded one. Pass uuid.Nil to deliver to all members. Delivery is
// independent per recipient.
func (r *Registry) Broadcast(roomID string, payload []byte, exclude uuid.UUID) {
	for _, s := range r.snapshot(roomID, exclude) {
		s.Transport.Send(payload)
	}
}

// BroadcastBinary is Broadcast for opaque binary frames.
func (r *Registry) BroadcastBinary(roomID string, payload []byte, exclude uuid.UUID) {
	for _, s := range r.snapshot(roomID, exclude) {
		s.Transport.SendBinary(payload)
	}
}

func (r *Registry) snapshot(roomID string, exclude uuid.UUID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomID]
	targets := make([]*Session, 0, len(room))
	for id, s := range room {
		if id == exclude {
			continue
		}
		targets = append(targets, s)
	}
	return targets
}

// Sessions returns every session across all rooms, for shutdown.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Session, 0, len(r.bySession))
	for _, room := range r.rooms {
		for _, s := range room {
			all = append(all, s)
		}
	}
	return all
}
