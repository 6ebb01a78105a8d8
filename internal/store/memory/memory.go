// Package memory is an in-process implementation of the store interfaces,
// used by tests and when no database is configured.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/codecollab/realtime/internal/store"
)

type friendEdge struct {
	a, b uuid.UUID
}

// Store holds every read model in RWMutex-guarded maps. The mutators exist so
// tests and dev setups can seed state; the core only uses the interface
// methods.
type Store struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]store.User
	friends       []friendEdge
	groups        map[uuid.UUID]map[uuid.UUID]bool // groupID -> member set
	owners        map[uuid.UUID]uuid.UUID          // resourceID -> owner
	grants        map[uuid.UUID]map[uuid.UUID]store.Level
	messages      []store.ChatMessage
	notifications []store.Notification
}

func New() *Store {
	return &Store{
		users:  make(map[uuid.UUID]store.User),
		groups: make(map[uuid.UUID]map[uuid.UUID]bool),
		owners: make(map[uuid.UUID]uuid.UUID),
		grants: make(map[uuid.UUID]map[uuid.UUID]store.Level),
	}
}

// Stores returns the store bundled under every collaborator interface.
func (s *Store) Stores() store.Stores {
	return store.Stores{
		Users:         s,
		Friends:       s,
		Groups:        s,
		Messages:      s,
		Permissions:   s,
		Notifications: s,
	}
}

// --- seeding helpers ---

func (s *Store) AddUser(id uuid.UUID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = store.User{ID: id, Username: username}
}

// AddFriendship records an ACCEPTED edge between two users.
func (s *Store) AddFriendship(a, b uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends = append(s.friends, friendEdge{a: a, b: b})
}

func (s *Store) AddGroup(groupID uuid.UUID, memberIDs ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make(map[uuid.UUID]bool, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = true
	}
	s.groups[groupID] = members
}

func (s *Store) SetOwner(resourceID, ownerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[resourceID] = ownerID
}

func (s *Store) SetGrant(resourceID, userID uuid.UUID, level store.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[resourceID] == nil {
		s.grants[resourceID] = make(map[uuid.UUID]store.Level)
	}
	s.grants[resourceID][userID] = level
}

func (s *Store) RevokeGrant(resourceID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[resourceID], userID)
}

// Messages returns a copy of everything persisted so far.
func (s *Store) Messages() []store.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Notifications returns a copy of everything persisted so far.
func (s *Store) Notifications() []store.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// --- store.UserStore ---

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// --- store.FriendStore ---

func (s *Store) AcceptedFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for _, e := range s.friends {
		switch userID {
		case e.a:
			ids = append(ids, e.b)
		case e.b:
			ids = append(ids, e.a)
		}
	}
	return ids, nil
}

// --- store.GroupStore ---

func (s *Store) Exists(ctx context.Context, groupID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[groupID]
	return ok, nil
}

func (s *Store) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups[groupID][userID], nil
}

func (s *Store) MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := s.groups[groupID]
	ids := make([]uuid.UUID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids, nil
}

// --- store.MessageStore ---

func (s *Store) Save(ctx context.Context, msg *store.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

// --- store.NotificationStore ---

func (s *Store) Create(ctx context.Context, n *store.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, *n)
	return nil
}

// --- store.PermissionStore ---

func (s *Store) ResourceOwner(ctx context.Context, resourceID uuid.UUID) (uuid.UUID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[resourceID]
	return owner, ok, nil
}

func (s *Store) GrantLevel(ctx context.Context, resourceID, userID uuid.UUID) (store.Level, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	level, ok := s.grants[resourceID][userID]
	return level, ok, nil
}
