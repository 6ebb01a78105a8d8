package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// PresenceListener receives the 0<->1 session-count transitions of the
// directory. Implemented by the presence engine.
type PresenceListener interface {
	UserOnline(ctx context.Context, userID uuid.UUID)
	UserOffline(ctx context.Context, userID uuid.UUID)
}

// Directory tracks every open chat-channel session per user and drives global
// presence. A user with at least one session is online; entries with empty
// sets are never kept around.
type Directory struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[uuid.UUID]*Session // userID -> sessionID -> session

	// notifyMu orders listener callbacks with the transitions that caused
	// them, so friends can never observe OFFLINE before the matching ONLINE.
	// The directory lock itself cannot be held across a callback because the
	// presence fanout re-enters SendToUser.
	notifyMu sync.Mutex
	listener PresenceListener
	logger   *slog.Logger
}

func NewDirectory(logger *slog.Logger) *Directory {
	return &Directory{
		sessions: make(map[uuid.UUID]map[uuid.UUID]*Session),
		logger:   logger.With(slog.String("component", "directory")),
	}
}

// SetPresenceListener wires the presence engine in. Must be called before the
// first Register. The listener runs on the transition's goroutine and may call
// SendToUser, but must not re-enter Register, Unregister or DropUser.
func (d *Directory) SetPresenceListener(l PresenceListener) {
	d.listener = l
}

// Register adds the session to its user's set and signals ONLINE on the 0->1
// transition. The listener is invoked outside the directory lock so it may
// call back into SendToUser.
func (d *Directory) Register(ctx context.Context, s *Session) {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	d.mu.Lock()
	set, ok := d.sessions[s.UserID]
	if !ok {
		set = make(map[uuid.UUID]*Session)
		d.sessions[s.UserID] = set
	}
	set[s.ID()] = s
	cameOnline := !ok
	count := len(set)
	d.mu.Unlock()

	d.logger.Debug("Session registered", "userID", s.UserID, "connID", s.ID(), "sessions", count)
	if cameOnline && d.listener != nil {
		d.listener.UserOnline(ctx, s.UserID)
	}
}

// Unregister removes the session from its user's set and signals OFFLINE on
// the 1->0 transition. Unknown sessions (already removed by DropUser) are a
// no-op.
func (d *Directory) Unregister(ctx context.Context, s *Session) {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	d.mu.Lock()
	set, ok := d.sessions[s.UserID]
	if !ok {
		d.mu.Unlock()
		return
	}
	if _, held := set[s.ID()]; !held {
		d.mu.Unlock()
		return
	}
	delete(set, s.ID())
	wentOffline := len(set) == 0
	if wentOffline {
		delete(d.sessions, s.UserID)
	}
	remaining := len(set)
	d.mu.Unlock()

	d.logger.Debug("Session unregistered", "userID", s.UserID, "connID", s.ID(), "remaining", remaining)
	if wentOffline && d.listener != nil {
		d.listener.UserOffline(ctx, s.UserID)
	}
}

// DropUser removes the user's whole entry at once, signalling OFFLINE exactly
// once regardless of how many sessions were open. Used by explicit LOGOUT,
// which overrides normal reference counting. The removed sessions are returned
// so the caller can close their transports.
func (d *Directory) DropUser(ctx context.Context, userID uuid.UUID) []*Session {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	d.mu.Lock()
	set, ok := d.sessions[userID]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	delete(d.sessions, userID)
	dropped := make([]*Session, 0, len(set))
	for _, s := range set {
		dropped = append(dropped, s)
	}
	d.mu.Unlock()

	d.logger.Info("User sessions force-cleared", "userID", userID, "count", len(dropped))
	if d.listener != nil {
		d.listener.UserOffline(ctx, userID)
	}
	return dropped
}

// IsOnline reports whether the user has at least one open chat session.
func (d *Directory) IsOnline(userID uuid.UUID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions[userID]) > 0
}

// SendToUser delivers the payload to every open session of the user,
// best-effort. Delivery is independent per session; a dropped send is logged
// inside the transport and never reported to the caller.
func (d *Directory) SendToUser(userID uuid.UUID, payload []byte) {
	d.mu.RLock()
	set := d.sessions[userID]
	targets := make([]*Session, 0, len(set))
	for _, s := range set {
		targets = append(targets, s)
	}
	d.mu.RUnlock()

	for _, s := range targets {
		s.Transport.Send(payload)
	}
}

// SessionCount returns the number of open sessions held by the user.
func (d *Directory) SessionCount(userID uuid.UUID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions[userID])
}

// OldestSession returns the user's longest-lived session, used by the
// connection limiter's cycle mode.
func (d *Directory) OldestSession(userID uuid.UUID) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var oldest *Session
	for _, s := range d.sessions[userID] {
		if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	return oldest, oldest != nil
}

// Sessions returns every open session across all users, for shutdown.
func (d *Directory) Sessions() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := make([]*Session, 0, len(d.sessions))
	for _, set := range d.sessions {
		for _, s := range set {
			all = append(all, s)
		}
	}
	return all
}
