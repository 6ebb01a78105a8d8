// Package presence turns directory session-count transitions into status
// events fanned out over the social graph.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/codecollab/realtime/internal/store"
	"github.com/codecollab/realtime/pkg/state"
)

const (
	eventUserOnline  = "USER_ONLINE"
	eventUserOffline = "USER_OFFLINE"
)

type statusEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// Engine implements state.PresenceListener. Every 0<->1 transition is
// re-derived fresh from the directory's authoritative session count, so rapid
// reconnects may produce redundant events but never a stuck stale status.
type Engine struct {
	friends store.FriendStore
	dir     *state.Directory
	logger  *slog.Logger
}

func NewEngine(friends store.FriendStore, dir *state.Directory, logger *slog.Logger) *Engine {
	return &Engine{
		friends: friends,
		dir:     dir,
		logger:  logger.With(slog.String("component", "presence")),
	}
}

var _ state.PresenceListener = (*Engine)(nil)

func (e *Engine) UserOnline(ctx context.Context, userID uuid.UUID) {
	e.fanout(ctx, userID, eventUserOnline)
}

func (e *Engine) UserOffline(ctx context.Context, userID uuid.UUID) {
	e.fanout(ctx, userID, eventUserOffline)
}

// fanout delivers the status event to every user joined to userID by an
// ACCEPTED friend edge, evaluated at event time.
func (e *Engine) fanout(ctx context.Context, userID uuid.UUID, eventType string) {
	friendIDs, err := e.friends.AcceptedFriendIDs(ctx, userID)
	if err != nil {
		e.logger.Error("Failed to resolve friend graph for status fanout",
			slog.Any("userID", userID), slog.Any("error", err))
		return
	}
	if len(friendIDs) == 0 {
		return
	}

	payload, err := json.Marshal(statusEvent{Type: eventType, UserID: userID.String()})
	if err != nil {
		e.logger.Error("Failed to marshal status event", slog.Any("error", err))
		return
	}

	for _, friendID := range friendIDs {
		e.dir.SendToUser(friendID, payload)
	}
	e.logger.Debug("Status fanout complete",
		slog.String("event", eventType), slog.Any("userID", userID), slog.Int("friends", len(friendIDs)))
}
