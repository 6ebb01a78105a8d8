// Package collab relays opaque binary document updates between the sessions
// editing one resource.
package collab

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/codecollab/realtime/internal/access"
	"github.com/codecollab/realtime/internal/store"
	"github.com/codecollab/realtime/pkg/state"
)

type Relay struct {
	rooms  *state.Registry
	gate   *access.Gate
	logger *slog.Logger
}

func NewRelay(rooms *state.Registry, gate *access.Gate, logger *slog.Logger) *Relay {
	return &Relay{
		rooms:  rooms,
		gate:   gate,
		logger: logger.With(slog.String("component", "edit_relay")),
	}
}

// Join adds the session to the resource's room. Joining needs no access
// level: a session without EDITOR rights still receives others' updates
// (read-only participation).
func (r *Relay) Join(sess *state.Session, resourceID uuid.UUID) error {
	return r.rooms.Join(resourceID.String(), sess)
}

// Leave removes the session from its room.
func (r *Relay) Leave(sess *state.Session) {
	r.rooms.Leave(sess)
}

// HandleUpdate checks EDITOR access and fans the raw update out to every
// other session in the room. The check runs per update, so a revoked grant
// silences the sender on their very next edit. A denied update is dropped
// with no reply: the relay carries continuous high-frequency edits where
// per-message errors would be noise.
func (r *Relay) HandleUpdate(ctx context.Context, sess *state.Session, resourceID uuid.UUID, update []byte) {
	if !r.gate.CheckLevel(ctx, resourceID, sess.UserID, store.LevelEditor) {
		r.logger.Debug("Blocked write from session without editor access",
			slog.Any("userID", sess.UserID), slog.Any("resourceID", resourceID))
		return
	}

	// Exclude the sender: it already holds the update locally and must not
	// apply it twice.
	r.rooms.BroadcastBinary(resourceID.String(), update, sess.ID())
}
