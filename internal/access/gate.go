// Package access answers capability questions against the external permission
// store.
package access

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/codecollab/realtime/internal/store"
)

// Gate resolves whether a user holds at least a given access level on a
// resource. The edit relay consults it per inbound update, so a mid-session
// downgrade takes effect on the very next edit without a reconnect.
type Gate struct {
	perms  store.PermissionStore
	logger *slog.Logger
}

func NewGate(perms store.PermissionStore, logger *slog.Logger) *Gate {
	return &Gate{
		perms:  perms,
		logger: logger.With(slog.String("component", "access_gate")),
	}
}

// CheckLevel reports whether userID holds at least min on the resource. The
// resource owner implicitly holds ADMIN. Store failures deny and are logged;
// an unreachable permission store must never grant write access.
func (g *Gate) CheckLevel(ctx context.Context, resourceID, userID uuid.UUID, min store.Level) bool {
	owner, found, err := g.perms.ResourceOwner(ctx, resourceID)
	if err != nil {
		g.logger.Error("Owner lookup failed; denying", slog.Any("resourceID", resourceID), slog.Any("error", err))
		return false
	}
	if found && owner == userID {
		return true
	}

	level, found, err := g.perms.GrantLevel(ctx, resourceID, userID)
	if err != nil {
		g.logger.Error("Grant lookup failed; denying", slog.Any("resourceID", resourceID), slog.Any("error", err))
		return false
	}
	if !found {
		return false
	}
	return level.Satisfies(min)
}
