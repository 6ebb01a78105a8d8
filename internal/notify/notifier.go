// Package notify exposes the generic push primitive: send event `type` with
// payload `data` to user `U` over their live chat-channel sessions.
// Collaborators (friend requests, permission changes) use it without owning
// any transport detail.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codecollab/realtime/internal/store"
	"github.com/codecollab/realtime/pkg/state"
)

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Notifier struct {
	dir           *state.Directory
	notifications store.NotificationStore
	logger        *slog.Logger
}

func NewNotifier(dir *state.Directory, notifications store.NotificationStore, logger *slog.Logger) *Notifier {
	return &Notifier{
		dir:           dir,
		notifications: notifications,
		logger:        logger.With(slog.String("component", "notifier")),
	}
}

// SendEvent pushes an event to every open chat session of the user. A no-op
// when the user is offline.
func (n *Notifier) SendEvent(userID uuid.UUID, eventType string, data any) error {
	payload, err := json.Marshal(envelope{Type: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	n.dir.SendToUser(userID, payload)
	return nil
}

// CreateAndSend persists a notification and pushes it live. A push failure is
// logged and does not undo the persisted record.
func (n *Notifier) CreateAndSend(ctx context.Context, recipientID uuid.UUID, message, linkURL string) (*store.Notification, error) {
	notification := &store.Notification{
		ID:        uuid.New(),
		UserID:    recipientID,
		Message:   message,
		LinkURL:   linkURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := n.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	err := n.SendEvent(recipientID, "NOTIFICATION", map[string]string{
		"id":      notification.ID.String(),
		"message": message,
		"linkUrl": linkURL,
	})
	if err != nil {
		n.logger.Warn("Live notification push failed", slog.Any("userID", recipientID), slog.Any("error", err))
	}
	return notification, nil
}
