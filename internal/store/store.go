// Package store declares the read models the real-time core consumes from the
// persistence layer. The core performs point reads and message inserts only;
// ownership of users, groups, friendships and permission grants lives outside
// this process.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level is the access level of a grant on a resource. Levels are strictly
// ordered: VIEWER < EDITOR < ADMIN.
type Level int

const (
	LevelViewer Level = iota + 1
	LevelEditor
	LevelAdmin
)

// Satisfies reports whether the level meets the required minimum.
func (l Level) Satisfies(min Level) bool {
	return l >= min
}

func (l Level) String() string {
	switch l {
	case LevelViewer:
		return "VIEWER"
	case LevelEditor:
		return "EDITOR"
	case LevelAdmin:
		return "ADMIN"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

func ParseLevel(s string) (Level, error) {
	switch s {
	case "VIEWER":
		return LevelViewer, nil
	case "EDITOR":
		return LevelEditor, nil
	case "ADMIN":
		return LevelAdmin, nil
	default:
		return 0, fmt.Errorf("unknown access level %q", s)
	}
}

type User struct {
	ID       uuid.UUID
	Username string
}

// ChatMessage is one persisted chat message. Exactly one of ReceiverID and
// GroupID is set; the other is uuid.Nil.
type ChatMessage struct {
	ID         uuid.UUID
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	GroupID    uuid.UUID
	Content    string
	SentAt     time.Time
}

type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Message   string
	LinkURL   string
	Read      bool
	CreatedAt time.Time
}

// UserStore resolves user identities. Get returns nil, nil when the user does
// not exist; errors are reserved for store failures.
type UserStore interface {
	Get(ctx context.Context, id uuid.UUID) (*User, error)
}

// FriendStore exposes the presence fanout graph.
type FriendStore interface {
	// AcceptedFriendIDs returns the ids of every user joined to userID by an
	// ACCEPTED friend edge, in either direction.
	AcceptedFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// GroupStore exposes group existence and membership.
type GroupStore interface {
	Exists(ctx context.Context, groupID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// MessageStore persists chat history. Persistence is at-least-once with
// respect to live delivery: a message may be stored and never broadcast if the
// process dies in between.
type MessageStore interface {
	Save(ctx context.Context, msg *ChatMessage) error
}

// PermissionStore exposes access grants on collaborative resources.
type PermissionStore interface {
	// ResourceOwner returns the owning user of the resource, if the resource
	// exists.
	ResourceOwner(ctx context.Context, resourceID uuid.UUID) (uuid.UUID, bool, error)
	// GrantLevel returns the stored grant for (resource, user), if any.
	GrantLevel(ctx context.Context, resourceID, userID uuid.UUID) (Level, bool, error)
}

type NotificationStore interface {
	Create(ctx context.Context, n *Notification) error
}

// Stores bundles every collaborator the core needs.
type Stores struct {
	Users         UserStore
	Friends       FriendStore
	Groups        GroupStore
	Messages      MessageStore
	Permissions   PermissionStore
	Notifications NotificationStore
}
