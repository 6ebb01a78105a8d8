// Package postgres implements the store interfaces over a Postgres database
// using handwritten SQL. Missing rows are reported as absence, never as
// errors.
package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/codecollab/realtime/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
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

// --- store.UserStore ---

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*store.User, error) {
	var u store.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// --- store.FriendStore ---

func (s *Store) AcceptedFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT receiver_id FROM friend_requests WHERE sender_id = $1 AND status = 'ACCEPTED'
		 UNION
		 SELECT sender_id FROM friend_requests WHERE receiver_id = $1 AND status = 'ACCEPTED'`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- store.GroupStore ---

func (s *Store) Exists(ctx context.Context, groupID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, groupID,
	).Scan(&exists)
	return exists, err
}

func (s *Store) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID,
	).Scan(&member)
	return member, err
}

func (s *Store) MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1`, groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- store.MessageStore ---

func (s *Store) Save(ctx context.Context, msg *store.ChatMessage) error {
	receiver := nullableID(msg.ReceiverID)
	group := nullableID(msg.GroupID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, sender_id, receiver_id, group_id, content, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.SenderID, receiver, group, msg.Content, msg.SentAt,
	)
	return err
}

// --- store.PermissionStore ---

func (s *Store) ResourceOwner(ctx context.Context, resourceID uuid.UUID) (uuid.UUID, bool, error) {
	var owner uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id FROM environments WHERE id = $1`, resourceID,
	).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return owner, true, nil
}

func (s *Store) GrantLevel(ctx context.Context, resourceID, userID uuid.UUID) (store.Level, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT access_level FROM environment_permissions WHERE environment_id = $1 AND user_id = $2`,
		resourceID, userID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	level, err := store.ParseLevel(raw)
	if err != nil {
		return 0, false, err
	}
	return level, true, nil
}

// --- store.NotificationStore ---

func (s *Store) Create(ctx context.Context, n *store.Notification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, message, link_url, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.Message, n.LinkURL, n.Read, n.CreatedAt,
	)
	return err
}

func nullableID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
