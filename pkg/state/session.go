package state

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies which protocol a session speaks. A session belongs to
// exactly one channel for its whole lifetime.
type Channel string

const (
	ChannelChat   Channel = "chat"
	ChannelCollab Channel = "collab"
	ChannelSignal Channel = "signal"
)

// Conn is the transport surface the state layer needs. Satisfied by
// *transport.Connection; tests substitute mocks.
type Conn interface {
	ID() uuid.UUID
	Send(msg []byte)
	SendBinary(msg []byte)
	Close(err error)
}

// Session is one live connection. The owning user identity is attached at
// handshake time and never changes, so teardown never has to scan for the
// owner.
type Session struct {
	UserID    uuid.UUID
	Username  string
	Channel   Channel
	Transport Conn
	CreatedAt time.Time
}

func NewSession(userID uuid.UUID, username string, channel Channel, transport Conn) *Session {
	return &Session{
		UserID:    userID,
		Username:  username,
		Channel:   channel,
		Transport: transport,
		CreatedAt: time.Now(),
	}
}

// ID returns the transport-level identifier of the session.
func (s *Session) ID() uuid.UUID {
	return s.Transport.ID()
}
