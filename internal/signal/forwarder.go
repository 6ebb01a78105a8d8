// Package signal brokers peer-to-peer negotiation messages between the
// sessions of one signaling room. Targeting uses transport-level session ids
// rather than user ids: one user may hold several simultaneous signaling
// sessions, each independently addressable.
package signal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/codecollab/realtime/pkg/state"
)

const (
	eventUserJoined = "USER_JOINED"
	eventUserLeft   = "USER_LEFT"
	eventChat       = "CHAT"
	eventSignal     = "SIGNAL"
	eventJoinVoice  = "JOIN_VOICE"
	eventLeaveVoice = "LEAVE_VOICE"
)

type joinedEnvelope struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	InitiatorID string `json:"initiatorId"`
}

type leftEnvelope struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	LeaverID string `json:"leaverId"`
}

type chatEnvelope struct {
	Type       string `json:"type"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

type signalEnvelope struct {
	Type       string          `json:"type"`
	SenderID   string          `json:"senderId"`
	SenderName string          `json:"senderName"`
	Data       json.RawMessage `json:"data"`
}

type voiceEnvelope struct {
	Type       string `json:"type"`
	SenderID   string `json:"senderId"`
	UserID     string `json:"userId"`
	SenderName string `json:"senderName,omitempty"`
}

type Forwarder struct {
	rooms  *state.Registry
	logger *slog.Logger
}

func NewForwarder(rooms *state.Registry, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		rooms:  rooms,
		logger: logger.With(slog.String("component", "signal_forwarder")),
	}
}

// Join adds the session to the room and tells existing members who arrived,
// carrying the new session's transport id so peers can address it directly.
func (f *Forwarder) Join(sess *state.Session, roomID string) error {
	if err := f.rooms.Join(roomID, sess); err != nil {
		return err
	}
	f.broadcast(roomID, sess.ID(), joinedEnvelope{
		Type:        eventUserJoined,
		UserID:      sess.UserID.String(),
		InitiatorID: sess.ID().String(),
	})
	return nil
}

// Leave removes the session from its room and tells the remaining members.
func (f *Forwarder) Leave(sess *state.Session) {
	roomID, ok := f.rooms.Leave(sess)
	if !ok {
		return
	}
	f.broadcast(roomID, sess.ID(), leftEnvelope{
		Type:     eventUserLeft,
		UserID:   sess.UserID.String(),
		LeaverID: sess.ID().String(),
	})
}

// HandleMessage processes one inbound payload from an open signaling session.
func (f *Forwarder) HandleMessage(ctx context.Context, sess *state.Session, msg []byte) {
	if !gjson.ValidBytes(msg) {
		f.logger.Warn("Dropping unparseable signaling payload", "connID", sess.ID())
		return
	}
	roomID, ok := f.rooms.RoomOf(sess.ID())
	if !ok {
		return
	}

	switch gjson.GetBytes(msg, "type").String() {
	case eventChat:
		// Room-wide, including the sender: the echo doubles as delivery
		// confirmation.
		f.broadcast(roomID, uuid.Nil, chatEnvelope{
			Type:       eventChat,
			SenderID:   sess.UserID.String(),
			SenderName: sess.Username,
			Content:    gjson.GetBytes(msg, "content").String(),
			Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		})

	case eventSignal:
		f.forwardSignal(sess, roomID, msg)

	case eventJoinVoice:
		f.broadcast(roomID, sess.ID(), voiceEnvelope{
			Type:       eventJoinVoice,
			SenderID:   sess.ID().String(),
			UserID:     sess.UserID.String(),
			SenderName: sess.Username,
		})

	case eventLeaveVoice:
		f.broadcast(roomID, sess.ID(), voiceEnvelope{
			Type:     eventLeaveVoice,
			SenderID: sess.ID().String(),
			UserID:   sess.UserID.String(),
		})

	default:
		f.logger.Debug("Dropping signaling payload with unknown type", "connID", sess.ID())
	}
}

// forwardSignal relays a negotiation payload to exactly the named target
// session, substituting the sender's transport id so the target can reply.
// An absent or closed target means a silent drop.
func (f *Forwarder) forwardSignal(sess *state.Session, roomID string, msg []byte) {
	targetID, err := uuid.Parse(gjson.GetBytes(msg, "targetId").String())
	if err != nil {
		f.logger.Debug("SIGNAL without a valid targetId", "connID", sess.ID())
		return
	}
	target, ok := f.rooms.Find(roomID, targetID)
	if !ok {
		f.logger.Debug("SIGNAL target not in room", "connID", sess.ID(), "targetId", targetID)
		return
	}

	data := json.RawMessage("null")
	if raw := gjson.GetBytes(msg, "data").Raw; raw != "" {
		data = json.RawMessage(raw)
	}
	payload, err := json.Marshal(signalEnvelope{
		Type:       eventSignal,
		SenderID:   sess.ID().String(),
		SenderName: sess.Username,
		Data:       data,
	})
	if err != nil {
		f.logger.Error("Failed to marshal SIGNAL envelope", slog.Any("error", err))
		return
	}
	target.Transport.Send(payload)
}

func (f *Forwarder) broadcast(roomID string, exclude uuid.UUID, envelope any) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		f.logger.Error("Failed to marshal signaling envelope", slog.Any("error", err))
		return
	}
	f.rooms.Broadcast(roomID, payload, exclude)
}
