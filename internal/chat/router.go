// Package chat routes messages on the chat channel: direct messages, group
// messages, and explicit logout.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/codecollab/realtime/internal/store"
	"github.com/codecollab/realtime/pkg/state"
)

const (
	eventChat      = "CHAT"
	eventGroupChat = "GROUP_CHAT"
	eventError     = "ERROR"
)

// chatEnvelope is the outbound shape for delivered messages.
type chatEnvelope struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	GroupID    string `json:"groupId,omitempty"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

type errorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// replyError is a stage failure the sender should hear about. Every other
// stage error is logged and swallowed; the connection stays open either way.
type replyError struct {
	msg string
}

func (e replyError) Error() string { return e.msg }

// stage is one named step of a delivery pipeline. Stages run in order and a
// failure halts the rest, which makes the partial-failure policy (for example
// persisted-but-not-broadcast) explicit rather than an accident of call
// order.
type stage struct {
	name string
	run  func() error
}

type Router struct {
	dir      *state.Directory
	users    store.UserStore
	groups   store.GroupStore
	messages store.MessageStore
	logger   *slog.Logger
}

func NewRouter(dir *state.Directory, users store.UserStore, groups store.GroupStore, messages store.MessageStore, logger *slog.Logger) *Router {
	return &Router{
		dir:      dir,
		users:    users,
		groups:   groups,
		messages: messages,
		logger:   logger.With(slog.String("component", "chat_router")),
	}
}

// HandleMessage processes one inbound payload from an open chat session.
// Malformed payloads are dropped without a reply.
func (r *Router) HandleMessage(ctx context.Context, sess *state.Session, msg []byte) {
	if !gjson.ValidBytes(msg) {
		r.logger.Warn("Dropping unparseable chat payload", "userID", sess.UserID, "connID", sess.ID())
		return
	}

	if gjson.GetBytes(msg, "type").String() == "LOGOUT" {
		r.handleLogout(ctx, sess)
		return
	}

	content := strings.TrimSpace(gjson.GetBytes(msg, "content").String())
	if content == "" {
		r.logger.Debug("Dropping chat message with empty content", "userID", sess.UserID)
		return
	}

	if group := gjson.GetBytes(msg, "groupId"); group.Exists() {
		r.handleGroup(ctx, sess, group.String(), content)
		return
	}
	if receiver := gjson.GetBytes(msg, "receiverId"); receiver.Exists() {
		r.handleDirect(ctx, sess, receiver.String(), content)
		return
	}
	r.logger.Debug("Dropping chat message with neither groupId nor receiverId", "userID", sess.UserID)
}

// handleLogout force-closes every session of the sender's user and raises
// OFFLINE regardless of how many sessions remain; explicit logout overrides
// normal reference counting.
func (r *Router) handleLogout(ctx context.Context, sess *state.Session) {
	r.logger.Info("LOGOUT received; clearing all user sessions", "userID", sess.UserID)
	dropped := r.dir.DropUser(ctx, sess.UserID)
	for _, s := range dropped {
		s.Transport.Close(errors.New("user logged out"))
	}
}

func (r *Router) handleGroup(ctx context.Context, sess *state.Session, rawGroupID, content string) {
	groupID, err := uuid.Parse(rawGroupID)
	if err != nil {
		r.sendError(sess, "Invalid group ID")
		return
	}

	record := &store.ChatMessage{
		ID:       uuid.New(),
		SenderID: sess.UserID,
		GroupID:  groupID,
		Content:  content,
		SentAt:   time.Now().UTC(),
	}
	r.runPipeline(sess, "group_message", []stage{
		{name: "verify_group", run: func() error {
			exists, err := r.groups.Exists(ctx, groupID)
			if err != nil {
				return fmt.Errorf("group lookup: %w", err)
			}
			if !exists {
				return replyError{msg: "Group not found"}
			}
			return nil
		}},
		{name: "verify_membership", run: func() error {
			member, err := r.groups.IsMember(ctx, groupID, sess.UserID)
			if err != nil {
				return fmt.Errorf("membership lookup: %w", err)
			}
			if !member {
				return replyError{msg: "You are not a member of this group"}
			}
			return nil
		}},
		{name: "persist", run: func() error {
			if err := r.messages.Save(ctx, record); err != nil {
				return replyError{msg: "Failed to save message"}
			}
			return nil
		}},
		{name: "broadcast", run: func() error {
			memberIDs, err := r.groups.MemberIDs(ctx, groupID)
			if err != nil {
				return fmt.Errorf("member list: %w", err)
			}
			payload, err := json.Marshal(chatEnvelope{
				Type:       eventGroupChat,
				ID:         record.ID.String(),
				SenderID:   sess.UserID.String(),
				SenderName: sess.Username,
				GroupID:    groupID.String(),
				Content:    content,
				Timestamp:  record.SentAt.Format(time.RFC3339Nano),
			})
			if err != nil {
				return fmt.Errorf("marshal envelope: %w", err)
			}
			// The sender is a member, so their own devices get a copy too.
			for _, id := range memberIDs {
				r.dir.SendToUser(id, payload)
			}
			return nil
		}},
	})
}

func (r *Router) handleDirect(ctx context.Context, sess *state.Session, rawReceiverID, content string) {
	receiverID, err := uuid.Parse(rawReceiverID)
	if err != nil {
		r.logger.Warn("Dropping direct message with invalid receiver id", "userID", sess.UserID, "receiverId", rawReceiverID)
		return
	}

	record := &store.ChatMessage{
		ID:         uuid.New(),
		SenderID:   sess.UserID,
		ReceiverID: receiverID,
		Content:    content,
		SentAt:     time.Now().UTC(),
	}

	r.runPipeline(sess, "direct_message", []stage{
		{name: "verify_receiver", run: func() error {
			receiver, err := r.users.Get(ctx, receiverID)
			if err != nil {
				return fmt.Errorf("receiver lookup: %w", err)
			}
			if receiver == nil {
				return fmt.Errorf("receiver %s not found", receiverID)
			}
			return nil
		}},
		{name: "persist", run: func() error {
			return r.messages.Save(ctx, record)
		}},
		{name: "deliver", run: func() error {
			payload, err := json.Marshal(chatEnvelope{
				Type:       eventChat,
				ID:         record.ID.String(),
				SenderID:   sess.UserID.String(),
				SenderName: sess.Username,
				Content:    content,
				Timestamp:  record.SentAt.Format(time.RFC3339Nano),
			})
			if err != nil {
				return fmt.Errorf("marshal envelope: %w", err)
			}
			r.dir.SendToUser(receiverID, payload)
			// Echo to the sender's own sessions so every device sees it.
			r.dir.SendToUser(sess.UserID, payload)
			return nil
		}},
	})
}

// runPipeline executes stages in order, halting on the first failure. A
// replyError is reported back to the sender; anything else is only logged.
func (r *Router) runPipeline(sess *state.Session, pipeline string, stages []stage) {
	for _, st := range stages {
		if err := st.run(); err != nil {
			var reply replyError
			if errors.As(err, &reply) {
				r.sendError(sess, reply.msg)
			}
			r.logger.Warn("Pipeline stage failed, halting",
				slog.String("pipeline", pipeline),
				slog.String("stage", st.name),
				slog.Any("userID", sess.UserID),
				slog.Any("error", err),
			)
			return
		}
	}
}

func (r *Router) sendError(sess *state.Session, message string) {
	payload, err := json.Marshal(errorEnvelope{Type: eventError, Message: message})
	if err != nil {
		r.logger.Error("Failed to marshal error envelope", slog.Any("error", err))
		return
	}
	sess.Transport.Send(payload)
}
