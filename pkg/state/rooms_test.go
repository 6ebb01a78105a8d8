package state_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/codecollab/realtime/pkg/state"
)

func newRoomSession(channel state.Channel) (*state.Session, *fakeConn) {
	conn := newFakeConn()
	return state.NewSession(uuid.New(), "tester", channel, conn), conn
}

func TestJoinAndLeaveRoom(t *testing.T) {
	reg := state.NewRegistry(state.ChannelCollab, newTestLogger())
	sess, _ := newRoomSession(state.ChannelCollab)

	if err := reg.Join("room-a", sess); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	roomID, ok := reg.RoomOf(sess.ID())
	if !ok || roomID != "room-a" {
		t.Fatalf("Expected session in room-a, got %q (found=%v)", roomID, ok)
	}

	left, ok := reg.Leave(sess)
	if !ok || left != "room-a" {
		t.Fatalf("Expected Leave to report room-a, got %q (found=%v)", left, ok)
	}
	if _, ok := reg.RoomOf(sess.ID()); ok {
		t.Error("Expected session to be out of any room after Leave")
	}
}

func TestJoinSecondRoomRejected(t *testing.T) {
	reg := state.NewRegistry(state.ChannelCollab, newTestLogger())
	sess, _ := newRoomSession(state.ChannelCollab)

	if err := reg.Join("room-a", sess); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := reg.Join("room-b", sess); err == nil {
		t.Error("Expected joining a second room to fail")
	}
	// Original membership must be intact.
	if roomID, _ := reg.RoomOf(sess.ID()); roomID != "room-a" {
		t.Errorf("Expected session to remain in room-a, got %q", roomID)
	}
}

func TestLeaveWithoutJoinIsNoop(t *testing.T) {
	reg := state.NewRegistry(state.ChannelSignal, newTestLogger())
	sess, _ := newRoomSession(state.ChannelSignal)

	if _, ok := reg.Leave(sess); ok {
		t.Error("Expected Leave on non-member to report not found")
	}
}

func TestEmptyRoomIsRemoved(t *testing.T) {
	reg := state.NewRegistry(state.ChannelCollab, newTestLogger())
	sess1, _ := newRoomSession(state.ChannelCollab)
	sess2, _ := newRoomSession(state.ChannelCollab)

	reg.Join("room-a", sess1)
	reg.Join("room-a", sess2)
	reg.Leave(sess1)
	if got := len(reg.Members("room-a")); got != 1 {
		t.Fatalf("Expected 1 member remaining, got %d", got)
	}
	reg.Leave(sess2)
	if got := len(reg.Members("room-a")); got != 0 {
		t.Errorf("Expected empty member list after last leave, got %d", got)
	}
	// A fresh join must succeed against the recreated room.
	sess3, _ := newRoomSession(state.ChannelCollab)
	if err := reg.Join("room-a", sess3); err != nil {
		t.Errorf("Join after room removal failed: %v", err)
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	reg := state.NewRegistry(state.ChannelSignal, newTestLogger())
	sender, senderConn := newRoomSession(state.ChannelSignal)
	peer1, peerConn1 := newRoomSession(state.ChannelSignal)
	peer2, peerConn2 := newRoomSession(state.ChannelSignal)
	outsider, outsiderConn := newRoomSession(state.ChannelSignal)

	reg.Join("room-a", sender)
	reg.Join("room-a", peer1)
	reg.Join("room-a", peer2)
	reg.Join("room-b", outsider)

	reg.Broadcast("room-a", []byte(`{"type":"HELLO"}`), sender.ID())

	if senderConn.sentCount() != 0 {
		t.Errorf("Expected excluded sender to receive nothing, got %d", senderConn.sentCount())
	}
	if peerConn1.sentCount() != 1 || peerConn2.sentCount() != 1 {
		t.Errorf("Expected both peers to receive the payload, got %d and %d", peerConn1.sentCount(), peerConn2.sentCount())
	}
	if outsiderConn.sentCount() != 0 {
		t.Errorf("Expected other room to receive nothing, got %d", outsiderConn.sentCount())
	}
}

func TestBroadcastWithNilExcludeReachesAll(t *testing.T) {
	reg := state.NewRegistry(state.ChannelSignal, newTestLogger())
	sess1, conn1 := newRoomSession(state.ChannelSignal)
	sess2, conn2 := newRoomSession(state.ChannelSignal)

	reg.Join("room-a", sess1)
	reg.Join("room-a", sess2)
	reg.Broadcast("room-a", []byte("all"), uuid.Nil)

	if conn1.sentCount() != 1 || conn2.sentCount() != 1 {
		t.Errorf("Expected everyone to receive the payload, got %d and %d", conn1.sentCount(), conn2.sentCount())
	}
}

func TestBroadcastBinaryFrames(t *testing.T) {
	reg := state.NewRegistry(state.ChannelCollab, newTestLogger())
	sender, senderConn := newRoomSession(state.ChannelCollab)
	peer, peerConn := newRoomSession(state.ChannelCollab)

	reg.Join("room-a", sender)
	reg.Join("room-a", peer)
	reg.BroadcastBinary("room-a", []byte{0x01, 0x02}, sender.ID())

	if len(peerConn.binary) != 1 {
		t.Fatalf("Expected peer to receive 1 binary frame, got %d", len(peerConn.binary))
	}
	if len(senderConn.binary) != 0 || peerConn.sentCount() != 0 {
		t.Error("Expected binary broadcast to skip sender and never use text frames")
	}
}

func TestFindInRoom(t *testing.T) {
	reg := state.NewRegistry(state.ChannelSignal, newTestLogger())
	sess, _ := newRoomSession(state.ChannelSignal)
	reg.Join("room-a", sess)

	if found, ok := reg.Find("room-a", sess.ID()); !ok || found.ID() != sess.ID() {
		t.Error("Expected to find session in its own room")
	}
	if _, ok := reg.Find("room-b", sess.ID()); ok {
		t.Error("Expected lookup in a different room to miss")
	}
	if _, ok := reg.Find("room-a", uuid.New()); ok {
		t.Error("Expected lookup of unknown session to miss")
	}
}

func TestRegistrySessionsSpansRooms(t *testing.T) {
	reg := state.NewRegistry(state.ChannelSignal, newTestLogger())
	sess1, _ := newRoomSession(state.ChannelSignal)
	sess2, _ := newRoomSession(state.ChannelSignal)

	reg.Join("room-a", sess1)
	reg.Join("room-b", sess2)

	if got := len(reg.Sessions()); got != 2 {
		t.Errorf("Expected 2 sessions across rooms, got %d", got)
	}
}
