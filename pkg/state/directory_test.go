package state_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/codecollab/realtime/pkg/state"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeConn struct {
	id     uuid.UUID
	mu     sync.Mutex
	sent   [][]byte
	binary [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.New()}
}

func (c *fakeConn) ID() uuid.UUID { return c.id }

func (c *fakeConn) Send(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
}

func (c *fakeConn) SendBinary(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binary = append(c.binary, msg)
}

func (c *fakeConn) Close(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type recordingListener struct {
	mu      sync.Mutex
	online  []uuid.UUID
	offline []uuid.UUID
}

func (l *recordingListener) UserOnline(ctx context.Context, userID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online = append(l.online, userID)
}

func (l *recordingListener) UserOffline(ctx context.Context, userID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offline = append(l.offline, userID)
}

func newChatSession(userID uuid.UUID) *state.Session {
	return state.NewSession(userID, "tester", state.ChannelChat, newFakeConn())
}

// --- Presence Transition Tests ---

func TestPresenceTransitions(t *testing.T) {
	d := state.NewDirectory(newTestLogger())
	listener := &recordingListener{}
	d.SetPresenceListener(listener)
	ctx := context.Background()

	userID := uuid.New()
	sess1 := newChatSession(userID)
	sess2 := newChatSession(userID)

	// Two sessions, one ONLINE.
	d.Register(ctx, sess1)
	d.Register(ctx, sess2)
	if len(listener.online) != 1 {
		t.Fatalf("Expected exactly 1 ONLINE event for two registrations, got %d", len(listener.online))
	}
	if !d.IsOnline(userID) {
		t.Error("Expected user to be online with two sessions")
	}

	// Closing one session keeps the user online, no OFFLINE yet.
	d.Unregister(ctx, sess1)
	if len(listener.offline) != 0 {
		t.Fatalf("Expected no OFFLINE event while a session remains, got %d", len(listener.offline))
	}
	if !d.IsOnline(userID) {
		t.Error("Expected user to remain online with one session left")
	}

	// Closing the last session flips to offline exactly once.
	d.Unregister(ctx, sess2)
	if len(listener.offline) != 1 {
		t.Fatalf("Expected exactly 1 OFFLINE event, got %d", len(listener.offline))
	}
	if d.IsOnline(userID) {
		t.Error("Expected user to be offline after last session closed")
	}
}

func TestUnregisterUnknownSessionIsNoop(t *testing.T) {
	d := state.NewDirectory(newTestLogger())
	listener := &recordingListener{}
	d.SetPresenceListener(listener)

	d.Unregister(context.Background(), newChatSession(uuid.New()))
	if len(listener.offline) != 0 {
		t.Errorf("Expected no OFFLINE event for unknown session, got %d", len(listener.offline))
	}
}

func TestSendToUserReachesEveryDevice(t *testing.T) {
	d := state.NewDirectory(newTestLogger())
	ctx := context.Background()
	userID := uuid.New()

	conn1, conn2 := newFakeConn(), newFakeConn()
	d.Register(ctx, state.NewSession(userID, "tester", state.ChannelChat, conn1))
	d.Register(ctx, state.NewSession(userID, "tester", state.ChannelChat, conn2))
	otherConn := newFakeConn()
	d.Register(ctx, state.NewSession(uuid.New(), "other", state.ChannelChat, otherConn))

	d.SendToUser(userID, []byte(`{"type":"PING"}`))

	if conn1.sentCount() != 1 || conn2.sentCount() != 1 {
		t.Errorf("Expected both devices to receive the payload, got %d and %d", conn1.sentCount(), conn2.sentCount())
	}
	if otherConn.sentCount() != 0 {
		t.Errorf("Expected unrelated user to receive nothing, got %d", otherConn.sentCount())
	}
}

func TestSendToOfflineUserIsNoop(t *testing.T) {
	d := state.NewDirectory(newTestLogger())
	d.SendToUser(uuid.New(), []byte("hello")) // must not panic
}

func TestDropUserSignalsOfflineOnce(t *testing.T) {
	d := state.NewDirectory(newTestLogger())
	listener := &recordingListener{}
	d.SetPresenceListener(listener)
	ctx := context.Background()
	userID := uuid.New()

	sess1 := newChatSession(userID)
	sess2 := newChatSession(userID)
	d.Register(ctx, sess1)
	d.Register(ctx, sess2)

	dropped := d.DropUser(ctx, userID)
	if len(dropped) != 2 {
		t.Fatalf("Expected 2 dropped sessions, got %d", len(dropped))
	}
	if len(listener.offline) != 1 {
		t.Fatalf("Expected exactly 1 OFFLINE event from DropUser, got %d", len(listener.offline))
	}
	if d.IsOnline(userID) {
		t.Error("Expected user offline after DropUser")
	}

	// Transport closures that race the drop must not fire a second OFFLINE.
	d.Unregister(ctx, sess1)
	d.Unregister(ctx, sess2)
	if len(listener.offline) != 1 {
		t.Errorf("Expected no extra OFFLINE from late unregisters, got %d", len(listener.offline))
	}
}

func TestDropUnknownUser(t *testing.T) {
	d := state.NewDirectory(newTestLogger())
	listener := &recordingListener{}
	d.SetPresenceListener(listener)

	if dropped := d.DropUser(context.Background(), uuid.New()); dropped != nil {
		t.Errorf("Expected nil dropped sessions for unknown user, got %d", len(dropped))
	}
	if len(listener.offline) != 0 {
		t.Errorf("Expected no OFFLINE event for unknown user, got %d", len(listener.offline))
	}
}

func TestSessionCountAndOldest(t *testing.T) {
	d := state.NewDirectory(newTestLogger())
	ctx := context.Background()
	userID := uuid.New()

	sess1 := newChatSession(userID)
	sess2 := newChatSession(userID)
	sess2.CreatedAt = sess1.CreatedAt.Add(1) // ensure strict ordering
	d.Register(ctx, sess1)
	d.Register(ctx, sess2)

	if count := d.SessionCount(userID); count != 2 {
		t.Errorf("Expected session count 2, got %d", count)
	}
	oldest, found := d.OldestSession(userID)
	if !found {
		t.Fatal("Expected to find oldest session")
	}
	if oldest.ID() != sess1.ID() {
		t.Errorf("Expected oldest session %s, got %s", sess1.ID(), oldest.ID())
	}
}

type orderedListener struct {
	mu     sync.Mutex
	events []string
}

func (l *orderedListener) UserOnline(ctx context.Context, userID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "online")
}

func (l *orderedListener) UserOffline(ctx context.Context, userID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "offline")
}

func TestPresenceEventOrderingUnderChurn(t *testing.T) {
	d := state.NewDirectory(newTestLogger())
	listener := &orderedListener{}
	d.SetPresenceListener(listener)
	ctx := context.Background()
	userID := uuid.New()

	// Rapid connect/disconnect on many goroutines: friends must never see
	// OFFLINE before the ONLINE that preceded it.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sess := newChatSession(userID)
				d.Register(ctx, sess)
				d.Unregister(ctx, sess)
			}
		}()
	}
	wg.Wait()

	if len(listener.events) == 0 {
		t.Fatal("Expected at least one presence event")
	}
	if listener.events[0] != "online" {
		t.Errorf("Expected first event online, got %q", listener.events[0])
	}
	if last := listener.events[len(listener.events)-1]; last != "offline" {
		t.Errorf("Expected final event offline, got %q", last)
	}
	for i := 1; i < len(listener.events); i++ {
		if listener.events[i] == listener.events[i-1] {
			t.Fatalf("Events must strictly alternate, got %q twice at position %d", listener.events[i], i)
		}
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	d := state.NewDirectory(newTestLogger())
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := uuid.New()
			sess := newChatSession(userID)
			d.Register(ctx, sess)
			d.SendToUser(userID, []byte("x"))
			d.Unregister(ctx, sess)
		}()
	}
	wg.Wait()

	if got := len(d.Sessions()); got != 0 {
		t.Errorf("Expected empty directory after churn, got %d sessions", got)
	}
}
