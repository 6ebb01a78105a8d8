package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/codecollab/realtime/internal/store"
	"github.com/codecollab/realtime/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOwnerAlwaysHoldsAdmin(t *testing.T) {
	mem := memory.New()
	resourceID, ownerID := uuid.New(), uuid.New()
	mem.SetOwner(resourceID, ownerID)

	gate := NewGate(mem, discardLogger())
	assert.True(t, gate.CheckLevel(context.Background(), resourceID, ownerID, store.LevelAdmin))
}

func TestGrantLevelOrdering(t *testing.T) {
	mem := memory.New()
	resourceID := uuid.New()
	mem.SetOwner(resourceID, uuid.New())

	tests := []struct {
		name    string
		granted store.Level
		min     store.Level
		want    bool
	}{
		{"viewer satisfies viewer", store.LevelViewer, store.LevelViewer, true},
		{"viewer denied editor", store.LevelViewer, store.LevelEditor, false},
		{"editor satisfies editor", store.LevelEditor, store.LevelEditor, true},
		{"editor satisfies viewer", store.LevelEditor, store.LevelViewer, true},
		{"editor denied admin", store.LevelEditor, store.LevelAdmin, false},
		{"admin satisfies admin", store.LevelAdmin, store.LevelAdmin, true},
	}

	gate := NewGate(mem, discardLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID := uuid.New()
			mem.SetGrant(resourceID, userID, tt.granted)
			got := gate.CheckLevel(context.Background(), resourceID, userID, tt.min)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNoGrantDenies(t *testing.T) {
	mem := memory.New()
	resourceID := uuid.New()
	mem.SetOwner(resourceID, uuid.New())

	gate := NewGate(mem, discardLogger())
	assert.False(t, gate.CheckLevel(context.Background(), resourceID, uuid.New(), store.LevelViewer))
}

func TestRevokedGrantDenies(t *testing.T) {
	mem := memory.New()
	resourceID, userID := uuid.New(), uuid.New()
	mem.SetOwner(resourceID, uuid.New())
	mem.SetGrant(resourceID, userID, store.LevelEditor)

	gate := NewGate(mem, discardLogger())
	ctx := context.Background()
	assert.True(t, gate.CheckLevel(ctx, resourceID, userID, store.LevelEditor))

	mem.RevokeGrant(resourceID, userID)
	assert.False(t, gate.CheckLevel(ctx, resourceID, userID, store.LevelEditor))
}

type failingPerms struct{}

func (failingPerms) ResourceOwner(ctx context.Context, resourceID uuid.UUID) (uuid.UUID, bool, error) {
	return uuid.Nil, false, errors.New("store unavailable")
}

func (failingPerms) GrantLevel(ctx context.Context, resourceID, userID uuid.UUID) (store.Level, bool, error) {
	return 0, false, errors.New("store unavailable")
}

func TestStoreFailureDenies(t *testing.T) {
	gate := NewGate(failingPerms{}, discardLogger())
	assert.False(t, gate.CheckLevel(context.Background(), uuid.New(), uuid.New(), store.LevelViewer))
}
