package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/mansion/internal/lobby"
	"github.com/cory-johannsen/mansion/internal/lobby/lobbytest"
	"github.com/cory-johannsen/mansion/internal/storage/postgres"
	"github.com/cory-johannsen/mansion/internal/testutil"
)

func TestLobbyRepository(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)

	lobbytest.RunStoreTests(t, func(t *testing.T) lobby.Store {
		pc.Truncate(t)
		return postgres.NewLobbyRepository(pc.RawPool)
	})
}

func TestLobbyRepository_ServiceDestroy(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)

	svc := lobby.NewService(postgres.NewLobbyRepository(pc.RawPool), zaptest.NewLogger(t))
	ctx := context.Background()
	rec, token, err := svc.Create(ctx, lobby.CreateRequest{
		Name:      "My Game",
		OwnerName: "Alice",
		Address:   "203.0.113.9:7777",
		Settings:  lobbytest.NewRecord("x", 0).Settings,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Destroy(ctx, rec.ID, "forged"), lobby.ErrPermissionDenied)
	require.NoError(t, svc.Destroy(ctx, rec.ID, token))
	_, err = svc.Join(ctx, rec.ID)
	assert.ErrorIs(t, err, lobby.ErrNotFound)
}

func TestPoolHealth(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	assert.NoError(t, pc.Pool.Health(context.Background(), 2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pc.Pool.Watch(ctx, 10*time.Millisecond, time.Second) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}

func TestNewPoolUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping connection retry test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := postgres.NewPool(ctx, testutil.UnreachableDatabase(), zaptest.NewLogger(t))
	assert.Error(t, err)
}
