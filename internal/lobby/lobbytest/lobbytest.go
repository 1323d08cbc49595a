// Package lobbytest provides a behavioural test suite shared by every
// lobby.Store implementation.
package lobbytest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/mansion/internal/lobby"
	"github.com/cory-johannsen/mansion/internal/online"
)

// StoreFactory creates an empty Store for one subtest.
type StoreFactory func(t *testing.T) lobby.Store

// RunStoreTests runs the complete Store suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, factory) })
	t.Run("InsertDuplicate", func(t *testing.T) { testInsertDuplicate(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("FindFiltersAndOrders", func(t *testing.T) { testFindFiltersAndOrders(t, factory) })
	t.Run("FindLimit", func(t *testing.T) { testFindLimit(t, factory) })
	t.Run("ReserveDecrements", func(t *testing.T) { testReserveDecrements(t, factory) })
	t.Run("ReserveMissing", func(t *testing.T) { testReserveMissing(t, factory) })
	t.Run("ReserveConcurrent", func(t *testing.T) { testReserveConcurrent(t, factory) })
	t.Run("ReleaseRestoresSlot", func(t *testing.T) { testReleaseRestoresSlot(t, factory) })
	t.Run("ReleaseMissing", func(t *testing.T) { testReleaseMissing(t, factory) })
	t.Run("JoinLeaveCycles", func(t *testing.T) { testJoinLeaveCycles(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
}

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// NewRecord returns a valid advertised online record created at epoch+offset.
func NewRecord(name string, offset time.Duration) lobby.Record {
	return lobby.Record{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerName: "owner-" + name,
		Address:   "203.0.113.7:7777",
		TokenHash: []byte("$2a$04$abcdefghijklmnopqrstuuN3lI3cYvnPZ8C3PWgq3hTNJ9Y2m2pS."),
		Settings: online.Settings{
			Visibility:           online.VisibilityOnline,
			Advertise:            true,
			MaxPublicConnections: 5,
			AllowJoinInProgress:  true,
			UsesPresence:         true,
			AllowJoinViaPresence: true,
		},
		OpenSlots: 5,
		CreatedAt: epoch.Add(offset),
	}
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}

func testInsertAndGet(t *testing.T, factory StoreFactory) {
	s := factory(t)
	r := NewRecord("alpha", 0)
	require.NoError(t, s.Insert(ctx(t), r))

	got, err := s.Get(ctx(t), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Name, got.Name)
	assert.Equal(t, r.OwnerName, got.OwnerName)
	assert.Equal(t, r.Address, got.Address)
	assert.Equal(t, r.TokenHash, got.TokenHash)
	assert.Equal(t, r.Settings, got.Settings)
	assert.Equal(t, r.OpenSlots, got.OpenSlots)
	assert.True(t, r.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", got.CreatedAt, r.CreatedAt)
}

func testInsertDuplicate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	r := NewRecord("alpha", 0)
	require.NoError(t, s.Insert(ctx(t), r))
	assert.ErrorIs(t, s.Insert(ctx(t), r), lobby.ErrExists)
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	_, err := s.Get(ctx(t), uuid.NewString())
	assert.ErrorIs(t, err, lobby.ErrNotFound)
}

func testFindFiltersAndOrders(t *testing.T, factory StoreFactory) {
	s := factory(t)

	newest := NewRecord("newest", 3*time.Second)
	oldest := NewRecord("oldest", time.Second)
	hidden := NewRecord("hidden", 0)
	hidden.Settings.Advertise = false
	lan := NewRecord("lan", 0)
	lan.Settings.Visibility = online.VisibilityLAN
	lan.Settings.UsesPresence = false
	noPresence := NewRecord("no-presence", 2*time.Second)
	noPresence.Settings.UsesPresence = false

	for _, r := range []lobby.Record{newest, oldest, hidden, lan, noPresence} {
		require.NoError(t, s.Insert(ctx(t), r))
	}

	got, err := s.Find(ctx(t), lobby.Filter{Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest", "no-presence", "newest"}, names(got))

	got, err = s.Find(ctx(t), lobby.Filter{PresenceOnly: true, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest", "newest"}, names(got))

	got, err = s.Find(ctx(t), lobby.Filter{LAN: true, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"lan"}, names(got))
}

func testFindLimit(t *testing.T, factory StoreFactory) {
	s := factory(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(ctx(t), NewRecord(fmt.Sprintf("s%d", i), time.Duration(i)*time.Second)))
	}
	got, err := s.Find(ctx(t), lobby.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"s0", "s1"}, names(got))
}

func testReserveDecrements(t *testing.T, factory StoreFactory) {
	s := factory(t)
	r := NewRecord("alpha", 0)
	r.OpenSlots = 2
	require.NoError(t, s.Insert(ctx(t), r))

	got, err := s.Reserve(ctx(t), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.OpenSlots)
	assert.Equal(t, r.Address, got.Address)

	got, err = s.Reserve(ctx(t), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.OpenSlots)

	_, err = s.Reserve(ctx(t), r.ID)
	assert.ErrorIs(t, err, lobby.ErrFull)

	stored, err := s.Get(ctx(t), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.OpenSlots)
}

func testReserveMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	_, err := s.Reserve(ctx(t), uuid.NewString())
	assert.ErrorIs(t, err, lobby.ErrNotFound)
}

func testReserveConcurrent(t *testing.T, factory StoreFactory) {
	s := factory(t)
	r := NewRecord("contended", 0)
	r.OpenSlots = 3
	require.NoError(t, s.Insert(ctx(t), r))

	const joiners = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		full    int
	)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Reserve(context.Background(), r.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case assert.ErrorIs(t, err, lobby.ErrFull):
				full++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, granted)
	assert.Equal(t, joiners-3, full)
}

func testReleaseRestoresSlot(t *testing.T, factory StoreFactory) {
	s := factory(t)
	r := NewRecord("alpha", 0)
	r.Settings.MaxPublicConnections = 2
	r.OpenSlots = 2
	require.NoError(t, s.Insert(ctx(t), r))

	for i := 0; i < 2; i++ {
		_, err := s.Reserve(ctx(t), r.ID)
		require.NoError(t, err)
	}

	got, err := s.Release(ctx(t), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.OpenSlots)
	assert.Equal(t, r.Address, got.Address)

	got, err = s.Release(ctx(t), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.OpenSlots)

	// Capped at the session capacity.
	got, err = s.Release(ctx(t), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.OpenSlots)

	stored, err := s.Get(ctx(t), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.OpenSlots)
}

func testReleaseMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	_, err := s.Release(ctx(t), uuid.NewString())
	assert.ErrorIs(t, err, lobby.ErrNotFound)
}

func testJoinLeaveCycles(t *testing.T, factory StoreFactory) {
	s := factory(t)
	r := NewRecord("alpha", 0)
	require.NoError(t, s.Insert(ctx(t), r))

	for i := 0; i < 2*r.Settings.MaxPublicConnections; i++ {
		_, err := s.Reserve(ctx(t), r.ID)
		require.NoError(t, err, "join %d", i)
		_, err = s.Release(ctx(t), r.ID)
		require.NoError(t, err, "leave %d", i)
	}
	stored, err := s.Get(ctx(t), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Settings.MaxPublicConnections, stored.OpenSlots)
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	r := NewRecord("alpha", 0)
	require.NoError(t, s.Insert(ctx(t), r))
	require.NoError(t, s.Delete(ctx(t), r.ID))

	_, err := s.Get(ctx(t), r.ID)
	assert.ErrorIs(t, err, lobby.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx(t), r.ID), lobby.ErrNotFound)

	got, err := s.Find(ctx(t), lobby.Filter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func names(rs []lobby.Record) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Name)
	}
	return out
}
