package presence

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"

	"github.com/cory-johannsen/mansion/internal/lobby"
	"github.com/cory-johannsen/mansion/internal/online"
	"github.com/cory-johannsen/mansion/internal/session"
)

const sessionName = "My Game"

type recorder struct {
	creates  chan bool
	destroys chan bool
	finds    chan []online.SearchResult
	joins    chan online.JoinResult
}

func newRecorder() *recorder {
	return &recorder{
		creates:  make(chan bool, 4),
		destroys: make(chan bool, 4),
		finds:    make(chan []online.SearchResult, 4),
		joins:    make(chan online.JoinResult, 4),
	}
}

func (r *recorder) OnCreateSessionComplete(_ string, ok bool)  { r.creates <- ok }
func (r *recorder) OnDestroySessionComplete(_ string, ok bool) { r.destroys <- ok }
func (r *recorder) OnFindSessionsComplete(ok bool, results []online.SearchResult) {
	if !ok {
		results = nil
	}
	r.finds <- results
}
func (r *recorder) OnJoinSessionComplete(_ string, result online.JoinResult) { r.joins <- result }

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		var zero T
		return zero
	}
}

// startLobby runs an in-process lobby server and returns its address.
func startLobby(t *testing.T) string {
	t.Helper()
	logger := zaptest.NewLogger(t)
	svc := lobby.NewService(lobby.NewMemoryStore(), logger, lobby.WithHashCost(bcrypt.MinCost))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	grpcServer := grpc.NewServer()
	lobby.Register(grpcServer, lobby.NewServer(svc, logger))
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(func() { grpcServer.Stop() })

	return lis.Addr().String()
}

func dial(t *testing.T, addr, owner, gameAddr string) (*Backend, *recorder) {
	t.Helper()
	b, err := Dial(addr, Options{GameAddr: gameAddr, OwnerName: owner, RequestTimeout: 2 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	rec := newRecorder()
	b.Subscribe(rec)
	t.Cleanup(func() { _ = b.Close() })
	return b, rec
}

func presenceSettings(slots int) online.Settings {
	return online.Settings{
		Visibility:            online.VisibilityOnline,
		Advertise:             true,
		MaxPublicConnections:  slots,
		AllowJoinInProgress:   true,
		UsesPresence:          true,
		AllowJoinViaPresence:  true,
		UseLobbiesIfAvailable: true,
	}
}

func presenceQuery() online.SearchQuery {
	return online.SearchQuery{Presence: true, MaxResults: 10000}
}

func TestBackend_Name(t *testing.T) {
	b, _ := dial(t, startLobby(t), "Alice", "198.51.100.1:7777")
	assert.Equal(t, "lobby", b.Name())
	assert.Equal(t, online.KindPresence, online.ParseKind(b.Name()))
}

func TestBackend_HostFindJoin(t *testing.T) {
	addr := startLobby(t)
	host, hostRec := dial(t, addr, "Alice", "198.51.100.1:7777")
	require.NoError(t, host.CreateSession(0, sessionName, presenceSettings(5)))
	require.True(t, recv(t, hostRec.creates))

	h, ok := host.NamedSession(sessionName)
	require.True(t, ok)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "Alice", h.OwnerName)
	connect, ok := host.ResolvedConnectString(sessionName)
	require.True(t, ok)
	assert.Equal(t, "198.51.100.1:7777", connect)

	client, clientRec := dial(t, addr, "Bob", "198.51.100.2:7777")
	require.NoError(t, client.FindSessions(0, presenceQuery()))
	results := recv(t, clientRec.finds)
	require.Len(t, results, 1)
	assert.Equal(t, h.ID, results[0].SessionID)
	assert.Equal(t, "Alice", results[0].OwnerName)
	assert.Equal(t, 5, results[0].OpenPublicConnections)

	require.NoError(t, client.JoinSession(0, sessionName, results[0]))
	assert.Equal(t, online.JoinSuccess, recv(t, clientRec.joins))
	connect, ok = client.ResolvedConnectString(sessionName)
	require.True(t, ok)
	assert.Equal(t, "198.51.100.1:7777", connect)

	require.NoError(t, client.JoinSession(0, sessionName, results[0]))
	assert.Equal(t, online.JoinAlreadyInSession, recv(t, clientRec.joins))
}

func TestBackend_JoinFullSession(t *testing.T) {
	addr := startLobby(t)
	host, hostRec := dial(t, addr, "Alice", "198.51.100.1:7777")
	require.NoError(t, host.CreateSession(0, sessionName, presenceSettings(0)))
	require.True(t, recv(t, hostRec.creates))

	client, clientRec := dial(t, addr, "Bob", "198.51.100.2:7777")
	require.NoError(t, client.FindSessions(0, presenceQuery()))
	results := recv(t, clientRec.finds)
	require.Len(t, results, 1)

	require.NoError(t, client.JoinSession(0, sessionName, results[0]))
	assert.Equal(t, online.JoinSessionIsFull, recv(t, clientRec.joins))
	_, ok := client.NamedSession(sessionName)
	assert.False(t, ok)
}

func TestBackend_JoinVanishedSession(t *testing.T) {
	addr := startLobby(t)
	host, hostRec := dial(t, addr, "Alice", "198.51.100.1:7777")
	require.NoError(t, host.CreateSession(0, sessionName, presenceSettings(5)))
	require.True(t, recv(t, hostRec.creates))

	client, clientRec := dial(t, addr, "Bob", "198.51.100.2:7777")
	require.NoError(t, client.FindSessions(0, presenceQuery()))
	results := recv(t, clientRec.finds)
	require.Len(t, results, 1)

	require.NoError(t, host.DestroySession(sessionName))
	require.True(t, recv(t, hostRec.destroys))
	_, ok := host.NamedSession(sessionName)
	assert.False(t, ok)

	require.NoError(t, client.JoinSession(0, sessionName, results[0]))
	assert.Equal(t, online.JoinSessionDoesNotExist, recv(t, clientRec.joins))
}

func TestBackend_DuplicateCreate(t *testing.T) {
	host, rec := dial(t, startLobby(t), "Alice", "198.51.100.1:7777")
	require.NoError(t, host.CreateSession(0, sessionName, presenceSettings(5)))
	require.True(t, recv(t, rec.creates))
	assert.ErrorIs(t, host.CreateSession(0, sessionName, presenceSettings(5)), online.ErrSessionExists)
}

func TestBackend_CreateRejectedByLobby(t *testing.T) {
	host, rec := dial(t, startLobby(t), "Alice", "")
	require.NoError(t, host.CreateSession(0, sessionName, presenceSettings(5)))
	assert.False(t, recv(t, rec.creates))
	_, ok := host.NamedSession(sessionName)
	assert.False(t, ok)
}

func TestBackend_UnreachableLobby(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	client, rec := dial(t, addr, "Bob", "198.51.100.2:7777")
	require.NoError(t, client.FindSessions(0, presenceQuery()))
	assert.Nil(t, recv(t, rec.finds))
}

func TestBackend_DestroyUnknown(t *testing.T) {
	b, _ := dial(t, startLobby(t), "Alice", "198.51.100.1:7777")
	assert.ErrorIs(t, b.DestroySession(sessionName), online.ErrSessionNotFound)
}

func TestBackend_ClosedRejectsRequests(t *testing.T) {
	b, _ := dial(t, startLobby(t), "Alice", "198.51.100.1:7777")
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.CreateSession(0, sessionName, presenceSettings(5)), net.ErrClosed)
	assert.ErrorIs(t, b.FindSessions(0, presenceQuery()), net.ErrClosed)
	assert.NoError(t, b.Close())
}

func TestJoinResultFor(t *testing.T) {
	assert.Equal(t, online.JoinSuccess, JoinResultFor(nil))
	assert.Equal(t, online.JoinSessionDoesNotExist, JoinResultFor(lobby.ErrNotFound))
	assert.Equal(t, online.JoinSessionIsFull, JoinResultFor(lobby.ErrFull))
	assert.Equal(t, online.JoinUnknownError, JoinResultFor(errors.New("unavailable")))
}

type travelLog struct {
	hosts   chan string
	clients chan string
}

func (l *travelLog) HostTravel(mapPath string, mode session.TravelMode) error {
	l.hosts <- mapPath + "?" + string(mode)
	return nil
}

func (l *travelLog) ClientTravel(connect string, _ session.TravelMode) error {
	l.clients <- connect
	return nil
}

func TestCoordinatorOverLobby(t *testing.T) {
	logger := zaptest.NewLogger(t)
	addr := startLobby(t)

	host, _ := dial(t, addr, "Alice", "198.51.100.1:7777")
	hostTravel := &travelLog{hosts: make(chan string, 1), clients: make(chan string, 1)}
	hostCoord := session.NewCoordinator(host, hostTravel, session.Options{}, logger)
	assert.Equal(t, online.KindPresence, hostCoord.Snapshot().Kind)

	require.NoError(t, hostCoord.CreateServer())
	assert.Equal(t, "/Game/TopDown/Maps/Mansion?listen", recv(t, hostTravel.hosts))

	client, _ := dial(t, addr, "Bob", "198.51.100.2:7777")
	clientTravel := &travelLog{hosts: make(chan string, 1), clients: make(chan string, 1)}
	clientCoord := session.NewCoordinator(client, clientTravel, session.Options{}, logger)

	require.NoError(t, clientCoord.JoinServer())
	assert.Equal(t, "198.51.100.1:7777", recv(t, clientTravel.clients))
}

func TestBackend_DestroyJoinedReleasesSlot(t *testing.T) {
	addr := startLobby(t)
	host, hostRec := dial(t, addr, "Alice", "198.51.100.1:7777")
	require.NoError(t, host.CreateSession(0, sessionName, presenceSettings(1)))
	require.True(t, recv(t, hostRec.creates))

	client, clientRec := dial(t, addr, "Bob", "198.51.100.2:7777")
	require.NoError(t, client.FindSessions(0, presenceQuery()))
	results := recv(t, clientRec.finds)
	require.Len(t, results, 1)
	require.NoError(t, client.JoinSession(0, sessionName, results[0]))
	require.Equal(t, online.JoinSuccess, recv(t, clientRec.joins))

	require.NoError(t, client.FindSessions(0, presenceQuery()))
	results = recv(t, clientRec.finds)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].OpenPublicConnections)

	require.NoError(t, client.DestroySession(sessionName))
	assert.True(t, recv(t, clientRec.destroys))
	_, ok := client.NamedSession(sessionName)
	assert.False(t, ok)

	require.NoError(t, client.FindSessions(0, presenceQuery()))
	results = recv(t, clientRec.finds)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].OpenPublicConnections)

	require.NoError(t, client.JoinSession(0, sessionName, results[0]))
	assert.Equal(t, online.JoinSuccess, recv(t, clientRec.joins))
}

func TestCoordinatorOverLobby_RepeatedJoinsKeepSlots(t *testing.T) {
	logger := zaptest.NewLogger(t)
	addr := startLobby(t)

	host, _ := dial(t, addr, "Alice", "198.51.100.1:7777")
	hostCoord := session.NewCoordinator(host, &travelLog{hosts: make(chan string, 1)}, session.Options{}, logger)
	require.NoError(t, hostCoord.CreateServer())
	assert.Eventually(t, func() bool {
		return hostCoord.Snapshot().Host == session.StateHosting
	}, 5*time.Second, 10*time.Millisecond)

	client, _ := dial(t, addr, "Bob", "198.51.100.2:7777")
	clientTravel := &travelLog{clients: make(chan string, 1)}
	clientCoord := session.NewCoordinator(client, clientTravel, session.Options{}, logger)

	// More joins than the hosted session has slots; each join after the fifth
	// depends on earlier ones being given back.
	for i := 0; i < 7; i++ {
		require.NoError(t, clientCoord.JoinServer(), "join %d", i)
		assert.Equal(t, "198.51.100.1:7777", recv(t, clientTravel.clients), "join %d", i)
		require.Eventually(t, func() bool {
			return clientCoord.Snapshot().Client == session.StateIdle
		}, 5*time.Second, 10*time.Millisecond)
	}
}
