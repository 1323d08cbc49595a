// Package presence implements an online session backend on top of the lobby
// service. Hosts register their sessions with the lobby, and clients search
// it and reserve slots before travelling.
package presence

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cory-johannsen/mansion/internal/lobby"
	"github.com/cory-johannsen/mansion/internal/online"
)

// ProviderName is the name reported by Name.
const ProviderName = "lobby"

const defaultRequestTimeout = 5 * time.Second

// Options configure a presence Backend.
type Options struct {
	// GameAddr is the connect address registered for hosted sessions.
	GameAddr string
	// OwnerName is the player name registered for hosted sessions.
	OwnerName string
	// RequestTimeout bounds every lobby RPC.
	RequestTimeout time.Duration
}

type hostedSession struct {
	handle online.Handle
	token  string
}

// Backend is an online.Backend backed by the lobby service.
type Backend struct {
	client *lobby.Client
	conn   *grpc.ClientConn
	opts   Options
	logger *zap.Logger
	notify online.Notifier

	mu        sync.Mutex
	hosted    map[string]hostedSession
	joined    map[string]online.SearchResult
	pending   map[string]bool
	searching bool
	closed    bool
	wg        sync.WaitGroup
}

// New creates a Backend using client.
//
// Precondition: client and logger must be non-nil; opts.GameAddr must be non-empty.
func New(client *lobby.Client, opts Options, logger *zap.Logger) *Backend {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	return &Backend{
		client:  client,
		opts:    opts,
		logger:  logger.With(zap.String("component", "presence")),
		hosted:  make(map[string]hostedSession),
		joined:  make(map[string]online.SearchResult),
		pending: make(map[string]bool),
	}
}

// Dial connects to the lobby at addr and returns a Backend that owns the
// connection.
//
// Postcondition: Close releases the connection.
func Dial(addr string, opts Options, logger *zap.Logger) (*Backend, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to lobby %s: %w", addr, err)
	}
	b := New(lobby.NewClient(conn), opts, logger)
	b.conn = conn
	return b, nil
}

// Name implements online.Backend.
func (b *Backend) Name() string { return ProviderName }

// Subscribe implements online.Backend.
func (b *Backend) Subscribe(h online.CompletionHandler) { b.notify.Subscribe(h) }

func (b *Backend) async(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func (b *Backend) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.opts.RequestTimeout)
}

// CreateSession registers name with the lobby.
func (b *Backend) CreateSession(userIndex int, name string, settings online.Settings) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return net.ErrClosed
	}
	if _, ok := b.hosted[name]; ok {
		return fmt.Errorf("%w: %q", online.ErrSessionExists, name)
	}
	if _, ok := b.joined[name]; ok {
		return fmt.Errorf("%w: %q", online.ErrSessionExists, name)
	}
	if b.pending[name] {
		return fmt.Errorf("%w: %q", online.ErrRequestPending, name)
	}
	b.pending[name] = true

	b.async(func() {
		ctx, cancel := b.requestContext()
		defer cancel()
		advert, token, err := b.client.Create(ctx, lobby.CreateRequest{
			Name:      name,
			OwnerName: b.opts.OwnerName,
			Address:   b.opts.GameAddr,
			Settings:  settings,
		})

		b.mu.Lock()
		delete(b.pending, name)
		if err != nil {
			b.mu.Unlock()
			b.logger.Error("registering session with lobby",
				zap.String("session", name),
				zap.Int("user_index", userIndex),
				zap.Error(err),
			)
			b.notify.CreateComplete(name, false)
			return
		}
		b.hosted[name] = hostedSession{
			handle: online.Handle{
				Name:      name,
				ID:        advert.SessionID,
				OwnerName: advert.OwnerName,
				Address:   advert.Address,
				Settings:  advert.Settings,
			},
			token: token,
		}
		b.mu.Unlock()

		b.logger.Info("session registered with lobby",
			zap.String("session", name),
			zap.String("session_id", advert.SessionID),
		)
		b.notify.CreateComplete(name, true)
	})
	return nil
}

// FindSessions queries the lobby for sessions.
func (b *Backend) FindSessions(userIndex int, query online.SearchQuery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return net.ErrClosed
	}
	if b.searching {
		return online.ErrRequestPending
	}
	b.searching = true

	b.async(func() {
		ctx, cancel := b.requestContext()
		defer cancel()
		adverts, err := b.client.Find(ctx, query)

		b.mu.Lock()
		b.searching = false
		b.mu.Unlock()

		if err != nil {
			b.logger.Error("lobby search failed", zap.Int("user_index", userIndex), zap.Error(err))
			b.notify.FindComplete(false, nil)
			return
		}
		results := make([]online.SearchResult, 0, len(adverts))
		for _, a := range adverts {
			results = append(results, a.SearchResult())
		}
		b.notify.FindComplete(true, results)
	})
	return nil
}

// JoinSession reserves a slot in the session described by result and records
// it under name.
func (b *Backend) JoinSession(userIndex int, name string, result online.SearchResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return net.ErrClosed
	}
	if b.pending[name] {
		return fmt.Errorf("%w: %q", online.ErrRequestPending, name)
	}
	_, hosting := b.hosted[name]
	_, joined := b.joined[name]
	if hosting || joined {
		b.async(func() { b.notify.JoinComplete(name, online.JoinAlreadyInSession) })
		return nil
	}
	b.pending[name] = true

	b.async(func() {
		ctx, cancel := b.requestContext()
		defer cancel()
		advert, err := b.client.Join(ctx, result.SessionID)

		outcome := JoinResultFor(err)
		if err == nil && advert.Address == "" {
			outcome = online.JoinCouldNotRetrieveAddress
		}

		b.mu.Lock()
		delete(b.pending, name)
		if outcome == online.JoinSuccess {
			b.joined[name] = advert.SearchResult()
		}
		b.mu.Unlock()

		b.logger.Info("joining lobby session",
			zap.String("session", name),
			zap.String("session_id", result.SessionID),
			zap.Int("user_index", userIndex),
			zap.String("owner", result.OwnerName),
			zap.Stringer("result", outcome),
			zap.Error(err),
		)
		b.notify.JoinComplete(name, outcome)
	})
	return nil
}

// JoinResultFor maps a lobby Join error to a join result.
func JoinResultFor(err error) online.JoinResult {
	switch {
	case err == nil:
		return online.JoinSuccess
	case errors.Is(err, lobby.ErrNotFound), errors.Is(err, lobby.ErrInvalidArgument):
		return online.JoinSessionDoesNotExist
	case errors.Is(err, lobby.ErrFull):
		return online.JoinSessionIsFull
	default:
		return online.JoinUnknownError
	}
}

// DestroySession unregisters a hosted session, or gives back the lobby slot
// of a joined one.
func (b *Backend) DestroySession(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return net.ErrClosed
	}
	hs, hosting := b.hosted[name]
	js, joined := b.joined[name]
	if !hosting && !joined {
		return fmt.Errorf("%w: %q", online.ErrSessionNotFound, name)
	}
	if b.pending[name] {
		return fmt.Errorf("%w: %q", online.ErrRequestPending, name)
	}
	b.pending[name] = true

	b.async(func() {
		ctx, cancel := b.requestContext()
		defer cancel()
		var err error
		if hosting {
			err = b.client.Destroy(ctx, hs.handle.ID, hs.token)
		} else {
			_, err = b.client.Leave(ctx, js.SessionID)
		}
		// A session the lobby no longer knows needs no cleanup.
		ok := err == nil || errors.Is(err, lobby.ErrNotFound)
		if !ok {
			b.logger.Error("releasing session in lobby",
				zap.String("session", name),
				zap.Bool("hosting", hosting),
				zap.Error(err),
			)
		}
		b.mu.Lock()
		delete(b.pending, name)
		if ok {
			delete(b.hosted, name)
			delete(b.joined, name)
		}
		b.mu.Unlock()
		b.notify.DestroyComplete(name, ok)
	})
	return nil
}

// NamedSession implements online.Backend.
func (b *Backend) NamedSession(name string) (online.Handle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hs, ok := b.hosted[name]; ok {
		return hs.handle, true
	}
	if r, ok := b.joined[name]; ok {
		return online.Handle{
			Name:      name,
			ID:        r.SessionID,
			OwnerName: r.OwnerName,
			Address:   r.ConnectAddress,
			Settings:  r.Settings,
		}, true
	}
	return online.Handle{}, false
}

// ResolvedConnectString implements online.Backend.
func (b *Backend) ResolvedConnectString(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.joined[name]; ok && r.ConnectAddress != "" {
		return r.ConnectAddress, true
	}
	if hs, ok := b.hosted[name]; ok && hs.handle.Address != "" {
		return hs.handle.Address, true
	}
	return "", false
}

// Close waits for outstanding requests, unregisters hosted sessions, gives
// back joined slots and releases the lobby connection if the Backend owns it.
//
// Postcondition: Further requests fail with net.ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()

	b.mu.Lock()
	hosted, joined := b.hosted, b.joined
	b.hosted = make(map[string]hostedSession)
	b.joined = make(map[string]online.SearchResult)
	b.mu.Unlock()

	for name, hs := range hosted {
		ctx, cancel := b.requestContext()
		if err := b.client.Destroy(ctx, hs.handle.ID, hs.token); err != nil {
			b.logger.Warn("unregistering session on close", zap.String("session", name), zap.Error(err))
		}
		cancel()
	}
	for name, r := range joined {
		ctx, cancel := b.requestContext()
		if _, err := b.client.Leave(ctx, r.SessionID); err != nil {
			b.logger.Warn("leaving session on close", zap.String("session", name), zap.Error(err))
		}
		cancel()
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			return fmt.Errorf("closing lobby connection: %w", err)
		}
	}
	return nil
}
