// Package lan implements an offline session backend that advertises hosted
// sessions on a UDP beacon and discovers them with a broadcast query.
package lan

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mansion/internal/online"
	"github.com/cory-johannsen/mansion/internal/online/wire"
)

// ProviderName is the name reported by Name.
const ProviderName = "NULL"

const (
	defaultSearchTimeout = 2 * time.Second
	maxDatagram          = 2048
)

// Options configure a LAN Backend.
type Options struct {
	// BeaconAddr is the UDP address hosted sessions answer queries on.
	BeaconAddr string
	// DiscoveryAddr is where queries are sent, usually a broadcast address.
	DiscoveryAddr string
	// GameAddr is the connect address advertised for hosted sessions.
	GameAddr string
	// OwnerName is the player name advertised for hosted sessions.
	OwnerName string
	// SearchTimeout bounds how long a search collects replies.
	SearchTimeout time.Duration
}

type hostedSession struct {
	handle online.Handle
	conn   net.PacketConn
}

// Backend is an online.Backend for LAN play.
type Backend struct {
	opts   Options
	logger *zap.Logger
	notify online.Notifier

	mu        sync.Mutex
	hosted    map[string]*hostedSession
	joined    map[string]online.SearchResult
	pending   map[string]bool
	searching bool
	closed    bool
	wg        sync.WaitGroup
}

// New creates a LAN Backend.
//
// Precondition: opts.BeaconAddr, opts.DiscoveryAddr and opts.GameAddr must be non-empty.
func New(opts Options, logger *zap.Logger) *Backend {
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = defaultSearchTimeout
	}
	return &Backend{
		opts:    opts,
		logger:  logger.With(zap.String("component", "lan")),
		hosted:  make(map[string]*hostedSession),
		joined:  make(map[string]online.SearchResult),
		pending: make(map[string]bool),
	}
}

// Name implements online.Backend.
func (b *Backend) Name() string { return ProviderName }

// Subscribe implements online.Backend.
func (b *Backend) Subscribe(h online.CompletionHandler) { b.notify.Subscribe(h) }

// async runs fn on a tracked goroutine so Close can wait for it.
func (b *Backend) async(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// CreateSession binds the beacon for name and starts answering queries.
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
		conn, err := net.ListenPacket("udp4", b.opts.BeaconAddr)

		b.mu.Lock()
		delete(b.pending, name)
		if err == nil && b.closed {
			_ = conn.Close()
			err = net.ErrClosed
		}
		if err != nil {
			b.mu.Unlock()
			b.logger.Error("binding session beacon",
				zap.String("session", name),
				zap.String("addr", b.opts.BeaconAddr),
				zap.Error(err),
			)
			b.notify.CreateComplete(name, false)
			return
		}
		hs := &hostedSession{
			handle: online.Handle{
				Name:      name,
				ID:        uuid.NewString(),
				OwnerName: b.opts.OwnerName,
				Address:   b.opts.GameAddr,
				Settings:  settings,
			},
			conn: conn,
		}
		b.hosted[name] = hs
		b.mu.Unlock()

		b.logger.Info("session beacon listening",
			zap.String("session", name),
			zap.Int("user_index", userIndex),
			zap.String("beacon", conn.LocalAddr().String()),
		)
		b.async(func() { b.serve(hs) })
		b.notify.CreateComplete(name, true)
	})
	return nil
}

// serve answers discovery queries until the beacon is closed.
func (b *Backend) serve(hs *hostedSession) {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := hs.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				b.logger.Warn("beacon read failed", zap.String("session", hs.handle.Name), zap.Error(err))
			}
			return
		}
		st, err := wire.Unmarshal(buf[:n])
		if err != nil || wire.Type(st) != wire.TypeQuery {
			continue
		}
		q, err := wire.DecodeQuery(st)
		if err != nil || !hs.handle.Settings.Advertise {
			continue
		}
		reply, err := wire.EncodeAdvert(wire.Advert{
			SessionID:             hs.handle.ID,
			SessionName:           hs.handle.Name,
			OwnerName:             hs.handle.OwnerName,
			Address:               hs.handle.Address,
			Settings:              hs.handle.Settings,
			OpenPublicConnections: hs.handle.Settings.MaxPublicConnections,
			Nonce:                 q.Nonce,
		})
		if err != nil {
			b.logger.Error("encoding advert", zap.Error(err))
			continue
		}
		data, err := wire.Marshal(reply)
		if err != nil {
			continue
		}
		if _, err := hs.conn.WriteTo(data, from); err != nil {
			b.logger.Debug("advert reply failed", zap.String("to", from.String()), zap.Error(err))
		}
	}
}

// BeaconAddr returns the bound beacon address of a hosted session.
func (b *Backend) BeaconAddr(name string) (net.Addr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs, ok := b.hosted[name]
	if !ok {
		return nil, false
	}
	return hs.conn.LocalAddr(), true
}

// FindSessions broadcasts one query and collects adverts until the search
// timeout or the result cap. The presence filter does not apply on a LAN.
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
		results, err := b.discover(query)
		b.mu.Lock()
		b.searching = false
		b.mu.Unlock()
		if err != nil {
			b.logger.Error("lan discovery failed", zap.Int("user_index", userIndex), zap.Error(err))
			b.notify.FindComplete(false, nil)
			return
		}
		b.notify.FindComplete(true, results)
	})
	return nil
}

func (b *Backend) discover(query online.SearchQuery) ([]online.SearchResult, error) {
	limit := query.MaxResults
	if limit <= 0 {
		limit = 10000
	}
	dst, err := net.ResolveUDPAddr("udp4", b.opts.DiscoveryAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving discovery address %q: %w", b.opts.DiscoveryAddr, err)
	}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("opening discovery socket: %w", err)
	}
	defer conn.Close()

	nonce := uuid.NewString()
	st, err := wire.EncodeQuery(wire.Query{Nonce: nonce, LANOnly: true, Presence: query.Presence})
	if err != nil {
		return nil, err
	}
	data, err := wire.Marshal(st)
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteTo(data, dst); err != nil {
		return nil, fmt.Errorf("sending discovery query to %s: %w", dst, err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(b.opts.SearchTimeout)); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}

	var results []online.SearchResult
	seen := make(map[string]bool)
	buf := make([]byte, maxDatagram)
	for len(results) < limit {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				break
			}
			return nil, fmt.Errorf("reading adverts: %w", err)
		}
		msg, err := wire.Unmarshal(buf[:n])
		if err != nil || wire.Type(msg) != wire.TypeAdvert {
			continue
		}
		a, err := wire.DecodeAdvert(msg)
		if err != nil || a.Nonce != nonce || seen[a.SessionID] {
			continue
		}
		seen[a.SessionID] = true
		results = append(results, a.SearchResult())
	}
	return results, nil
}

// JoinSession records result under name. A LAN host does not track joins, so
// the join succeeds whenever the advert carried an address.
func (b *Backend) JoinSession(userIndex int, name string, result online.SearchResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return net.ErrClosed
	}
	outcome := online.JoinSuccess
	_, hosting := b.hosted[name]
	_, joined := b.joined[name]
	switch {
	case hosting || joined:
		outcome = online.JoinAlreadyInSession
	case result.ConnectAddress == "":
		outcome = online.JoinCouldNotRetrieveAddress
	default:
		b.joined[name] = result
	}
	b.logger.Info("joining lan session",
		zap.String("session", name),
		zap.Int("user_index", userIndex),
		zap.String("owner", result.OwnerName),
		zap.Stringer("result", outcome),
	)
	b.async(func() { b.notify.JoinComplete(name, outcome) })
	return nil
}

// DestroySession stops advertising a hosted session or forgets a joined one.
func (b *Backend) DestroySession(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return net.ErrClosed
	}
	hs, hosting := b.hosted[name]
	_, joined := b.joined[name]
	if !hosting && !joined {
		return fmt.Errorf("%w: %q", online.ErrSessionNotFound, name)
	}
	if b.pending[name] {
		return fmt.Errorf("%w: %q", online.ErrRequestPending, name)
	}
	b.pending[name] = true

	b.async(func() {
		if hosting {
			if err := hs.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				b.logger.Warn("closing session beacon", zap.String("session", name), zap.Error(err))
			}
		}
		b.mu.Lock()
		delete(b.hosted, name)
		delete(b.joined, name)
		delete(b.pending, name)
		b.mu.Unlock()
		b.notify.DestroyComplete(name, true)
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

// Close stops every beacon and waits for outstanding work.
//
// Postcondition: Further requests fail with net.ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for name, hs := range b.hosted {
		_ = hs.conn.Close()
		delete(b.hosted, name)
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
