// Package session coordinates the lifecycle of the single multiplayer session a
// process hosts or joins: creating and advertising it, discovering and joining a
// remote one, tearing it down, and handing the resolved destination to a
// Traveler.
package session

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mansion/internal/online"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultSessionName      = "My Game"
	DefaultHostMap          = "/Game/TopDown/Maps/Mansion"
	DefaultMaxSearchResults = 10000
)

// TravelMode qualifies a travel directive.
type TravelMode string

const (
	// TravelListen opens the map as a listen server.
	TravelListen TravelMode = "listen"
	// TravelAbsolute connects to a remote host, discarding the current map.
	TravelAbsolute TravelMode = "absolute"
)

// Traveler performs the map or server travel once a session is ready.
//
// Implementations may call back into the Coordinator; it never holds its lock
// while a Traveler runs.
type Traveler interface {
	HostTravel(mapPath string, mode TravelMode) error
	ClientTravel(connect string, mode TravelMode) error
}

// State is the position of one coordinator track.
type State int

const (
	StateIdle State = iota
	StateCreating
	StateHosting
	StateDestroying
	StateSearching
	StateJoining
	StateLeaving
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreating:
		return "creating"
	case StateHosting:
		return "hosting"
	case StateDestroying:
		return "destroying"
	case StateSearching:
		return "searching"
	case StateJoining:
		return "joining"
	case StateLeaving:
		return "leaving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Operation names carried by Events.
const (
	OpCreate  = "create"
	OpDestroy = "destroy"
	OpFind    = "find"
	OpJoin    = "join"
	OpLeave   = "leave"
)

// Event reports the outcome of a coordinator step.
type Event struct {
	Op     string
	Host   State
	Client State
	// ConnectString is set on a successful join.
	ConnectString string
	// Err is nil for successful outcomes.
	Err error
}

// Options configure a Coordinator.
type Options struct {
	// SessionName is the fixed name of the one session this process manages.
	SessionName string
	// HostMap is the map path opened after a session is created.
	HostMap string
	// UserIndex is the local player index passed to the backend.
	UserIndex int
	// MaxSearchResults caps discovery results.
	MaxSearchResults int
}

func (o Options) withDefaults() Options {
	if o.SessionName == "" {
		o.SessionName = DefaultSessionName
	}
	if o.HostMap == "" {
		o.HostMap = DefaultHostMap
	}
	if o.MaxSearchResults <= 0 {
		o.MaxSearchResults = DefaultMaxSearchResults
	}
	return o
}

// Snapshot is a point-in-time view of the coordinator.
type Snapshot struct {
	SessionName string
	Kind        online.Kind
	Host        State
	Client      State
	// Handle is nil unless a session is hosted.
	Handle *online.Handle
}

// Coordinator drives session create, find, join and destroy requests against a
// Backend and reacts to the backend's completions.
//
// Requests and completions are serialized by a single mutex. The host track
// (create/destroy) and the client track (find/join) advance independently.
type Coordinator struct {
	mu       sync.Mutex
	backend  online.Backend
	kind     online.Kind
	resolver *Resolver
	traveler Traveler
	opts     Options
	logger   *zap.Logger

	host     State
	client   State
	handle   *online.Handle
	settings online.Settings
	// recreate is set while a destroy was issued on behalf of a create.
	recreate bool
	// rejoin is set while a leave was issued on behalf of a join.
	rejoin bool

	subMu       sync.Mutex
	subscribers map[chan<- Event]struct{}
}

// NewCoordinator creates a Coordinator bound to backend and subscribes it to the
// backend's completions. The backend kind is resolved once, here.
//
// Precondition: traveler and logger must be non-nil. backend may be nil, in
// which case every request fails with ErrBackendUnavailable.
// Postcondition: Both tracks are Idle.
func NewCoordinator(backend online.Backend, traveler Traveler, opts Options, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		backend:     backend,
		kind:        online.KindUnsupported,
		resolver:    NewResolver(backend),
		traveler:    traveler,
		opts:        opts.withDefaults(),
		logger:      logger.With(zap.String("component", "session")),
		subscribers: make(map[chan<- Event]struct{}),
	}
	if backend != nil {
		c.kind = online.ParseKind(backend.Name())
		backend.Subscribe(c)
		c.logger.Info("session backend attached",
			zap.String("backend", backend.Name()),
			zap.Stringer("kind", c.kind),
		)
	}
	return c
}

// Subscribe registers ch to receive Events. Sends are non-blocking; a full
// channel misses the event.
//
// Precondition: ch must not be nil.
func (c *Coordinator) Subscribe(ch chan<- Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers[ch] = struct{}{}
}

// Unsubscribe removes ch.
func (c *Coordinator) Unsubscribe(ch chan<- Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscribers, ch)
}

// Snapshot returns the current coordinator state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		SessionName: c.opts.SessionName,
		Kind:        c.kind,
		Host:        c.host,
		Client:      c.client,
	}
	if c.handle != nil {
		h := *c.handle
		s.Handle = &h
	}
	return s
}

// CreateServer starts hosting the session. If the backend still holds a session
// under the same name it is destroyed first and the create follows from the
// destroy completion.
//
// Postcondition: Returns nil when a create or destroy request was issued. The
// outcome is reported through logs and Events.
func (c *Coordinator) CreateServer() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("create server requested", zap.String("session", c.opts.SessionName))
	if c.backend == nil {
		return c.failLocked(OpCreate, ErrBackendUnavailable)
	}
	if c.host != StateIdle || c.client == StateLeaving {
		c.logger.Warn("create server ignored",
			zap.Stringer("host", c.host),
			zap.Stringer("client", c.client),
		)
		return ErrRequestInFlight
	}
	return c.createLocked(false)
}

// createLocked issues the create, or a destroy when a session lingers. retry
// marks the single automatic create that follows a destroy.
func (c *Coordinator) createLocked(retry bool) error {
	name := c.opts.SessionName

	if _, exists := c.backend.NamedSession(name); exists {
		if retry {
			c.host = StateIdle
			return c.failLocked(OpCreate, fmt.Errorf("%w: %q", ErrLingeringSession, name))
		}
		c.logger.Warn("session already exists, destroying before create", zap.String("session", name))
		if err := c.backend.DestroySession(name); err != nil {
			c.host = StateIdle
			return c.failLocked(OpDestroy, fmt.Errorf("%w: %w", ErrDestroyFailed, err))
		}
		c.host = StateDestroying
		c.recreate = true
		return nil
	}

	settings, err := SelectConfig(c.kind)
	if err != nil {
		c.host = StateIdle
		return c.failLocked(OpCreate, err)
	}
	fields := []zap.Field{zap.String("session", name)}
	for _, kv := range settings.Fields() {
		fields = append(fields, zap.String(kv[0], kv[1]))
	}
	c.logger.Info("session settings", fields...)

	if err := c.backend.CreateSession(c.opts.UserIndex, name, settings); err != nil {
		c.host = StateIdle
		return c.failLocked(OpCreate, fmt.Errorf("%w: %w", ErrCreateStartFailed, err))
	}
	c.settings = settings
	c.host = StateCreating
	return nil
}

// DestroyServer tears down the hosted session without recreating it.
func (c *Coordinator) DestroyServer() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend == nil {
		return c.failLocked(OpDestroy, ErrBackendUnavailable)
	}
	if c.host != StateHosting {
		c.logger.Warn("destroy server ignored", zap.Stringer("state", c.host))
		return ErrNotHosting
	}
	if err := c.backend.DestroySession(c.opts.SessionName); err != nil {
		c.host = StateIdle
		c.handle = nil
		return c.failLocked(OpDestroy, fmt.Errorf("%w: %w", ErrDestroyFailed, err))
	}
	c.host = StateDestroying
	c.recreate = false
	return nil
}

// JoinServer searches for sessions and joins the first one found. A session
// still joined under the same name is left first and the search follows from
// the destroy completion.
//
// Postcondition: Returns nil when a search or leave was issued. The outcome is
// reported through logs and Events.
func (c *Coordinator) JoinServer() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("join server requested", zap.String("session", c.opts.SessionName))
	if c.backend == nil {
		return c.failLocked(OpFind, ErrBackendUnavailable)
	}
	if c.client != StateIdle {
		c.logger.Warn("join server ignored", zap.Stringer("state", c.client))
		return ErrRequestInFlight
	}
	return c.joinLocked(false)
}

// joinLocked issues the search, or a leave when the client track still holds a
// joined session. retry marks the single automatic search that follows a leave.
func (c *Coordinator) joinLocked(retry bool) error {
	name := c.opts.SessionName

	// While the host track is busy the named session belongs to it.
	if c.host == StateIdle {
		if _, exists := c.backend.NamedSession(name); exists {
			if retry {
				return c.failLocked(OpJoin, fmt.Errorf("%w: %q", ErrLingeringSession, name))
			}
			c.logger.Info("leaving joined session before search", zap.String("session", name))
			return c.leaveLocked(true)
		}
	}

	query := online.SearchQuery{
		LANOnly:    c.kind == online.KindLAN,
		Presence:   true,
		MaxResults: c.opts.MaxSearchResults,
	}
	if err := c.backend.FindSessions(c.opts.UserIndex, query); err != nil {
		c.client = StateIdle
		return c.failLocked(OpFind, fmt.Errorf("%w: %w", ErrSearchStartFailed, err))
	}
	c.client = StateSearching
	return nil
}

// LeaveServer tears down the session joined as a client.
func (c *Coordinator) LeaveServer() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("leave server requested", zap.String("session", c.opts.SessionName))
	if c.backend == nil {
		return c.failLocked(OpLeave, ErrBackendUnavailable)
	}
	if c.client != StateIdle {
		c.logger.Warn("leave server ignored", zap.Stringer("state", c.client))
		return ErrRequestInFlight
	}
	if c.host != StateIdle {
		c.logger.Warn("leave server ignored", zap.Stringer("host", c.host))
		return ErrNotJoined
	}
	if _, exists := c.backend.NamedSession(c.opts.SessionName); !exists {
		return ErrNotJoined
	}
	return c.leaveLocked(false)
}

// Precondition: c.mu is held and the client track is Idle.
func (c *Coordinator) leaveLocked(rejoin bool) error {
	if err := c.backend.DestroySession(c.opts.SessionName); err != nil {
		c.client = StateIdle
		return c.failLocked(OpLeave, fmt.Errorf("%w: %w", ErrDestroyFailed, err))
	}
	c.client = StateLeaving
	c.rejoin = rejoin
	return nil
}

// OnCreateSessionComplete implements online.CompletionHandler.
func (c *Coordinator) OnCreateSessionComplete(name string, ok bool) {
	c.mu.Lock()
	if c.host != StateCreating || name != c.opts.SessionName {
		c.logger.Warn("unexpected create completion",
			zap.String("session", name),
			zap.Stringer("state", c.host),
		)
		c.mu.Unlock()
		return
	}
	if !ok {
		c.host = StateIdle
		_ = c.failLocked(OpCreate, fmt.Errorf("%w: %q", ErrCreateFailed, name))
		c.mu.Unlock()
		return
	}

	h, found := c.backend.NamedSession(name)
	if !found {
		h = online.Handle{Name: name, Settings: c.settings}
	}
	c.handle = &h
	c.host = StateHosting
	c.logger.Info("session created",
		zap.String("session", name),
		zap.String("session_id", h.ID),
	)
	mapPath := c.opts.HostMap
	c.mu.Unlock()

	err := c.traveler.HostTravel(mapPath, TravelListen)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.host == StateHosting {
			c.host = StateIdle
			c.handle = nil
		}
		_ = c.failLocked(OpCreate, fmt.Errorf("%w: %w", ErrHostTravelFailed, err))
		return
	}
	c.publishLocked(Event{Op: OpCreate})
}

// OnDestroySessionComplete implements online.CompletionHandler. The completion
// belongs to the host track while it is Destroying and to the client track
// while it is Leaving.
func (c *Coordinator) OnDestroySessionComplete(name string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case name != c.opts.SessionName:
	case c.host == StateDestroying:
		c.hostDestroyedLocked(name, ok)
		return
	case c.client == StateLeaving:
		c.clientLeftLocked(name, ok)
		return
	}
	c.logger.Warn("unexpected destroy completion",
		zap.String("session", name),
		zap.Stringer("host", c.host),
		zap.Stringer("client", c.client),
	)
}

func (c *Coordinator) hostDestroyedLocked(name string, ok bool) {
	recreate := c.recreate
	c.recreate = false
	c.handle = nil
	c.host = StateIdle

	if !ok {
		_ = c.failLocked(OpDestroy, fmt.Errorf("%w: %q", ErrDestroyFailed, name))
		return
	}
	if !recreate {
		c.logger.Info("session destroyed", zap.String("session", name))
		c.publishLocked(Event{Op: OpDestroy})
		return
	}
	c.logger.Info("session destroyed, recreating", zap.String("session", name))
	_ = c.createLocked(true)
}

func (c *Coordinator) clientLeftLocked(name string, ok bool) {
	rejoin := c.rejoin
	c.rejoin = false
	c.client = StateIdle

	if !ok {
		_ = c.failLocked(OpLeave, fmt.Errorf("%w: %q", ErrDestroyFailed, name))
		return
	}
	if !rejoin {
		c.logger.Info("session left", zap.String("session", name))
		c.publishLocked(Event{Op: OpLeave})
		return
	}
	c.logger.Info("session left, searching", zap.String("session", name))
	_ = c.joinLocked(true)
}

// OnFindSessionsComplete implements online.CompletionHandler. The first result is
// joined; results are not ranked.
func (c *Coordinator) OnFindSessionsComplete(ok bool, results []online.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != StateSearching {
		c.logger.Warn("unexpected find completion", zap.Stringer("state", c.client))
		return
	}
	if !ok || len(results) == 0 {
		c.client = StateIdle
		if !ok {
			_ = c.failLocked(OpFind, fmt.Errorf("%w: search failed", ErrNoSessionsFound))
			return
		}
		_ = c.failLocked(OpFind, ErrNoSessionsFound)
		return
	}

	c.logger.Info("listing sessions", zap.Int("count", len(results)))
	for _, r := range results {
		c.logger.Info("found session",
			zap.String("owner", r.OwnerName),
			zap.String("session_id", r.SessionID),
		)
	}

	target := results[0]
	if err := c.backend.JoinSession(c.opts.UserIndex, c.opts.SessionName, target); err != nil {
		c.client = StateIdle
		_ = c.failLocked(OpJoin, fmt.Errorf("%w: %w", ErrJoinStartFailed, err))
		return
	}
	c.client = StateJoining
}

// OnJoinSessionComplete implements online.CompletionHandler. Whatever the
// result, travel proceeds only if the backend resolves a connect string.
func (c *Coordinator) OnJoinSessionComplete(name string, result online.JoinResult) {
	c.mu.Lock()
	if c.client != StateJoining || name != c.opts.SessionName {
		c.logger.Warn("unexpected join completion",
			zap.String("session", name),
			zap.Stringer("state", c.client),
		)
		c.mu.Unlock()
		return
	}
	c.client = StateIdle

	addr, err := c.resolver.Resolve(name)
	if err != nil {
		_ = c.failLocked(OpJoin, err)
		c.mu.Unlock()
		return
	}
	if addr == "" {
		_ = c.failLocked(OpJoin, fmt.Errorf("%w: %q (%s)", ErrJoinResolutionFailed, name, result))
		c.mu.Unlock()
		return
	}
	c.logger.Info("session joined",
		zap.String("session", name),
		zap.Stringer("result", result),
		zap.String("connect", addr),
	)
	c.mu.Unlock()

	err = c.traveler.ClientTravel(addr, TravelAbsolute)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		_ = c.failLocked(OpJoin, fmt.Errorf("%w: %w", ErrClientTravelFailed, err))
		return
	}
	c.publishLocked(Event{Op: OpJoin, ConnectString: addr})
}

// failLocked logs and publishes err for op and returns it.
//
// Precondition: c.mu is held.
func (c *Coordinator) failLocked(op string, err error) error {
	c.logger.Error("session operation failed",
		zap.String("op", op),
		zap.Stringer("host", c.host),
		zap.Stringer("client", c.client),
		zap.Error(err),
	)
	c.publishLocked(Event{Op: op, Err: err})
	return err
}

// Precondition: c.mu is held.
func (c *Coordinator) publishLocked(ev Event) {
	ev.Host = c.host
	ev.Client = c.client
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
