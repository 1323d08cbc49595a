package online

import (
	"errors"
	"sync"
)

// ErrSessionExists is returned when a session name is already registered with a backend.
var ErrSessionExists = errors.New("session already exists")

// ErrSessionNotFound is returned when a named session is not registered with a backend.
var ErrSessionNotFound = errors.New("session not found")

// ErrRequestPending is returned when a request for a session name is already in flight.
var ErrRequestPending = errors.New("request already pending")

// CompletionHandler receives asynchronous completion notifications from a Backend.
//
// Each request that a Backend accepts produces exactly one completion, delivered
// after the request method has returned.
type CompletionHandler interface {
	OnCreateSessionComplete(name string, ok bool)
	OnDestroySessionComplete(name string, ok bool)
	OnFindSessionsComplete(ok bool, results []SearchResult)
	OnJoinSessionComplete(name string, result JoinResult)
}

// Backend is an online-services session provider.
//
// Request methods return immediately. A non-nil error means the request was not
// started and no completion will follow.
type Backend interface {
	// Name reports the provider name, e.g. "NULL" or "lobby".
	Name() string
	CreateSession(userIndex int, name string, settings Settings) error
	FindSessions(userIndex int, query SearchQuery) error
	JoinSession(userIndex int, name string, result SearchResult) error
	DestroySession(name string) error
	// NamedSession returns the session registered under name, if any.
	NamedSession(name string) (Handle, bool)
	// ResolvedConnectString returns the connect address for a joined or hosted session.
	ResolvedConnectString(name string) (string, bool)
	// Subscribe registers h for completion notifications.
	Subscribe(h CompletionHandler)
	Close() error
}

// Notifier fans completions out to every subscribed handler.
// Backends embed it to implement Subscribe. The zero value is ready to use.
type Notifier struct {
	mu       sync.RWMutex
	handlers []CompletionHandler
}

// Subscribe registers h.
//
// Precondition: h must be non-nil.
func (n *Notifier) Subscribe(h CompletionHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, h)
}

func (n *Notifier) snapshot() []CompletionHandler {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]CompletionHandler(nil), n.handlers...)
}

// CreateComplete notifies every handler of a create completion.
func (n *Notifier) CreateComplete(name string, ok bool) {
	for _, h := range n.snapshot() {
		h.OnCreateSessionComplete(name, ok)
	}
}

// DestroyComplete notifies every handler of a destroy completion.
func (n *Notifier) DestroyComplete(name string, ok bool) {
	for _, h := range n.snapshot() {
		h.OnDestroySessionComplete(name, ok)
	}
}

// FindComplete notifies every handler of a find completion.
// Each handler receives its own copy of results.
func (n *Notifier) FindComplete(ok bool, results []SearchResult) {
	for _, h := range n.snapshot() {
		h.OnFindSessionsComplete(ok, append([]SearchResult(nil), results...))
	}
}

// JoinComplete notifies every handler of a join completion.
func (n *Notifier) JoinComplete(name string, result JoinResult) {
	for _, h := range n.snapshot() {
		h.OnJoinSessionComplete(name, result)
	}
}
