package session

import (
	"errors"
	"sync"

	"github.com/cory-johannsen/mansion/internal/online"
)

type pending struct {
	op   string
	name string
}

// fakeBackend records requests and models the backend's named-session table.
// Completions are delivered by the test, never by the fake itself.
type fakeBackend struct {
	mu         sync.Mutex
	name       string
	named      map[string]online.Handle
	connect    map[string]string
	createErr  error
	findErr    error
	joinErr    error
	destroyErr error

	calls      []string
	queries    []online.SearchQuery
	joined     []online.SearchResult
	inflight   []pending
	violations []string
	handlers   []online.CompletionHandler
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{
		name:    name,
		named:   make(map[string]online.Handle),
		connect: make(map[string]string),
	}
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) hasInflight(op, name string) bool {
	for _, p := range f.inflight {
		if p.op == op && p.name == name {
			return true
		}
	}
	return false
}

func (f *fakeBackend) CreateSession(_ int, name string, _ online.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.named[name]; ok {
		f.violations = append(f.violations, "create issued while a session exists")
	}
	if f.hasInflight("destroy", name) || f.hasInflight("create", name) {
		f.violations = append(f.violations, "create issued concurrently")
	}
	f.calls = append(f.calls, "create")
	f.inflight = append(f.inflight, pending{op: "create", name: name})
	return nil
}

func (f *fakeBackend) FindSessions(_ int, q online.SearchQuery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return f.findErr
	}
	f.calls = append(f.calls, "find")
	f.queries = append(f.queries, q)
	return nil
}

// JoinSession registers r under name when it carries an address and nothing
// is registered yet, like the real backends do.
func (f *fakeBackend) JoinSession(_ int, name string, r online.SearchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.calls = append(f.calls, "join")
	f.joined = append(f.joined, r)
	if _, ok := f.named[name]; !ok && r.ConnectAddress != "" {
		f.named[name] = online.Handle{Name: name, ID: r.SessionID, Address: r.ConnectAddress}
		f.connect[name] = r.ConnectAddress
	}
	return nil
}

func (f *fakeBackend) DestroySession(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyErr != nil {
		return f.destroyErr
	}
	if f.hasInflight("create", name) || f.hasInflight("destroy", name) {
		f.violations = append(f.violations, "destroy issued concurrently")
	}
	f.calls = append(f.calls, "destroy")
	f.inflight = append(f.inflight, pending{op: "destroy", name: name})
	return nil
}

func (f *fakeBackend) NamedSession(name string) (online.Handle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.named[name]
	return h, ok
}

func (f *fakeBackend) ResolvedConnectString(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.connect[name]
	return s, ok
}

func (f *fakeBackend) Subscribe(h online.CompletionHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

// complete pops the oldest in-flight request and applies its effect on the
// named-session table, returning what the coordinator should be told.
func (f *fakeBackend) complete(ok bool) (pending, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inflight) == 0 {
		return pending{}, false
	}
	p := f.inflight[0]
	f.inflight = f.inflight[1:]
	if ok {
		switch p.op {
		case "create":
			f.named[p.name] = online.Handle{Name: p.name, ID: "sess-1"}
		case "destroy":
			delete(f.named, p.name)
			delete(f.connect, p.name)
		}
	}
	return p, true
}

type fakeTraveler struct {
	mu        sync.Mutex
	hostErr   error
	clientErr error
	hosts     []string
	clients   []string
}

func (t *fakeTraveler) HostTravel(mapPath string, mode TravelMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hosts = append(t.hosts, mapPath+"?"+string(mode))
	return t.hostErr
}

func (t *fakeTraveler) ClientTravel(connect string, mode TravelMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients = append(t.clients, connect+"#"+string(mode))
	return t.clientErr
}

var errRejected = errors.New("rejected")
