package online

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestParseKind(t *testing.T) {
	assert.Equal(t, KindLAN, ParseKind("NULL"))
	assert.Equal(t, KindLAN, ParseKind("null"))
	assert.Equal(t, KindPresence, ParseKind("Steam"))
	assert.Equal(t, KindPresence, ParseKind(" lobby "))
	assert.Equal(t, KindUnsupported, ParseKind("EOS"))
	assert.Equal(t, KindUnsupported, ParseKind(""))
}

// Property: only the known provider names map to a supported kind.
func TestPropertyParseKindClosed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[A-Za-z]{0,12}`).Draw(t, "name")
		switch k := ParseKind(name); k {
		case KindLAN, KindPresence:
			if ParseKind(name) != k {
				t.Fatalf("ParseKind(%q) not stable", name)
			}
		case KindUnsupported:
		default:
			t.Fatalf("ParseKind(%q) = %d", name, k)
		}
	})
}

func TestSettingsFields(t *testing.T) {
	s := Settings{Visibility: VisibilityOnline, Advertise: true, MaxPublicConnections: 5}
	fields := s.Fields()
	assert.Len(t, fields, 7)
	assert.Equal(t, [2]string{"visibility", "online"}, fields[0])
	assert.Equal(t, [2]string{"max_public_connections", "5"}, fields[2])
	assert.False(t, s.IsLAN())
}

func TestJoinResultString(t *testing.T) {
	assert.Equal(t, "success", JoinSuccess.String())
	assert.Equal(t, "session_is_full", JoinSessionIsFull.String())
	assert.Equal(t, "unknown_error", JoinResult(99).String())
}

type recordingHandler struct {
	creates  []string
	destroys []string
	finds    [][]SearchResult
	joins    []JoinResult
}

func (r *recordingHandler) OnCreateSessionComplete(name string, ok bool) {
	r.creates = append(r.creates, name)
}

func (r *recordingHandler) OnDestroySessionComplete(name string, ok bool) {
	r.destroys = append(r.destroys, name)
}

func (r *recordingHandler) OnFindSessionsComplete(ok bool, results []SearchResult) {
	r.finds = append(r.finds, results)
}

func (r *recordingHandler) OnJoinSessionComplete(name string, result JoinResult) {
	r.joins = append(r.joins, result)
}

func TestNotifier_FansOut(t *testing.T) {
	var n Notifier
	a, b := &recordingHandler{}, &recordingHandler{}
	n.Subscribe(a)
	n.Subscribe(b)

	n.CreateComplete("My Game", true)
	n.DestroyComplete("My Game", true)
	n.JoinComplete("My Game", JoinSessionIsFull)
	results := []SearchResult{{OwnerName: "Alice"}}
	n.FindComplete(true, results)

	for _, h := range []*recordingHandler{a, b} {
		assert.Equal(t, []string{"My Game"}, h.creates)
		assert.Equal(t, []string{"My Game"}, h.destroys)
		assert.Equal(t, []JoinResult{JoinSessionIsFull}, h.joins)
		assert.Len(t, h.finds, 1)
	}

	// Handlers receive independent copies.
	a.finds[0][0].OwnerName = "Mallory"
	assert.Equal(t, "Alice", b.finds[0][0].OwnerName)
	assert.Equal(t, "Alice", results[0].OwnerName)
}
