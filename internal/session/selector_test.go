package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/mansion/internal/online"
)

func TestSelectConfig_LAN(t *testing.T) {
	s, err := SelectConfig(online.KindLAN)
	require.NoError(t, err)
	assert.Equal(t, online.Settings{
		Visibility:           online.VisibilityLAN,
		Advertise:            true,
		MaxPublicConnections: 5,
		AllowJoinInProgress:  true,
	}, s)
	assert.True(t, s.IsLAN())
}

func TestSelectConfig_Presence(t *testing.T) {
	s, err := SelectConfig(online.KindPresence)
	require.NoError(t, err)
	assert.Equal(t, online.VisibilityOnline, s.Visibility)
	assert.True(t, s.Advertise)
	assert.True(t, s.UsesPresence)
	assert.True(t, s.AllowJoinViaPresence)
	assert.True(t, s.AllowJoinInProgress)
	assert.True(t, s.UseLobbiesIfAvailable)
	assert.Equal(t, 5, s.MaxPublicConnections)
}

func TestSelectConfig_Unsupported(t *testing.T) {
	_, err := SelectConfig(online.KindUnsupported)
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}

// Property: SelectConfig returns the same result for the same kind on every call.
func TestPropertySelectConfigDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		kind := rapid.SampledFrom([]online.Kind{online.KindLAN, online.KindPresence}).Draw(t, "kind")
		first, err := SelectConfig(kind)
		if err != nil {
			t.Fatalf("SelectConfig(%s): %v", kind, err)
		}
		for i := 0; i < rapid.IntRange(1, 5).Draw(t, "repeat"); i++ {
			again, err := SelectConfig(kind)
			if err != nil || again != first {
				t.Fatalf("SelectConfig(%s) changed: %+v vs %+v (%v)", kind, first, again, err)
			}
		}
	})
}
