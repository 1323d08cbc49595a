package wire

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/mansion/internal/online"
)

func TestAdvertOverDatagram(t *testing.T) {
	a := Advert{
		SessionID:   "0b6c",
		SessionName: "My Game",
		OwnerName:   "Alice",
		Address:     "192.168.1.20:7777",
		Settings: online.Settings{
			Visibility:           online.VisibilityLAN,
			Advertise:            true,
			MaxPublicConnections: 5,
			AllowJoinInProgress:  true,
		},
		OpenPublicConnections: 4,
		Nonce:                 "n1",
	}
	st, err := EncodeAdvert(a)
	require.NoError(t, err)
	assert.Equal(t, TypeAdvert, Type(st))

	b, err := Marshal(st)
	require.NoError(t, err)
	st2, err := Unmarshal(b)
	require.NoError(t, err)
	got, err := DecodeAdvert(st2)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestDecodeAdvert_Malformed(t *testing.T) {
	st, err := structpb.NewStruct(map[string]any{"owner": "Alice"})
	require.NoError(t, err)
	_, err = DecodeAdvert(st)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeQuery_RequiresNonce(t *testing.T) {
	st, err := EncodeQuery(Query{LANOnly: true})
	require.NoError(t, err)
	_, err = DecodeQuery(st)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnmarshal_Garbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestInt(t *testing.T) {
	tests := []struct {
		name    string
		value   *structpb.Value
		want    int
		wantErr bool
	}{
		{"missing", nil, 0, false},
		{"null", structpb.NewNullValue(), 0, false},
		{"integer", structpb.NewNumberValue(5), 5, false},
		{"negative", structpb.NewNumberValue(-3), -3, false},
		{"fraction", structpb.NewNumberValue(2.5), 0, true},
		{"huge", structpb.NewNumberValue(1e12), 0, true},
		{"nan", structpb.NewNumberValue(math.NaN()), 0, true},
		{"infinity", structpb.NewNumberValue(math.Inf(1)), 0, true},
		{"string", structpb.NewStringValue("5"), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Int(tt.value)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSettingsFrom_RejectsFractionalCapacity(t *testing.T) {
	st, err := structpb.NewStruct(map[string]any{"max_public_connections": 4.5})
	require.NoError(t, err)
	_, err = SettingsFrom(st)
	assert.ErrorIs(t, err, ErrMalformed)

	st.Fields["max_public_connections"] = structpb.NewNumberValue(4)
	st.Fields["session_id"] = structpb.NewStringValue("id")
	st.Fields["address"] = structpb.NewStringValue("10.0.0.1:7777")
	st.Fields["open_public_connections"] = structpb.NewNumberValue(1e20)
	_, err = DecodeAdvert(st)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestAdvertSearchResult(t *testing.T) {
	r := Advert{SessionID: "id", OwnerName: "Bob", Address: "10.0.0.1:7777"}.SearchResult()
	assert.Equal(t, "10.0.0.1:7777", r.ConnectAddress)
	assert.Equal(t, "id", r.Metadata["session_id"])
	assert.Equal(t, "Bob", r.OwnerName)
}

// Property: settings survive encoding for both visibilities.
func TestPropertySettingsPreserved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := online.Settings{
			Visibility:            rapid.SampledFrom([]online.Visibility{online.VisibilityLAN, online.VisibilityOnline}).Draw(t, "visibility"),
			Advertise:             rapid.Bool().Draw(t, "advertise"),
			MaxPublicConnections:  rapid.IntRange(0, 64).Draw(t, "max"),
			AllowJoinInProgress:   rapid.Bool().Draw(t, "jip"),
			UsesPresence:          rapid.Bool().Draw(t, "presence"),
			AllowJoinViaPresence:  rapid.Bool().Draw(t, "via_presence"),
			UseLobbiesIfAvailable: rapid.Bool().Draw(t, "lobbies"),
		}
		st, err := structpb.NewStruct(SettingsMap(s))
		if err != nil {
			t.Fatalf("NewStruct: %v", err)
		}
		got, err := SettingsFrom(st)
		if err != nil {
			t.Fatalf("SettingsFrom: %v", err)
		}
		if got != s {
			t.Fatalf("settings changed: %+v -> %+v", s, got)
		}
	})
}
