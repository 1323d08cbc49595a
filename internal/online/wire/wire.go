// Package wire encodes session adverts and discovery queries as protobuf
// Struct messages. The same messages travel in LAN beacon datagrams and in
// lobby RPCs.
package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/mansion/internal/online"
)

// Message types carried in the "type" field of datagrams.
const (
	TypeQuery  = "query"
	TypeAdvert = "advert"
)

// ErrMalformed is returned when a message lacks required fields.
var ErrMalformed = errors.New("malformed message")

// Advert describes a hosted session to searching clients.
type Advert struct {
	SessionID             string
	SessionName           string
	OwnerName             string
	Address               string
	Settings              online.Settings
	OpenPublicConnections int
	// Nonce echoes the query nonce on LAN replies.
	Nonce string
}

// Query is a LAN discovery request.
type Query struct {
	Nonce    string
	LANOnly  bool
	Presence bool
}

// SettingsMap flattens settings into Struct-compatible values.
func SettingsMap(s online.Settings) map[string]any {
	return map[string]any{
		"lan":                      s.IsLAN(),
		"advertise":                s.Advertise,
		"max_public_connections":   s.MaxPublicConnections,
		"allow_join_in_progress":   s.AllowJoinInProgress,
		"uses_presence":            s.UsesPresence,
		"allow_join_via_presence":  s.AllowJoinViaPresence,
		"use_lobbies_if_available": s.UseLobbiesIfAvailable,
	}
}

// Int reads an integer field. A missing or null value is zero.
//
// Postcondition: Returns ErrMalformed for non-numbers, fractions and values
// outside the int32 range.
func Int(v *structpb.Value) (int, error) {
	switch k := v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return 0, nil
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %v is not an integer in range", ErrMalformed, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: expected a number", ErrMalformed)
	}
}

// SettingsFrom reads settings written by SettingsMap. Missing fields are zero.
func SettingsFrom(st *structpb.Struct) (online.Settings, error) {
	f := st.GetFields()
	maxConns, err := Int(f["max_public_connections"])
	if err != nil {
		return online.Settings{}, fmt.Errorf("max_public_connections: %w", err)
	}
	s := online.Settings{
		Visibility:            online.VisibilityOnline,
		Advertise:             f["advertise"].GetBoolValue(),
		MaxPublicConnections:  maxConns,
		AllowJoinInProgress:   f["allow_join_in_progress"].GetBoolValue(),
		UsesPresence:          f["uses_presence"].GetBoolValue(),
		AllowJoinViaPresence:  f["allow_join_via_presence"].GetBoolValue(),
		UseLobbiesIfAvailable: f["use_lobbies_if_available"].GetBoolValue(),
	}
	if f["lan"].GetBoolValue() {
		s.Visibility = online.VisibilityLAN
	}
	return s, nil
}

// EncodeAdvert converts a to a Struct.
func EncodeAdvert(a Advert) (*structpb.Struct, error) {
	m := SettingsMap(a.Settings)
	m["type"] = TypeAdvert
	m["session_id"] = a.SessionID
	m["session_name"] = a.SessionName
	m["owner"] = a.OwnerName
	m["address"] = a.Address
	m["open_public_connections"] = a.OpenPublicConnections
	if a.Nonce != "" {
		m["nonce"] = a.Nonce
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encoding advert: %w", err)
	}
	return st, nil
}

// DecodeAdvert reads an Advert from st.
//
// Postcondition: Returns ErrMalformed when the session id or address is
// missing or a count is not an integer.
func DecodeAdvert(st *structpb.Struct) (Advert, error) {
	f := st.GetFields()
	settings, err := SettingsFrom(st)
	if err != nil {
		return Advert{}, err
	}
	open, err := Int(f["open_public_connections"])
	if err != nil {
		return Advert{}, fmt.Errorf("open_public_connections: %w", err)
	}
	a := Advert{
		SessionID:             f["session_id"].GetStringValue(),
		SessionName:           f["session_name"].GetStringValue(),
		OwnerName:             f["owner"].GetStringValue(),
		Address:               f["address"].GetStringValue(),
		Settings:              settings,
		OpenPublicConnections: open,
		Nonce:                 f["nonce"].GetStringValue(),
	}
	if a.SessionID == "" || a.Address == "" {
		return Advert{}, fmt.Errorf("%w: advert requires session_id and address", ErrMalformed)
	}
	return a, nil
}

// SearchResult converts a to the coordinator's search result form.
func (a Advert) SearchResult() online.SearchResult {
	return online.SearchResult{
		SessionID:             a.SessionID,
		SessionName:           a.SessionName,
		OwnerName:             a.OwnerName,
		ConnectAddress:        a.Address,
		Settings:              a.Settings,
		OpenPublicConnections: a.OpenPublicConnections,
		Metadata: map[string]string{
			"session_id": a.SessionID,
			"address":    a.Address,
		},
	}
}

// EncodeQuery converts q to a Struct.
func EncodeQuery(q Query) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(map[string]any{
		"type":     TypeQuery,
		"nonce":    q.Nonce,
		"lan_only": q.LANOnly,
		"presence": q.Presence,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}
	return st, nil
}

// DecodeQuery reads a Query from st.
func DecodeQuery(st *structpb.Struct) (Query, error) {
	f := st.GetFields()
	q := Query{
		Nonce:    f["nonce"].GetStringValue(),
		LANOnly:  f["lan_only"].GetBoolValue(),
		Presence: f["presence"].GetBoolValue(),
	}
	if q.Nonce == "" {
		return Query{}, fmt.Errorf("%w: query requires nonce", ErrMalformed)
	}
	return q, nil
}

// Type returns the "type" field of st.
func Type(st *structpb.Struct) string {
	return st.GetFields()["type"].GetStringValue()
}

// Marshal serializes st to protobuf wire bytes.
func Marshal(st *structpb.Struct) ([]byte, error) {
	b, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshalling message: %w", err)
	}
	return b, nil
}

// Unmarshal parses protobuf wire bytes into a Struct.
func Unmarshal(b []byte) (*structpb.Struct, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return st, nil
}
