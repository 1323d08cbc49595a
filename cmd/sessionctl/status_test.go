package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/mansion/internal/config"
	"github.com/cory-johannsen/mansion/internal/online"
	"github.com/cory-johannsen/mansion/internal/session"
	"github.com/cory-johannsen/mansion/internal/travel"
)

func TestRenderStatusIdle(t *testing.T) {
	out, err := renderStatus(session.Snapshot{
		SessionName: "My Game",
		Kind:        online.KindLAN,
		Host:        session.StateIdle,
		Client:      session.StateSearching,
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "My Game", got["session"])
	assert.Equal(t, "lan", got["backend"])
	assert.Equal(t, "idle", got["host"])
	assert.Equal(t, "searching", got["client"])
	assert.NotContains(t, got, "hosted")
}

func TestRenderStatusHosting(t *testing.T) {
	out, err := renderStatus(session.Snapshot{
		SessionName: "My Game",
		Kind:        online.KindPresence,
		Host:        session.StateHosting,
		Handle: &online.Handle{
			Name:      "My Game",
			ID:        "abc",
			OwnerName: "Alice",
			Address:   "10.0.0.1:7777",
			Settings:  online.Settings{Advertise: true, MaxPublicConnections: 5},
		},
	})
	require.NoError(t, err)

	var got statusView
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Hosted)
	assert.Equal(t, "abc", got.Hosted.ID)
	assert.Equal(t, "Alice", got.Hosted.Owner)
	assert.Equal(t, "5", got.Hosted.Settings["max_public_connections"])
	assert.Len(t, got.Hosted.Settings, 7)
}

func TestFormatEvent(t *testing.T) {
	assert.Equal(t, "[create] ok (host=hosting client=idle)",
		formatEvent(session.Event{Op: session.OpCreate, Host: session.StateHosting}))
	assert.Equal(t, "[join] connected to 10.0.0.1:7777 (host=idle client=idle)",
		formatEvent(session.Event{Op: session.OpJoin, ConnectString: "10.0.0.1:7777"}))
	assert.Equal(t, "[find] failed: boom (host=idle client=idle)",
		formatEvent(session.Event{Op: session.OpFind, Err: errors.New("boom")}))
}

func TestNewBackendKinds(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := config.Config{Backend: config.BackendConfig{
		Kind:     config.BackendLAN,
		GameAddr: "127.0.0.1:7777",
		LAN:      config.LANConfig{BeaconAddr: "127.0.0.1:0", DiscoveryAddr: "127.0.0.1:1"},
		Lobby:    config.LobbyClientConfig{Addr: "127.0.0.1:1"},
	}}

	b, err := newBackend(cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, "NULL", b.Name())
	require.NoError(t, b.Close())

	cfg.Backend.Kind = config.BackendSteam
	b, err = newBackend(cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, online.KindPresence, online.ParseKind(b.Name()))
	require.NoError(t, b.Close())

	cfg.Backend.Kind = "EOS"
	_, err = newBackend(cfg, logger)
	assert.ErrorIs(t, err, session.ErrUnsupportedBackend)
}

func TestNewTraveler(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tr, err := newTraveler(config.TravelConfig{}, false, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &travel.Console{}, tr)

	tr, err = newTraveler(config.TravelConfig{Command: []string{"true"}}, false, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &travel.Exec{}, tr)

	tr, err = newTraveler(config.TravelConfig{Command: []string{"true"}}, true, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &travel.Console{}, tr)
}
