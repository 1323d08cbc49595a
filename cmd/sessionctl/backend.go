package main

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mansion/internal/config"
	"github.com/cory-johannsen/mansion/internal/online"
	"github.com/cory-johannsen/mansion/internal/online/lan"
	"github.com/cory-johannsen/mansion/internal/online/presence"
	"github.com/cory-johannsen/mansion/internal/session"
	"github.com/cory-johannsen/mansion/internal/travel"
)

// newBackend builds the online backend named by cfg.Backend.Kind. Every
// presence-capable kind is served by the lobby.
func newBackend(cfg config.Config, logger *zap.Logger) (online.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendLAN:
		return lan.New(lan.Options{
			BeaconAddr:    cfg.Backend.LAN.BeaconAddr,
			DiscoveryAddr: cfg.Backend.LAN.DiscoveryAddr,
			GameAddr:      cfg.Backend.GameAddr,
			OwnerName:     cfg.Session.OwnerName,
			SearchTimeout: cfg.Backend.LAN.SearchTimeout,
		}, logger), nil
	case config.BackendLobby, config.BackendSteam:
		return presence.Dial(cfg.Backend.Lobby.Addr, presence.Options{
			GameAddr:       cfg.Backend.GameAddr,
			OwnerName:      cfg.Session.OwnerName,
			RequestTimeout: cfg.Backend.Lobby.RequestTimeout,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: %q", session.ErrUnsupportedBackend, cfg.Backend.Kind)
	}
}

// newTraveler launches travel.command when configured and prints directives otherwise.
func newTraveler(cfg config.TravelConfig, console bool, out io.Writer, logger *zap.Logger) (session.Traveler, error) {
	if console || len(cfg.Command) == 0 {
		return travel.NewConsole(out, logger), nil
	}
	return travel.NewExec(cfg.Command, logger)
}
