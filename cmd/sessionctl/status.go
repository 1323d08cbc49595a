package main

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/mansion/internal/session"
)

type statusView struct {
	Session string      `yaml:"session"`
	Backend string      `yaml:"backend"`
	Host    string      `yaml:"host"`
	Client  string      `yaml:"client"`
	Hosted  *hostedView `yaml:"hosted,omitempty"`
}

type hostedView struct {
	ID       string            `yaml:"id"`
	Owner    string            `yaml:"owner,omitempty"`
	Address  string            `yaml:"address,omitempty"`
	Settings map[string]string `yaml:"settings"`
}

func renderStatus(s session.Snapshot) (string, error) {
	view := statusView{
		Session: s.SessionName,
		Backend: s.Kind.String(),
		Host:    s.Host.String(),
		Client:  s.Client.String(),
	}
	if h := s.Handle; h != nil {
		settings := make(map[string]string)
		for _, kv := range h.Settings.Fields() {
			settings[kv[0]] = kv[1]
		}
		view.Hosted = &hostedView{ID: h.ID, Owner: h.OwnerName, Address: h.Address, Settings: settings}
	}
	out, err := yaml.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("rendering status: %w", err)
	}
	return string(out), nil
}

func formatEvent(ev session.Event) string {
	switch {
	case ev.Err != nil:
		return fmt.Sprintf("[%s] failed: %v (host=%s client=%s)", ev.Op, ev.Err, ev.Host, ev.Client)
	case ev.ConnectString != "":
		return fmt.Sprintf("[%s] connected to %s (host=%s client=%s)", ev.Op, ev.ConnectString, ev.Host, ev.Client)
	default:
		return fmt.Sprintf("[%s] ok (host=%s client=%s)", ev.Op, ev.Host, ev.Client)
	}
}
