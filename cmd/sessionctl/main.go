// Package main provides sessionctl, an interactive shell that hosts, joins and
// leaves game sessions through the configured online backend.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/abiosoft/ishell/v2"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mansion/internal/config"
	"github.com/cory-johannsen/mansion/internal/observability"
	"github.com/cory-johannsen/mansion/internal/session"
	"github.com/cory-johannsen/mansion/internal/travel"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	consoleTravel := flag.Bool("console-travel", false, "print travel directives even when travel.command is set")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "sessionctl")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	backend, err := newBackend(cfg, logger)
	if err != nil {
		logger.Fatal("creating online backend", zap.Error(err))
	}
	defer backend.Close()

	traveler, err := newTraveler(cfg.Travel, *consoleTravel, os.Stdout, logger)
	if err != nil {
		logger.Fatal("creating traveler", zap.Error(err))
	}

	coord := session.NewCoordinator(backend, traveler, session.Options{
		SessionName:      cfg.Session.Name,
		HostMap:          cfg.Session.HostMap,
		UserIndex:        cfg.Session.UserIndex,
		MaxSearchResults: cfg.Session.MaxSearchResults,
	}, logger)

	shell := ishell.New()
	shell.SetHomeHistoryPath(".sessionctl_history")
	shell.Println(fmt.Sprintf("Mansion session shell (%s backend, session %q)", backend.Name(), cfg.Session.Name))

	stopEvents := forwardEvents(coord, func(line string) { shell.Println(line) })

	for _, cmd := range commands(coord) {
		shell.AddCmd(cmd)
	}
	shell.Run()

	stopEvents()
	if e, ok := traveler.(*travel.Exec); ok {
		logger.Info("waiting for travel commands to exit")
		e.Wait()
	}
}

// forwardEvents prints coordinator events until the returned stop function is
// called. stop returns once every received event has been printed.
func forwardEvents(coord *session.Coordinator, printLine func(string)) (stop func()) {
	events := make(chan session.Event, 16)
	coord.Subscribe(events)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			printLine(formatEvent(ev))
		}
	}()
	return func() {
		coord.Unsubscribe(events)
		close(events)
		<-done
	}
}

// leaveSession destroys the hosted session, or leaves the joined one when
// nothing is hosted.
func leaveSession(coord *session.Coordinator) error {
	if coord.Snapshot().Host != session.StateIdle {
		return coord.DestroyServer()
	}
	return coord.LeaveServer()
}

func commands(coord *session.Coordinator) []*ishell.Cmd {
	return []*ishell.Cmd{
		{
			Name: "create",
			Help: "host the session, replacing any lingering one",
			Func: func(c *ishell.Context) {
				if err := coord.CreateServer(); err != nil {
					c.Println("create:", err)
					return
				}
				c.Println("create: requested")
			},
		},
		{
			Name: "join",
			Help: "search for sessions and join the first one found",
			Func: func(c *ishell.Context) {
				if err := coord.JoinServer(); err != nil {
					c.Println("join:", err)
					return
				}
				c.Println("join: searching")
			},
		},
		{
			Name: "leave",
			Help: "destroy the hosted session or leave the joined one",
			Func: func(c *ishell.Context) {
				if err := leaveSession(coord); err != nil {
					c.Println("leave:", err)
					return
				}
				c.Println("leave: requested")
			},
		},
		{
			Name: "status",
			Help: "print coordinator state as YAML",
			Func: func(c *ishell.Context) {
				out, err := renderStatus(coord.Snapshot())
				if err != nil {
					c.Println("status:", err)
					return
				}
				c.Print(out)
			},
		},
	}
}
