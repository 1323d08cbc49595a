// Package travel turns coordinator travel directives into actions: a line on
// a console, or the launch of an external game process.
package travel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mansion/internal/session"
)

// ErrNoCommand is returned by NewExec when the command is empty.
var ErrNoCommand = errors.New("travel command is empty")

// URL builds the travel URL for target. Listen travel appends the "listen"
// option; absolute travel uses the target unchanged.
func URL(target string, mode session.TravelMode) string {
	if mode == session.TravelListen {
		return target + "?" + string(session.TravelListen)
	}
	return target
}

// Console prints travel directives instead of performing them.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	logger *zap.Logger
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer, logger *zap.Logger) *Console {
	return &Console{out: out, logger: logger.With(zap.String("component", "travel"))}
}

// HostTravel implements session.Traveler.
func (c *Console) HostTravel(mapPath string, mode session.TravelMode) error {
	return c.print("host", URL(mapPath, mode), mode)
}

// ClientTravel implements session.Traveler.
func (c *Console) ClientTravel(connect string, mode session.TravelMode) error {
	return c.print("client", URL(connect, mode), mode)
}

func (c *Console) print(kind, url string, mode session.TravelMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Info("travel", zap.String("kind", kind), zap.String("url", url), zap.String("mode", string(mode)))
	if _, err := fmt.Fprintf(c.out, "%s travel (%s): %s\n", kind, mode, url); err != nil {
		return fmt.Errorf("writing travel directive: %w", err)
	}
	return nil
}

// Exec launches an external command for each travel. The travel URL is
// appended as the last argument, and MANSION_TRAVEL_KIND and
// MANSION_TRAVEL_MODE are set in its environment.
type Exec struct {
	command []string
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewExec creates an Exec running command.
//
// Precondition: command[0] names an executable.
func NewExec(command []string, logger *zap.Logger) (*Exec, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, ErrNoCommand
	}
	return &Exec{
		command: append([]string(nil), command...),
		logger:  logger.With(zap.String("component", "travel")),
	}, nil
}

// HostTravel implements session.Traveler.
func (e *Exec) HostTravel(mapPath string, mode session.TravelMode) error {
	return e.launch("host", URL(mapPath, mode), mode)
}

// ClientTravel implements session.Traveler.
func (e *Exec) ClientTravel(connect string, mode session.TravelMode) error {
	return e.launch("client", URL(connect, mode), mode)
}

// launch starts the command without waiting for it. A failure to start is
// returned; the exit status is only logged.
func (e *Exec) launch(kind, url string, mode session.TravelMode) error {
	args := append(append([]string(nil), e.command[1:]...), url)
	cmd := exec.Command(e.command[0], args...)
	cmd.Env = append(os.Environ(),
		"MANSION_TRAVEL_KIND="+kind,
		"MANSION_TRAVEL_MODE="+string(mode),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s travel command: %w", kind, err)
	}
	e.logger.Info("travel command started",
		zap.String("kind", kind),
		zap.String("url", url),
		zap.Int("pid", cmd.Process.Pid),
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := cmd.Wait(); err != nil {
			e.logger.Warn("travel command exited", zap.String("kind", kind), zap.Error(err))
			return
		}
		e.logger.Info("travel command exited", zap.String("kind", kind))
	}()
	return nil
}

// Wait blocks until every launched command has exited.
func (e *Exec) Wait() {
	e.wg.Wait()
}
