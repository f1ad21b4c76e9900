package supervisor

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/kagenti/mcp-bridge/internal/config"
	"github.com/kagenti/mcp-bridge/internal/ipc"
	"github.com/kagenti/mcp-bridge/internal/protocol"
)

// ExitStatus describes how a helper process ended. Signal is empty for a
// plain exit.
type ExitStatus struct {
	Code   int
	Signal string
}

// Process is the supervisor's view of a running helper. Tests substitute an
// in-memory implementation so the state machine runs without subprocesses.
type Process interface {
	// Send writes one IPC command frame to the helper.
	Send(cmd protocol.HelperCommand) error
	// Events yields the helper's IPC event frames. The channel closes when
	// the helper's stdout reaches EOF.
	Events() <-chan protocol.HelperEvent
	// StderrLines yields the helper's stderr line by line.
	StderrLines() <-chan string
	// Wait blocks until the helper exits and returns its exit status. Safe
	// to call from multiple goroutines.
	Wait() ExitStatus
	// Kill forcibly terminates the helper.
	Kill()
}

// Launcher starts a helper process for the given service.
type Launcher func(info config.ServiceInfo) (Process, error)

// ExecLauncher returns a Launcher that runs helperCommand (or, when empty,
// re-executes the bridge's own binary with -helper) as the helper process.
func ExecLauncher(helperCommand string) Launcher {
	return func(info config.ServiceInfo) (Process, error) {
		path := helperCommand
		if path == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("locate bridge executable: %w", err)
			}
			path = exe
		}
		return startHelper(path, []string{"-helper"})
	}
}

// execProcess is the real-subprocess Process implementation.
type execProcess struct {
	cmd    *exec.Cmd
	conn   *ipc.Conn
	events chan protocol.HelperEvent
	stderr chan string

	waitOnce sync.Once
	status   ExitStatus
}

func startHelper(path string, args []string) (*execProcess, error) {
	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start helper: %w", err)
	}

	p := &execProcess{
		cmd:    cmd,
		conn:   ipc.New(stdout, stdin),
		events: make(chan protocol.HelperEvent, 16),
		stderr: make(chan string, 16),
	}

	go func() {
		defer close(p.events)
		for {
			var ev protocol.HelperEvent
			if err := p.conn.Recv(&ev); err != nil {
				return
			}
			p.events <- ev
		}
	}()

	go func() {
		defer close(p.stderr)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.stderr <- scanner.Text()
		}
	}()

	return p, nil
}

func (p *execProcess) Send(cmd protocol.HelperCommand) error {
	return p.conn.Send(cmd)
}

func (p *execProcess) Events() <-chan protocol.HelperEvent {
	return p.events
}

func (p *execProcess) StderrLines() <-chan string {
	return p.stderr
}

func (p *execProcess) Wait() ExitStatus {
	p.waitOnce.Do(func() {
		_ = p.cmd.Wait()
		p.status = exitStatus(p.cmd.ProcessState)
	})
	return p.status
}

func (p *execProcess) Kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func exitStatus(state *os.ProcessState) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1}
	}
	st := ExitStatus{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		st.Signal = signalName(ws.Signal())
	}
	return st
}

func signalName(sig syscall.Signal) string {
	// syscall.Signal.String returns the description ("aborted"); the
	// restart logic matches on the conventional name instead.
	if sig == syscall.SIGABRT {
		return "SIGABRT"
	}
	return sig.String()
}
