package proxy

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

var ErrServerNotInstalled = errors.New("language server not installed")

const (
	exitGrace      = 2 * time.Second
	interruptGrace = 3 * time.Second
)

// serverProcess is the spawned language server. Its stdout is read by the
// server loop and its stdin written by the client loop; stderr goes wherever
// the caller pointed it.
type serverProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	waitOnce sync.Once
	waitErr  error
	stopOnce sync.Once
	stopErr  error
}

func startServer(command string, args []string, stderr io.Writer) (*serverProcess, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrServerNotInstalled, command)
	}

	cmd := exec.Command(path, args...)
	cmd.Stderr = stderr
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}

	return &serverProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (p *serverProcess) pid() int {
	return p.cmd.Process.Pid
}

// wait reaps the child exactly once. Callers must not race it against
// reads from stdout; Stop sequences that correctly.
func (p *serverProcess) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Stop closes stdin so a well-behaved server exits on its own, then
// escalates to Interrupt and finally Kill. The returned error is the
// process exit status.
func (p *serverProcess) Stop() error {
	p.stopOnce.Do(func() {
		p.stdin.Close()

		done := make(chan error, 1)
		go func() {
			done <- p.wait()
		}()

		select {
		case p.stopErr = <-done:
			return
		case <-time.After(exitGrace):
		}

		p.cmd.Process.Signal(os.Interrupt)
		select {
		case p.stopErr = <-done:
			return
		case <-time.After(interruptGrace):
		}

		p.cmd.Process.Kill()
		p.stopErr = <-done
	})
	return p.stopErr
}
