package exec

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
)

const (
	stderrTail   = 20
	closeTimeout = 5 * time.Second
)

// Session is a running interpreter exchanging one JSON line per request
// and one per reply. It is not safe for concurrent Calls.
type Session struct {
	tool    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	logger  *slog.Logger
	Started time.Time

	exited  chan struct{}
	waitErr error

	mu     sync.Mutex
	tail   []string
	broken error
}

func startSession(cmd *exec.Cmd, tool string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

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
		return nil, err
	}

	s := &Session{
		tool:    tool,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReaderSize(stdout, 64*1024),
		logger:  logger.With("component", "engine", "pid", cmd.Process.Pid),
		Started: time.Now(),
		exited:  make(chan struct{}),
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		s.forwardStderr(stderr)
	}()
	go func() {
		<-stderrDone
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	return s, nil
}

// Call writes req as one line and decodes the next reply line into resp.
// If ctx ends first the process is killed and the session is unusable.
func (s *Session) Call(ctx context.Context, stage string, req, resp any) error {
	if err := s.err(); err != nil {
		return err
	}

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.stdin.Write(line); err != nil {
		return s.fail(s.exitError(stage, err))
	}
	return s.readReply(ctx, stage, resp)
}

// readReply decodes the next stdout line into resp
func (s *Session) readReply(ctx context.Context, stage string, resp any) error {
	if err := s.err(); err != nil {
		return err
	}

	type result struct {
		line []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := s.stdout.ReadBytes('\n')
		ch <- result{b, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return s.fail(s.exitError(stage, r.err))
		}
		if err := json.Unmarshal(r.line, resp); err != nil {
			return s.fail(fmt.Errorf("decode %s reply: %w", stage, err))
		}
		return nil
	case <-ctx.Done():
		s.fail(fmt.Errorf("%s abandoned: %w", stage, ctx.Err()))
		s.kill()
		return ctx.Err()
	}
}

// Close ends the session. The interpreter exits once its stdin closes; it
// is killed if it does not within closeTimeout.
func (s *Session) Close() error {
	s.fail(errors.New("session closed"))
	s.stdin.Close()

	select {
	case <-s.exited:
	case <-time.After(closeTimeout):
		s.kill()
		<-s.exited
	}

	var exitErr *exec.ExitError
	if s.waitErr != nil && !errors.As(s.waitErr, &exitErr) {
		return s.waitErr
	}
	return nil
}

// Stderr returns the last lines the interpreter wrote to stderr
func (s *Session) Stderr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.tail, "\n")
}

func (s *Session) forwardStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1024*1024)
	for sc.Scan() {
		line := string(bytes.TrimRight(sc.Bytes(), "\r"))
		s.logger.Debug("engine output", "line", line)

		s.mu.Lock()
		s.tail = append(s.tail, line)
		if len(s.tail) > stderrTail {
			s.tail = s.tail[len(s.tail)-stderrTail:]
		}
		s.mu.Unlock()
	}
}

// exitError waits briefly for the process to exit so the error can carry
// its exit code and last stderr lines.
func (s *Session) exitError(stage string, cause error) error {
	select {
	case <-s.exited:
	case <-time.After(time.Second):
		return apperrors.NewProcessError(s.tool, stage, -1, s.Stderr(), cause)
	}

	code := -1
	if s.cmd.ProcessState != nil {
		code = s.cmd.ProcessState.ExitCode()
	}
	return apperrors.NewProcessError(s.tool, stage, code, s.Stderr(), cause)
}

func (s *Session) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

func (s *Session) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

// fail marks the session broken; the first failure sticks
func (s *Session) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken == nil {
		s.broken = err
	}
	return s.broken
}
