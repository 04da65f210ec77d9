package authchild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"
)

// ErrChildFailure wraps any exec/pipe/parse failure in invoking the helper.
var ErrChildFailure = errors.New("child invocation failed")

// maxStderrCapture bounds the diagnostic buffer captured from the child's stderr.
const maxStderrCapture = 4096

// Supervisor spawns the Kerberos helper binary per authentication attempt,
// dropping privileges to the requesting (uid, gid), and speaks the §6.2 wire
// format over stdin/stdout.
type Supervisor struct {
	helperPath string
	active     atomic.Int64
}

// New constructs a Supervisor that execs the helper binary at helperPath.
func New(helperPath string) *Supervisor {
	return &Supervisor{helperPath: helperPath}
}

// Active returns the number of child invocations currently in flight.
func (s *Supervisor) Active() int64 {
	return s.active.Load()
}

// Invoke runs one Forked->Writing->Reading->Done|Failed cycle: it starts the helper
// under the given credential, writes the framed request, reads the framed reply,
// and reaps the child. The context's deadline, if any, bounds the whole invocation.
func (s *Supervisor) Invoke(ctx context.Context, uid, gid uint32, req Request) (Reply, error) {
	s.active.Add(1)
	defer s.active.Add(-1)

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return Reply{}, fmt.Errorf("%w: stdin pipe: %w", ErrChildFailure, err)
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()

		return Reply{}, fmt.Errorf("%w: stdout pipe: %w", ErrChildFailure, err)
	}

	defer func() {
		_ = stdinR.Close()
		_ = stdinW.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
	}()

	var stderrBuf bytes.Buffer

	cmd := exec.CommandContext(ctx, s.helperPath)
	cmd.Dir = "/tmp"
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = &boundedWriter{buf: &stderrBuf, limit: maxStderrCapture}
	cmd.SysProcAttr = &syscall.SysProcAttr{Credential: &syscall.Credential{Uid: uid, Gid: gid}}

	if err := cmd.Start(); err != nil {
		return Reply{}, fmt.Errorf("%w: start: %w", ErrChildFailure, err)
	}

	pid := cmd.Process.Pid

	// The parent's copies of the ends the child owns must close so the child sees
	// EOF on stdin once we finish writing, and so stdoutW's refcount drops to the
	// child's alone.
	_ = stdinR.Close()
	_ = stdoutW.Close()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	frame := EncodeRequest(req)
	if err := writeAll(stdinW, frame); err != nil {
		_ = stdinW.Close()
		<-waitErr

		return Reply{}, fmt.Errorf("%w: write request: %w", ErrChildFailure, err)
	}

	_ = stdinW.Close()

	raw, err := io.ReadAll(io.LimitReader(stdoutR, maxChildMsgSize+1))
	if err != nil {
		<-waitErr

		return Reply{}, fmt.Errorf("%w: read reply: %w", ErrChildFailure, err)
	}

	if err := <-waitErr; err != nil {
		log.Debug().
			Int("pid", pid).
			Err(err).
			Str("stderr", stderrBuf.String()).
			Msg("kerberos helper exited non-zero")
	}

	if len(raw) > maxChildMsgSize {
		return Reply{}, fmt.Errorf("%w: %w: reply exceeds %d bytes", ErrChildFailure, ErrMalformedReply, maxChildMsgSize)
	}

	reply, err := DecodeReply(raw)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrChildFailure, err)
	}

	return reply, nil
}

// writeAll loops on short writes until buf is fully written or an error occurs.
func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}

		buf = buf[n:]
	}

	return nil
}

// boundedWriter discards writes past limit, keeping only the first limit bytes for
// diagnostics.
type boundedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining > 0 {
		if remaining > len(p) {
			remaining = len(p)
		}

		w.buf.Write(p[:remaining])
	}

	return len(p), nil
}
