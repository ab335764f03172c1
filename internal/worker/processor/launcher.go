package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// maxStderrBytes bounds the stderr kept for the error panel; the tail wins.
	maxStderrBytes = 256 << 10
	// waitDelay bounds how long Wait waits for the output pipes after the
	// tool exits or is killed, in case a grandchild still holds them.
	waitDelay = 10 * time.Second
)

type LaunchRequest struct {
	DescriptorPath string
	ResultDir      string
	BatchSize      int
	UseFloat16     bool
}

// Launcher starts the external inference tool.
type Launcher struct {
	command []string
	dir     string
}

func NewLauncher(command []string, dir string) *Launcher {
	return &Launcher{command: command, dir: dir}
}

// Args returns the tool's flags for req.
func (l *Launcher) Args(req LaunchRequest) []string {
	args := []string{
		"--inference_config", req.DescriptorPath,
		"--result_dir", req.ResultDir,
		"--batch_size", strconv.Itoa(req.BatchSize),
	}
	if req.UseFloat16 {
		args = append(args, "--use_float16")
	}
	return args
}

// Launch creates the result dir and starts the tool with stdout and stderr
// captured, stdin untouched and the environment inherited. Canceling ctx kills it.
func (l *Launcher) Launch(ctx context.Context, req LaunchRequest) (*Process, error) {
	if len(l.command) == 0 {
		return nil, fmt.Errorf("tool command is empty")
	}
	if err := os.MkdirAll(req.ResultDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create result dir: %w", err)
	}

	args := append(append([]string{}, l.command[1:]...), l.Args(req)...)
	cmd := exec.CommandContext(ctx, l.command[0], args...)
	cmd.Dir = l.dir
	cmd.WaitDelay = waitDelay

	pr, pw := io.Pipe()
	stderr := newTailBuffer(maxStderrBytes)
	cmd.Stdout = pw
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, err
	}

	p := &Process{
		cmd:    cmd,
		ctx:    ctx,
		stdout: pr,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		_ = pw.Close()
		close(p.done)
	}()
	return p, nil
}

// Process is a running tool. Stdout reaches EOF once the tool has exited and
// its output has been copied.
type Process struct {
	cmd     *exec.Cmd
	ctx     context.Context
	stdout  *io.PipeReader
	stderr  *tailBuffer
	done    chan struct{}
	waitErr error
}

func (p *Process) Stdout() io.Reader { return p.stdout }

func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// ExitStatus describes how the tool ended.
type ExitStatus struct {
	// Code is the exit code, -1 when the tool was killed by a signal.
	Code     int
	TimedOut bool
	Canceled bool
	// Err is set when the tool's exit could not be observed at all.
	Err error
}

// Wait blocks until the tool has exited and returns its status and the
// stderr collected while it ran.
func (p *Process) Wait() (ExitStatus, string) {
	// Unblock the copy goroutine if the caller stopped reading early.
	go func() { _, _ = io.Copy(io.Discard, p.stdout) }()
	<-p.done

	st := ExitStatus{Code: -1}
	if p.cmd.ProcessState != nil {
		st.Code = p.cmd.ProcessState.ExitCode()
	}
	switch ctxErr := p.ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		st.TimedOut = true
	case errors.Is(ctxErr, context.Canceled):
		st.Canceled = true
	}

	var exitErr *exec.ExitError
	if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) && !errors.Is(p.waitErr, exec.ErrWaitDelay) {
		st.Err = p.waitErr
	}
	return st, p.stderr.String()
}

// tailBuffer keeps the last max bytes written to it, starting on a rune boundary.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		for over < len(b.buf) && !utf8.RuneStart(b.buf[over]) {
			over++
		}
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return "[earlier stderr output truncated]\n" + string(b.buf)
	}
	return string(b.buf)
}
