package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/tubemux/tubemux/internal/models"
)

const (
	// stopGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	stopGracePeriod = 3 * time.Second
	// stderrTailLines is how many recent stderr lines are retained.
	stderrTailLines = 32
)

// Command represents one ffmpeg invocation wired for streaming: stdin and
// extra pipe inputs feed the process, stdout is the output stream.
type Command struct {
	Binary string
	Args   []string

	// Stdin, when set, is connected to the child's standard input.
	Stdin io.Reader
	// ExtraInputs are read ends of pipes passed as fds 3, 4, ... Start
	// takes ownership and closes the parent's copies whether or not the
	// spawn succeeds.
	ExtraInputs []*os.File

	mu      sync.Mutex
	cmd     *exec.Cmd
	started time.Time
	doneCh  chan struct{}
	waitErr error

	stderrMu    sync.Mutex
	stderrLines []string
}

// Start launches the process and returns its stdout stream. Wait or Stop
// must be called eventually to reap the child.
func (c *Command) Start(ctx context.Context) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil {
		return nil, fmt.Errorf("ffmpeg command already started")
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Stdin = c.Stdin
	cmd.ExtraFiles = c.ExtraInputs
	// Detach from our process group so a terminal signal to the server
	// does not reach ffmpeg before teardown does.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Stdout and stderr go through explicit pipes rather than StdoutPipe:
	// exec.Wait closes the pipes it created the moment the process exits,
	// which would discard any output the consumer has not drained yet.
	// With our own pipes the read ends live until the consumer closes them.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeFiles(c.ExtraInputs)
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		closeFiles(c.ExtraInputs)
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		closeFiles(c.ExtraInputs)
		return nil, models.WrapError(models.ErrClassSubprocess, "Starting transcoder failed", err)
	}

	// The child holds duplicates of every pipe fd now; release the
	// parent's copies of the ends it does not use so EOF propagates.
	stdoutW.Close()
	stderrW.Close()
	closeFiles(c.ExtraInputs)

	c.cmd = cmd
	c.started = time.Now()
	c.doneCh = make(chan struct{})

	go c.collectStderr(stderrR)
	go func() {
		c.waitErr = cmd.Wait()
		close(c.doneCh)
	}()

	return stdoutR, nil
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// collectStderr retains the most recent stderr lines for diagnostics.
func (c *Command) collectStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.stderrMu.Lock()
		c.stderrLines = append(c.stderrLines, scanner.Text())
		if len(c.stderrLines) > stderrTailLines {
			c.stderrLines = c.stderrLines[len(c.stderrLines)-stderrTailLines:]
		}
		c.stderrMu.Unlock()
	}
}

// StderrTail returns the retained stderr lines.
func (c *Command) StderrTail() []string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	out := make([]string, len(c.stderrLines))
	copy(out, c.stderrLines)
	return out
}

// Done is closed when the process has exited.
func (c *Command) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doneCh == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.doneCh
}

// Wait blocks until the process exits. A non-zero exit is reported as a
// SubprocessFailure carrying the stderr tail.
func (c *Command) Wait() error {
	c.mu.Lock()
	done := c.doneCh
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	if c.waitErr != nil {
		detail := "Transcoder exited abnormally"
		if tail := c.StderrTail(); len(tail) > 0 {
			detail = detail + ": " + tail[len(tail)-1]
		}
		return models.WrapError(models.ErrClassSubprocess, detail, c.waitErr)
	}
	return nil
}

// Stop terminates the process: SIGTERM first, SIGKILL after a grace
// period. Safe to call whether or not the process already exited.
func (c *Command) Stop() {
	c.mu.Lock()
	cmd := c.cmd
	done := c.doneCh
	c.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}

	select {
	case <-done:
		return
	default:
	}

	// Negative pid signals the whole process group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}
}

// Runtime returns how long the process has been running.
func (c *Command) Runtime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}
