package ffmpeg

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubemux/tubemux/internal/models"
)

func TestCommand_OutputSurvivesProcessExit(t *testing.T) {
	// A fast producer exits before the consumer drains stdout. The full
	// output must still be readable afterwards.
	cmd := &Command{
		Binary: "/bin/sh",
		Args:   []string{"-c", "dd if=/dev/zero bs=1024 count=16 2>/dev/null"},
	}

	out, err := cmd.Start(context.Background())
	require.NoError(t, err)
	defer out.Close()

	<-cmd.Done()

	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Len(t, data, 16*1024)
	assert.NoError(t, cmd.Wait())
}

func TestCommand_WaitReportsExitWithStderr(t *testing.T) {
	cmd := &Command{
		Binary: "/bin/sh",
		Args:   []string{"-c", "echo boom >&2; exit 3"},
	}

	out, err := cmd.Start(context.Background())
	require.NoError(t, err)
	defer out.Close()

	err = cmd.Wait()
	require.Error(t, err)
	assert.True(t, models.IsClass(err, models.ErrClassSubprocess))
	assert.Contains(t, err.Error(), "boom")
}

func TestCommand_StartFailureClosesExtraInputs(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	cmd := &Command{
		Binary:      "/nonexistent/ffmpeg-binary",
		ExtraInputs: []*os.File{r},
	}

	_, err = cmd.Start(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsClass(err, models.ErrClassSubprocess))

	// The read end must have been closed; writing gets EPIPE instead of
	// buffering against a leaked descriptor.
	_, werr := w.Write([]byte("x"))
	assert.Error(t, werr)
}

func TestCommand_DoneBeforeStart(t *testing.T) {
	cmd := &Command{Binary: "/bin/true"}
	select {
	case <-cmd.Done():
	default:
		t.Fatal("Done channel for an unstarted command should be closed")
	}
	assert.NoError(t, cmd.Wait())
}
