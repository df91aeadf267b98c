package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubemux/tubemux/internal/models"
)

// closeRecorder counts Close calls.
type closeRecorder struct {
	mu     sync.Mutex
	closed int
	err    error
}

func (c *closeRecorder) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return c.err
}

func (c *closeRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestSession_Teardown(t *testing.T) {
	t.Run("closes all registered streams", func(t *testing.T) {
		s := New("dQw4w9WgXcQ", models.OutputDirect, nil, nil)
		a, b := &closeRecorder{}, &closeRecorder{}
		s.RegisterStream(a)
		s.RegisterStream(b)

		s.Teardown(models.DownloadCompleted, "")
		assert.Equal(t, 1, a.count())
		assert.Equal(t, 1, b.count())
	})

	t.Run("teardown is idempotent", func(t *testing.T) {
		var outcomes []Outcome
		s := New("dQw4w9WgXcQ", models.OutputMux, nil, func(o Outcome) {
			outcomes = append(outcomes, o)
		})
		c := &closeRecorder{}
		s.RegisterStream(c)

		s.Teardown(models.DownloadFailed, "first")
		s.Teardown(models.DownloadCompleted, "second")

		assert.Equal(t, 1, c.count())
		require.Len(t, outcomes, 1)
		assert.Equal(t, models.DownloadFailed, outcomes[0].Status)
		assert.Equal(t, "first", outcomes[0].Detail)
	})

	t.Run("concurrent teardowns fire onClose once", func(t *testing.T) {
		var mu sync.Mutex
		calls := 0
		s := New("dQw4w9WgXcQ", models.OutputDirect, nil, func(Outcome) {
			mu.Lock()
			calls++
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Teardown(models.DownloadCancelled, "client disconnected")
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, calls)
	})

	t.Run("stream close errors do not abort teardown", func(t *testing.T) {
		s := New("dQw4w9WgXcQ", models.OutputDirect, nil, nil)
		bad := &closeRecorder{err: errors.New("already closed")}
		good := &closeRecorder{}
		s.RegisterStream(bad)
		s.RegisterStream(good)

		s.Teardown(models.DownloadCompleted, "")
		assert.Equal(t, 1, good.count())
	})

	t.Run("outcome carries byte accounting", func(t *testing.T) {
		var got Outcome
		s := New("dQw4w9WgXcQ", models.OutputDirect, nil, func(o Outcome) { got = o })
		s.AddBytes(1024)
		s.AddBytes(512)
		assert.EqualValues(t, 1536, s.BytesSent())

		s.Teardown(models.DownloadCompleted, "")
		assert.EqualValues(t, 1536, got.BytesSent)
		assert.False(t, got.EndedAt.Before(got.StartedAt))
	})
}

func TestRegistry(t *testing.T) {
	t.Run("add remove count", func(t *testing.T) {
		r := NewRegistry()
		assert.Equal(t, 0, r.Count())

		a := New("aaaaaaaaaaa", models.OutputDirect, nil, nil)
		b := New("bbbbbbbbbbb", models.OutputMux, nil, nil)
		r.Add(a)
		r.Add(b)
		assert.Equal(t, 2, r.Count())

		r.Remove(a)
		assert.Equal(t, 1, r.Count())
		r.Remove(a)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("teardown all cancels active sessions", func(t *testing.T) {
		r := NewRegistry()
		var mu sync.Mutex
		statuses := make([]models.DownloadStatus, 0, 2)
		for i := 0; i < 2; i++ {
			s := New("dQw4w9WgXcQ", models.OutputDirect, nil, func(o Outcome) {
				mu.Lock()
				statuses = append(statuses, o.Status)
				mu.Unlock()
			})
			r.Add(s)
		}

		r.TeardownAll("server shutting down")
		assert.Equal(t, 0, r.Count())
		require.Len(t, statuses, 2)
		for _, st := range statuses {
			assert.Equal(t, models.DownloadCancelled, st)
		}
	})
}
