// Package session tracks the resources owned by one in-flight download:
// open upstream streams and the transcoder subprocess, if any.
package session

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tubemux/tubemux/internal/ffmpeg"
	"github.com/tubemux/tubemux/internal/metrics"
	"github.com/tubemux/tubemux/internal/models"
)

// Outcome summarizes how a session ended, for history and metrics.
type Outcome struct {
	Status    models.DownloadStatus
	Detail    string
	BytesSent int64
	StartedAt time.Time
	EndedAt   time.Time
}

// Session owns the resources of one download request. It is created when
// the download begins and must be torn down exactly once; Teardown is
// idempotent and safe to trigger concurrently from the error, completion,
// and disconnect paths.
type Session struct {
	ID       uuid.UUID
	MediaKey string
	Mode     models.OutputMode

	mu        sync.Mutex
	streams   []io.Closer
	process   *ffmpeg.Command
	bytesSent int64
	startedAt time.Time

	once    sync.Once
	logger  *slog.Logger
	onClose func(Outcome)
}

// New creates a session. onClose, when set, receives the final outcome
// after resources are released.
func New(mediaKey string, mode models.OutputMode, logger *slog.Logger, onClose func(Outcome)) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		ID:        uuid.New(),
		MediaKey:  mediaKey,
		Mode:      mode,
		startedAt: time.Now(),
		logger:    logger,
		onClose:   onClose,
	}
	metrics.ActiveSessions.Inc()
	return s
}

// RegisterStream adds an upstream stream to be closed on teardown.
func (s *Session) RegisterStream(c io.Closer) {
	s.mu.Lock()
	s.streams = append(s.streams, c)
	s.mu.Unlock()
}

// RegisterProcess records the transcoder subprocess for this session.
func (s *Session) RegisterProcess(p *ffmpeg.Command) {
	s.mu.Lock()
	s.process = p
	s.mu.Unlock()
}

// AddBytes accounts bytes delivered to the client.
func (s *Session) AddBytes(n int64) {
	s.mu.Lock()
	s.bytesSent += n
	s.mu.Unlock()
}

// BytesSent returns the bytes delivered so far.
func (s *Session) BytesSent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

// Teardown releases every registered resource: all upstream streams are
// closed and the subprocess is signalled to terminate. Only the first
// call takes effect; later calls (or concurrent ones) are no-ops.
func (s *Session) Teardown(status models.DownloadStatus, detail string) {
	s.once.Do(func() {
		s.mu.Lock()
		streams := s.streams
		s.streams = nil
		process := s.process
		bytes := s.bytesSent
		s.mu.Unlock()

		for _, c := range streams {
			if err := c.Close(); err != nil {
				s.logger.Debug("closing upstream stream",
					slog.String("session_id", s.ID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
		if process != nil {
			process.Stop()
		}

		metrics.ActiveSessions.Dec()
		metrics.SessionsTotal.WithLabelValues(string(status), string(s.Mode)).Inc()
		metrics.BytesStreamed.Add(float64(bytes))

		s.logger.Info("download session torn down",
			slog.String("session_id", s.ID.String()),
			slog.String("media_key", s.MediaKey),
			slog.String("mode", string(s.Mode)),
			slog.String("status", string(status)),
			slog.String("detail", detail),
			slog.Int64("bytes_sent", bytes),
			slog.Duration("duration", time.Since(s.startedAt)),
		)

		if s.onClose != nil {
			s.onClose(Outcome{
				Status:    status,
				Detail:    detail,
				BytesSent: bytes,
				StartedAt: s.startedAt,
				EndedAt:   time.Now(),
			})
		}
	})
}
