package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder captures the status code and byte count of a response so
// the access log can report them. Downloads stream for minutes, so the
// byte count is the interesting number, not the latency.
type statusRecorder struct {
	http.ResponseWriter
	status    int
	committed bool
	bytes     int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.committed {
		return
	}
	sr.status = code
	sr.committed = true
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.committed {
		sr.WriteHeader(http.StatusOK)
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// Unwrap exposes the wrapped writer so http.NewResponseController and
// chi's middleware can reach Flusher.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// NewLoggingMiddleware emits one access-log event per request, leveled by
// outcome: 5xx at error, 4xx at warn, everything else at info.
func NewLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("bytes", rec.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("request_id", GetRequestID(r.Context())),
			)
		})
	}
}
