package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/tubemux/tubemux/internal/models"
	"github.com/tubemux/tubemux/internal/pipeline"
	"github.com/tubemux/tubemux/internal/service"
	"github.com/tubemux/tubemux/internal/session"
)

// DownloadHandler serves the media download endpoint. It is a raw Chi
// handler: the response is a long-lived byte stream and all errors must be
// written as structured JSON before the first body byte, which huma's
// StreamResponse cannot do (it commits HTTP 200 before the body runs).
type DownloadHandler struct {
	service *service.MediaService
	logger  *slog.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(svc *service.MediaService, logger *slog.Logger) *DownloadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadHandler{service: svc, logger: logger}
}

// RegisterChiRoutes registers the raw download route.
func (h *DownloadHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/api/v1/download", h.handleDownload)
}

func (h *DownloadHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	locator := q.Get("url")
	formatID := q.Get("format")

	// Both selectors absent is rejected before anything touches upstream.
	if locator == "" && formatID == "" {
		writeError(w, models.NewError(models.ErrClassInput, "Missing URL or quality selection"))
		return
	}

	kind, err := parseKind(q.Get("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	if locator == "" {
		writeError(w, models.NewError(models.ErrClassNoURL, "No URL provided"))
		return
	}
	if formatID == "" && kind == models.KindVideo {
		writeError(w, models.NewError(models.ErrClassMissingParameters, "No format selected"))
		return
	}

	res, err := h.service.Download(r.Context(), locator, formatID, kind)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))

	h.stream(w, r, res)
}

// stream pumps the acquired media to the client and settles the session.
// Once the first byte is out the status line is committed; failures after
// that can only truncate the body.
func (h *DownloadHandler) stream(w http.ResponseWriter, r *http.Request, res *pipeline.Result) {
	cw := &countingWriter{w: w, session: res.Session}
	_, copyErr := io.Copy(cw, res.Stream)

	switch {
	case copyErr == nil:
		if err := res.Wait(); err != nil {
			h.logger.Warn("transcoder exited abnormally after stream drained",
				slog.String("session_id", res.Session.ID.String()),
				slog.String("error", err.Error()),
			)
			res.Fail(err)
			return
		}
		res.Complete()

	case r.Context().Err() != nil:
		res.Cancel()

	default:
		res.Fail(models.WrapError(models.ErrClassStreamFailure, "Stream interrupted mid-transfer", copyErr))
	}
}

// countingWriter accounts delivered bytes on the session and flushes after
// every write so live output is not held in server buffers.
type countingWriter struct {
	w       http.ResponseWriter
	session *session.Session
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.session.AddBytes(int64(n))
	}
	if f, ok := cw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

// downloadDocsInput mirrors the query parameters for OpenAPI documentation.
type downloadDocsInput struct {
	URL    string `query:"url" doc:"Media locator: a URL or a bare media key"`
	Format string `query:"format" doc:"Format id from the catalog, or 'bestaudio'"`
	Kind   string `query:"kind" enum:"video,audio" doc:"Output kind (default video)"`
}

// downloadDocsHandler exists only for OpenAPI generation. It is never
// reached when RegisterChiRoutes runs after Register: Chi serves the last
// registration for a path, so the raw handler takes over.
func (h *DownloadHandler) downloadDocsHandler(ctx context.Context, input *downloadDocsInput) (*huma.StreamResponse, error) {
	return nil, huma.Error500InternalServerError("this endpoint is handled by raw Chi handlers", nil)
}

// Register registers the documentation-only operation for the download route.
// Call it before RegisterChiRoutes so the raw handler wins the path.
func (h *DownloadHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "downloadMedia",
		Method:      http.MethodGet,
		Path:        "/api/v1/download",
		Summary:     "Download a media item",
		Description: `Streams the selected media to the client.

**Output modes:**
- Passthrough: the selected video format already carries audio; bytes are relayed unchanged
- Mux: video-only format merged with the best audio track into fragmented MP4
- Audio transcode: source audio re-encoded to MP3

The Content-Type is video/mp4 or audio/mpeg and is fixed before the first byte.`,
		Tags: []string{"Download"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Media byte stream",
				Headers: map[string]*huma.Param{
					"Content-Type":        {Description: "video/mp4 or audio/mpeg"},
					"Content-Disposition": {Description: "attachment with a title-derived filename"},
				},
			},
			"400": {Description: "Missing locator or format selection"},
			"404": {Description: "Format not found"},
			"429": {Description: "Upstream rate limit persisted through retries"},
			"502": {Description: "Upstream unavailable or returned malformed data"},
		},
		SkipValidateBody: true,
	}, h.downloadDocsHandler)
}
