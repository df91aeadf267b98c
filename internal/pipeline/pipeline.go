// Package pipeline implements the stream acquisition state machine: given
// a selected format and an output kind it decides between passthrough,
// audio transcoding, and A/V muxing, and owns the resulting session.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/tubemux/tubemux/internal/ffmpeg"
	"github.com/tubemux/tubemux/internal/models"
	"github.com/tubemux/tubemux/internal/session"
	"github.com/tubemux/tubemux/internal/upstream"
)

// Content types served to clients. Fixed before the first byte is written.
const (
	ContentTypeMP4 = "video/mp4"
	ContentTypeMP3 = "audio/mpeg"
)

// UpstreamClient is the slice of the resilient client the pipeline needs.
type UpstreamClient interface {
	FetchCatalog(ctx context.Context, locator string, kind models.Kind) (*models.FormatCatalog, error)
	OpenMediaStream(ctx context.Context, mediaKey, formatID string, filter upstream.StreamFilter) (io.ReadCloser, upstream.RawFormat, error)
}

// Transcoder launches the external transcoder for the two encode paths.
type Transcoder interface {
	TranscodeAudioMP3(ctx context.Context, audio io.Reader) (*ffmpeg.Command, io.ReadCloser, error)
	MuxToMP4(ctx context.Context, in ffmpeg.MuxInputs) (*ffmpeg.Command, io.ReadCloser, error)
}

// Recorder persists the outcome of finished sessions.
type Recorder interface {
	Record(rec *models.DownloadRecord)
}

// Request describes one download.
type Request struct {
	Locator  string
	FormatID string
	Kind     models.Kind
}

// Result is a ready-to-stream download. Headers are fixed up front; the
// caller pumps Stream to the client and must finish the session via
// Complete, Fail, or Cancel (all funnel into the same teardown).
type Result struct {
	ContentType string
	Filename    string
	Mode        models.OutputMode
	Stream      io.ReadCloser
	Session     *session.Session
	process     *ffmpeg.Command
}

// Pipeline wires the upstream client, transcoder, and session registry.
type Pipeline struct {
	client     UpstreamClient
	transcoder Transcoder
	registry   *session.Registry
	recorder   Recorder
	logger     *slog.Logger
}

// New creates a pipeline. recorder may be nil.
func New(client UpstreamClient, transcoder Transcoder, registry *session.Registry, recorder Recorder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		client:     client,
		transcoder: transcoder,
		registry:   registry,
		recorder:   recorder,
		logger:     logger,
	}
}

// Acquire resolves the request against a freshly fetched catalog and opens
// the byte stream for it. On error nothing is leaked: any stream or
// process opened along the way is torn down before returning.
func (p *Pipeline) Acquire(ctx context.Context, req Request) (*Result, error) {
	cat, err := p.client.FetchCatalog(ctx, req.Locator, req.Kind)
	if err != nil {
		return nil, err
	}

	switch req.Kind {
	case models.KindAudio:
		return p.acquireAudio(ctx, req, cat)
	default:
		return p.acquireVideo(ctx, req, cat)
	}
}

// acquireVideo serves a video request: passthrough when the selected
// format already carries audio, otherwise mux with the best audio track.
func (p *Pipeline) acquireVideo(ctx context.Context, req Request, cat *models.FormatCatalog) (*Result, error) {
	desc, ok := cat.FindFormat(req.FormatID)
	if !ok {
		return nil, models.NewError(models.ErrClassFormatNotFound, "Format not found: "+req.FormatID)
	}

	if desc.HasAudio {
		return p.acquireDirect(ctx, req, cat)
	}
	return p.acquireMux(ctx, req, cat)
}

// acquireDirect passes the upstream bytes through unmodified.
func (p *Pipeline) acquireDirect(ctx context.Context, req Request, cat *models.FormatCatalog) (*Result, error) {
	sess := p.newSession(req, cat, models.OutputDirect)

	body, _, err := p.client.OpenMediaStream(ctx, cat.MediaKey, req.FormatID, upstream.FilterNone)
	if err != nil {
		sess.Teardown(models.DownloadFailed, models.DetailOf(err))
		return nil, err
	}
	sess.RegisterStream(body)

	return &Result{
		ContentType: ContentTypeMP4,
		Filename:    downloadFilename(cat, models.KindVideo),
		Mode:        models.OutputDirect,
		Stream:      body,
		Session:     sess,
	}, nil
}

// acquireAudio opens the best matching audio stream and transcodes it.
func (p *Pipeline) acquireAudio(ctx context.Context, req Request, cat *models.FormatCatalog) (*Result, error) {
	sess := p.newSession(req, cat, models.OutputAudioTranscode)

	formatID := req.FormatID
	if formatID == "" {
		formatID = models.FormatBestAudio
	}

	body, _, err := p.client.OpenMediaStream(ctx, cat.MediaKey, formatID, upstream.FilterAudioOnly)
	if err != nil {
		sess.Teardown(models.DownloadFailed, models.DetailOf(err))
		return nil, err
	}
	sess.RegisterStream(body)

	proc, out, err := p.transcoder.TranscodeAudioMP3(ctx, body)
	if err != nil {
		sess.Teardown(models.DownloadFailed, models.DetailOf(err))
		return nil, err
	}
	sess.RegisterProcess(proc)

	return &Result{
		ContentType: ContentTypeMP3,
		Filename:    downloadFilename(cat, models.KindAudio),
		Mode:        models.OutputAudioTranscode,
		Stream:      out,
		Session:     sess,
		process:     proc,
	}, nil
}

// acquireMux opens the selected video-only stream and the best available
// audio-only stream concurrently and merges them through the transcoder.
func (p *Pipeline) acquireMux(ctx context.Context, req Request, cat *models.FormatCatalog) (*Result, error) {
	sess := p.newSession(req, cat, models.OutputMux)

	type opened struct {
		body io.ReadCloser
		err  error
	}
	videoCh := make(chan opened, 1)
	audioCh := make(chan opened, 1)

	go func() {
		body, _, err := p.client.OpenMediaStream(ctx, cat.MediaKey, req.FormatID, upstream.FilterVideoOnly)
		videoCh <- opened{body: body, err: err}
	}()
	go func() {
		body, _, err := p.client.OpenMediaStream(ctx, cat.MediaKey, models.FormatBestAudio, upstream.FilterAudioOnly)
		audioCh <- opened{body: body, err: err}
	}()

	video := <-videoCh
	audio := <-audioCh
	if video.body != nil {
		sess.RegisterStream(video.body)
	}
	if audio.body != nil {
		sess.RegisterStream(audio.body)
	}
	if video.err != nil {
		sess.Teardown(models.DownloadFailed, models.DetailOf(video.err))
		return nil, video.err
	}
	if audio.err != nil {
		sess.Teardown(models.DownloadFailed, models.DetailOf(audio.err))
		return nil, audio.err
	}

	proc, out, err := p.transcoder.MuxToMP4(ctx, ffmpeg.MuxInputs{
		Video: video.body,
		Audio: audio.body,
	})
	if err != nil {
		sess.Teardown(models.DownloadFailed, models.DetailOf(err))
		return nil, err
	}
	sess.RegisterProcess(proc)

	return &Result{
		ContentType: ContentTypeMP4,
		Filename:    downloadFilename(cat, models.KindVideo),
		Mode:        models.OutputMux,
		Stream:      out,
		Session:     sess,
		process:     proc,
	}, nil
}

// newSession creates the session for a download and hooks history
// recording and registry removal into its teardown.
func (p *Pipeline) newSession(req Request, cat *models.FormatCatalog, mode models.OutputMode) *session.Session {
	var sess *session.Session
	sess = session.New(cat.MediaKey, mode, p.logger, func(o session.Outcome) {
		p.registry.Remove(sess)
		if p.recorder == nil {
			return
		}
		p.recorder.Record(&models.DownloadRecord{
			MediaKey:   cat.MediaKey,
			Title:      cat.Title,
			FormatID:   req.FormatID,
			Kind:       req.Kind,
			Mode:       mode,
			Status:     o.Status,
			Detail:     o.Detail,
			BytesSent:  o.BytesSent,
			StartedAt:  o.StartedAt,
			FinishedAt: o.EndedAt,
		})
	})
	p.registry.Add(sess)
	return sess
}

// Wait blocks until the transcoder for this download exits, if one was
// started. Passthrough downloads return nil immediately.
func (r *Result) Wait() error {
	if r.process == nil {
		return nil
	}
	return r.process.Wait()
}

// Complete finishes a successful transfer.
func (r *Result) Complete() {
	r.Session.Teardown(models.DownloadCompleted, "")
}

// Fail finishes a transfer that broke mid-stream.
func (r *Result) Fail(err error) {
	r.Session.Teardown(models.DownloadFailed, models.DetailOf(err))
}

// Cancel finishes a transfer the client walked away from.
func (r *Result) Cancel() {
	r.Session.Teardown(models.DownloadCancelled, "client disconnected")
}

// downloadFilename derives the suggested filename from the catalog title:
// non-alphanumeric characters stripped, extension matching the output kind.
func downloadFilename(cat *models.FormatCatalog, kind models.Kind) string {
	var b strings.Builder
	for _, r := range cat.Title {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		name = cat.MediaKey
	}
	if kind == models.KindAudio {
		return name + ".mp3"
	}
	return name + ".mp4"
}
