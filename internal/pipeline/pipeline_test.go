package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubemux/tubemux/internal/ffmpeg"
	"github.com/tubemux/tubemux/internal/models"
	"github.com/tubemux/tubemux/internal/session"
	"github.com/tubemux/tubemux/internal/upstream"
)

// trackedStream records whether it was closed.
type trackedStream struct {
	io.Reader
	mu     sync.Mutex
	closed bool
}

func newTrackedStream(data string) *trackedStream {
	return &trackedStream{Reader: strings.NewReader(data)}
}

func (s *trackedStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *trackedStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type openCall struct {
	formatID string
	filter   upstream.StreamFilter
}

// fakeUpstream serves a fixed catalog and hands out tracked streams.
type fakeUpstream struct {
	mu       sync.Mutex
	catalog  *models.FormatCatalog
	fetchErr error
	openErr  map[upstream.StreamFilter]error
	opens    []openCall
	streams  []*trackedStream
}

func (f *fakeUpstream) FetchCatalog(ctx context.Context, locator string, kind models.Kind) (*models.FormatCatalog, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.catalog, nil
}

func (f *fakeUpstream) OpenMediaStream(ctx context.Context, mediaKey, formatID string, filter upstream.StreamFilter) (io.ReadCloser, upstream.RawFormat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, openCall{formatID: formatID, filter: filter})
	if err := f.openErr[filter]; err != nil {
		return nil, upstream.RawFormat{}, err
	}
	s := newTrackedStream("upstream bytes")
	f.streams = append(f.streams, s)
	return s, upstream.RawFormat{}, nil
}

func (f *fakeUpstream) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opens)
}

// fakeTranscoder returns a canned output stream without spawning anything.
type fakeTranscoder struct {
	audioCalls int
	muxCalls   int
	muxInputs  ffmpeg.MuxInputs
	err        error
	out        *trackedStream
}

func (f *fakeTranscoder) TranscodeAudioMP3(ctx context.Context, audio io.Reader) (*ffmpeg.Command, io.ReadCloser, error) {
	f.audioCalls++
	if f.err != nil {
		return nil, nil, f.err
	}
	f.out = newTrackedStream("mp3 bytes")
	return nil, f.out, nil
}

func (f *fakeTranscoder) MuxToMP4(ctx context.Context, in ffmpeg.MuxInputs) (*ffmpeg.Command, io.ReadCloser, error) {
	f.muxCalls++
	f.muxInputs = in
	if f.err != nil {
		return nil, nil, f.err
	}
	f.out = newTrackedStream("mp4 bytes")
	return nil, f.out, nil
}

// fakeRecorder captures history records.
type fakeRecorder struct {
	mu      sync.Mutex
	records []*models.DownloadRecord
}

func (f *fakeRecorder) Record(rec *models.DownloadRecord) {
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
}

func testCatalog() *models.FormatCatalog {
	return &models.FormatCatalog{
		MediaKey:      "dQw4w9WgXcQ",
		RequestedKind: models.KindVideo,
		Title:         "Test: Media! (2024)",
		Formats: []models.FormatDescriptor{
			{ID: "22", Kind: models.KindVideo, QualityLabel: "720p", HasVideo: true, HasAudio: true},
			{ID: "137", Kind: models.KindVideo, QualityLabel: "1080p", HasVideo: true, HasAudio: false},
		},
	}
}

func newTestPipeline(client UpstreamClient, tc Transcoder, rec Recorder) (*Pipeline, *session.Registry) {
	registry := session.NewRegistry()
	return New(client, tc, registry, rec, nil), registry
}

func TestAcquire_Direct(t *testing.T) {
	client := &fakeUpstream{catalog: testCatalog()}
	tc := &fakeTranscoder{}
	p, registry := newTestPipeline(client, tc, nil)

	res, err := p.Acquire(context.Background(), Request{Locator: "dQw4w9WgXcQ", FormatID: "22", Kind: models.KindVideo})
	require.NoError(t, err)

	assert.Equal(t, models.OutputDirect, res.Mode)
	assert.Equal(t, ContentTypeMP4, res.ContentType)
	assert.Equal(t, "TestMedia2024.mp4", res.Filename)
	assert.Equal(t, 1, client.openCount())
	assert.Zero(t, tc.muxCalls)
	assert.Equal(t, 1, registry.Count())
	assert.NoError(t, res.Wait())

	res.Complete()
	assert.Equal(t, 0, registry.Count())
	assert.True(t, client.streams[0].isClosed())
}

func TestAcquire_Mux(t *testing.T) {
	client := &fakeUpstream{catalog: testCatalog()}
	tc := &fakeTranscoder{}
	p, registry := newTestPipeline(client, tc, nil)

	res, err := p.Acquire(context.Background(), Request{Locator: "dQw4w9WgXcQ", FormatID: "137", Kind: models.KindVideo})
	require.NoError(t, err)

	assert.Equal(t, models.OutputMux, res.Mode)
	assert.Equal(t, ContentTypeMP4, res.ContentType)
	assert.Equal(t, 1, tc.muxCalls)
	assert.NotNil(t, tc.muxInputs.Video)
	assert.NotNil(t, tc.muxInputs.Audio)

	// One video-only open for the selected format, one audio-only open.
	require.Equal(t, 2, client.openCount())
	filters := map[upstream.StreamFilter]string{}
	for _, call := range client.opens {
		filters[call.filter] = call.formatID
	}
	assert.Equal(t, "137", filters[upstream.FilterVideoOnly])
	assert.Equal(t, models.FormatBestAudio, filters[upstream.FilterAudioOnly])

	res.Complete()
	assert.Equal(t, 0, registry.Count())
	for _, s := range client.streams {
		assert.True(t, s.isClosed())
	}
}

func TestAcquire_Audio(t *testing.T) {
	t.Run("defaults the format to best audio", func(t *testing.T) {
		client := &fakeUpstream{catalog: testCatalog()}
		tc := &fakeTranscoder{}
		p, _ := newTestPipeline(client, tc, nil)

		res, err := p.Acquire(context.Background(), Request{Locator: "dQw4w9WgXcQ", Kind: models.KindAudio})
		require.NoError(t, err)

		assert.Equal(t, models.OutputAudioTranscode, res.Mode)
		assert.Equal(t, ContentTypeMP3, res.ContentType)
		assert.Equal(t, "TestMedia2024.mp3", res.Filename)
		assert.Equal(t, 1, tc.audioCalls)
		require.Equal(t, 1, client.openCount())
		assert.Equal(t, models.FormatBestAudio, client.opens[0].formatID)
		assert.Equal(t, upstream.FilterAudioOnly, client.opens[0].filter)
	})

	t.Run("explicit format id is honoured", func(t *testing.T) {
		client := &fakeUpstream{catalog: testCatalog()}
		p, _ := newTestPipeline(client, &fakeTranscoder{}, nil)

		_, err := p.Acquire(context.Background(), Request{Locator: "dQw4w9WgXcQ", FormatID: "251", Kind: models.KindAudio})
		require.NoError(t, err)
		assert.Equal(t, "251", client.opens[0].formatID)
	})
}

func TestAcquire_Errors(t *testing.T) {
	t.Run("catalog fetch failure propagates", func(t *testing.T) {
		fetchErr := models.NewError(models.ErrClassUpstreamUnavailable, "upstream down")
		client := &fakeUpstream{fetchErr: fetchErr}
		p, registry := newTestPipeline(client, &fakeTranscoder{}, nil)

		_, err := p.Acquire(context.Background(), Request{Locator: "dQw4w9WgXcQ", FormatID: "22", Kind: models.KindVideo})
		require.Error(t, err)
		assert.True(t, models.IsClass(err, models.ErrClassUpstreamUnavailable))
		assert.Equal(t, 0, registry.Count())
	})

	t.Run("unknown format id", func(t *testing.T) {
		client := &fakeUpstream{catalog: testCatalog()}
		p, registry := newTestPipeline(client, &fakeTranscoder{}, nil)

		_, err := p.Acquire(context.Background(), Request{Locator: "dQw4w9WgXcQ", FormatID: "999", Kind: models.KindVideo})
		require.Error(t, err)
		assert.True(t, models.IsClass(err, models.ErrClassFormatNotFound))
		assert.Zero(t, client.openCount())
		assert.Equal(t, 0, registry.Count())
	})

	t.Run("partial mux open failure closes the side that opened", func(t *testing.T) {
		client := &fakeUpstream{
			catalog: testCatalog(),
			openErr: map[upstream.StreamFilter]error{
				upstream.FilterAudioOnly: models.NewError(models.ErrClassFormatNotFound, "no audio track"),
			},
		}
		p, registry := newTestPipeline(client, &fakeTranscoder{}, nil)

		_, err := p.Acquire(context.Background(), Request{Locator: "dQw4w9WgXcQ", FormatID: "137", Kind: models.KindVideo})
		require.Error(t, err)
		assert.Equal(t, 0, registry.Count())
		require.Len(t, client.streams, 1)
		assert.True(t, client.streams[0].isClosed())
	})

	t.Run("transcoder spawn failure tears the session down", func(t *testing.T) {
		client := &fakeUpstream{catalog: testCatalog()}
		tc := &fakeTranscoder{err: errors.New("ffmpeg not found")}
		rec := &fakeRecorder{}
		p, registry := newTestPipeline(client, tc, rec)

		_, err := p.Acquire(context.Background(), Request{Locator: "dQw4w9WgXcQ", Kind: models.KindAudio})
		require.Error(t, err)
		assert.Equal(t, 0, registry.Count())
		assert.True(t, client.streams[0].isClosed())
		require.Len(t, rec.records, 1)
		assert.Equal(t, models.DownloadFailed, rec.records[0].Status)
	})
}

func TestResult_Outcomes(t *testing.T) {
	acquire := func(t *testing.T, rec Recorder) *Result {
		t.Helper()
		client := &fakeUpstream{catalog: testCatalog()}
		p, _ := newTestPipeline(client, &fakeTranscoder{}, rec)
		res, err := p.Acquire(context.Background(), Request{Locator: "dQw4w9WgXcQ", FormatID: "22", Kind: models.KindVideo})
		require.NoError(t, err)
		return res
	}

	t.Run("complete records a completed download", func(t *testing.T) {
		rec := &fakeRecorder{}
		res := acquire(t, rec)
		res.Session.AddBytes(4096)
		res.Complete()

		require.Len(t, rec.records, 1)
		r := rec.records[0]
		assert.Equal(t, models.DownloadCompleted, r.Status)
		assert.Equal(t, "dQw4w9WgXcQ", r.MediaKey)
		assert.Equal(t, models.OutputDirect, r.Mode)
		assert.EqualValues(t, 4096, r.BytesSent)
	})

	t.Run("fail records the error detail", func(t *testing.T) {
		rec := &fakeRecorder{}
		res := acquire(t, rec)
		res.Fail(models.NewError(models.ErrClassStreamFailure, "Stream interrupted mid-transfer"))

		require.Len(t, rec.records, 1)
		assert.Equal(t, models.DownloadFailed, rec.records[0].Status)
		assert.Equal(t, "Stream interrupted mid-transfer", rec.records[0].Detail)
	})

	t.Run("cancel records a client disconnect", func(t *testing.T) {
		rec := &fakeRecorder{}
		res := acquire(t, rec)
		res.Cancel()

		require.Len(t, rec.records, 1)
		assert.Equal(t, models.DownloadCancelled, rec.records[0].Status)
		assert.Equal(t, "client disconnected", rec.records[0].Detail)
	})
}

func TestDownloadFilename(t *testing.T) {
	tests := []struct {
		name  string
		title string
		kind  models.Kind
		want  string
	}{
		{"strips punctuation", "Test: Media! (2024)", models.KindVideo, "TestMedia2024.mp4"},
		{"audio extension", "Some Song", models.KindAudio, "SomeSong.mp3"},
		{"falls back to the media key", "!!! ---", models.KindVideo, "dQw4w9WgXcQ.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := &models.FormatCatalog{MediaKey: "dQw4w9WgXcQ", Title: tt.title}
			assert.Equal(t, tt.want, downloadFilename(cat, tt.kind))
		})
	}
}
