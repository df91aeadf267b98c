package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubemux/tubemux/internal/models"
	"github.com/tubemux/tubemux/pkg/httpclient"
)

// fakeSource returns queued responses/errors in order.
type fakeSource struct {
	calls     int
	responses []*PlayerResponse
	errs      []error
}

func (s *fakeSource) Player(ctx context.Context, mediaKey string) (*PlayerResponse, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var resp *PlayerResponse
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	return resp, err
}

// fakeCache is a map-backed CatalogCache.
type fakeCache struct {
	entries map[string]*models.FormatCatalog
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*models.FormatCatalog)}
}

func (c *fakeCache) Get(mediaKey string, kind models.Kind) *models.FormatCatalog {
	return c.entries[mediaKey+"/"+string(kind)]
}

func (c *fakeCache) Put(mediaKey string, kind models.Kind, catalog *models.FormatCatalog) {
	c.puts++
	c.entries[mediaKey+"/"+string(kind)] = catalog
}

func okPlayer(mediaURL string) *PlayerResponse {
	return &PlayerResponse{
		PlayabilityStatus: PlayabilityStatus{Status: "OK"},
		StreamingData: &StreamingData{
			AdaptiveFormats: []RawFormat{
				{Itag: 136, URL: mediaURL, MimeType: "video/mp4", QualityLabel: "720p", Width: 1280, Height: 720, Bitrate: 2_000_000},
				{Itag: 251, URL: mediaURL, MimeType: "audio/webm", AudioQuality: "AUDIO_QUALITY_MEDIUM", AudioChannels: 2, Bitrate: 160_000},
				{Itag: 250, URL: mediaURL, MimeType: "audio/webm", AudioQuality: "AUDIO_QUALITY_LOW", AudioChannels: 2, Bitrate: 70_000},
			},
		},
		VideoDetails: &VideoDetails{VideoID: "dQw4w9WgXcQ", Title: "Test", LengthSeconds: "10"},
	}
}

func passthroughBuilder(player *PlayerResponse, kind models.Kind) (*models.FormatCatalog, error) {
	return &models.FormatCatalog{
		MediaKey:      player.VideoDetails.VideoID,
		RequestedKind: kind,
		Title:         player.VideoDetails.Title,
		Formats:       []models.FormatDescriptor{{ID: "136", Kind: kind}},
	}, nil
}

// newTestClient wires a client whose sleeps are recorded instead of slept.
func newTestClient(t *testing.T, source Source, cache CatalogCache) (*Client, *[]time.Duration) {
	t.Helper()
	media := httpclient.New(httpclient.Config{})
	c := NewClient(source, media, cache, passthroughBuilder, RetryPolicy{Attempts: 3, InitialDelay: time.Second}, nil)

	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return c, &delays
}

func TestFetchCatalog(t *testing.T) {
	t.Run("cache hit skips the source", func(t *testing.T) {
		cache := newFakeCache()
		cached := &models.FormatCatalog{MediaKey: "dQw4w9WgXcQ"}
		cache.Put("dQw4w9WgXcQ", models.KindVideo, cached)
		cache.puts = 0

		source := &fakeSource{}
		c, _ := newTestClient(t, source, cache)

		got, err := c.FetchCatalog(context.Background(), "dQw4w9WgXcQ", models.KindVideo)
		require.NoError(t, err)
		assert.Same(t, cached, got)
		assert.Zero(t, source.calls)
	})

	t.Run("miss fetches, builds, and writes back", func(t *testing.T) {
		cache := newFakeCache()
		source := &fakeSource{responses: []*PlayerResponse{okPlayer("")}}
		c, _ := newTestClient(t, source, cache)

		got, err := c.FetchCatalog(context.Background(), "https://youtu.be/dQw4w9WgXcQ", models.KindVideo)
		require.NoError(t, err)
		assert.Equal(t, "dQw4w9WgXcQ", got.MediaKey)
		assert.Equal(t, 1, source.calls)
		assert.Equal(t, 1, cache.puts)
		assert.Same(t, got, cache.Get("dQw4w9WgXcQ", models.KindVideo))
	})

	t.Run("invalid locator fails without touching upstream", func(t *testing.T) {
		source := &fakeSource{}
		c, _ := newTestClient(t, source, newFakeCache())

		_, err := c.FetchCatalog(context.Background(), "not a locator", models.KindVideo)
		require.Error(t, err)
		assert.True(t, models.IsClass(err, models.ErrClassInput))
		assert.Zero(t, source.calls)
	})
}

func TestRetryBehaviour(t *testing.T) {
	throttled := models.NewError(models.ErrClassRateLimited, "throttled")

	t.Run("transient errors retried with doubling delays", func(t *testing.T) {
		source := &fakeSource{
			errs:      []error{throttled, throttled, nil},
			responses: []*PlayerResponse{nil, nil, okPlayer("")},
		}
		c, delays := newTestClient(t, source, newFakeCache())

		_, err := c.FetchCatalog(context.Background(), "dQw4w9WgXcQ", models.KindVideo)
		require.NoError(t, err)
		assert.Equal(t, 3, source.calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
	})

	t.Run("exhaustion surfaces as upstream unavailable", func(t *testing.T) {
		source := &fakeSource{errs: []error{throttled, throttled, throttled, throttled, throttled}}
		c, delays := newTestClient(t, source, newFakeCache())

		_, err := c.FetchCatalog(context.Background(), "dQw4w9WgXcQ", models.KindVideo)
		require.Error(t, err)
		assert.True(t, models.IsClass(err, models.ErrClassUpstreamUnavailable))
		// One initial attempt plus three retries.
		assert.Equal(t, 4, source.calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *delays)
	})

	t.Run("non-transient error surfaces immediately", func(t *testing.T) {
		dataErr := models.NewError(models.ErrClassUpstreamData, "bad payload")
		source := &fakeSource{errs: []error{dataErr}}
		c, delays := newTestClient(t, source, newFakeCache())

		_, err := c.FetchCatalog(context.Background(), "dQw4w9WgXcQ", models.KindVideo)
		require.Error(t, err)
		assert.True(t, models.IsClass(err, models.ErrClassUpstreamData))
		assert.Equal(t, 1, source.calls)
		assert.Empty(t, *delays)
	})

	t.Run("cancelled context stops the backoff wait", func(t *testing.T) {
		source := &fakeSource{errs: []error{throttled, throttled, throttled, throttled}}
		media := httpclient.New(httpclient.Config{})
		c := NewClient(source, media, newFakeCache(), passthroughBuilder, RetryPolicy{Attempts: 3, InitialDelay: time.Second}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.FetchCatalog(ctx, "dQw4w9WgXcQ", models.KindVideo)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, source.calls)
	})
}

func TestOpenMediaStream(t *testing.T) {
	t.Run("opens the resolved format URL", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("media bytes"))
		}))
		defer server.Close()

		source := &fakeSource{responses: []*PlayerResponse{okPlayer(server.URL)}}
		c, _ := newTestClient(t, source, newFakeCache())

		body, format, err := c.OpenMediaStream(context.Background(), "dQw4w9WgXcQ", "136", FilterNone)
		require.NoError(t, err)
		defer body.Close()

		assert.Equal(t, 136, format.Itag)
		data, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.Equal(t, "media bytes", string(data))
	})

	t.Run("bestaudio resolves to the highest-bitrate audio-only format", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		source := &fakeSource{responses: []*PlayerResponse{okPlayer(server.URL)}}
		c, _ := newTestClient(t, source, newFakeCache())

		body, format, err := c.OpenMediaStream(context.Background(), "dQw4w9WgXcQ", models.FormatBestAudio, FilterAudioOnly)
		require.NoError(t, err)
		body.Close()
		assert.Equal(t, 251, format.Itag)
	})

	t.Run("unknown format id", func(t *testing.T) {
		source := &fakeSource{responses: []*PlayerResponse{okPlayer("https://example.invalid/x")}}
		c, _ := newTestClient(t, source, newFakeCache())

		_, _, err := c.OpenMediaStream(context.Background(), "dQw4w9WgXcQ", "999", FilterNone)
		require.Error(t, err)
		assert.True(t, models.IsClass(err, models.ErrClassFormatNotFound))
	})

	t.Run("open timeout fails a stalled connection attempt", func(t *testing.T) {
		stall := make(chan struct{})
		defer close(stall)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-stall:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()

		source := &fakeSource{responses: []*PlayerResponse{okPlayer(server.URL)}}
		c, _ := newTestClient(t, source, newFakeCache())
		c.WithStreamOpenTimeout(50 * time.Millisecond)

		_, _, err := c.OpenMediaStream(context.Background(), "dQw4w9WgXcQ", "136", FilterNone)
		require.Error(t, err)
		assert.True(t, models.IsClass(err, models.ErrClassUpstreamUnavailable))
	})

	t.Run("open timeout does not cut off a slow body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("first"))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			time.Sleep(150 * time.Millisecond)
			w.Write([]byte(" second"))
		}))
		defer server.Close()

		source := &fakeSource{responses: []*PlayerResponse{okPlayer(server.URL)}}
		c, _ := newTestClient(t, source, newFakeCache())
		c.WithStreamOpenTimeout(50 * time.Millisecond)

		body, _, err := c.OpenMediaStream(context.Background(), "dQw4w9WgXcQ", "136", FilterNone)
		require.NoError(t, err)
		defer body.Close()

		data, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.Equal(t, "first second", string(data))
	})
}

func TestResolveFormat(t *testing.T) {
	sd := &StreamingData{
		AdaptiveFormats: []RawFormat{
			{Itag: 136, URL: "u1", QualityLabel: "720p", Width: 1280, Bitrate: 2_000_000},
			{Itag: 251, URL: "u2", AudioQuality: "AUDIO_QUALITY_MEDIUM", AudioChannels: 2, Bitrate: 160_000},
			{Itag: 250, URL: "u3", AudioQuality: "AUDIO_QUALITY_LOW", AudioChannels: 2, Bitrate: 70_000},
			{Itag: 137, URL: "", QualityLabel: "1080p", Width: 1920, Bitrate: 4_000_000},
		},
	}

	t.Run("itag lookup", func(t *testing.T) {
		f, err := resolveFormat(sd, "136", FilterNone)
		require.NoError(t, err)
		assert.Equal(t, 136, f.Itag)
	})

	t.Run("entries without a URL are not streamable", func(t *testing.T) {
		_, err := resolveFormat(sd, "137", FilterNone)
		require.Error(t, err)
		assert.True(t, models.IsClass(err, models.ErrClassFormatNotFound))
	})

	t.Run("filter mismatch substitutes the best matching track", func(t *testing.T) {
		// 136 is video-only; asking for audio-only substitutes itag 251.
		f, err := resolveFormat(sd, "136", FilterAudioOnly)
		require.NoError(t, err)
		assert.Equal(t, 251, f.Itag)
	})

	t.Run("bestaudio picks highest audio bitrate", func(t *testing.T) {
		f, err := resolveFormat(sd, models.FormatBestAudio, FilterAudioOnly)
		require.NoError(t, err)
		assert.Equal(t, 251, f.Itag)
	})

	t.Run("no track satisfies the filter", func(t *testing.T) {
		audioOnly := &StreamingData{AdaptiveFormats: []RawFormat{
			{Itag: 251, URL: "u2", AudioQuality: "AUDIO_QUALITY_MEDIUM", AudioChannels: 2, Bitrate: 160_000},
		}}
		_, err := resolveFormat(audioOnly, "251", FilterVideoOnly)
		require.Error(t, err)
		assert.True(t, models.IsClass(err, models.ErrClassFormatNotFound))
	})
}
