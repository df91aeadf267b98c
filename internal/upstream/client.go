// Package upstream resolves locators, fetches player metadata, and opens
// media streams against an unreliable, rate-limiting source.
package upstream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tubemux/tubemux/internal/metrics"
	"github.com/tubemux/tubemux/internal/models"
	"github.com/tubemux/tubemux/pkg/httpclient"
)

// StreamFilter restricts which tracks an opened stream must carry.
type StreamFilter string

const (
	FilterNone      StreamFilter = ""
	FilterAudioOnly StreamFilter = "audioOnly"
	FilterVideoOnly StreamFilter = "videoOnly"
)

// RetryPolicy bounds the retry loop for transient upstream failures.
// Delay before retry n (1-based) is InitialDelay * 2^(n-1), so total wait
// is capped at InitialDelay * (2^Attempts - 1).
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
}

// DefaultRetryPolicy retries three times: 1s, 2s, 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialDelay: time.Second}
}

// CatalogCache is the read-through cache consulted by FetchCatalog.
type CatalogCache interface {
	Get(mediaKey string, kind models.Kind) *models.FormatCatalog
	Put(mediaKey string, kind models.Kind, catalog *models.FormatCatalog)
}

// CatalogBuilder turns a raw player response into a catalog.
type CatalogBuilder func(player *PlayerResponse, kind models.Kind) (*models.FormatCatalog, error)

// Client wraps the raw source with caching and bounded retry.
type Client struct {
	source      Source
	media       *httpclient.Client
	cache       CatalogCache
	build       CatalogBuilder
	retry       RetryPolicy
	openTimeout time.Duration
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewClient creates a resilient upstream client. The media client is used
// for stream bodies and should have no overall timeout.
func NewClient(source Source, media *httpclient.Client, cache CatalogCache, build CatalogBuilder, retry RetryPolicy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.InitialDelay <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Client{
		source: source,
		media:  media,
		cache:  cache,
		build:  build,
		retry:  retry,
		logger: logger,
		sleep:  sleepContext,
	}
}

// WithStreamOpenTimeout bounds how long a single attempt to open a media
// stream may take before the connection attempt is abandoned. The timeout
// covers dialing and response headers, not reading the body.
func (c *Client) WithStreamOpenTimeout(d time.Duration) *Client {
	c.openTimeout = d
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// withRetry runs fn with bounded exponential backoff on transient errors.
// Non-transient errors surface immediately; exhaustion is tagged
// UpstreamUnavailable. One log event is emitted per retry attempt.
func (c *Client) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retry.Attempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.InitialDelay << (attempt - 1)
			metrics.UpstreamRetries.WithLabelValues(operation).Inc()
			c.logger.Info("retrying upstream call",
				slog.String("operation", operation),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("reason", lastErr.Error()),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !models.IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return models.WrapError(models.ErrClassUpstreamUnavailable, "Upstream unavailable after retries", lastErr)
}

// fetchPlayer fetches live player metadata with retry.
func (c *Client) fetchPlayer(ctx context.Context, mediaKey string) (*PlayerResponse, error) {
	var player *PlayerResponse
	err := c.withRetry(ctx, "player", func() error {
		var err error
		player, err = c.source.Player(ctx, mediaKey)
		return err
	})
	return player, err
}

// FetchCatalog resolves the locator and returns the catalog for the
// requested kind, consulting the cache first and writing back on success.
func (c *Client) FetchCatalog(ctx context.Context, locator string, kind models.Kind) (*models.FormatCatalog, error) {
	mediaKey, err := ExtractMediaKey(locator)
	if err != nil {
		return nil, err
	}

	if cached := c.cache.Get(mediaKey, kind); cached != nil {
		return cached, nil
	}

	player, err := c.fetchPlayer(ctx, mediaKey)
	if err != nil {
		return nil, err
	}

	cat, err := c.build(player, kind)
	if err != nil {
		return nil, err
	}

	c.cache.Put(mediaKey, kind, cat)
	return cat, nil
}

// OpenMediaStream resolves formatID against live upstream metadata (the
// cache is deliberately bypassed: stream URLs expire) and opens the byte
// stream. The returned RawFormat describes what was actually opened.
func (c *Client) OpenMediaStream(ctx context.Context, mediaKey, formatID string, filter StreamFilter) (io.ReadCloser, RawFormat, error) {
	player, err := c.fetchPlayer(ctx, mediaKey)
	if err != nil {
		return nil, RawFormat{}, err
	}
	if player.StreamingData == nil {
		return nil, RawFormat{}, models.NewError(models.ErrClassUpstreamData, "Upstream response missing stream data")
	}

	format, err := resolveFormat(player.StreamingData, formatID, filter)
	if err != nil {
		return nil, RawFormat{}, err
	}

	var body io.ReadCloser
	err = c.withRetry(ctx, "stream", func() error {
		var err error
		body, err = c.openStream(ctx, format.URL)
		return err
	})
	if err != nil {
		return nil, RawFormat{}, err
	}

	c.logger.Debug("upstream stream opened",
		slog.String("media_key", mediaKey),
		slog.Int("itag", format.Itag),
		slog.String("stream_url", format.URL),
	)
	return body, format, nil
}

// openStream performs one attempt at opening the media byte stream. When an
// open timeout is configured it bounds the connection and response headers;
// the returned body stays readable for as long as the transfer runs.
func (c *Client) openStream(ctx context.Context, url string) (io.ReadCloser, error) {
	openCtx := ctx
	var cancel context.CancelFunc
	var timer *time.Timer
	if c.openTimeout > 0 {
		openCtx, cancel = context.WithCancel(ctx)
		timer = time.AfterFunc(c.openTimeout, cancel)
	}

	req, err := http.NewRequestWithContext(openCtx, http.MethodGet, url, nil)
	if err != nil {
		if timer != nil {
			timer.Stop()
			cancel()
		}
		return nil, models.WrapError(models.ErrClassUpstreamData, "Invalid stream URL", err)
	}

	resp, err := c.media.Do(req)
	if err != nil {
		if timer != nil {
			timer.Stop()
			cancel()
		}
		if httpclient.IsRateLimited(err) {
			return nil, models.WrapError(models.ErrClassRateLimited, "Upstream rate limit hit opening stream", err)
		}
		return nil, models.WrapError(models.ErrClassUpstreamUnavailable, "Opening upstream stream failed", err)
	}

	if timer == nil {
		return resp.Body, nil
	}
	// Headers arrived in time. Disarm the timer; the cancel moves to the
	// body's Close so the request context is released with the stream.
	timer.Stop()
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// resolveFormat picks the raw format for formatID under the given filter.
// Entries without a direct URL cannot be streamed and are ignored.
func resolveFormat(sd *StreamingData, formatID string, filter StreamFilter) (RawFormat, error) {
	streamable := make([]RawFormat, 0, len(sd.Formats)+len(sd.AdaptiveFormats))
	for _, f := range append(append([]RawFormat{}, sd.Formats...), sd.AdaptiveFormats...) {
		if f.URL != "" {
			streamable = append(streamable, f)
		}
	}

	if formatID == models.FormatBestAudio {
		return bestByFilter(streamable, FilterAudioOnly)
	}

	itag, err := strconv.Atoi(formatID)
	if err != nil {
		return RawFormat{}, models.NewError(models.ErrClassFormatNotFound, "Unknown format id: "+formatID)
	}

	for _, f := range streamable {
		if f.Itag != itag {
			continue
		}
		if satisfiesFilter(f, filter) {
			return f, nil
		}
		// Requested format does not satisfy the kind filter; substitute
		// the best matching track instead of failing the download.
		return bestByFilter(streamable, filter)
	}

	if filter != FilterNone {
		return bestByFilter(streamable, filter)
	}
	return RawFormat{}, models.NewError(models.ErrClassFormatNotFound, "Format not found: "+formatID)
}

func satisfiesFilter(f RawFormat, filter StreamFilter) bool {
	switch filter {
	case FilterAudioOnly:
		return f.HasAudioTrack() && !f.HasVideoTrack()
	case FilterVideoOnly:
		return f.HasVideoTrack() && !f.HasAudioTrack()
	default:
		return true
	}
}

func bestByFilter(formats []RawFormat, filter StreamFilter) (RawFormat, error) {
	var best RawFormat
	found := false
	for _, f := range formats {
		if !satisfiesFilter(f, filter) {
			continue
		}
		if !found || f.EffectiveBitrate() > best.EffectiveBitrate() {
			best = f
			found = true
		}
	}
	if !found {
		return RawFormat{}, models.NewError(models.ErrClassFormatNotFound, "No format satisfies the requested track filter")
	}
	return best, nil
}
