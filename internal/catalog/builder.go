// Package catalog builds and caches normalized format catalogs from raw
// upstream metadata.
package catalog

import (
	"sort"
	"strconv"
	"strings"

	"github.com/tubemux/tubemux/internal/models"
	"github.com/tubemux/tubemux/internal/upstream"
)

// Build produces the normalized, ordered catalog for the requested kind
// from a raw player response. The response must already have passed
// playability validation.
func Build(player *upstream.PlayerResponse, kind models.Kind) (*models.FormatCatalog, error) {
	if player == nil || player.StreamingData == nil || player.VideoDetails == nil {
		return nil, models.NewError(models.ErrClassUpstreamData, "Upstream response missing expected sections")
	}

	raw := collectFormats(player.StreamingData)

	var formats []models.FormatDescriptor
	switch kind {
	case models.KindAudio:
		formats = buildAudioFormats(raw)
	default:
		formats = buildVideoFormats(raw)
	}

	if len(formats) == 0 {
		// Best-effort broadening: some uploads expose nothing matching
		// the primary filter but still carry a usable audio track.
		formats = buildBroadenedFormats(raw, kind)
	}
	if len(formats) == 0 {
		return nil, models.NewError(models.ErrClassNoFormats, "No formats available for this media")
	}

	details := player.VideoDetails
	duration, _ := strconv.ParseInt(details.LengthSeconds, 10, 64)

	thumbnails := make([]models.Thumbnail, 0, len(details.Thumbnail.Thumbnails))
	for _, t := range details.Thumbnail.Thumbnails {
		thumbnails = append(thumbnails, models.Thumbnail{URL: t.URL, Width: t.Width, Height: t.Height})
	}

	return &models.FormatCatalog{
		MediaKey:        details.VideoID,
		RequestedKind:   kind,
		Title:           details.Title,
		DurationSeconds: duration,
		AuthorName:      details.Author,
		IsLive:          details.IsLiveContent,
		Thumbnails:      thumbnails,
		Formats:         formats,
	}, nil
}

func collectFormats(sd *upstream.StreamingData) []upstream.RawFormat {
	raw := make([]upstream.RawFormat, 0, len(sd.Formats)+len(sd.AdaptiveFormats))
	raw = append(raw, sd.Formats...)
	raw = append(raw, sd.AdaptiveFormats...)
	return raw
}

// buildVideoFormats selects entries carrying a video track, orders them by
// numeric quality (desc), preferring audio-inclusive entries and higher fps
// on ties, then keeps at most one descriptor per quality label. Within a
// quality bucket an audio-inclusive entry replaces an audio-less one.
func buildVideoFormats(raw []upstream.RawFormat) []models.FormatDescriptor {
	var candidates []models.FormatDescriptor
	for _, f := range raw {
		if !f.HasVideoTrack() {
			continue
		}
		candidates = append(candidates, toDescriptor(f, models.KindVideo))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		qi, qj := qualityNumber(candidates[i].QualityLabel), qualityNumber(candidates[j].QualityLabel)
		if qi != qj {
			return qi > qj
		}
		if candidates[i].HasAudio != candidates[j].HasAudio {
			return candidates[i].HasAudio
		}
		return candidates[i].FPS > candidates[j].FPS
	})

	return dedupByQuality(candidates)
}

// dedupByQuality keeps the first descriptor per quality label, unless a
// later entry for the same label carries audio and the kept one does not.
func dedupByQuality(candidates []models.FormatDescriptor) []models.FormatDescriptor {
	var out []models.FormatDescriptor
	index := make(map[string]int)
	for _, c := range candidates {
		if at, seen := index[c.QualityLabel]; seen {
			if c.HasAudio && !out[at].HasAudio {
				out[at] = c
			}
			continue
		}
		index[c.QualityLabel] = len(out)
		out = append(out, c)
	}
	return out
}

// buildAudioFormats selects audio-only entries sorted by bitrate descending.
func buildAudioFormats(raw []upstream.RawFormat) []models.FormatDescriptor {
	var out []models.FormatDescriptor
	for _, f := range raw {
		if !f.HasAudioTrack() || f.HasVideoTrack() {
			continue
		}
		out = append(out, toDescriptor(f, models.KindAudio))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Bitrate > out[j].Bitrate
	})
	return out
}

// buildBroadenedFormats relaxes the primary filter: any entry with an audio
// track qualifies for audio requests, any entry with either track for video.
func buildBroadenedFormats(raw []upstream.RawFormat, kind models.Kind) []models.FormatDescriptor {
	var out []models.FormatDescriptor
	for _, f := range raw {
		switch kind {
		case models.KindAudio:
			if !f.HasAudioTrack() {
				continue
			}
		default:
			if !f.HasAudioTrack() && !f.HasVideoTrack() {
				continue
			}
		}
		out = append(out, toDescriptor(f, kind))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Bitrate > out[j].Bitrate
	})
	return out
}

func toDescriptor(f upstream.RawFormat, kind models.Kind) models.FormatDescriptor {
	label := f.QualityLabel
	if kind == models.KindAudio || label == "" {
		label = f.AudioQuality
		if label == "" {
			label = f.Quality
		}
	}
	return models.FormatDescriptor{
		ID:           strconv.Itoa(f.Itag),
		Kind:         kind,
		Container:    containerOf(f.MimeType),
		HasAudio:     f.HasAudioTrack(),
		HasVideo:     f.HasVideoTrack(),
		QualityLabel: label,
		FPS:          f.FPS,
		Bitrate:      f.EffectiveBitrate(),
	}
}

// qualityNumber parses the leading digits of a quality label ("1080p60"
// yields 1080). Unparseable labels sort as 0.
func qualityNumber(label string) int {
	end := 0
	for end < len(label) && label[end] >= '0' && label[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(label[:end])
	if err != nil {
		return 0
	}
	return n
}

// containerOf extracts the container from a mime type such as
// "video/mp4; codecs=...".
func containerOf(mimeType string) string {
	mt := mimeType
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	if i := strings.IndexByte(mt, '/'); i >= 0 {
		mt = mt[i+1:]
	}
	return strings.TrimSpace(mt)
}
