package upstream

// Wire types for the upstream player endpoint. Only the sections the
// catalog builder and stream resolver consume are mapped.

// PlayerResponse is the raw metadata document for one media item.
type PlayerResponse struct {
	PlayabilityStatus PlayabilityStatus `json:"playabilityStatus"`
	StreamingData     *StreamingData    `json:"streamingData"`
	VideoDetails      *VideoDetails     `json:"videoDetails"`
}

// PlayabilityStatus reports whether the media may be played and why not.
type PlayabilityStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// IsOK reports whether the upstream considers the media playable.
func (p PlayabilityStatus) IsOK() bool {
	return p.Status == "OK"
}

// StreamingData carries the selectable formats.
type StreamingData struct {
	ExpiresInSeconds string      `json:"expiresInSeconds"`
	Formats          []RawFormat `json:"formats"`
	AdaptiveFormats  []RawFormat `json:"adaptiveFormats"`
}

// RawFormat is one upstream format entry, muxed or adaptive.
type RawFormat struct {
	Itag            int    `json:"itag"`
	URL             string `json:"url"`
	MimeType        string `json:"mimeType"`
	Bitrate         int    `json:"bitrate"`
	AverageBitrate  int    `json:"averageBitrate"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	FPS             int    `json:"fps"`
	Quality         string `json:"quality"`
	QualityLabel    string `json:"qualityLabel"`
	AudioQuality    string `json:"audioQuality"`
	AudioSampleRate string `json:"audioSampleRate"`
	AudioChannels   int    `json:"audioChannels"`
	ContentLength   string `json:"contentLength"`
}

// HasVideoTrack reports whether the entry carries a video track.
func (f RawFormat) HasVideoTrack() bool {
	return f.QualityLabel != "" || f.Width > 0 || f.Height > 0
}

// HasAudioTrack reports whether the entry carries an audio track.
func (f RawFormat) HasAudioTrack() bool {
	return f.AudioQuality != "" || f.AudioSampleRate != "" || f.AudioChannels > 0
}

// EffectiveBitrate prefers the average bitrate when present.
func (f RawFormat) EffectiveBitrate() int {
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return f.Bitrate
}

// VideoDetails is the media metadata block.
type VideoDetails struct {
	VideoID       string           `json:"videoId"`
	Title         string           `json:"title"`
	LengthSeconds string           `json:"lengthSeconds"`
	Author        string           `json:"author"`
	IsLiveContent bool             `json:"isLiveContent"`
	Thumbnail     ThumbnailDetails `json:"thumbnail"`
}

// ThumbnailDetails wraps the thumbnail list.
type ThumbnailDetails struct {
	Thumbnails []ThumbnailEntry `json:"thumbnails"`
}

// ThumbnailEntry is a single preview image.
type ThumbnailEntry struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}
