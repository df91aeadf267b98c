// Package models defines the domain types shared across tubemux components.
package models

// Kind selects which class of media a caller is interested in.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// IsValid reports whether the kind is one of the supported values.
func (k Kind) IsValid() bool {
	return k == KindVideo || k == KindAudio
}

// FormatBestAudio is the special format id that always resolves to the
// highest-bitrate audio-only format currently available upstream.
const FormatBestAudio = "bestaudio"

// FormatDescriptor describes one selectable encoding of a media item.
// Descriptors are immutable once produced by the catalog builder.
type FormatDescriptor struct {
	ID           string `json:"id"`
	Kind         Kind   `json:"kind"`
	Container    string `json:"container"`
	HasAudio     bool   `json:"hasAudio"`
	HasVideo     bool   `json:"hasVideo"`
	QualityLabel string `json:"qualityLabel"`
	FPS          int    `json:"fps,omitempty"`
	Bitrate      int    `json:"bitrate,omitempty"`
}

// Thumbnail is a preview image for a media item.
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// FormatCatalog is the normalized, ordered list of selectable formats for
// one (mediaKey, kind) pair plus the media metadata. The first format is
// the default/best choice. Catalogs are read-only after construction;
// the cache hands out shared references.
type FormatCatalog struct {
	MediaKey        string             `json:"mediaKey"`
	RequestedKind   Kind               `json:"requestedKind"`
	Title           string             `json:"title"`
	DurationSeconds int64              `json:"durationSeconds"`
	AuthorName      string             `json:"author"`
	IsLive          bool               `json:"isLive"`
	Thumbnails      []Thumbnail        `json:"thumbnails"`
	Formats         []FormatDescriptor `json:"formats"`
}

// Best returns the default format choice, which is always the first entry.
func (c *FormatCatalog) Best() (FormatDescriptor, bool) {
	if len(c.Formats) == 0 {
		return FormatDescriptor{}, false
	}
	return c.Formats[0], true
}

// FindFormat looks up a descriptor by its id.
func (c *FormatCatalog) FindFormat(id string) (FormatDescriptor, bool) {
	for _, f := range c.Formats {
		if f.ID == id {
			return f, true
		}
	}
	return FormatDescriptor{}, false
}
