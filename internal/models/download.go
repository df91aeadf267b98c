package models

import "time"

// DownloadStatus is the terminal state of a download session.
type DownloadStatus string

const (
	DownloadCompleted DownloadStatus = "completed"
	DownloadFailed    DownloadStatus = "failed"
	DownloadCancelled DownloadStatus = "cancelled"
)

// OutputMode records which acquisition path served a download.
type OutputMode string

const (
	OutputDirect         OutputMode = "direct"
	OutputAudioTranscode OutputMode = "audio-transcode"
	OutputMux            OutputMode = "mux"
)

// DownloadRecord is the persisted outcome of one download session.
// Only session metadata is stored; media bytes are never persisted.
type DownloadRecord struct {
	ID         ULID           `gorm:"primaryKey;type:text" json:"id"`
	MediaKey   string         `gorm:"index;not null" json:"media_key"`
	Title      string         `json:"title"`
	FormatID   string         `json:"format_id"`
	Kind       Kind           `json:"kind"`
	Mode       OutputMode     `json:"mode"`
	Status     DownloadStatus `gorm:"index" json:"status"`
	Detail     string         `json:"detail,omitempty"`
	BytesSent  int64          `json:"bytes_sent"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// TableName overrides the GORM table name.
func (DownloadRecord) TableName() string {
	return "download_records"
}

// Duration returns how long the session was active.
func (r *DownloadRecord) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
