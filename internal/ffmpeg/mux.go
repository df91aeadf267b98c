package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tubemux/tubemux/internal/config"
)

// MuxInputs names the two streams fed to the muxer. The pipe roles are a
// typed contract rather than positional convention: video is always fd 3,
// audio always fd 4.
type MuxInputs struct {
	Video io.Reader
	Audio io.Reader
}

const (
	videoPipeSpec = "pipe:3"
	audioPipeSpec = "pipe:4"
)

// Transcoder builds and launches ffmpeg commands for the two streaming
// paths: audio transcode (MP3) and A/V mux (fragmented MP4). One process
// is spawned per download session, never shared.
type Transcoder struct {
	binary       string
	logLevel     string
	audioQuality string
	logger       *slog.Logger
}

// NewTranscoder resolves the ffmpeg binary and returns a Transcoder.
func NewTranscoder(cfg config.FFmpegConfig, logger *slog.Logger) (*Transcoder, error) {
	binary, err := FindBinary(cfg.Binary)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logLevel := cfg.LogLevel
	if logLevel == "" {
		logLevel = "error"
	}
	audioQuality := cfg.AudioQuality
	if audioQuality == "" {
		audioQuality = "2"
	}
	return &Transcoder{
		binary:       binary,
		logLevel:     logLevel,
		audioQuality: audioQuality,
		logger:       logger,
	}, nil
}

// TranscodeAudioMP3 spawns ffmpeg reading source audio from stdin and
// re-encoding to MP3 on stdout. The returned reader is the MP3 stream.
func (t *Transcoder) TranscodeAudioMP3(ctx context.Context, audio io.Reader) (*Command, io.ReadCloser, error) {
	cmd := &Command{
		Binary: t.binary,
		Args: []string{
			"-hide_banner",
			"-loglevel", t.logLevel,
			"-i", "pipe:0",
			"-vn",
			"-c:a", "libmp3lame",
			"-q:a", t.audioQuality,
			"-f", "mp3",
			"pipe:1",
		},
		Stdin: audio,
	}

	out, err := cmd.Start(ctx)
	if err != nil {
		return nil, nil, err
	}
	t.logger.Debug("transcoder started", slog.String("mode", "audio-mp3"))
	return cmd, out, nil
}

// MuxToMP4 spawns ffmpeg merging a video-only and an audio-only stream
// into a fragmented MP4 on stdout: video copied unchanged, audio encoded
// to AAC. Fragmentation puts the metadata up front so playback can begin
// before the full body has been received.
func (t *Transcoder) MuxToMP4(ctx context.Context, in MuxInputs) (*Command, io.ReadCloser, error) {
	if in.Video == nil || in.Audio == nil {
		return nil, nil, fmt.Errorf("mux requires both video and audio inputs")
	}

	videoR, videoW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating video pipe: %w", err)
	}
	audioR, audioW, err := os.Pipe()
	if err != nil {
		videoR.Close()
		videoW.Close()
		return nil, nil, fmt.Errorf("creating audio pipe: %w", err)
	}

	cmd := &Command{
		Binary: t.binary,
		Args: []string{
			"-hide_banner",
			"-loglevel", t.logLevel,
			"-i", videoPipeSpec,
			"-i", audioPipeSpec,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:v", "copy",
			"-c:a", "aac",
			"-movflags", "frag_keyframe+empty_moov",
			"-f", "mp4",
			"pipe:1",
		},
		ExtraInputs: []*os.File{videoR, audioR},
	}

	out, err := cmd.Start(ctx)
	if err != nil {
		// Start owns the read ends; the write ends are still ours.
		videoW.Close()
		audioW.Close()
		return nil, nil, err
	}

	go t.feed("video", in.Video, videoW)
	go t.feed("audio", in.Audio, audioW)

	t.logger.Debug("transcoder started", slog.String("mode", "mux-mp4"))
	return cmd, out, nil
}

// feed pumps one upstream stream into its transcoder pipe. Closing the
// write end signals EOF to ffmpeg; a read failure mid-stream therefore
// looks like a truncated input, which the session error path picks up.
func (t *Transcoder) feed(role string, src io.Reader, dst *os.File) {
	n, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err != nil {
		t.logger.Warn("transcoder input interrupted",
			slog.String("input", role),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
		return
	}
	if closeErr != nil {
		t.logger.Debug("closing transcoder input",
			slog.String("input", role),
			slog.String("error", closeErr.Error()),
		)
	}
}
