// Package ffmpeg wraps the external ffmpeg transcoder subprocess used for
// audio transcoding and A/V muxing.
package ffmpeg

import (
	"fmt"
	"os/exec"
)

// DefaultBinaryName is used when no explicit path is configured.
const DefaultBinaryName = "ffmpeg"

// FindBinary resolves the ffmpeg executable. An explicitly configured path
// wins; otherwise PATH is searched.
func FindBinary(configured string) (string, error) {
	name := configured
	if name == "" {
		name = DefaultBinaryName
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("locating ffmpeg binary %q: %w", name, err)
	}
	return path, nil
}
