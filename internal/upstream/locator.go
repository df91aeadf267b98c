package upstream

import (
	"regexp"
	"strings"

	"github.com/tubemux/tubemux/internal/models"
)

var (
	mediaKeyPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)
	watchURLPattern = regexp.MustCompile(`(?:v=|/shorts/|/embed/|youtu\.be/)([0-9A-Za-z_-]{11})`)
)

// ExtractMediaKey derives the canonical media key from a caller-supplied
// locator. Raw 11-character keys and the common URL shapes (watch, shorts,
// embed, youtu.be) all resolve to the same key.
func ExtractMediaKey(locator string) (string, error) {
	s := strings.TrimSpace(locator)
	if s == "" {
		return "", models.NewError(models.ErrClassNoURL, "No URL provided")
	}
	if mediaKeyPattern.MatchString(s) {
		return s, nil
	}
	if m := watchURLPattern.FindStringSubmatch(s); len(m) == 2 {
		return m[1], nil
	}
	return "", models.NewError(models.ErrClassInput, "Unrecognized URL or video id")
}
