package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tubemux/tubemux/internal/models"
	"github.com/tubemux/tubemux/pkg/httpclient"
)

const (
	playerPath = "/youtubei/v1/player?prettyPrint=false"

	clientName    = "WEB"
	clientVersion = "2.20240726.00.00"
)

// Source fetches raw player metadata for a media key. Implementations must
// classify failures via models.Error so the retry layer can distinguish
// transient from permanent ones.
type Source interface {
	Player(ctx context.Context, mediaKey string) (*PlayerResponse, error)
}

// InnertubeSource talks to the upstream player endpoint over HTTP.
type InnertubeSource struct {
	baseURL string
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewInnertubeSource creates a source for the given upstream origin.
func NewInnertubeSource(baseURL string, hc *httpclient.Client, logger *slog.Logger) *InnertubeSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &InnertubeSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger,
	}
}

// playerRequest is the request payload for the player endpoint.
type playerRequest struct {
	Context        requestContext `json:"context"`
	VideoID        string         `json:"videoId"`
	ContentCheckOk bool           `json:"contentCheckOk"`
	RacyCheckOk    bool           `json:"racyCheckOk"`
}

type requestContext struct {
	Client clientInfo `json:"client"`
}

type clientInfo struct {
	ClientName       string `json:"clientName"`
	ClientVersion    string `json:"clientVersion"`
	AcceptLanguage   string `json:"hl"`
	TimeZone         string `json:"timeZone"`
	UtcOffsetMinutes int    `json:"utcOffsetMinutes"`
}

// Player fetches and validates the player response for mediaKey.
func (s *InnertubeSource) Player(ctx context.Context, mediaKey string) (*PlayerResponse, error) {
	payload := playerRequest{
		Context: requestContext{
			Client: clientInfo{
				ClientName:     clientName,
				ClientVersion:  clientVersion,
				AcceptLanguage: "en",
				TimeZone:       "UTC",
			},
		},
		VideoID:        mediaKey,
		ContentCheckOk: true,
		RacyCheckOk:    true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding player request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+playerPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating player request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	var player PlayerResponse
	if err := json.NewDecoder(resp.Body).Decode(&player); err != nil {
		return nil, models.WrapError(models.ErrClassUpstreamData, "Malformed upstream metadata", err)
	}

	if err := validatePlayability(&player); err != nil {
		return nil, err
	}
	return &player, nil
}

// validatePlayability maps the upstream playability verdict to the error
// taxonomy. A "verification required" verdict is a throttling signal in
// disguise and is classified as retryable.
func validatePlayability(p *PlayerResponse) error {
	status := p.PlayabilityStatus
	if status.IsOK() {
		if p.StreamingData == nil || p.VideoDetails == nil {
			return models.NewError(models.ErrClassUpstreamData, "Upstream response missing expected sections")
		}
		return nil
	}

	reason := status.Reason
	if reason == "" {
		reason = status.Status
	}

	switch status.Status {
	case "LOGIN_REQUIRED":
		if isVerificationReason(reason) {
			return models.NewError(models.ErrClassRateLimited, "Upstream verification required: "+reason)
		}
		return models.NewError(models.ErrClassUpstreamData, "Media requires login: "+reason)
	case "ERROR", "UNPLAYABLE", "CONTENT_CHECK_REQUIRED", "AGE_CHECK_REQUIRED":
		return models.NewError(models.ErrClassUpstreamData, "Media not playable: "+reason)
	default:
		return models.NewError(models.ErrClassUpstreamData, "Unexpected playability status: "+reason)
	}
}

func isVerificationReason(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "confirm") || strings.Contains(r, "not a bot") || strings.Contains(r, "verify")
}

// classifyTransportError maps transport-level failures to the taxonomy.
func classifyTransportError(err error) error {
	if httpclient.IsRateLimited(err) {
		return models.WrapError(models.ErrClassRateLimited, "Upstream rate limit hit", err)
	}
	return models.WrapError(models.ErrClassUpstreamUnavailable, "Upstream request failed", err)
}
