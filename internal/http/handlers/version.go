package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tubemux/tubemux/internal/version"
)

// VersionHandler serves build version information.
type VersionHandler struct{}

// NewVersionHandler creates a new version handler.
func NewVersionHandler() *VersionHandler {
	return &VersionHandler{}
}

// VersionInput is the input for the version endpoint.
type VersionInput struct{}

// VersionOutput is the output for the version endpoint.
type VersionOutput struct {
	Body version.Info
}

// Register registers the version route with the API.
func (h *VersionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getVersion",
		Method:      http.MethodGet,
		Path:        "/api/v1/version",
		Summary:     "Version information",
		Description: "Returns the build version, commit, and platform of the running service",
		Tags:        []string{"System"},
	}, h.GetVersion)
}

// GetVersion returns build version information.
func (h *VersionHandler) GetVersion(ctx context.Context, input *VersionInput) (*VersionOutput, error) {
	return &VersionOutput{Body: version.GetInfo()}, nil
}
