package collab

import (
	"context"
	"log/slog"
	"net/http"
)

type PackageReplacer interface {
	Replace(ctx context.Context, pkgs []string) error
}

// AllowlistSync pulls the monitored packages from the backend.
type AllowlistSync struct {
	logger    *slog.Logger
	backend   backend
	allowlist PackageReplacer
}

func NewAllowlistSync(logger *slog.Logger, baseURL, token string, hc *http.Client, allowlist PackageReplacer) *AllowlistSync {
	return &AllowlistSync{logger: logger, backend: newBackend(baseURL, token, hc), allowlist: allowlist}
}

func (s *AllowlistSync) Run(ctx context.Context) error {
	var resp struct {
		Packages []string `json:"packages"`
	}
	if err := s.backend.do(ctx, http.MethodGet, "/v1/monitored-packages", nil, &resp); err != nil {
		return err
	}
	if err := s.allowlist.Replace(ctx, resp.Packages); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "allowlist synced",
		"module", "agent.collab",
		"operation", "allowlist_sync",
		"outcome", "success",
		"packages", len(resp.Packages),
	)
	return nil
}
