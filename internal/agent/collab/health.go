package collab

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-paynotify/internal/domain"
)

type HealthSource interface {
	Snapshot(ctx context.Context) domain.DeviceHealthRequest
}

// HealthReporter posts a best-effort health snapshot for this device.
type HealthReporter struct {
	logger     *slog.Logger
	backend    backend
	deviceUUID string
	source     HealthSource
}

func NewHealthReporter(logger *slog.Logger, baseURL, token string, hc *http.Client, deviceUUID string, source HealthSource) *HealthReporter {
	return &HealthReporter{
		logger:     logger,
		backend:    newBackend(baseURL, token, hc),
		deviceUUID: deviceUUID,
		source:     source,
	}
}

func (r *HealthReporter) Run(ctx context.Context) error {
	snap := r.source.Snapshot(ctx)
	path := "/v1/devices/" + url.PathEscape(r.deviceUUID) + "/health"
	if err := r.backend.do(ctx, http.MethodPost, path, snap, nil); err != nil {
		r.logger.WarnContext(ctx, "health report failed",
			"module", "agent.collab",
			"operation", "health_report",
			"outcome", "failure",
			"error", err,
		)
		return err
	}
	return nil
}

// SystemHealth reads the battery level from sysfs and evaluates named
// permission checks.
type SystemHealth struct {
	BatteryPath string
	Checks      map[string]func(ctx context.Context) bool
}

func (h SystemHealth) Snapshot(ctx context.Context) domain.DeviceHealthRequest {
	var out domain.DeviceHealthRequest
	if h.BatteryPath != "" {
		if raw, err := os.ReadFile(h.BatteryPath); err == nil {
			if n, err := strconv.Atoi(strings.TrimSpace(string(raw))); err == nil && n >= 0 && n <= 100 {
				out.BatteryLevel = &n
			}
		}
	}
	if len(h.Checks) > 0 {
		out.Permissions = make(map[string]bool, len(h.Checks))
		for name, check := range h.Checks {
			out.Permissions[name] = check(ctx)
		}
	}
	return out
}
