// Package capture is the synchronous notification callback path. It only
// filters by package and writes to the outbox; it never classifies and never
// touches the network.
package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-paynotify/internal/agent/outbox"
)

// RawNotification is what the OS hands to the listener.
type RawNotification struct {
	PackageName     string `json:"package_name"`
	Title           string `json:"title"`
	Text            string `json:"text"`
	PostedAtEpochMs int64  `json:"posted_at_ms"`
	AndroidUserID   *int   `json:"android_user_id,omitempty"`
}

type Store interface {
	Insert(ctx context.Context, rec outbox.CapturedRecord) (int64, error)
	Trim(ctx context.Context, keep int) (int64, error)
}

type Handler struct {
	logger    *slog.Logger
	store     Store
	allowlist *Allowlist
	retention int
}

func NewHandler(logger *slog.Logger, store Store, allowlist *Allowlist, retention int) *Handler {
	return &Handler{logger: logger, store: store, allowlist: allowlist, retention: retention}
}

// OnNotification durably records n when its package is monitored. It
// reports whether a row was written.
func (h *Handler) OnNotification(ctx context.Context, n RawNotification) (bool, error) {
	if !h.allowlist.Contains(n.PackageName) {
		return false, nil
	}

	id, err := h.store.Insert(ctx, outbox.CapturedRecord{
		PackageName:     n.PackageName,
		Title:           n.Title,
		Body:            n.Text,
		AndroidUserID:   n.AndroidUserID,
		PostedAtEpochMs: n.PostedAtEpochMs,
	})
	if err != nil {
		return false, fmt.Errorf("capture notification: %w", err)
	}

	if h.retention > 0 {
		trimmed, err := h.store.Trim(ctx, h.retention)
		if err != nil {
			// The capture itself is durable; trimming is retried on the next one.
			h.logger.WarnContext(ctx, "outbox trim failed",
				"module", "agent.capture",
				"operation", "trim",
				"outcome", "failure",
				"error", err,
			)
		} else if trimmed > 0 {
			h.logger.InfoContext(ctx, "outbox trimmed",
				"module", "agent.capture",
				"operation", "trim",
				"outcome", "success",
				"deleted", trimmed,
			)
		}
	}

	h.logger.DebugContext(ctx, "notification captured",
		"module", "agent.capture",
		"operation", "on_notification",
		"outcome", "success",
		"record_id", id,
		"package_name", n.PackageName,
	)
	return true, nil
}
