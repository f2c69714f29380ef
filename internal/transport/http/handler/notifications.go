package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/go-paynotify/internal/application/ingestion"
	"github.com/go-paynotify/internal/application/notification"
	"github.com/go-paynotify/internal/domain"
	jwtinfra "github.com/go-paynotify/internal/infrastructure/jwt"
	"github.com/go-paynotify/internal/transport/http/middleware"
)

// NotificationHandler serves device submissions and the operator read side.
type NotificationHandler struct {
	ingest ingestion.Service
	svc    notification.Service
}

func NewNotificationHandler(ingest ingestion.Service, svc notification.Service) *NotificationHandler {
	return &NotificationHandler{ingest: ingest, svc: svc}
}

func (h *NotificationHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req domain.IngestNotificationRequest
	raw, ok := readBody(w, r, &req)
	if !ok {
		return
	}
	// A device token may only submit for its own device.
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok &&
		claims.Role == jwtinfra.RoleDevice && claims.DeviceID != req.DeviceID {
		writeError(w, http.StatusForbidden, "token does not belong to this device")
		return
	}
	rec, err := h.ingest.Ingest(r.Context(), req, raw)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var limit int32
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = int32(n)
	}
	records, next, err := h.svc.List(r.Context(), claims.CommerceID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PageEnvelope[domain.NotificationRecord]{Data: records, NextCursor: next})
}

func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	n, err := h.svc.Get(r.Context(), claims.CommerceID, chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *NotificationHandler) Raw(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	raw, err := h.svc.Raw(r.Context(), claims.CommerceID, chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
