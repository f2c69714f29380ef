package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/go-paynotify/internal/application/device"
	"github.com/go-paynotify/internal/application/instance"
	"github.com/go-paynotify/internal/domain"
	jwtinfra "github.com/go-paynotify/internal/infrastructure/jwt"
	"github.com/go-paynotify/internal/transport/http/middleware"
)

// DeviceHandler handles device registration, health and the operator view
// of a device's app instances.
type DeviceHandler struct {
	svc       device.Service
	instances instance.Resolver
}

func NewDeviceHandler(svc device.Service, instances instance.Resolver) *DeviceHandler {
	return &DeviceHandler{svc: svc, instances: instances}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterDeviceRequest
	if _, ok := readBody(w, r, &req); !ok {
		return
	}
	reg, created, err := h.svc.Register(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, reg)
}

// ReportHealth is addressed by the device uuid, which is all the agent knows.
func (h *DeviceHandler) ReportHealth(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "id")
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok &&
		claims.Role == jwtinfra.RoleDevice && claims.DeviceID != uuid {
		writeError(w, http.StatusForbidden, "token does not belong to this device")
		return
	}
	var req domain.DeviceHealthRequest
	if _, ok := readBody(w, r, &req); !ok {
		return
	}
	if err := h.svc.ReportHealth(r.Context(), uuid, req); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	d, err := h.svc.Get(r.Context(), claims.CommerceID, chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DeviceHandler) ListAppInstances(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.instances.ListByDevice(r.Context(), claims.CommerceID, chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DeviceHandler) LabelAppInstance(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req domain.LabelAppInstanceRequest
	if _, ok := readBody(w, r, &req); !ok {
		return
	}
	inst, err := h.instances.Label(r.Context(), claims.CommerceID, chi.URLParam(r, "id"), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}
