package handler

import "net/http"

// PackagesHandler serves the monitored-package allowlist agents sync from.
type PackagesHandler struct {
	packages []string
}

func NewPackagesHandler(packages []string) *PackagesHandler {
	return &PackagesHandler{packages: append([]string(nil), packages...)}
}

func (h *PackagesHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PackagesEnvelope{Packages: h.packages})
}
