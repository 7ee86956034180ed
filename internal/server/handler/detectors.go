package handler

import (
	"net/http"

	"github.com/alanyoungcy/dexguard/internal/detector"
)

// DetectorHandler serves the detector status endpoint for the dashboard.
type DetectorHandler struct {
	registry *detector.Registry
}

// NewDetectorHandler creates a DetectorHandler over the given registry.
func NewDetectorHandler(registry *detector.Registry) *DetectorHandler {
	return &DetectorHandler{registry: registry}
}

// ListDetectors returns the registered detectors with their emission counters.
// GET /api/detectors
func (h *DetectorHandler) ListDetectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"detectors": h.registry.ListInfo(),
	})
}
