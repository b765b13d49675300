package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// LicenseHandler handles license inventory API requests.
type LicenseHandler struct {
	inventory Inventory
	checker   ChangeChecker
	logger    zerolog.Logger
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(inventory Inventory, checker ChangeChecker, logger zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		inventory: inventory,
		checker:   checker,
		logger:    logger.With().Str("handler", "licenses").Logger(),
	}
}

// Health reports that the API is up.
func (h *LicenseHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "License inventory API is running",
	})
}

// Tools lists the tool ids found in the watched directory.
func (h *LicenseHandler) Tools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tools":   h.inventory.AvailableTools(),
	})
}

// Licenses returns every feature, optionally filtered by the "tool" query parameter.
func (h *LicenseHandler) Licenses(w http.ResponseWriter, r *http.Request) {
	h.writeFeatures(w, r, r.URL.Query().Get("tool"))
}

// LicensesForTool returns the features of the tool named in the path.
func (h *LicenseHandler) LicensesForTool(w http.ResponseWriter, r *http.Request) {
	h.writeFeatures(w, r, mux.Vars(r)["tool"])
}

func (h *LicenseHandler) writeFeatures(w http.ResponseWriter, r *http.Request, tool string) {
	features, err := h.inventory.ByTool(r.Context(), tool)
	if err != nil {
		h.logger.Error().Err(err).Str("tool", tool).Msg("Failed to get license data")
		writeError(w, http.StatusInternalServerError, "Failed to get license data")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    features,
	})
}

// Feature returns the per-user detail view of one feature.
func (h *LicenseHandler) Feature(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tool, feature := vars["tool"], vars["feature"]

	detail, ok, err := h.inventory.FeatureDetail(r.Context(), tool, feature)
	if err != nil {
		h.logger.Error().Err(err).Str("tool", tool).Str("feature", feature).Msg("Failed to get feature details")
		writeError(w, http.StatusInternalServerError, "Failed to get feature details")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Feature not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    detail,
	})
}

// CheckChanges reports whether the watched directory changed since the last check.
func (h *LicenseHandler) CheckChanges(w http.ResponseWriter, r *http.Request) {
	h.writeCheck(w, r, "Failed to check for file changes")
}

// Refresh re-checks the directory. A detected change has been parsed and published by the
// time the response is written, so clients can refetch immediately.
func (h *LicenseHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Msg("License refresh requested")
	h.writeCheck(w, r, "Failed to refresh license data")
}

func (h *LicenseHandler) writeCheck(w http.ResponseWriter, r *http.Request, failure string) {
	changed, err := h.checker.CheckNow(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg(failure)
		writeError(w, http.StatusInternalServerError, failure)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"hasChanges": changed,
	})
}
