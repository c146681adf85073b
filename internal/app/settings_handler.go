package app

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"kaswatch/config"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxSettingsBody = 64 << 10

// SettingsHandler handles settings-related HTTP requests.
type SettingsHandler struct {
	logger   *zap.Logger
	live     *config.LiveConfig
	baseline *config.Config
	token    string
}

// NewSettingsHandler creates a new SettingsHandler. baseline is the config
// the process started with; reset restores it. An empty token leaves
// writes open.
func NewSettingsHandler(logger *zap.Logger, live *config.LiveConfig, baseline *config.Config, token string) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseline == nil {
		baseline = live.Get()
	}
	return &SettingsHandler{
		logger:   logger,
		live:     live,
		baseline: baseline.Clone(),
		token:    token,
	}
}

// RegisterRoutes registers the settings routes on the given mux.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/settings", h.handleSettingsAPI)
	mux.HandleFunc("/api/settings/reset", h.handleSettingsReset)
	mux.HandleFunc("/api/settings/info", h.handleSettingsInfo)
}

// requireAuth checks the bearer token when one is configured.
// Returns true if allowed to proceed, false if a 401 response was sent.
func (h *SettingsHandler) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if h.token == "" {
		return true
	}

	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1 {
		return true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   "authentication_required",
		"message": "A valid settings token is required to modify settings",
	})
	return false
}

// handleSettingsAPI handles GET and POST requests for settings.
func (h *SettingsHandler) handleSettingsAPI(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getSettings(w, r)
	case http.MethodPost:
		h.updateSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// getSettings returns the current settings as JSON.
func (h *SettingsHandler) getSettings(w http.ResponseWriter, _ *http.Request) {
	data, err := h.live.Get().ToJSON()
	if err != nil {
		h.logger.Error("failed to encode settings", zap.Error(err))
		http.Error(w, "Failed to encode settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// updateSettings decodes the request body on top of the current settings.
func (h *SettingsHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	// Check authentication
	if !h.requireAuth(w, r) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBody))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	// Start with current config as base
	newConfig, err := config.ConfigFromJSON(body, h.live.Get())
	if err != nil {
		h.logger.Error("failed to decode settings", zap.Error(err))
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	h.apply(w, newConfig, "settings updated via API")
}

// handleSettingsReset restores the settings the process started with.
func (h *SettingsHandler) handleSettingsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Check authentication
	if !h.requireAuth(w, r) {
		return
	}

	h.apply(w, h.baseline.Clone(), "settings reset via API")
}

func (h *SettingsHandler) apply(w http.ResponseWriter, cfg *config.Config, msg string) {
	// Validate
	validation := cfg.Validate()
	if !validation.Valid {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"errors":  validation.Errors,
		})
		return
	}

	if err := h.live.Update(cfg); err != nil {
		h.logger.Error("failed to update settings", zap.Error(err))
		http.Error(w, "Failed to update settings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info(msg, zap.Int("version", h.live.Version()))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":    true,
		"version":    h.live.Version(),
		"applied_at": time.Now(),
	})
}

// SettingsInfo describes the state of the live settings.
type SettingsInfo struct {
	Version      int       `json:"version"`
	LastUpdated  time.Time `json:"last_updated"`
	AuthRequired bool      `json:"auth_required"`
}

// handleSettingsInfo returns metadata about settings state.
func (h *SettingsHandler) handleSettingsInfo(w http.ResponseWriter, _ *http.Request) {
	info := SettingsInfo{
		Version:      h.live.Version(),
		LastUpdated:  h.live.LastUpdated(),
		AuthRequired: h.token != "",
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
