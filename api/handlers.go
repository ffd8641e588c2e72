package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jaliph/qrbridge/auth"
	"github.com/jaliph/qrbridge/config"
	"github.com/jaliph/qrbridge/models"
	"github.com/jaliph/qrbridge/updater"
	"github.com/jaliph/qrbridge/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// QRSource produces the served QR image
type QRSource interface {
	GetQRCode(ctx context.Context) ([]byte, bool, error)
	Invalidate()
	InFlight() bool
	CacheAge() (time.Duration, bool)
}

// SettingsStore holds the editable settings document
type SettingsStore interface {
	Snapshot() config.Settings
	Update(form url.Values) (models.SettingsUpdateResult, error)
}

// Sessions manages admin logins
type Sessions interface {
	Login(w http.ResponseWriter, r *http.Request, token, want string) bool
	Logout(w http.ResponseWriter, r *http.Request)
	Refresh(w http.ResponseWriter, r *http.Request)
}

// Updater checks for and installs new releases
type Updater interface {
	Check(ctx context.Context) (bool, *updater.Release, error)
	Apply(ctx context.Context, rel *updater.Release) error
}

// History reads past capture cycles
type History interface {
	GetRecentGenerations(ctx context.Context, limit int) ([]models.Generation, error)
	GetGenerationStats(ctx context.Context, now time.Time) (*models.GenerationStats, error)
}

// RequestMetrics counts QR requests by result
type RequestMetrics interface {
	Request(result string)
}

// Deps are the collaborators of Handler. Updater, History and Metrics may be nil.
type Deps struct {
	QR       QRSource
	Settings SettingsStore
	Sessions Sessions
	Updater  Updater
	History  History
	Metrics  RequestMetrics
	Version  string
	Logger   *slog.Logger
}

// Handler handles HTTP requests
type Handler struct {
	qr        QRSource
	settings  SettingsStore
	sessions  Sessions
	updater   Updater
	history   History
	metrics   RequestMetrics
	version   string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHandler creates a new API handler
func NewHandler(d Deps) *Handler {
	return &Handler{
		qr:        d.QR,
		settings:  d.Settings,
		sessions:  d.Sessions,
		updater:   d.Updater,
		history:   d.History,
		metrics:   d.Metrics,
		version:   d.Version,
		startedAt: time.Now(),
		logger:    utils.Or(d.Logger),
	}
}

// HandleQRCode serves the current QR image to callers that present the token
func (h *Handler) HandleQRCode(w http.ResponseWriter, r *http.Request) {
	if !auth.TokenMatches(r.URL.Query().Get("token"), h.settings.Snapshot().Token) {
		if h.metrics != nil {
			h.metrics.Request("forbidden")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("403 Forbidden"))
		return
	}

	img, cached, err := h.qr.GetQRCode(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Debug("QR request abandoned by client", "remote", r.RemoteAddr)
			return
		}
		h.logger.Error("Failed to produce QR code", "error", err)
		http.Error(w, "Failed to produce QR code", http.StatusInternalServerError)
		return
	}

	cacheState := "miss"
	if cached {
		cacheState = "hit"
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-QR-Cache", cacheState)
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

// HandleLoginPage renders the login form
func (h *Handler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, "login.html", nil)
}

// HandleLogin checks the submitted token and starts a session
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, models.LoginResponse{Success: false})
		return
	}
	ok := h.sessions.Login(w, r, r.PostFormValue("token"), h.settings.Snapshot().Token)
	writeJSON(w, http.StatusOK, models.LoginResponse{Success: ok})
}

// HandleLogout ends the session
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(w, r)
	w.WriteHeader(http.StatusNoContent)
}

type settingsView struct {
	Settings    config.Settings
	Version     string
	SkinFormats []models.SkinFormat
	Cache       string
}

// HandleSettingsPage renders the settings form
func (h *Handler) HandleSettingsPage(w http.ResponseWriter, r *http.Request) {
	cache := "empty"
	if age, ok := h.qr.CacheAge(); ok {
		cache = humanize.Time(time.Now().Add(-age))
	}
	h.render(w, "settings.html", settingsView{
		Settings:    h.settings.Snapshot(),
		Version:     h.version,
		SkinFormats: []models.SkinFormat{models.SkinNew, models.SkinOld, models.SkinCustom},
		Cache:       cache,
	})
}

// HandleSettingsUpdate applies a settings form submission
func (h *Handler) HandleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}

	result, err := h.settings.Update(r.PostForm)
	if err != nil {
		var fieldErr *config.FieldError
		if errors.As(err, &fieldErr) {
			http.Error(w, fieldErr.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("Failed to save settings", "error", err)
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	h.qr.Invalidate()
	if result.TokenChanged {
		h.sessions.Refresh(w, r)
		h.logger.Info("Access token rotated")
	}

	msg := "settings updated"
	if len(result.RestartRequired) > 0 {
		msg += fmt.Sprintf(" (restart required for %s)", strings.Join(result.RestartRequired, ", "))
	}
	h.logger.Info("Settings updated", "restart_required", result.RestartRequired)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(msg))
}

// HandleCheckUpdate reports whether a newer release exists
func (h *Handler) HandleCheckUpdate(w http.ResponseWriter, r *http.Request) {
	if h.updater == nil {
		writeJSON(w, http.StatusOK, models.UpdateCheckResponse{HasUpdate: false, Message: "updates are disabled"})
		return
	}

	has, rel, err := h.updater.Check(r.Context())
	if err != nil {
		h.logger.Warn("Update check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Error:   true,
			Message: fmt.Sprintf("failed to check for updates: %v", err),
		})
		return
	}
	if !has {
		writeJSON(w, http.StatusOK, models.UpdateCheckResponse{HasUpdate: false, Message: "already up to date"})
		return
	}
	writeJSON(w, http.StatusOK, models.UpdateCheckResponse{
		HasUpdate:   true,
		Version:     rel.TagName,
		Name:        rel.Name,
		PublishedAt: rel.PublishedAt,
		Body:        rel.Body,
	})
}

// HandleManualUpdate installs the newest release if there is one
func (h *Handler) HandleManualUpdate(w http.ResponseWriter, r *http.Request) {
	if h.updater == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	has, rel, err := h.updater.Check(r.Context())
	if err != nil {
		h.logger.Warn("Update check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Error:   true,
			Message: fmt.Sprintf("failed to check for updates: %v", err),
		})
		return
	}
	if !has {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.updater.Apply(r.Context(), rel); err != nil {
		h.logger.Error("Update failed", "version", rel.TagName, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Error:   true,
			Message: fmt.Sprintf("update failed: %v", err),
		})
		return
	}
	h.logger.Info("Update applied; restart to run the new version", "version", rel.TagName)
	w.WriteHeader(http.StatusOK)
}

// HandleHealth reports liveness and cache state
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:    "ok",
		Message:   "qrbridge is running",
		InFlight:  h.qr.InFlight(),
		StartedAt: h.startedAt.Format(time.RFC3339),
	}
	if age, ok := h.qr.CacheAge(); ok {
		resp.Cached = true
		resp.CacheAgeSeconds = age.Seconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetStats summarizes the generation history
func (h *Handler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	stats, err := h.history.GetGenerationStats(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get stats: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleGetHistory lists recent capture cycles
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 50 // default limit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	generations, err := h.history.GetRecentGenerations(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get history: %v", err))
		return
	}
	if generations == nil {
		generations = []models.Generation{}
	}
	writeJSON(w, http.StatusOK, generations)
}

func (h *Handler) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("Failed to render template", "template", name, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.APIResponse{Status: "error", Error: msg})
}
