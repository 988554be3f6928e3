package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	apierrors "fccli/internal/errors"
	"fccli/internal/license"
)

// LicenseStatusProvider exposes the license state the handler reports.
// *license.Manager satisfies it.
type LicenseStatusProvider interface {
	Current() *license.Payload
	Fingerprint() string
}

// StatusHandler handles license status HTTP requests
type StatusHandler struct {
	provider LicenseStatusProvider
	logger   *slog.Logger
	now      func() time.Time
}

// NewStatusHandler creates a new license status handler
func NewStatusHandler(provider LicenseStatusProvider, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		provider: provider,
		logger:   logger.With(slog.String("handler", "license_status")),
		now:      time.Now,
	}
}

// StatusResponse is the body of GET /api/license/status. The license
// key and email are always masked.
type StatusResponse struct {
	Licensed           bool      `json:"licensed"`
	LicenseKeyMasked   string    `json:"license_key_masked,omitempty"`
	EmailMasked        string    `json:"email_masked,omitempty"`
	ClientName         string    `json:"client_name,omitempty"`
	ActivationCount    int       `json:"activation_count,omitempty"`
	MaxActivations     int       `json:"max_activations,omitempty"`
	MachineFingerprint string    `json:"machine_fingerprint,omitempty"`
	OfflineMode        bool      `json:"offline_mode"`
	VerifiedAt         time.Time `json:"verified_at,omitempty"`
	CacheExpiresAt     time.Time `json:"cache_expires_at,omitempty"`
	CacheExpired       bool      `json:"cache_expired"`
}

// Status handles GET /api/license/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	payload := h.provider.Current()
	if payload == nil {
		h.logger.InfoContext(r.Context(), "license status requested before verification")
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrLicenseRequired))
		return
	}

	render.JSON(w, r, StatusResponse{
		Licensed:           true,
		LicenseKeyMasked:   license.MaskLicenseKey(payload.LicenseKey),
		EmailMasked:        license.MaskEmail(payload.Email),
		ClientName:         payload.ClientName,
		ActivationCount:    payload.ActivationCount,
		MaxActivations:     payload.MaxActivations,
		MachineFingerprint: h.provider.Fingerprint(),
		OfflineMode:        payload.OfflineMode,
		VerifiedAt:         payload.VerifiedAt,
		CacheExpiresAt:     payload.CacheExpiresAt,
		CacheExpired:       payload.ExpiredAt(h.now()),
	})
}
