package license

import (
	"context"
	"log/slog"
	"strings"
)

// logAction logs a license action with the component attributes every
// record in this package carries.
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	all := []slog.Attr{
		slog.String("component", "license_manager"),
		slog.String("action", action),
	}
	all = append(all, attrs...)
	m.logger.LogAttrs(ctx, level, result, all...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}

// MaskLicenseKey returns the display form of a license key, safe for
// logs and status responses.
func MaskLicenseKey(key string) string { return maskLicenseKey(key) }

// MaskEmail returns the display form of an email address.
func MaskEmail(email string) string { return maskEmail(email) }

// maskLicenseKey masks the license key for display and logging.
// Dashes are stripped first so the visible prefix/suffix length is
// stable across entry formats.
func maskLicenseKey(key string) string {
	if key == "" {
		return "unknown"
	}
	cleaned := strings.ReplaceAll(key, "-", "")
	if len(cleaned) <= 8 {
		return cleaned
	}
	return cleaned[:6] + "..." + cleaned[len(cleaned)-4:]
}

// maskEmail masks an email address while preserving the domain.
func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.Index(email, "@")
	if at == -1 {
		return "****"
	}
	user, domain := email[:at], email[at:]
	if len(user) <= 2 {
		return "**" + domain
	}
	return user[:1] + "****" + user[len(user)-1:] + domain
}
