package license

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"fccli/internal/config"
)

// maxAttempts bounds the prompt/verify loop. Three strikes, then the
// flow terminates in failure.
const maxAttempts = 3

// ErrPromptAborted is returned when the flow needs credentials and the
// prompt yields nothing (user cancelled, or quiet mode with no
// interactive surface).
var ErrPromptAborted = errors.New("license verification is required to continue")

// Manager drives the verification state machine: load cache, obtain
// credentials, verify with the server, persist, and fall back to a
// still-valid cached activation when the server is unreachable.
//
// A Manager is built for a single verification flow per process,
// executed synchronously on the caller's goroutine. Callers wanting
// periodic re-verification re-invoke Ensure.
type Manager struct {
	cfg         config.LicenseConfig
	fingerprint string
	cachePath   string
	timeout     time.Duration
	candidates  *Candidates
	codec       *Codec
	client      *Client
	prompter    Prompter
	applied     appliedCell
	applyFn     func(*Payload)
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
	errOut      io.Writer
}

// Option configures a Manager.
type Option func(*Manager)

// WithPrompter sets the interactive credential source. Passing nil
// disables prompting entirely; the flow then fails as soon as it needs
// input, which is the quiet-mode contract.
func WithPrompter(p Prompter) Option {
	return func(m *Manager) { m.prompter = p }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithCachePath overrides the license cache file location.
func WithCachePath(path string) Option {
	return func(m *Manager) { m.cachePath = path }
}

// WithFingerprint overrides the device fingerprint.
func WithFingerprint(fingerprint string) Option {
	return func(m *Manager) { m.fingerprint = fingerprint }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithApplyFunc overrides how a payload is applied to the process's
// observable configuration.
func WithApplyFunc(apply func(*Payload)) Option {
	return func(m *Manager) { m.applyFn = apply }
}

// WithMetrics attaches OpenTelemetry metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTimeout overrides the per-request verification timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) { m.timeout = timeout }
}

// WithErrorOutput sets where humanized failure messages are written.
func WithErrorOutput(w io.Writer) Option {
	return func(m *Manager) { m.errOut = w }
}

// NewManager creates a license manager from configuration. A bad
// server URL or scheme is a fatal configuration error: no partially
// usable Manager is ever returned.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	candidates, err := ResolveCandidates(cfg.License)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg.License,
		fingerprint: MachineFingerprint(),
		cachePath:   config.LicenseCachePath(),
		candidates:  candidates,
		prompter:    NewConsolePrompter(),
		applyFn:     applyEnvironment,
		logger:      slog.Default(),
		now:         time.Now,
		errOut:      os.Stderr,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.codec = NewCodec(m.cachePath, m.fingerprint, m.logger)
	m.client = NewClient(m.candidates, m.timeout, m.logger)
	m.client.SetMetrics(m.metrics)

	m.logInfo(context.Background(), "manager_initialization", "license manager initialized",
		slog.String("server", m.candidates.Primary()),
		slog.Int("candidates", m.candidates.Len()),
		slog.String("cache_path", m.cachePath),
		slog.Bool("cache_exists", config.FileExists(m.cachePath)),
		slog.Int("cache_max_hours", m.cfg.CacheMaxHours),
	)
	return m, nil
}

// EnsureOptions control one verification flow. The zero value is the
// default behavior: use the cache, prompt when needed, persist the
// refreshed activation.
type EnsureOptions struct {
	// ForcePrompt skips loading the cache so the user is always asked
	// for credentials.
	ForcePrompt bool
	// Quiet suppresses user-facing error messages. Combined with a nil
	// prompter it makes the flow fail fast instead of blocking on
	// input.
	Quiet bool
	// SkipCache ignores any cached payload: no cached key is reused
	// and no offline fallback is possible.
	SkipCache bool
	// NoPersist verifies without writing a new cache entry; any
	// existing entry is removed.
	NoPersist bool
}

// Ensure runs the verification flow and returns the trusted payload.
// It makes up to three prompt/verify attempts; each failure surfaces a
// humanized message (unless quiet) and re-prompts. A transport-level
// failure with a valid matching cache short-circuits into offline mode
// instead of burning an attempt.
func (m *Manager) Ensure(ctx context.Context, opts EnsureOptions) (*Payload, error) {
	// A payload already applied in this process is returned as-is;
	// re-verification within one process only happens when the caller
	// explicitly bypasses the cache.
	if payload := m.applied.Get(); payload != nil && !opts.SkipCache {
		return payload, nil
	}

	persist := !opts.NoPersist

	var cached *Payload
	if !opts.ForcePrompt {
		cached = m.codec.Load(m.now())
		m.metrics.recordCacheLoad(ctx, cached != nil)
		if cached != nil && !opts.SkipCache {
			// The cached activation is trusted until proven otherwise;
			// the process sees it immediately and the apply-once cell
			// keeps a later fresh payload from overriding it.
			m.apply(cached)
		}
	}
	if !persist {
		if err := m.codec.Delete(); err != nil {
			m.logWarn(ctx, "cache_delete", "failed to delete cached license",
				slog.String("error", err.Error()),
			)
		}
	}

	var key, email string
	if cached != nil {
		email = cached.Email
		if !opts.SkipCache {
			key = cached.LicenseKey
		}
	}

	lastCode := CodeInvalidLicense
	for attempts := 0; attempts < maxAttempts; {
		if key == "" {
			creds := m.promptCredentials(ctx, email)
			if creds == nil {
				if !opts.Quiet {
					m.showError(ErrPromptAborted.Error())
				}
				return nil, ErrPromptAborted
			}
			key, email = creds.LicenseKey, creds.Email
		}

		start := time.Now()
		m.metrics.recordAttempt(ctx)
		result := m.client.Verify(ctx, m.buildRequest(key, email))
		m.metrics.recordOutcome(ctx, start, result.Error, result.OK)

		if result.OK {
			payload := m.buildPayload(key, email, result.License)
			if persist {
				if err := m.codec.Store(payload); err != nil {
					m.logWarn(ctx, "cache_persist", "failed to persist license cache",
						slog.String("error", err.Error()),
					)
				}
			} else {
				_ = m.codec.Delete()
			}
			m.apply(payload)
			m.logInfo(ctx, "verification_success", "license verified",
				slog.String("license_key_masked", maskLicenseKey(key)),
				slog.String("email_masked", maskEmail(email)),
				slog.Int("activation_count", payload.ActivationCount),
				slog.Int("max_activations", payload.MaxActivations),
			)
			return payload, nil
		}

		lastCode = result.Error
		if m.offlineFallbackAllowed(cached, key, result.Error, opts) {
			offline := *cached
			offline.OfflineMode = true
			m.apply(&offline)
			m.metrics.recordOfflineFallback(ctx)
			m.logWarn(ctx, "offline_fallback", "license server unreachable; proceeding in offline mode with cached activation",
				slog.String("license_key_masked", maskLicenseKey(key)),
				slog.Time("cache_expires_at", offline.CacheExpiresAt),
			)
			return &offline, nil
		}

		attempts++
		m.logWarn(ctx, "verification_failure", "license verification attempt failed",
			slog.String("error_code", string(result.Error)),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", maxAttempts),
		)
		if !opts.Quiet {
			m.showError(result.Error.Humanize())
		}
		key = "" // force re-prompt
	}

	m.logError(ctx, "verification_exhausted", "license verification failed after retries",
		slog.Int("attempts", maxAttempts),
		slog.String("last_error_code", string(lastCode)),
	)
	return nil, &VerifyError{Code: lastCode}
}

// VerifyDirect performs a single non-interactive verification of the
// given credentials: no cache fallback, no persistence, no retries.
func (m *Manager) VerifyDirect(ctx context.Context, key, email string) (*Payload, error) {
	result := m.client.Verify(ctx, m.buildRequest(key, email))
	if !result.OK {
		return nil, &VerifyError{Code: result.Error}
	}
	return m.buildPayload(key, email, result.License), nil
}

// LoadCached returns the trustworthy cached payload, if any.
func (m *Manager) LoadCached() *Payload {
	return m.codec.Load(m.now())
}

// Current returns the payload applied to this process, falling back to
// the cached payload when nothing was applied yet.
func (m *Manager) Current() *Payload {
	if payload := m.applied.Get(); payload != nil {
		return payload
	}
	return m.LoadCached()
}

// Fingerprint returns the device fingerprint the manager binds to.
func (m *Manager) Fingerprint() string { return m.fingerprint }

// offlineFallbackAllowed gates the cached-activation fallback: cache
// use enabled, cache present, same key as attempted, same device,
// unexpired, and a failure kind that indicates the server could not
// answer rather than a rejection.
func (m *Manager) offlineFallbackAllowed(cached *Payload, key string, code Code, opts EnsureOptions) bool {
	return cached != nil &&
		!opts.SkipCache &&
		cached.LicenseKey == key &&
		cached.MachineFingerprint == m.fingerprint &&
		!cached.ExpiredAt(m.now()) &&
		code.OfflineEligible()
}

func (m *Manager) promptCredentials(ctx context.Context, defaultEmail string) *Credentials {
	if m.prompter == nil {
		return nil
	}
	creds, err := m.prompter.Prompt(ctx, defaultEmail)
	if err != nil || creds == nil || creds.LicenseKey == "" {
		return nil
	}
	return creds
}

func (m *Manager) buildRequest(key, email string) VerifyRequest {
	host, _ := os.Hostname()
	return VerifyRequest{
		LicenseKey:         key,
		MachineFingerprint: m.fingerprint,
		Email:              email,
		Hostname:           host,
		Platform:           runtime.GOOS + "/" + runtime.GOARCH,
		AppVersion:         m.cfg.AppVersion,
	}
}

func (m *Manager) buildPayload(key, email string, lic *ServerLicense) *Payload {
	now := m.now().UTC()
	if email == "" && lic != nil {
		email = lic.Email
	}
	payload := &Payload{
		LicenseKey:         key,
		Email:              email,
		MachineFingerprint: m.fingerprint,
		VerifiedAt:         now,
		CacheExpiresAt:     now.Add(time.Duration(m.cfg.CacheMaxHours) * time.Hour),
	}
	if lic != nil {
		payload.ClientName = lic.ClientName
		payload.ActivationCount = lic.ActivationCount
		payload.MaxActivations = lic.MaxActivations
	}
	return payload
}

func (m *Manager) apply(payload *Payload) {
	if m.applied.Set(payload) && m.applyFn != nil {
		m.applyFn(payload)
	}
}

func (m *Manager) showError(message string) {
	if m.errOut == nil {
		return
	}
	fmt.Fprintf(m.errOut, "ERROR: %s\n", message)
}
