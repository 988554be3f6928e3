package license

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	verifyPath     = "/api/license/verify"
	defaultTimeout = 15 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	// Verification responses are small; anything larger is not ours.
	maxResponseBytes = 1 << 20
)

// VerifyRequest is the body POSTed to /api/license/verify.
type VerifyRequest struct {
	LicenseKey         string `json:"license_key" validate:"required"`
	MachineFingerprint string `json:"machine_fingerprint" validate:"required"`
	Email              string `json:"email,omitempty"`
	Hostname           string `json:"hostname,omitempty"`
	Platform           string `json:"platform,omitempty"`
	AppVersion         string `json:"app_version,omitempty"`
}

// ServerLicense holds the server-authoritative fields of a successful
// verification.
type ServerLicense struct {
	Email           string `json:"email,omitempty"`
	ClientName      string `json:"client_name,omitempty"`
	ActivationCount int    `json:"activation_count"`
	MaxActivations  int    `json:"max_activations"`
}

// VerifyResult is the normalized outcome of one verification round
// trip. HTTP statuses >= 400 with a structured error body are normal
// failure results, not transport errors.
type VerifyResult struct {
	OK      bool           `json:"ok"`
	Error   Code           `json:"error,omitempty"`
	License *ServerLicense `json:"license,omitempty"`
}

// Client performs the verification round trip against the resolved
// candidates, in order, promoting the first candidate that answers
// with a parseable response.
type Client struct {
	candidates *Candidates
	timeout    time.Duration
	validate   *validator.Validate
	logger     *slog.Logger
	metrics    *Metrics
	secure     *http.Client
	insecure   *http.Client
}

// NewClient creates a verification client over the given candidates.
// A zero timeout selects the default of 15 seconds.
func NewClient(candidates *Candidates, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		candidates: candidates,
		timeout:    timeout,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
		secure:     &http.Client{Timeout: timeout},
		insecure: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// SetMetrics attaches OpenTelemetry metrics to the client.
func (c *Client) SetMetrics(metrics *Metrics) { c.metrics = metrics }

// Verify performs one request/response cycle. Transport-level failures
// (timeouts, connection errors, TLS errors) move on to the next
// candidate; if every candidate fails at the transport level the
// aggregate result is a network_error.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) VerifyResult {
	if code, ok := c.validateRequest(req); !ok {
		return VerifyResult{OK: false, Error: code}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return VerifyResult{OK: false, Error: CodeInvalidServerResponse}
	}

	requestID := uuid.NewString()
	var lastErr error

	for _, candidate := range c.candidates.Snapshot() {
		c.logger.InfoContext(ctx, "attempting license verification",
			slog.String("server", candidate.BaseURL),
			slog.String("request_id", requestID),
			slog.Bool("verify_tls", candidate.VerifyTLS),
		)

		result, err := c.post(ctx, candidate, body, requestID)
		if err != nil {
			lastErr = err
			c.logger.DebugContext(ctx, "candidate unreachable, trying next",
				slog.String("server", candidate.BaseURL),
				slog.String("error", err.Error()),
			)
			continue
		}

		if result.Error == CodeInvalidServerResponse && !result.parseable {
			// Unparseable body: the endpoint answered but is not a
			// license server we understand. Do not promote it.
			return result.VerifyResult
		}

		wasPrimary := c.candidates.Primary() == candidate.BaseURL
		c.candidates.Promote(candidate.BaseURL)
		if !wasPrimary {
			c.recordPromotion(ctx, candidate.BaseURL)
		}
		return result.VerifyResult
	}

	if lastErr != nil {
		c.logger.ErrorContext(ctx, "failed to reach license server",
			slog.String("error", lastErr.Error()),
			slog.String("request_id", requestID),
		)
	}
	return VerifyResult{OK: false, Error: CodeNetworkError}
}

type postResult struct {
	VerifyResult
	parseable bool
}

func (c *Client) post(ctx context.Context, candidate Candidate, body []byte, requestID string) (postResult, error) {
	httpClient := c.secure
	if !candidate.VerifyTLS {
		httpClient = c.insecure
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, candidate.BaseURL+verifyPath, bytes.NewReader(body))
	if err != nil {
		return postResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return postResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return postResult{}, err
	}

	var result VerifyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.WarnContext(ctx, "license server returned an unparseable response",
			slog.String("server", candidate.BaseURL),
			slog.Int("status", resp.StatusCode),
		)
		return postResult{
			VerifyResult: VerifyResult{OK: false, Error: CodeInvalidServerResponse},
			parseable:    false,
		}, nil
	}

	if !result.OK && result.Error == "" {
		result.Error = CodeInvalidServerResponse
	}
	if result.OK && result.License == nil {
		// A success without license fields cannot seed a payload.
		result = VerifyResult{OK: false, Error: CodeInvalidServerResponse}
	}
	return postResult{VerifyResult: result, parseable: true}, nil
}

func (c *Client) validateRequest(req VerifyRequest) (Code, bool) {
	err := c.validate.Struct(req)
	if err == nil {
		return "", true
	}
	if errs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldErr := range errs {
			switch fieldErr.Field() {
			case "LicenseKey":
				return CodeMissingLicenseKey, false
			case "MachineFingerprint":
				return CodeMissingMachineFingerprint, false
			}
		}
	}
	return CodeMissingLicenseKey, false
}

func (c *Client) recordPromotion(ctx context.Context, baseURL string) {
	c.logger.InfoContext(ctx, "promoted license server candidate",
		slog.String("server", baseURL),
	)
	if c.metrics != nil {
		c.metrics.recordPromotion(ctx)
	}
}
