package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fccli/internal/config"
)

// queuePrompter hands out scripted credentials, then declines.
type queuePrompter struct {
	queue []Credentials
	calls int
}

func (p *queuePrompter) Prompt(ctx context.Context, defaultEmail string) (*Credentials, error) {
	p.calls++
	if len(p.queue) == 0 {
		return nil, nil
	}
	creds := p.queue[0]
	p.queue = p.queue[1:]
	if creds.Email == "" {
		creds.Email = defaultEmail
	}
	return &creds, nil
}

// failingPrompter fails the test if the flow ever asks for input.
type failingPrompter struct{ t *testing.T }

func (p failingPrompter) Prompt(ctx context.Context, defaultEmail string) (*Credentials, error) {
	p.t.Fatal("prompt must not be reached")
	return nil, nil
}

type managerFixture struct {
	manager   *Manager
	cachePath string
	applied   []*Payload
	errOut    *bytes.Buffer
}

func newManagerFixture(t *testing.T, serverURL string, opts ...Option) *managerFixture {
	t.Helper()
	f := &managerFixture{
		cachePath: filepath.Join(t.TempDir(), "license.json"),
		errOut:    &bytes.Buffer{},
	}
	cfg := &config.Config{
		License: config.LicenseConfig{
			Server:               serverURL,
			VerifySSL:            true,
			AllowInsecureServer:  true,
			DisableHTTPSFallback: true,
			CacheMaxHours:        72,
			OfflineGraceHours:    12,
			AppVersion:           "2.0.0",
		},
	}
	base := []Option{
		WithCachePath(f.cachePath),
		WithFingerprint(testFingerprint),
		WithApplyFunc(func(p *Payload) { f.applied = append(f.applied, p) }),
		WithErrorOutput(f.errOut),
		WithTimeout(time.Second),
	}
	manager, err := NewManager(cfg, append(base, opts...)...)
	require.NoError(t, err)
	f.manager = manager
	return f
}

// seedCache writes a valid encrypted cache entry for the fixture's
// fingerprint, as a previous successful run would have.
func (f *managerFixture) seedCache(t *testing.T, key string) *Payload {
	t.Helper()
	now := time.Now().UTC()
	payload := &Payload{
		LicenseKey:         key,
		Email:              "cached@acme.test",
		ClientName:         "Acme Ltd",
		ActivationCount:    1,
		MaxActivations:     3,
		MachineFingerprint: testFingerprint,
		VerifiedAt:         now.Add(-time.Hour),
		CacheExpiresAt:     now.Add(71 * time.Hour),
	}
	require.NoError(t, NewCodec(f.cachePath, testFingerprint, nil).Store(payload))
	return payload
}

func deadServerURL(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()
	return server.URL
}

func TestManagerEnsureSuccess(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		okResponse(w, 1)
	}))
	defer server.Close()

	prompter := &queuePrompter{queue: []Credentials{{LicenseKey: "GOOD-KEY-1234", Email: "user@acme.test"}}}
	f := newManagerFixture(t, server.URL, WithPrompter(prompter))

	payload, err := f.manager.Ensure(context.Background(), EnsureOptions{})
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, "GOOD-KEY-1234", payload.LicenseKey)
	assert.Equal(t, "user@acme.test", payload.Email)
	assert.Equal(t, "Acme Ltd", payload.ClientName)
	assert.Equal(t, testFingerprint, payload.MachineFingerprint)
	assert.False(t, payload.OfflineMode)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, 1, prompter.calls)

	// The fresh activation is persisted and applied exactly once.
	assert.FileExists(t, f.cachePath)
	require.Len(t, f.applied, 1)
	assert.Same(t, payload, f.applied[0])

	loaded := f.manager.LoadCached()
	require.NotNil(t, loaded)
	assert.Equal(t, "GOOD-KEY-1234", loaded.LicenseKey)
}

func TestManagerEnsureAppliedShortCircuit(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		okResponse(w, 1)
	}))
	defer server.Close()

	prompter := &queuePrompter{queue: []Credentials{{LicenseKey: "GOOD-KEY-1234"}}}
	f := newManagerFixture(t, server.URL, WithPrompter(prompter))

	first, err := f.manager.Ensure(context.Background(), EnsureOptions{})
	require.NoError(t, err)

	// A second call in the same process reuses the applied payload: no
	// prompt, no network traffic.
	second, err := f.manager.Ensure(context.Background(), EnsureOptions{})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, 1, prompter.calls)
}

func TestManagerEnsureRetryBound(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"error":"invalid_license"}`))
	}))
	defer server.Close()

	prompter := &queuePrompter{queue: []Credentials{
		{LicenseKey: "BAD-1"}, {LicenseKey: "BAD-2"}, {LicenseKey: "BAD-3"}, {LicenseKey: "NEVER-USED"},
	}}
	f := newManagerFixture(t, server.URL, WithPrompter(prompter))

	payload, err := f.manager.Ensure(context.Background(), EnsureOptions{})
	assert.Nil(t, payload)

	var verifyErr *VerifyError
	require.ErrorAs(t, err, &verifyErr)
	assert.Equal(t, CodeInvalidLicense, verifyErr.Code)
	assert.Equal(t, int64(3), hits.Load())
	assert.Equal(t, 3, prompter.calls)
	assert.Contains(t, f.errOut.String(), "not recognized")
	assert.Empty(t, f.applied)
}

func TestManagerEnsureUsesCachedKeyWithoutPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, 2)
	}))
	defer server.Close()

	f := newManagerFixture(t, server.URL, WithPrompter(failingPrompter{t}))
	f.seedCache(t, "CACHED-KEY-9999")

	payload, err := f.manager.Ensure(context.Background(), EnsureOptions{})
	require.NoError(t, err)
	assert.Equal(t, "CACHED-KEY-9999", payload.LicenseKey)
	assert.Equal(t, "cached@acme.test", payload.Email)
	assert.Equal(t, 2, payload.ActivationCount, "server-refreshed fields override the cache")
	assert.False(t, payload.OfflineMode)
}

func TestManagerOfflineFallback(t *testing.T) {
	f := newManagerFixture(t, deadServerURL(t), WithPrompter(failingPrompter{t}))
	cached := f.seedCache(t, "CACHED-KEY-9999")

	payload, err := f.manager.Ensure(context.Background(), EnsureOptions{})
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.True(t, payload.OfflineMode)
	assert.Equal(t, cached.LicenseKey, payload.LicenseKey)
	assert.Equal(t, cached.ClientName, payload.ClientName)

	// The on-disk entry is left untouched by an offline run.
	loaded := f.manager.LoadCached()
	require.NotNil(t, loaded)
	assert.False(t, loaded.OfflineMode)
}

func TestManagerOfflineFallbackNotForRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"error":"license_revoked"}`))
	}))
	defer server.Close()

	prompter := &queuePrompter{}
	f := newManagerFixture(t, server.URL, WithPrompter(prompter))
	f.seedCache(t, "CACHED-KEY-9999")

	// A definitive server rejection burns the cached key and moves to
	// the prompt; the empty prompter then aborts the flow.
	payload, err := f.manager.Ensure(context.Background(), EnsureOptions{})
	assert.Nil(t, payload)
	require.ErrorIs(t, err, ErrPromptAborted)
	assert.Contains(t, f.errOut.String(), "revoked")
}

func TestManagerOfflineFallbackRequiresMatchingKey(t *testing.T) {
	f := newManagerFixture(t, deadServerURL(t),
		WithPrompter(&queuePrompter{queue: []Credentials{
			{LicenseKey: "OTHER-KEY-0000"}, {LicenseKey: "OTHER-KEY-0000"}, {LicenseKey: "OTHER-KEY-0000"},
		}}))
	f.seedCache(t, "CACHED-KEY-9999")

	// ForcePrompt bypasses the cache entirely, so the prompted key has
	// no cached counterpart to fall back on.
	payload, err := f.manager.Ensure(context.Background(), EnsureOptions{ForcePrompt: true, Quiet: true})
	assert.Nil(t, payload)

	var verifyErr *VerifyError
	require.ErrorAs(t, err, &verifyErr)
	assert.Equal(t, CodeNetworkError, verifyErr.Code)
}

func TestManagerEnsureSkipCache(t *testing.T) {
	f := newManagerFixture(t, deadServerURL(t),
		WithPrompter(&queuePrompter{queue: []Credentials{
			{LicenseKey: "CACHED-KEY-9999"}, {LicenseKey: "CACHED-KEY-9999"}, {LicenseKey: "CACHED-KEY-9999"},
		}}))
	f.seedCache(t, "CACHED-KEY-9999")

	// SkipCache forbids both the cached key shortcut and the offline
	// fallback, even for the identical key.
	payload, err := f.manager.Ensure(context.Background(), EnsureOptions{SkipCache: true, Quiet: true})
	assert.Nil(t, payload)

	var verifyErr *VerifyError
	require.ErrorAs(t, err, &verifyErr)
	assert.Equal(t, CodeNetworkError, verifyErr.Code)
	assert.Empty(t, f.applied)
}

func TestManagerEnsureForcePrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, 1)
	}))
	defer server.Close()

	prompter := &queuePrompter{queue: []Credentials{{LicenseKey: "FRESH-KEY-1111", Email: "fresh@acme.test"}}}
	f := newManagerFixture(t, server.URL, WithPrompter(prompter))
	f.seedCache(t, "CACHED-KEY-9999")

	payload, err := f.manager.Ensure(context.Background(), EnsureOptions{ForcePrompt: true})
	require.NoError(t, err)
	assert.Equal(t, "FRESH-KEY-1111", payload.LicenseKey)
	assert.Equal(t, 1, prompter.calls)
}

func TestManagerEnsureNoPersist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, 1)
	}))
	defer server.Close()

	f := newManagerFixture(t, server.URL,
		WithPrompter(&queuePrompter{queue: []Credentials{{LicenseKey: "GOOD-KEY-1234"}}}))
	f.seedCache(t, "OLD-KEY-0000")

	payload, err := f.manager.Ensure(context.Background(), EnsureOptions{ForcePrompt: true, NoPersist: true})
	require.NoError(t, err)
	assert.Equal(t, "GOOD-KEY-1234", payload.LicenseKey)

	_, statErr := os.Stat(f.cachePath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "no-persist run must leave no cache behind")
}

func TestManagerEnsurePromptAborted(t *testing.T) {
	t.Run("declined prompt", func(t *testing.T) {
		f := newManagerFixture(t, deadServerURL(t), WithPrompter(&queuePrompter{}))
		_, err := f.manager.Ensure(context.Background(), EnsureOptions{})
		require.ErrorIs(t, err, ErrPromptAborted)
		assert.Contains(t, f.errOut.String(), "required to continue")
	})

	t.Run("nil prompter", func(t *testing.T) {
		f := newManagerFixture(t, deadServerURL(t), WithPrompter(nil))
		_, err := f.manager.Ensure(context.Background(), EnsureOptions{Quiet: true})
		require.ErrorIs(t, err, ErrPromptAborted)
		assert.Empty(t, f.errOut.String(), "quiet mode writes nothing")
	})
}

func TestManagerCacheIgnoredOnDifferentDevice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, 1)
	}))
	defer server.Close()

	otherFingerprint := "ffee00112233445566778899aabbccddffee00112233445566778899aabbccdd"

	prompter := &queuePrompter{queue: []Credentials{{LicenseKey: "GOOD-KEY-1234"}}}
	f := newManagerFixture(t, server.URL, WithPrompter(prompter), WithFingerprint(otherFingerprint))
	f.seedCache(t, "CACHED-KEY-9999") // bound to testFingerprint

	payload, err := f.manager.Ensure(context.Background(), EnsureOptions{})
	require.NoError(t, err)
	assert.Equal(t, "GOOD-KEY-1234", payload.LicenseKey)
	assert.Equal(t, otherFingerprint, payload.MachineFingerprint)
	assert.Equal(t, 1, prompter.calls, "a foreign-device cache never short-circuits the prompt")
}

func TestManagerVerifyDirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("request id header missing")
		}
		var req VerifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.LicenseKey == "GOOD-KEY-1234" {
			okResponse(w, 1)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"error":"email_mismatch"}`))
	}))
	defer server.Close()

	f := newManagerFixture(t, server.URL, WithPrompter(failingPrompter{t}))

	payload, err := f.manager.VerifyDirect(context.Background(), "GOOD-KEY-1234", "user@acme.test")
	require.NoError(t, err)
	assert.Equal(t, "GOOD-KEY-1234", payload.LicenseKey)

	// One shot, no retries, nothing persisted or applied.
	_, err = f.manager.VerifyDirect(context.Background(), "WRONG-KEY-0000", "user@acme.test")
	var verifyErr *VerifyError
	require.ErrorAs(t, err, &verifyErr)
	assert.Equal(t, CodeEmailMismatch, verifyErr.Code)
	assert.NoFileExists(t, f.cachePath)
	assert.Empty(t, f.applied)
}

func TestManagerCurrent(t *testing.T) {
	f := newManagerFixture(t, deadServerURL(t), WithPrompter(nil))
	assert.Nil(t, f.manager.Current())

	cached := f.seedCache(t, "CACHED-KEY-9999")
	current := f.manager.Current()
	require.NotNil(t, current)
	assert.Equal(t, cached.LicenseKey, current.LicenseKey)
}

func TestManagerPayloadExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, 1)
	}))
	defer server.Close()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newManagerFixture(t, server.URL,
		WithPrompter(&queuePrompter{queue: []Credentials{{LicenseKey: "GOOD-KEY-1234"}}}),
		WithClock(func() time.Time { return fixed }),
	)

	payload, err := f.manager.Ensure(context.Background(), EnsureOptions{})
	require.NoError(t, err)
	assert.True(t, payload.VerifiedAt.Equal(fixed))
	assert.True(t, payload.CacheExpiresAt.Equal(fixed.Add(72*time.Hour)))
}

func TestNewManagerRejectsBadServer(t *testing.T) {
	cfg := &config.Config{License: config.LicenseConfig{
		Server:        "ftp://license.daywinlabs.com",
		CacheMaxHours: 72,
	}}
	manager, err := NewManager(cfg)
	assert.Nil(t, manager)

	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}
