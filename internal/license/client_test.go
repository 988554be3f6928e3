package license

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// candidatesFor builds a candidate list straight from test server URLs.
func candidatesFor(urls ...string) *Candidates {
	c := &Candidates{}
	for _, u := range urls {
		c.add(Candidate{BaseURL: u, VerifyTLS: false}, false)
	}
	return c
}

func verifyRequestFixture() VerifyRequest {
	return VerifyRequest{
		LicenseKey:         "ABCD-1234",
		MachineFingerprint: testFingerprint,
		Email:              "a@b.com",
		Hostname:           "test-host",
		Platform:           "linux/amd64",
		AppVersion:         "2.0.0",
	}
}

func okResponse(w http.ResponseWriter, activations int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(VerifyResult{
		OK: true,
		License: &ServerLicense{
			ClientName:      "Acme Ltd",
			ActivationCount: activations,
			MaxActivations:  3,
		},
	})
}

func TestClientVerifySuccess(t *testing.T) {
	var gotBody VerifyRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/license/verify", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		okResponse(w, 1)
	}))
	defer server.Close()

	client := NewClient(candidatesFor(server.URL), 0, nil)
	result := client.Verify(context.Background(), verifyRequestFixture())

	require.True(t, result.OK)
	require.NotNil(t, result.License)
	assert.Equal(t, 1, result.License.ActivationCount)
	assert.Equal(t, 3, result.License.MaxActivations)

	assert.Equal(t, "ABCD-1234", gotBody.LicenseKey)
	assert.Equal(t, testFingerprint, gotBody.MachineFingerprint)
	assert.Equal(t, "a@b.com", gotBody.Email)
}

func TestClientVerifyStructuredFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(VerifyResult{OK: false, Error: CodeLicenseRevoked})
	}))
	defer server.Close()

	client := NewClient(candidatesFor(server.URL), 0, nil)
	result := client.Verify(context.Background(), verifyRequestFixture())

	assert.False(t, result.OK)
	assert.Equal(t, CodeLicenseRevoked, result.Error)
}

func TestClientVerifyUnparseableResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>totally not json</html>"))
	}))
	defer server.Close()

	client := NewClient(candidatesFor(server.URL), 0, nil)
	result := client.Verify(context.Background(), verifyRequestFixture())

	assert.False(t, result.OK)
	assert.Equal(t, CodeInvalidServerResponse, result.Error)
}

func TestClientVerifySuccessWithoutLicenseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	client := NewClient(candidatesFor(server.URL), 0, nil)
	result := client.Verify(context.Background(), verifyRequestFixture())

	assert.False(t, result.OK)
	assert.Equal(t, CodeInvalidServerResponse, result.Error)
}

func TestClientVerifyAllCandidatesUnreachable(t *testing.T) {
	// Closed servers give immediate connection refusals.
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	b.Close()

	client := NewClient(candidatesFor(a.URL, b.URL), time.Second, nil)
	result := client.Verify(context.Background(), verifyRequestFixture())

	assert.False(t, result.OK)
	assert.Equal(t, CodeNetworkError, result.Error)
}

func TestClientVerifyFallsThroughToSecondCandidate(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	var hits atomic.Int64
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		okResponse(w, 2)
	}))
	defer alive.Close()

	candidates := candidatesFor(dead.URL, alive.URL)
	client := NewClient(candidates, time.Second, nil)

	result := client.Verify(context.Background(), verifyRequestFixture())
	require.True(t, result.OK)
	assert.Equal(t, int64(1), hits.Load())

	// The candidate that answered is promoted for subsequent calls.
	assert.Equal(t, alive.URL, candidates.Primary())

	result = client.Verify(context.Background(), verifyRequestFixture())
	require.True(t, result.OK)
	assert.Equal(t, int64(2), hits.Load())
}

func TestClientVerifyValidation(t *testing.T) {
	client := NewClient(candidatesFor("http://127.0.0.1:1"), time.Second, nil)

	t.Run("missing license key", func(t *testing.T) {
		req := verifyRequestFixture()
		req.LicenseKey = ""
		result := client.Verify(context.Background(), req)
		assert.Equal(t, CodeMissingLicenseKey, result.Error)
	})

	t.Run("missing fingerprint", func(t *testing.T) {
		req := verifyRequestFixture()
		req.MachineFingerprint = ""
		result := client.Verify(context.Background(), req)
		assert.Equal(t, CodeMissingMachineFingerprint, result.Error)
	})
}

func TestClientVerifyTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		okResponse(w, 1)
	}))
	defer slow.Close()

	client := NewClient(candidatesFor(slow.URL), 50*time.Millisecond, nil)
	result := client.Verify(context.Background(), verifyRequestFixture())

	assert.False(t, result.OK)
	assert.Equal(t, CodeNetworkError, result.Error)
}

func TestClientInsecureTLSCandidate(t *testing.T) {
	// A TLS server with a self-signed certificate: only reachable when
	// verification is disabled for the candidate.
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, 1)
	}))
	defer server.Close()

	c := &Candidates{}
	c.add(Candidate{BaseURL: server.URL, VerifyTLS: true}, false)
	strict := NewClient(c, time.Second, nil)
	result := strict.Verify(context.Background(), verifyRequestFixture())
	assert.Equal(t, CodeNetworkError, result.Error, "self-signed cert must fail strict verification")

	c2 := &Candidates{}
	c2.add(Candidate{BaseURL: server.URL, VerifyTLS: false}, false)
	relaxed := NewClient(c2, time.Second, nil)
	result = relaxed.Verify(context.Background(), verifyRequestFixture())
	assert.True(t, result.OK)
}

func TestClientDefaultTimeout(t *testing.T) {
	client := NewClient(candidatesFor("http://localhost:1"), 0, nil)
	assert.Equal(t, defaultTimeout, client.timeout)
}

func TestVerifyResultJSONContract(t *testing.T) {
	// The failure contract on the wire is {ok:false, error:<kind>}.
	var result VerifyResult
	require.NoError(t, json.Unmarshal([]byte(`{"ok":false,"error":"invalid_license"}`), &result))
	assert.Equal(t, CodeInvalidLicense, result.Error)

	require.NoError(t, json.Unmarshal([]byte(`{"ok":true,"license":{"activation_count":2,"max_activations":5}}`), &result))
	assert.True(t, result.OK)
	assert.Equal(t, 2, result.License.ActivationCount)
}
