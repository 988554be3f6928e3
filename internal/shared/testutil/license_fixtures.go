package testutil

import (
	"time"

	"fccli/internal/license"
)

// TestFingerprint is a stable device fingerprint for fixtures.
const TestFingerprint = "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"

// LicensePayload returns a verified activation as a fresh run would
// have produced it, anchored at the given time.
func LicensePayload(now time.Time) *license.Payload {
	return &license.Payload{
		LicenseKey:         "ABCD-1234-EFGH-5678",
		Email:              "holder@acme.test",
		ClientName:         "Acme Ltd",
		ActivationCount:    1,
		MaxActivations:     3,
		MachineFingerprint: TestFingerprint,
		VerifiedAt:         now.UTC(),
		CacheExpiresAt:     now.UTC().Add(72 * time.Hour),
	}
}

// OfflineLicensePayload returns a cached activation being reused while
// the license server is unreachable.
func OfflineLicensePayload(now time.Time) *license.Payload {
	payload := LicensePayload(now.Add(-24 * time.Hour))
	payload.OfflineMode = true
	return payload
}
