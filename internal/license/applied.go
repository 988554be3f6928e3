package license

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
)

// appliedCell is a single-assignment container for the payload applied
// to the process's observable configuration. The first Set wins; later
// payloads in the same process never override it. Modelling this as a
// set-once cell makes the apply-once invariant a property of the type
// rather than a convention.
type appliedCell struct {
	mu      sync.Mutex
	payload *Payload
}

// Set stores the payload if the cell is still empty and reports
// whether this call performed the assignment.
func (c *appliedCell) Set(payload *Payload) bool {
	if payload == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.payload != nil {
		return false
	}
	c.payload = payload
	return true
}

// Get returns the applied payload, or nil if nothing was applied yet.
func (c *appliedCell) Get() *Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload
}

// applyEnvironment exports the verified license to the environment
// variables the rest of the product reads. Values already present are
// left alone, so the first applied payload wins across collaborating
// components too.
func applyEnvironment(payload *Payload) {
	setenvDefault("FCC_LICENSE_KEY", payload.LicenseKey)
	if payload.Email != "" {
		setenvDefault("FCC_LICENSE_EMAIL", payload.Email)
	}
	if payload.ClientName != "" {
		setenvDefault("FCC_LICENSE_CLIENT", payload.ClientName)
	}

	client := payload.ClientName
	if client == "" {
		client = "unknown"
	}
	setenvDefault("FCC_LICENSE_TAG", client+"::"+maskLicenseKey(payload.LicenseKey))

	signature := sha256.Sum256([]byte(payload.LicenseKey + "|" + payload.MachineFingerprint + "|" + payload.ClientName))
	setenvDefault("FCC_LICENSE_SIGNATURE", hex.EncodeToString(signature[:]))
}

func setenvDefault(key, value string) {
	if _, present := os.LookupEnv(key); !present {
		_ = os.Setenv(key, value)
	}
}
