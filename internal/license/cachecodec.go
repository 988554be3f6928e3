package license

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	cacheFormat    = "license-cache"
	cacheVersion   = 2
	cacheAlgorithm = "xor-sha256"
)

// Payload is the trusted result of a successful (or accepted-offline)
// verification. It lives only in memory and inside the encrypted cache
// envelope.
type Payload struct {
	LicenseKey         string    `json:"license_key"`
	Email              string    `json:"email,omitempty"`
	ClientName         string    `json:"client_name,omitempty"`
	ActivationCount    int       `json:"activation_count"`
	MaxActivations     int       `json:"max_activations"`
	MachineFingerprint string    `json:"machine_fingerprint"`
	VerifiedAt         time.Time `json:"verified_at"`
	CacheExpiresAt     time.Time `json:"cache_expires_at"`
	OfflineMode        bool      `json:"offline_mode,omitempty"`
}

// ExpiredAt reports whether the payload may no longer be trusted at
// the given instant. A missing expiry means expired.
func (p *Payload) ExpiredAt(now time.Time) bool {
	return p.CacheExpiresAt.IsZero() || !now.Before(p.CacheExpiresAt)
}

// cacheEnvelope is the on-disk representation. The payload is never
// stored in the clear inside an envelope; legacy plaintext caches
// (bare payload JSON, no envelope) are still accepted on read.
type cacheEnvelope struct {
	Format    string        `json:"_format"`
	Version   int           `json:"version"`
	Encrypted bool          `json:"encrypted"`
	Data      *envelopeData `json:"data"`
}

type envelopeData struct {
	Cipher    string `json:"cipher"`
	Signature string `json:"sig"`
	Algorithm string `json:"algo"`
}

// Codec serializes the license payload to and from the encrypted cache
// file. The cipher key is derived from the device fingerprint, so a
// cache copied to another machine fails its integrity check. This is a
// local tamper deterrent, not a security boundary.
type Codec struct {
	path        string
	fingerprint string
	key         []byte
	logger      *slog.Logger
}

// NewCodec creates a codec bound to the given cache path and device
// fingerprint.
func NewCodec(path, fingerprint string, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	key := sha256.Sum256([]byte(fingerprint))
	return &Codec{
		path:        path,
		fingerprint: fingerprint,
		key:         key[:],
		logger:      logger,
	}
}

// Path returns the cache file location.
func (c *Codec) Path() string { return c.path }

// Load returns the cached payload, or nil when no trustworthy cache
// exists. A missing, unreadable, malformed, tampered, mismatched, or
// expired cache all downgrade silently to "no cache" -- never an error
// that aborts the verification flow.
func (c *Codec) Load(now time.Time) *Payload {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}

	payload, err := c.decode(raw)
	if err != nil {
		c.logger.Warn("existing license cache is invalid and will be ignored",
			slog.String("path", c.path),
			slog.String("reason", err.Error()),
		)
		return nil
	}

	if payload.MachineFingerprint != c.fingerprint {
		c.logger.Warn("cached license belongs to a different device; ignoring",
			slog.String("path", c.path),
		)
		return nil
	}
	if payload.ExpiredAt(now) {
		c.logger.Info("cached license expired; re-verification required",
			slog.Time("cache_expires_at", payload.CacheExpiresAt),
		)
		return nil
	}
	return payload
}

// Store persists the payload as an encrypted envelope, atomically:
// write a temp file in the same directory, then rename over the
// target. Permissions are as restrictive as the platform allows.
func (c *Codec) Store(payload *Payload) error {
	plaintext, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}

	envelope := cacheEnvelope{
		Format:    cacheFormat,
		Version:   cacheVersion,
		Encrypted: true,
		Data:      c.encrypt(plaintext),
	}
	serialized, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, serialized, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// Rename preserves the temp file's mode, but tighten explicitly in
	// case the target pre-existed with looser permissions.
	_ = os.Chmod(c.path, 0o600)
	return nil
}

// Delete removes the cache file. A missing file is not an error.
func (c *Codec) Delete() error {
	err := os.Remove(c.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *Codec) decode(raw []byte) (*Payload, error) {
	var envelope cacheEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}

	if envelope.Format != cacheFormat {
		// Backwards compatibility: plaintext payload JSON with no
		// envelope wrapper.
		var payload Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		return &payload, nil
	}

	plaintext, err := c.decrypt(envelope.Data)
	if err != nil {
		return nil, err
	}
	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Codec) encrypt(plaintext []byte) *envelopeData {
	cipher := c.xorCipher(plaintext)
	return &envelopeData{
		Cipher:    base64.URLEncoding.EncodeToString(cipher),
		Signature: c.sign(plaintext),
		Algorithm: cacheAlgorithm,
	}
}

func (c *Codec) decrypt(data *envelopeData) ([]byte, error) {
	if data == nil || data.Cipher == "" || data.Signature == "" {
		return nil, &cacheDecodeError{"incomplete envelope"}
	}
	cipher, err := base64.URLEncoding.DecodeString(data.Cipher)
	if err != nil {
		return nil, &cacheDecodeError{"undecodable cipher text"}
	}
	plaintext := c.xorCipher(cipher)
	if c.sign(plaintext) != data.Signature {
		return nil, &cacheDecodeError{"integrity check failed"}
	}
	return plaintext, nil
}

// xorCipher applies the symmetric stream cipher: each byte XORed with
// the key-derived stream, repeating over the key length. Encryption
// and decryption are the same operation.
func (c *Codec) xorCipher(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return out
}

// sign computes the hex digest over plaintext followed by key bytes.
func (c *Codec) sign(plaintext []byte) string {
	h := sha256.New()
	h.Write(plaintext)
	h.Write(c.key)
	return hex.EncodeToString(h.Sum(nil))
}

type cacheDecodeError struct {
	reason string
}

func (e *cacheDecodeError) Error() string {
	return "license cache: " + e.reason
}
