package license

import (
	"net/url"
	"strings"
	"sync"

	"fccli/internal/config"
)

// Candidate is one verification endpoint derived from the configured
// license server.
type Candidate struct {
	BaseURL   string
	VerifyTLS bool
}

// Candidates is the ordered, deduplicated list of endpoints to try.
// A candidate that answers with a parseable response is promoted to
// the front for the remainder of the process lifetime.
type Candidates struct {
	mu   sync.Mutex
	list []Candidate
}

// ResolveCandidates builds the candidate list from the configured
// license server URL, applying the scheme-safety rules:
//
//   - only http and https schemes are accepted;
//   - http to a non-loopback host requires the allow-insecure override;
//   - https to a loopback host gains an http fallback tried first
//     (local development servers usually run plain HTTP);
//   - http to a loopback host gains an https alternative unless the
//     HTTPS fallback is disabled.
func ResolveCandidates(cfg config.LicenseConfig) (*Candidates, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.Server), "/")
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, &ConfigurationError{Reason: "unparseable license server URL: " + cfg.Server}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, &ConfigurationError{Reason: "unsupported license server scheme: " + parsed.Scheme}
	}

	host := normalizeHost(parsed.Hostname())
	if scheme == "http" && !cfg.AllowInsecureServer && !isLoopback(host) {
		return nil, &ConfigurationError{
			Reason: "license server must use HTTPS for remote hosts; set ALLOW_INSECURE_LICENSE_SERVER=1 to permit HTTP or use localhost",
		}
	}

	// A plain-HTTP configuration disables TLS verification for any
	// derived https candidate as well, matching the persisted client
	// behavior local development relies on.
	verifyHTTPS := cfg.VerifySSL && scheme == "https"

	c := &Candidates{}
	c.add(Candidate{BaseURL: base, VerifyTLS: verifyHTTPS}, false)

	if isLoopback(host) {
		switch scheme {
		case "https":
			c.add(Candidate{BaseURL: swapScheme(parsed, "http"), VerifyTLS: false}, true)
		case "http":
			if !cfg.DisableHTTPSFallback {
				c.add(Candidate{BaseURL: swapScheme(parsed, "https"), VerifyTLS: verifyHTTPS}, false)
			}
		}
	}

	return c, nil
}

// Snapshot returns the current candidate order.
func (c *Candidates) Snapshot() []Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Candidate, len(c.list))
	copy(out, c.list)
	return out
}

// Primary returns the base URL currently at the front of the list.
func (c *Candidates) Primary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.list) == 0 {
		return ""
	}
	return c.list[0].BaseURL
}

// Len returns the number of candidates.
func (c *Candidates) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.list)
}

// Promote moves the candidate with the given base URL to the front.
// It reports whether the candidate was found.
func (c *Candidates) Promote(baseURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, candidate := range c.list {
		if candidate.BaseURL == baseURL {
			if i > 0 {
				c.list = append(c.list[:i], c.list[i+1:]...)
				c.list = append([]Candidate{candidate}, c.list...)
			}
			return true
		}
	}
	return false
}

func (c *Candidates) add(candidate Candidate, front bool) {
	candidate.BaseURL = strings.TrimRight(candidate.BaseURL, "/")
	if candidate.BaseURL == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.list {
		if existing.BaseURL == candidate.BaseURL {
			if front && i > 0 {
				c.list = append(c.list[:i], c.list[i+1:]...)
				c.list = append([]Candidate{existing}, c.list...)
			}
			return
		}
	}
	if front {
		c.list = append([]Candidate{candidate}, c.list...)
	} else {
		c.list = append(c.list, candidate)
	}
}

func swapScheme(u *url.URL, scheme string) string {
	alt := *u
	alt.Scheme = scheme
	return strings.TrimRight(alt.String(), "/")
}

func normalizeHost(value string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(value), "[]"))
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
