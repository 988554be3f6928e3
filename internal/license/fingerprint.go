package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
)

var (
	fingerprintOnce  sync.Once
	fingerprintValue string
)

// MachineFingerprint returns the stable hexadecimal device identifier.
// The value is computed once per process; repeated calls return the
// same digest. It combines hostname, OS family, architecture, the OS
// version string, a MAC-derived token, and a best-effort system UUID.
// Probe failures degrade to placeholder components rather than
// aborting, so a fingerprint is always available.
func MachineFingerprint() string {
	fingerprintOnce.Do(func() {
		fingerprintValue = computeFingerprint()
	})
	return fingerprintValue
}

func computeFingerprint() string {
	components := []string{
		hostname(),
		runtime.GOOS,
		runtime.GOARCH,
		osVersion(),
		macToken(),
		systemUUID(),
	}

	var nonEmpty []string
	for _, c := range components {
		if c != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}

	digest := sha256.Sum256([]byte(strings.Join(nonEmpty, "|")))
	return hex.EncodeToString(digest[:])
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "host-unknown"
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// osVersion returns a best-effort OS version string. Exactness matters
// less than stability across calls on the same installation.
func osVersion() string {
	switch runtime.GOOS {
	case "linux":
		if data, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
			return strings.TrimSpace(string(data))
		}
	case "windows":
		if v := os.Getenv("OS"); v != "" {
			return v
		}
	}
	return runtime.GOOS + "-" + runtime.GOARCH
}

// macToken returns a token derived from the primary hardware address.
func macToken() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "mac-unknown"
	}

	// Prefer an up, non-loopback interface with a real MAC.
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if token := hardwareAddrToken(iface.HardwareAddr); token != "" {
			return token
		}
	}
	for _, iface := range interfaces {
		if token := hardwareAddrToken(iface.HardwareAddr); token != "" {
			return token
		}
	}
	return "mac-unknown"
}

func hardwareAddrToken(addr net.HardwareAddr) string {
	if len(addr) == 0 {
		return ""
	}
	var value uint64
	for _, b := range addr {
		value = value<<8 | uint64(b)
	}
	if value == 0 {
		return ""
	}
	return fmt.Sprintf("0x%x", value)
}

// systemUUID probes for a hardware/system UUID. The probe is
// platform-specific and best-effort; failure yields a placeholder.
func systemUUID() string {
	switch runtime.GOOS {
	case "linux":
		for _, path := range []string{
			"/sys/class/dmi/id/product_uuid",
			"/etc/machine-id",
		} {
			if data, err := os.ReadFile(path); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return id
				}
			}
		}
	case "windows":
		if id := os.Getenv("PROCESSOR_IDENTIFIER"); id != "" {
			digest := sha256.Sum256([]byte(id))
			return hex.EncodeToString(digest[:8])
		}
	}
	return "uuid-unknown"
}
