// Package config loads and validates the client configuration for the
// license verification tooling.
//
// Configuration is read from environment variables first (the names the
// product has always recognized: LICENSE_SERVER, LICENSE_VERIFY_SSL,
// ALLOW_INSECURE_LICENSE_SERVER, LICENSE_DISABLE_HTTPS_FALLBACK,
// LICENSE_CACHE_MAX_HOURS, LICENSE_OFFLINE_GRACE_HOURS, APP_VERSION),
// then merged with an optional config.yaml. Environment variables take
// precedence over file values.
//
// The package also owns filesystem path resolution: the per-user
// application data directory and the license cache file location.
package config
