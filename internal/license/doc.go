// Package license implements the client side of license activation and
// verification: binding an installation to one device, verifying the
// entitlement against the license server, and degrading to a cached
// offline activation when the server is unreachable.
//
// The package is organized around five pieces:
//
//   - fingerprint.go derives the stable per-device identifier every
//     other piece keys on.
//   - candidates.go turns the configured server URL into an ordered
//     list of endpoints with scheme-safety rules and runtime
//     promotion of the candidate that last answered.
//   - cachecodec.go encrypts, integrity-checks, and atomically
//     persists the on-disk license envelope.
//   - client.go performs the HTTP verification round trip and
//     normalizes every failure into a stable error code.
//   - manager.go drives the prompt/verify/fallback state machine and
//     applies the verified payload to the process environment exactly
//     once.
//
// Interactive input is abstracted behind the Prompter interface so the
// state machine never branches on how credentials are collected.
package license
