// Package http provides the optional local status server: a small
// chi router exposing the verified license state, health checks, and
// Prometheus metrics for the rest of the product to poll.
package http
