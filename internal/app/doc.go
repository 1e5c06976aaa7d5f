// Package app assembles the license engine: configuration, logging,
// telemetry, the record store, the lifecycle components, and the HTTP
// server, with graceful startup and shutdown.
package app
