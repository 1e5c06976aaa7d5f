// Package licenseserver is the remote protocol client for the license
// authority.
//
// It translates intents (activate, deactivate, check) into the wire calls
// appropriate to the active schema version, interprets the ambiguous,
// multi-shaped responses the authority can return, and maintains a
// read-through boolean status cache with a 24-hour freshness window keyed
// "{sku}_status".
//
// Remote and network failures are never surfaced as errors to callers:
// every transport failure, malformed response, server-reported error,
// domain mismatch, or expiry resolves to a false status plus a queued
// human-readable notice. Only configuration-level problems raise errors.
package licenseserver
