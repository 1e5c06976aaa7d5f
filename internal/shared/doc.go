// Package shared provides common utilities and test helpers used across the
// licmgr codebase. It is a home for functionality that does not belong to
// any specific domain or architectural layer.
//
// The testutil subpackage provides fixture builders, fake collaborators
// (stores, license authorities), and log-capture helpers for tests. It must
// not grow business logic or depend on the engine's domain packages beyond
// their public interfaces.
package shared
