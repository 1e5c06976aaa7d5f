// Package license is the lifecycle orchestrator. It composes the settings
// façade and the remote protocol client into a per-SKU state machine
// answering activate, deactivate, is-licensed, is-active and is-expiring.
//
// Remote failures degrade to boolean outcomes plus queued notices;
// configuration defects surface as typed errors.
package license
