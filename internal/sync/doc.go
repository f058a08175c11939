// Package sync implements the integration synchronization engine.
//
// The Orchestrator drives import, export and bidirectional runs against
// a registry adapter, reconciling the local device catalogue with the
// remote one. Conflicting edits (both sides changed since the last
// reconciliation) go through the pure Resolver; manual-policy conflicts
// persist as pending rows until a human resolves them.
//
// Every run produces a sealed SyncRun with per-device partial-failure
// accounting: processed always equals succeeded plus failed, and the
// error list is bounded with a truncation marker.
package sync
