// Package api implements the HTTP REST API and WebSocket server for the
// sync engine.
//
// This package provides:
//   - REST endpoints for sync triggers, schedule config, runs, conflicts,
//     notifications and the activity log
//   - The HMAC-verified webhook ingest endpoint (exempt from bearer auth)
//   - WebSocket hub for real-time sync/conflict/notification events
//   - Bearer service-token auth with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server sits between callers (dashboard UI, cron, remote
// registries posting webhooks) and the engine packages. Mutations go
// through the orchestrator, webhook processor and notification
// dispatcher; reads go straight to the repositories. Engine events are
// broadcast to WebSocket clients through the shared hub.
//
// # Security
//
// Bearer tokens are HMAC-signed JWTs issued out of band and verified
// against the configured secret. WebSocket connections use single-use
// tickets so tokens never appear in URLs. The webhook endpoint carries
// its own per-integration HMAC signature instead.
package api
