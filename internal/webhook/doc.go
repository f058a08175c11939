// Package webhook ingests signed registry push events.
//
// Registries deliver device changes at-least-once; the Processor makes
// application exactly-once by deduplicating on a stable event key. Every
// payload is authenticated with an HMAC-SHA256 signature over the raw
// body before anything is parsed or written.
//
// Accepted events route through the same conflict resolver as import
// runs, so a webhook racing a local edit behaves identically to a sync.
package webhook
