// Package notify delivers outbound alerts over email, Slack and generic
// webhook channels.
//
// Every attempt is persisted as a Delivery with the transport's response
// code and latency. Failed or timed-out deliveries can be retried with
// the original payload; repeat alerts for the same (device, condition)
// pair are cooldown-gated into no-op skipped deliveries.
package notify
