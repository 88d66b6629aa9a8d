// Package session owns agent-side exchange pacing.
//
// Ownership boundary:
// - per-exchange reply timeout and resend attempts
// - idle delay between conversations, with jitter
// - retry backoff after failed exchanges or conversations
package session
