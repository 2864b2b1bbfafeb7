// Package session owns per-connection transport settings shared by the
// beats server and the sender client.
//
// Ownership boundary:
// - read/write/handshake timeouts and keep-alive cadence
// - TLS material and verification policy per security mode
// - sender retry backoff
package session
