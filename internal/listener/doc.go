// Package listener holds downstream consumers for decoded beats messages.
//
// Every consumer implements beats.Listener. Messages become Events on the
// connection goroutine, so payload decode failures stay connection-fatal,
// then reach a Sink either inline (Direct) or through a bounded worker
// queue (Pipeline).
package listener
