// Package beats is the connection layer of the Lumberjack server.
//
// Ownership boundary:
// - accept loop and per-connection read/dispatch goroutine (Server)
// - per-connection context: identity, keep-alive flag, ordered ack writer (Conn)
// - batch dispatch and ack rule, fatal error path (Handler)
// - writer-idle keep-alive acks and client inactivity
//
// Decoding lives in internal/protocol/stream; downstream consumers
// implement Listener.
package beats
