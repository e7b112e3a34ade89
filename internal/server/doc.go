// Package server implements the HTTP and WebSocket surface of the chat
// service: presence connections (global or per room), room chat connections,
// health, metrics and the presence snapshot API.
//
// Every accepted connection is a session. A session runs three goroutines: a
// read pump that turns frames into inbound work, a write pump that owns the
// socket for writing, and a loop that handles inbound frames and broadcast
// bus events one at a time. Teardown (evict, leave the bus group, publish a
// refresh) runs exactly once whatever ends the session.
package server
