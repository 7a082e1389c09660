// Package adapter provides shared TCP lifecycle management for protocol
// servers: listener setup, connection tracking, and graceful shutdown.
package adapter

import (
	"context"
)

// Adapter represents a protocol server that can be managed by the runner.
//
// Lifecycle:
//  1. Creation: adapter is created with protocol-specific configuration
//  2. Startup: Serve() starts the server and blocks until shutdown
//  3. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is
	// cancelled or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	// stop accepting new connections, wait for active sessions to complete
	// (with timeout), clean up resources, and return.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. Safe to call multiple times and
	// concurrently with Serve(). The context bounds the wait for active
	// sessions; when it expires, remaining connections are force-closed.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging.
	Protocol() string

	// Port returns the TCP port the adapter is listening on.
	Port() int
}
