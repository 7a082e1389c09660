package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so that events such as
// connection_opened, command_received or transfer_complete can be aggregated
// and queried by the same names everywhere.
const (
	// ========================================================================
	// Session & Client Identification
	// ========================================================================
	KeySessionID  = "session_id"  // Opaque per-connection session identifier
	KeyClientIP   = "client_ip"   // Client IP address
	KeyClientPort = "client_port" // Client source port
	KeyUser       = "user"        // Username (pending or authenticated)

	// ========================================================================
	// Protocol & Command
	// ========================================================================
	KeyCommand = "cmd"    // FTP verb: USER, PASS, RETR, LIST, ...
	KeyArg     = "arg"    // Command argument (redacted for PASS)
	KeyReply   = "reply"  // Numeric reply code sent to the client
	KeyStatus  = "status" // Operation outcome: ok, failed, aborted

	// ========================================================================
	// File System & Transfers
	// ========================================================================
	KeyPath     = "path"        // Sandbox-relative path of the operation
	KeySize     = "size"        // File size in bytes
	KeyBytes    = "bytes"       // Bytes moved over the data channel
	KeyMode     = "mode"        // Data channel mode: active, passive
	KeyDuration = "duration_ms" // Operation duration in milliseconds

	// ========================================================================
	// Networking
	// ========================================================================
	KeyAddress = "address" // host:port of a peer or listener
	KeyPort    = "port"    // TCP port
	KeyActive  = "active"  // Number of active sessions

	// ========================================================================
	// Errors
	// ========================================================================
	KeyError = "error" // Error message
)
