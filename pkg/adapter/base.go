package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ftpy/ftpy/internal/logger"
)

// ConnectionHandler represents a protocol-specific session serving one
// accepted connection. Serve blocks until the session ends or the context
// is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context) error

	// ID identifies the session in logs and the connection registry.
	ID() string
}

// ConnectionFactory creates protocol-specific session handlers for accepted
// TCP connections. Protocol adapters implement this and pass themselves to
// BaseAdapter.ServeWithFactory().
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// BaseConfig holds configuration common to all protocol adapters.
type BaseConfig struct {
	// BindAddress is the IP address to bind to.
	// Empty string or "0.0.0.0" binds to all interfaces.
	BindAddress string

	// Port is the TCP port to listen on.
	Port int

	// MaxConnections limits the number of concurrent client connections.
	// 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout is the maximum duration to wait for active sessions
	// to complete during graceful shutdown.
	ShutdownTimeout time.Duration
}

// ConnectionMetrics records connection lifecycle events. Pass nil to
// disable collection.
type ConnectionMetrics interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForced()
}

// connHandle is the registry entry for one live session. The registry holds
// only what shutdown needs: the raw connection for deadline interruption and
// force close, never the session state itself.
type connHandle struct {
	id   string
	conn net.Conn
}

// BaseAdapter provides shared TCP lifecycle management for protocol
// adapters: the accept loop, the session registry, and the two-phase
// graceful shutdown (broadcast cancel, grace period, force close).
//
// Thread safety:
// All exported methods are safe for concurrent use. The shutdown mechanism
// uses sync.Once so Stop() is idempotent.
type BaseAdapter struct {
	// Config holds the shared configuration.
	Config BaseConfig

	// protocolName is the human-readable protocol name for logging.
	protocolName string

	// Metrics is an optional recorder for connection lifecycle events.
	Metrics ConnectionMetrics

	// listener is closed during shutdown to stop accepting new connections.
	listener net.Listener

	// activeConns tracks running session goroutines for the drain phase.
	activeConns sync.WaitGroup

	// shutdownOnce ensures shutdown is only initiated once.
	shutdownOnce sync.Once

	// Shutdown signals that graceful shutdown has been initiated.
	Shutdown chan struct{}

	// ConnCount tracks the current number of active sessions.
	ConnCount atomic.Int32

	// connSemaphore limits concurrent connections when MaxConnections > 0.
	connSemaphore chan struct{}

	// ShutdownCtx is cancelled during shutdown so every session sees the
	// broadcast at its next command or chunk boundary.
	ShutdownCtx context.Context

	// CancelRequests cancels ShutdownCtx.
	CancelRequests context.CancelFunc

	// activeSessions maps session ID to its connHandle for deadline
	// interruption and forced closure.
	activeSessions sync.Map

	// ListenerReady is closed when the listener is accepting connections.
	// Used by tests to synchronize with server startup.
	ListenerReady chan struct{}

	// listenerMu protects access to the listener field.
	listenerMu sync.RWMutex
}

// NewBaseAdapter creates a new BaseAdapter with the specified configuration.
// The adapter is created in a stopped state; call ServeWithFactory to start.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug(protocol+" connection limit", "max_connections", config.MaxConnections)
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &BaseAdapter{
		Config:         config,
		protocolName:   protocol,
		Shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		ShutdownCtx:    shutdownCtx,
		CancelRequests: cancelRequests,
		ListenerReady:  make(chan struct{}),
	}
}

// ServeWithFactory runs the shared TCP accept loop, delegating to factory
// for protocol-specific session creation.
//
// Returns nil on graceful shutdown, or an error if the listener fails to
// start or shutdown was not graceful.
func (b *BaseAdapter) ServeWithFactory(ctx context.Context, factory ConnectionFactory) error {
	listenAddr := fmt.Sprintf("%s:%d", b.Config.BindAddress, b.Config.Port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create %s listener on %s: %w", b.protocolName, listenAddr, err)
	}

	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	logger.Info(b.protocolName+" server listening", logger.KeyAddress, listener.Addr().String())

	go func() {
		<-ctx.Done()
		logger.Info(b.protocolName+" shutdown signal received", logger.KeyError, ctx.Err())
		b.initiateShutdown()
	}()

	for {
		if b.connSemaphore != nil {
			select {
			case b.connSemaphore <- struct{}{}:
			case <-b.Shutdown:
				return b.gracefulShutdown()
			}
		}

		tcpConn, err := b.listener.Accept()
		if err != nil {
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}

			select {
			case <-b.Shutdown:
				// Expected: the listener was closed by shutdown.
				return b.gracefulShutdown()
			default:
				logger.Debug("Error accepting "+b.protocolName+" connection", logger.KeyError, err)
				continue
			}
		}

		// Control replies are small; don't let Nagle delay them.
		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", logger.KeyError, err)
			}
		}

		b.activeConns.Add(1)
		b.ConnCount.Add(1)

		session := factory.NewConnection(tcpConn)
		b.activeSessions.Store(session.ID(), connHandle{id: session.ID(), conn: tcpConn})

		if b.Metrics != nil {
			b.Metrics.RecordConnectionAccepted()
		}

		logger.Debug(b.protocolName+" connection accepted",
			logger.KeyAddress, tcpConn.RemoteAddr().String(),
			logger.KeyActive, b.ConnCount.Load())

		go func(handler ConnectionHandler, tcp net.Conn) {
			defer func() {
				b.activeSessions.Delete(handler.ID())
				tcp.Close()

				b.activeConns.Done()
				b.ConnCount.Add(-1)
				if b.connSemaphore != nil {
					<-b.connSemaphore
				}

				if b.Metrics != nil {
					b.Metrics.RecordConnectionClosed()
				}

				logger.Debug(b.protocolName+" connection closed",
					logger.KeyAddress, tcp.RemoteAddr().String(),
					logger.KeyActive, b.ConnCount.Load())
			}()

			if err := handler.Serve(b.ShutdownCtx); err != nil && b.ShutdownCtx.Err() == nil {
				logger.Warn(b.protocolName+" session ended with error",
					logger.KeyAddress, tcp.RemoteAddr().String(),
					logger.KeyError, err)
			}
		}(session, tcpConn)
	}
}

// initiateShutdown signals the server to begin graceful shutdown.
//
// Shutdown sequence:
//  1. Close the Shutdown channel (stops the accept loop)
//  2. Close the listener (stops accepting new connections)
//  3. Interrupt blocking reads on all active connections
//  4. Cancel ShutdownCtx (broadcasts cancellation to in-flight sessions)
//
// Safe to call multiple times and from multiple goroutines.
func (b *BaseAdapter) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		logger.Debug(b.protocolName + " shutdown initiated")

		close(b.Shutdown)

		b.listenerMu.Lock()
		if b.listener != nil {
			if err := b.listener.Close(); err != nil {
				logger.Debug("Error closing "+b.protocolName+" listener", logger.KeyError, err)
			}
		}
		b.listenerMu.Unlock()

		b.interruptBlockingReads()
		b.CancelRequests()
	})
}

// interruptBlockingReads sets a short deadline on all active connections so
// sessions blocked in a control read wake up and observe cancellation.
func (b *BaseAdapter) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)

	b.activeSessions.Range(func(_, value any) bool {
		handle := value.(connHandle)
		if err := handle.conn.SetReadDeadline(deadline); err != nil {
			logger.Debug("Error setting shutdown deadline on connection",
				"session_id", handle.id, logger.KeyError, err)
		}
		return true
	})
}

// gracefulShutdown waits for active sessions to complete or the grace
// period to pass, then force-closes whatever remains.
func (b *BaseAdapter) gracefulShutdown() error {
	activeCount := b.ConnCount.Load()
	logger.Info(b.protocolName+" graceful shutdown: waiting for active sessions",
		logger.KeyActive, activeCount, "timeout", b.Config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(b.protocolName + " graceful shutdown complete: all sessions closed")
		return nil

	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.ConnCount.Load()
		logger.Warn(b.protocolName+" shutdown grace period exceeded - forcing closure",
			logger.KeyActive, remaining, "timeout", b.Config.ShutdownTimeout)

		if err := b.forceCloseConnections(); err != nil {
			return fmt.Errorf("%s shutdown: %d sessions force-closed: %w",
				b.protocolName, remaining, err)
		}
		return fmt.Errorf("%s shutdown grace period exceeded: %d sessions force-closed",
			b.protocolName, remaining)
	}
}

// forceCloseConnections closes all registered connections, aggregating
// close errors so a single failure doesn't hide the rest.
func (b *BaseAdapter) forceCloseConnections() error {
	var errs *multierror.Error

	b.activeSessions.Range(func(_, value any) bool {
		handle := value.(connHandle)

		if err := handle.conn.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("session %s: %w", handle.id, err))
		} else if b.Metrics != nil {
			b.Metrics.RecordConnectionForced()
		}
		logger.Debug("Force-closed connection", "session_id", handle.id)

		return true
	})

	return errs.ErrorOrNil()
}

// Stop initiates graceful shutdown of the server.
//
// Safe to call multiple times and concurrently with ServeWithFactory. With
// a nil context the configured ShutdownTimeout bounds the wait; otherwise
// the context does.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()

	if ctx == nil {
		return b.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(b.protocolName + " graceful shutdown complete: all sessions closed")
		return nil

	case <-ctx.Done():
		remaining := b.ConnCount.Load()
		logger.Warn(b.protocolName+" shutdown context expired",
			logger.KeyActive, remaining, logger.KeyError, ctx.Err())
		if err := b.forceCloseConnections(); err != nil {
			return multierror.Append(ctx.Err(), err)
		}
		return ctx.Err()
	}
}

// GetActiveConnections returns the current number of active sessions.
func (b *BaseAdapter) GetActiveConnections() int32 {
	return b.ConnCount.Load()
}

// GetListenerAddr returns the address the server is listening on. It blocks
// until the listener is ready, making it safe for tests.
func (b *BaseAdapter) GetListenerAddr() string {
	<-b.ListenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()

	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Port returns the configured TCP port.
func (b *BaseAdapter) Port() int {
	return b.Config.Port
}

// Protocol returns the human-readable protocol name.
func (b *BaseAdapter) Protocol() string {
	return b.protocolName
}
