package ftp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/ftpy/ftpy/internal/logger"
	"github.com/ftpy/ftpy/internal/metrics"
	"github.com/ftpy/ftpy/internal/vfs"
)

// SessionConfig carries the per-server settings every session shares.
type SessionConfig struct {
	FS          *vfs.Gateway
	Credentials CredentialPolicy
	// PublicHost overrides the address advertised in PASV replies.
	PublicHost net.IP
	// DataTimeout bounds data connection establishment.
	DataTimeout time.Duration
	// PassivePortMin and PassivePortMax restrict PASV listeners to an
	// inclusive port range. Zero values mean any ephemeral port.
	PassivePortMin int
	PassivePortMax int
	// ChunkSize is the transfer buffer size.
	ChunkSize int
	Metrics   *metrics.FTPMetrics
}

// Session owns one control connection from accept to close. All session
// state (login progress, working directory, transfer type, pending data
// channel, pending rename) lives here and is touched only by the session's
// own goroutine, so none of it needs locking.
type Session struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	fs          *vfs.Gateway
	executor    *Executor
	negotiator  *Negotiator
	credentials CredentialPolicy
	metrics     *metrics.FTPMetrics
	logCtx      context.Context

	user          string
	pendingUser   string
	authenticated bool
	cwd           string
	transferType  TransferType
	renameFrom    string

	writeErr error
}

// NewSession wraps an accepted control connection.
func NewSession(conn net.Conn, cfg SessionConfig) *Session {
	id := uuid.New().String()

	clientIP := ""
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = tcp.IP.String()
	}

	return &Session{
		id:     id,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		fs:     cfg.FS,
		executor: &Executor{
			FS:        cfg.FS,
			ChunkSize: cfg.ChunkSize,
		},
		negotiator: &Negotiator{
			PublicHost: cfg.PublicHost,
			Timeout:    cfg.DataTimeout,
			PortMin:    cfg.PassivePortMin,
			PortMax:    cfg.PassivePortMax,
		},
		credentials: cfg.Credentials,
		metrics:     cfg.Metrics,
		logCtx:      logger.WithContext(context.Background(), logger.NewLogContext(id, clientIP)),
		cwd:         "/",
	}
}

// ID returns the session identifier used in logs and the registry.
func (s *Session) ID() string {
	return s.id
}

// Serve runs the control loop until the client quits, the connection
// drops, or ctx is cancelled. Cancellation mid-read relies on the acceptor
// interrupting blocking reads; the loop then notices ctx and says goodbye
// with a 421 before closing.
func (s *Session) Serve(ctx context.Context) error {
	defer s.negotiator.Reset()

	logger.InfoCtx(s.logCtx, "session started")
	s.reply(NewReply(CodeReady, "ftpy FTP server ready."))

	for {
		if s.writeErr != nil {
			return s.writeErr
		}
		if ctx.Err() != nil {
			s.reply(NewReply(CodeServiceNotAvail, "Service not available, closing control connection."))
			return ctx.Err()
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				s.reply(NewReply(CodeServiceNotAvail, "Service not available, closing control connection."))
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				logger.InfoCtx(s.logCtx, "client disconnected")
				return nil
			}
			return err
		}

		cmd := Parse(line)
		s.metrics.RecordCommand(cmd.Verb())
		logger.DebugCtx(s.logCtx, "command received", logger.KeyCommand, cmd.Verb())

		if done := s.handle(ctx, cmd); done {
			logger.InfoCtx(s.logCtx, "session ended by client")
			return nil
		}
	}
}

// reply writes one complete reply and flushes it so the client never waits
// on a buffered response. Write failures end the loop on its next pass.
func (s *Session) reply(r Reply) {
	if s.writeErr != nil {
		return
	}
	if _, err := s.writer.WriteString(r.String()); err != nil {
		s.writeErr = err
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.writeErr = err
		return
	}
	logger.DebugCtx(s.logCtx, "reply sent", logger.KeyReply, r.Code)
}
