// Package ftp implements the FTP protocol adapter: it binds the control
// listener and hands every accepted connection to a protocol session.
package ftp

import (
	"context"
	"net"
	"time"

	"github.com/ftpy/ftpy/internal/metrics"
	ftpproto "github.com/ftpy/ftpy/internal/protocol/ftp"
	"github.com/ftpy/ftpy/internal/vfs"
	"github.com/ftpy/ftpy/pkg/adapter"
)

// Config holds FTP adapter configuration.
type Config struct {
	adapter.BaseConfig

	// PublicHost overrides the address advertised in PASV replies.
	PublicHost net.IP

	// Credentials is the login policy applied to every session.
	Credentials ftpproto.CredentialPolicy

	// DataTimeout bounds data connection establishment.
	DataTimeout time.Duration

	// PassivePortMin and PassivePortMax restrict PASV listeners to an
	// inclusive port range. Zero values mean any ephemeral port.
	PassivePortMin int
	PassivePortMax int

	// ChunkSize is the transfer buffer size.
	ChunkSize int
}

// FTPAdapter serves the FTP protocol on top of BaseAdapter's accept loop
// and shutdown coordination.
type FTPAdapter struct {
	*adapter.BaseAdapter

	config  Config
	fs      *vfs.Gateway
	metrics *metrics.FTPMetrics
}

// New creates an FTP adapter serving the given filesystem gateway. Pass a
// nil metrics recorder to disable instrumentation.
func New(config Config, fs *vfs.Gateway, m *metrics.FTPMetrics) *FTPAdapter {
	base := adapter.NewBaseAdapter(config.BaseConfig, "FTP")
	base.Metrics = m

	return &FTPAdapter{
		BaseAdapter: base,
		config:      config,
		fs:          fs,
		metrics:     m,
	}
}

// Serve starts the FTP server and blocks until ctx is cancelled or the
// listener fails.
func (a *FTPAdapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a)
}

// NewConnection creates a protocol session for an accepted control
// connection. Implements adapter.ConnectionFactory.
func (a *FTPAdapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return ftpproto.NewSession(conn, ftpproto.SessionConfig{
		FS:             a.fs,
		Credentials:    a.config.Credentials,
		PublicHost:     a.config.PublicHost,
		DataTimeout:    a.config.DataTimeout,
		PassivePortMin: a.config.PassivePortMin,
		PassivePortMax: a.config.PassivePortMax,
		ChunkSize:      a.config.ChunkSize,
		Metrics:        a.metrics,
	})
}
