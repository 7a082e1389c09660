package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrNoDataChannel means a transfer command arrived with no prior PASV
	// or PORT on this session.
	ErrNoDataChannel = errors.New("no data channel negotiated")
	// ErrDataTimeout means the data connection was not established within
	// the negotiator's timeout.
	ErrDataTimeout = errors.New("data connection timed out")
)

// DataChannel is a negotiated-but-not-yet-open data connection. Establish
// blocks until the connection exists or the deadline passes; every transfer
// command calls it before announcing the transfer, so a client that never
// connects gets an error reply instead of a hung session.
type DataChannel interface {
	// Establish returns the open data connection. It honors ctx
	// cancellation and the negotiator's timeout.
	Establish(ctx context.Context) (net.Conn, error)
	// Close releases the channel without establishing it.
	Close() error
}

// Negotiator owns the data channel state of one control session: at most
// one pending channel at a time, with a later PASV or PORT replacing (and
// closing) the earlier one.
type Negotiator struct {
	// PublicHost, when set, overrides the address advertised in PASV
	// replies. Needed behind NAT where the control connection's local
	// address is not reachable by the client.
	PublicHost net.IP
	// Timeout bounds Establish for both passive accept and active dial.
	Timeout time.Duration
	// PortMin and PortMax, when both set, restrict passive listeners to
	// that inclusive range. Needed behind firewalls that only forward a
	// fixed block of data ports. Zero values mean any ephemeral port.
	PortMin int
	PortMax int

	pending DataChannel
}

const defaultDataTimeout = 30 * time.Second

// Passive binds a fresh listener on an ephemeral port and returns the 227
// reply advertising it. The advertised port is always read back from the
// bound socket, and the advertised host is PublicHost or the control
// connection's own local address, never a wildcard.
func (n *Negotiator) Passive(controlLocal net.Addr) (Reply, error) {
	ln, err := n.listen()
	if err != nil {
		return Reply{}, fmt.Errorf("binding passive listener: %w", err)
	}

	port := ln.Addr().(*net.TCPAddr).Port

	host := n.PublicHost
	if host == nil {
		if tcp, ok := controlLocal.(*net.TCPAddr); ok {
			host = tcp.IP.To4()
		}
	}
	if host == nil || host.To4() == nil {
		ln.Close()
		return Reply{}, fmt.Errorf("no IPv4 address to advertise for passive mode")
	}
	host = host.To4()

	n.replace(&passiveChannel{ln: ln, timeout: n.timeout()})

	return NewReply(CodePassiveMode, "Entering Passive Mode (%d,%d,%d,%d,%d,%d).",
		host[0], host[1], host[2], host[3], port/256, port%256), nil
}

// Active records the client-supplied address from PORT. The dial happens at
// transfer time.
func (n *Negotiator) Active(ip net.IP, port int) Reply {
	n.replace(&activeChannel{
		addr:    &net.TCPAddr{IP: ip, Port: port},
		timeout: n.timeout(),
	})
	return NewReply(CodeOK, "PORT command successful.")
}

// Take consumes the pending channel. A transfer command with nothing
// pending is a sequence error; each negotiation serves exactly one transfer.
func (n *Negotiator) Take() (DataChannel, error) {
	if n.pending == nil {
		return nil, ErrNoDataChannel
	}
	ch := n.pending
	n.pending = nil
	return ch, nil
}

// Reset discards any pending channel. Called when the session ends.
func (n *Negotiator) Reset() {
	n.replace(nil)
}

func (n *Negotiator) replace(ch DataChannel) {
	if n.pending != nil {
		n.pending.Close()
	}
	n.pending = ch
}

// listen binds the passive listener, walking the configured port range when
// one is set so successive transfers spread across it.
func (n *Negotiator) listen() (net.Listener, error) {
	if n.PortMin == 0 || n.PortMax == 0 {
		return net.Listen("tcp4", ":0")
	}

	var lastErr error
	for port := n.PortMin; port <= n.PortMax; port++ {
		ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free port in passive range %d-%d: %w", n.PortMin, n.PortMax, lastErr)
}

func (n *Negotiator) timeout() time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}
	return defaultDataTimeout
}

// passiveChannel waits for the client to connect to our listener.
type passiveChannel struct {
	ln      net.Listener
	timeout time.Duration
}

func (p *passiveChannel) Establish(ctx context.Context) (net.Conn, error) {
	defer p.ln.Close()

	if tcp, ok := p.ln.(*net.TCPListener); ok {
		deadline := time.Now().Add(p.timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := tcp.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	// Unblock the accept if the session is cancelled mid-wait.
	stop := context.AfterFunc(ctx, func() { p.ln.Close() })
	defer stop()

	conn, err := p.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrDataTimeout
		}
		return nil, err
	}
	return conn, nil
}

func (p *passiveChannel) Close() error {
	return p.ln.Close()
}

// activeChannel dials back to the address the client supplied with PORT.
type activeChannel struct {
	addr    *net.TCPAddr
	timeout time.Duration
}

func (a *activeChannel) Establish(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: a.timeout}
	conn, err := d.DialContext(ctx, "tcp", a.addr.String())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrDataTimeout
		}
		return nil, err
	}
	return conn, nil
}

func (a *activeChannel) Close() error {
	return nil
}
