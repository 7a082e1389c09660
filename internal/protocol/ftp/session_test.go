package ftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftpy/ftpy/internal/vfs"
)

// testClient drives a session over an in-memory pipe with raw protocol
// lines, the way a misbehaving client can.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	done   chan error
}

func startSession(t *testing.T, cfg SessionConfig) *testClient {
	t.Helper()

	if cfg.FS == nil {
		fs := afero.NewMemMapFs()
		require.NoError(t, fs.MkdirAll("/docs", 0755))
		require.NoError(t, afero.WriteFile(fs, "/hello.txt", []byte("hello world"), 0644))
		cfg.FS = vfs.NewWithFs(fs)
	}
	if cfg.DataTimeout == 0 {
		cfg.DataTimeout = 2 * time.Second
	}

	server, client := net.Pipe()
	sess := NewSession(server, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- sess.Serve(ctx)
		server.Close()
		close(stopped)
	}()

	t.Cleanup(func() {
		cancel()
		client.Close()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Error("session did not stop")
		}
	})

	return &testClient{t: t, conn: client, reader: bufio.NewReader(client), done: done}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

// readReply consumes one complete reply, following dash continuations to
// the closing line.
func (c *testClient) readReply() (int, []string) {
	c.t.Helper()

	first, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	first = strings.TrimRight(first, "\r\n")
	require.GreaterOrEqual(c.t, len(first), 4, "short reply line %q", first)

	code, err := strconv.Atoi(first[:3])
	require.NoError(c.t, err)

	lines := []string{first[4:]}
	if first[3] != '-' {
		return code, lines
	}

	closing := fmt.Sprintf("%d ", code)
	for {
		line, err := c.reader.ReadString('\n')
		require.NoError(c.t, err)
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, closing) {
			lines = append(lines, line[4:])
			return code, lines
		}
		lines = append(lines, strings.TrimPrefix(line, " "))
	}
}

func (c *testClient) expect(code int) []string {
	c.t.Helper()
	got, lines := c.readReply()
	require.Equal(c.t, code, got, "reply was %d %v", got, lines)
	return lines
}

// login runs the happy-path USER/PASS exchange past the greeting.
func (c *testClient) login() {
	c.t.Helper()
	c.expect(CodeReady)
	c.send("USER alice")
	c.expect(CodeNeedPassword)
	c.send("PASS secret")
	c.expect(CodeLoggedIn)
}

func TestSession_GreetingAndQuit(t *testing.T) {
	c := startSession(t, SessionConfig{})

	c.expect(CodeReady)
	c.send("QUIT")
	c.expect(CodeClosing)

	require.NoError(t, <-c.done)
}

func TestSession_QuitBeforeLogin(t *testing.T) {
	c := startSession(t, SessionConfig{})

	c.expect(CodeReady)
	c.send("QUIT")
	lines := c.expect(CodeClosing)
	assert.Equal(t, "Goodbye.", lines[0])
}

func TestSession_UnknownCommand(t *testing.T) {
	c := startSession(t, SessionConfig{})

	c.expect(CodeReady)
	c.send("FOOBAR baz")
	c.expect(CodeNotImplemented)
}

func TestSession_MalformedCommand(t *testing.T) {
	c := startSession(t, SessionConfig{})

	c.expect(CodeReady)
	c.send("PORT 1,2,3")
	c.expect(CodeParamError)
	c.send("TYPE E")
	c.expect(CodeParamError)
}

func TestSession_EmptyCommandLine(t *testing.T) {
	c := startSession(t, SessionConfig{})

	c.expect(CodeReady)
	c.send("")
	lines := c.expect(CodeSyntaxError)
	assert.Equal(t, "Syntax error, command unrecognized.", lines[0])
}

func TestSession_PassWithoutUser(t *testing.T) {
	c := startSession(t, SessionConfig{})

	c.expect(CodeReady)
	c.send("PASS secret")
	c.expect(CodeBadSequence)
}

func TestSession_PreAuthGating(t *testing.T) {
	c := startSession(t, SessionConfig{})

	c.expect(CodeReady)
	for _, line := range []string{"LIST", "PWD", "PASV", "RETR hello.txt", "CWD /docs"} {
		c.send(line)
		c.expect(CodeNotLoggedIn)
	}

	// Whitelisted verbs still work before login.
	c.send("NOOP")
	c.expect(CodeOK)
	c.send("SYST")
	lines := c.expect(CodeSystem)
	assert.Equal(t, "UNIX Type: L8", lines[0])
	c.send("FEAT")
	c.expect(CodeSystemStatus)
}

func TestSession_LoginFlow(t *testing.T) {
	c := startSession(t, SessionConfig{})
	c.login()

	c.send("PWD")
	lines := c.expect(CodePathCreated)
	assert.Contains(t, lines[0], `"/"`)
}

func TestSession_LoginRejected(t *testing.T) {
	c := startSession(t, SessionConfig{
		Credentials: CredentialPolicy{Users: map[string]string{"alice": "right"}},
	})

	c.expect(CodeReady)
	c.send("USER alice")
	c.expect(CodeNeedPassword)
	c.send("PASS wrong")
	c.expect(CodeNotLoggedIn)

	// The username survives a rejected PASS, so a bare retry is evaluated
	// rather than bounced with 503.
	c.send("PASS right")
	c.expect(CodeLoggedIn)
}

func TestSession_LoginRetryStillChecked(t *testing.T) {
	c := startSession(t, SessionConfig{
		Credentials: CredentialPolicy{Users: map[string]string{"alice": "right"}},
	})

	c.expect(CodeReady)
	c.send("USER alice")
	c.expect(CodeNeedPassword)
	c.send("PASS wrong")
	c.expect(CodeNotLoggedIn)
	c.send("PASS still-wrong")
	c.expect(CodeNotLoggedIn)

	// Commands gated on auth stay locked out between attempts.
	c.send("PWD")
	c.expect(CodeNotLoggedIn)

	c.send("PASS right")
	c.expect(CodeLoggedIn)
}

func TestSession_EmptyPasswordPolicy(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		c := startSession(t, SessionConfig{})
		c.expect(CodeReady)
		c.send("USER anonymous")
		c.expect(CodeNeedPassword)
		c.send("PASS")
		c.expect(CodeNotLoggedIn)
	})

	t.Run("accepted when allowed", func(t *testing.T) {
		c := startSession(t, SessionConfig{
			Credentials: CredentialPolicy{AllowEmptyPassword: true},
		})
		c.expect(CodeReady)
		c.send("USER anonymous")
		c.expect(CodeNeedPassword)
		c.send("PASS")
		c.expect(CodeLoggedIn)
	})
}

func TestSession_FeatListsFeatures(t *testing.T) {
	c := startSession(t, SessionConfig{})

	c.expect(CodeReady)
	c.send("FEAT")
	_, lines := c.readReply()

	body := strings.Join(lines, "\n")
	for _, feat := range []string{"MLSD", "SIZE", "MDTM", "UTF8", "PASV"} {
		assert.Contains(t, body, feat)
	}
	assert.Equal(t, "End", lines[len(lines)-1])
}

func TestSession_CwdAndCdup(t *testing.T) {
	c := startSession(t, SessionConfig{})
	c.login()

	c.send("CWD /docs")
	c.expect(CodeFileActionOK)
	c.send("PWD")
	lines := c.expect(CodePathCreated)
	assert.Contains(t, lines[0], `"/docs"`)

	c.send("CDUP")
	c.expect(CodeFileActionOK)
	c.send("PWD")
	lines = c.expect(CodePathCreated)
	assert.Contains(t, lines[0], `"/"`)

	c.send("CWD /hello.txt")
	c.expect(CodeActionNotTaken)
	c.send("CWD /missing")
	c.expect(CodeActionNotTaken)

	// Climbing above the root clamps instead of escaping.
	c.send("CWD ../../..")
	c.expect(CodeFileActionOK)
	c.send("PWD")
	lines = c.expect(CodePathCreated)
	assert.Contains(t, lines[0], `"/"`)
}

func TestSession_SizeAndMdtm(t *testing.T) {
	c := startSession(t, SessionConfig{})
	c.login()

	c.send("SIZE hello.txt")
	lines := c.expect(CodeFileStatus)
	assert.Equal(t, "11", lines[0])

	c.send("SIZE /docs")
	c.expect(CodeActionNotTaken)
	c.send("SIZE missing.txt")
	c.expect(CodeActionNotTaken)

	c.send("MDTM hello.txt")
	lines = c.expect(CodeFileStatus)
	assert.Len(t, lines[0], 14)
}

func TestSession_FileManagement(t *testing.T) {
	c := startSession(t, SessionConfig{})
	c.login()

	c.send("MKD incoming")
	lines := c.expect(CodePathCreated)
	assert.Contains(t, lines[0], `"/incoming"`)

	c.send("RNFR hello.txt")
	c.expect(CodePendingInfo)
	c.send("RNTO incoming/hi.txt")
	c.expect(CodeFileActionOK)

	c.send("DELE incoming/hi.txt")
	c.expect(CodeFileActionOK)
	c.send("DELE incoming/hi.txt")
	c.expect(CodeActionNotTaken)

	c.send("RMD incoming")
	c.expect(CodeFileActionOK)

	c.send("RNTO orphan.txt")
	c.expect(CodeBadSequence)
}

func TestSession_TransferWithoutNegotiation(t *testing.T) {
	c := startSession(t, SessionConfig{})
	c.login()

	for _, line := range []string{"LIST", "RETR hello.txt", "STOR up.txt", "MLSD"} {
		c.send(line)
		c.expect(CodeBadSequence)
	}
}

func TestSession_RetrMissingBeforeDataChannel(t *testing.T) {
	c := startSession(t, SessionConfig{
		PublicHost: net.IPv4(127, 0, 0, 1),
	})
	c.login()

	// A bad path fails with 550 and must not consume the negotiated
	// channel announcement sequence with a stray 150.
	c.send("PASV")
	c.expect(CodePassiveMode)
	c.send("RETR missing.txt")
	c.expect(CodeActionNotTaken)
}

func TestSession_PassiveTransferRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/hello.txt", []byte("hello world"), 0644))

	c := startSession(t, SessionConfig{
		FS:         vfs.NewWithFs(fs),
		PublicHost: net.IPv4(127, 0, 0, 1),
	})
	c.login()

	// Upload.
	c.send("PASV")
	_, port := parsePasvReply(c.t, replyOf(c.expect(CodePassiveMode), CodePassiveMode))
	data, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)

	c.send("STOR up.txt")
	c.expect(CodeDataOpen)
	_, err = data.Write([]byte("uploaded content"))
	require.NoError(t, err)
	require.NoError(t, data.Close())
	c.expect(CodeTransferComplete)

	stored, err := afero.ReadFile(fs, "/up.txt")
	require.NoError(t, err)
	assert.Equal(t, "uploaded content", string(stored))

	// Download what we just stored.
	c.send("PASV")
	_, port = parsePasvReply(c.t, replyOf(c.expect(CodePassiveMode), CodePassiveMode))
	data, err = net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)

	c.send("RETR up.txt")
	c.expect(CodeDataOpen)
	got, err := io.ReadAll(data)
	require.NoError(t, err)
	data.Close()
	assert.Equal(t, "uploaded content", string(got))
	c.expect(CodeTransferComplete)
}

func TestSession_PassiveList(t *testing.T) {
	c := startSession(t, SessionConfig{
		PublicHost: net.IPv4(127, 0, 0, 1),
	})
	c.login()

	c.send("PASV")
	_, port := parsePasvReply(c.t, replyOf(c.expect(CodePassiveMode), CodePassiveMode))
	data, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)

	c.send("LIST")
	c.expect(CodeDataOpen)
	listing, err := io.ReadAll(data)
	require.NoError(t, err)
	data.Close()
	c.expect(CodeTransferComplete)

	assert.Contains(t, string(listing), "hello.txt")
	assert.Contains(t, string(listing), "docs")
	assert.True(t, strings.HasSuffix(string(listing), "\r\n"))
}

func TestSession_PassiveMlsd(t *testing.T) {
	c := startSession(t, SessionConfig{
		PublicHost: net.IPv4(127, 0, 0, 1),
	})
	c.login()

	c.send("PASV")
	_, port := parsePasvReply(c.t, replyOf(c.expect(CodePassiveMode), CodePassiveMode))
	data, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)

	c.send("MLSD /")
	c.expect(CodeDataOpen)
	listing, err := io.ReadAll(data)
	require.NoError(t, err)
	data.Close()
	c.expect(CodeTransferComplete)

	assert.Contains(t, string(listing), "type=file;")
	assert.Contains(t, string(listing), "; hello.txt\r\n")
	assert.Contains(t, string(listing), "type=dir;")
}

func TestSession_StatInline(t *testing.T) {
	c := startSession(t, SessionConfig{})
	c.login()

	c.send("STAT")
	lines := c.expect(CodeSystemStatus)
	assert.Contains(t, strings.Join(lines, "\n"), "alice")

	c.send("STAT /docs")
	lines = c.expect(CodeFileStatus)
	assert.Equal(t, "End of status", lines[len(lines)-1])
}

func TestSession_CancellationSends421(t *testing.T) {
	fs := afero.NewMemMapFs()

	server, client := net.Pipe()
	sess := NewSession(server, SessionConfig{FS: vfs.NewWithFs(fs)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Serve(ctx) }()
	defer server.Close()
	defer client.Close()

	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "220 "))

	cancel()

	// The loop notices cancellation after the next command completes.
	_, err = client.Write([]byte("NOOP\r\n"))
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "200 "))

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "421 "), "got %q", line)

	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSession_ClientDisconnect(t *testing.T) {
	c := startSession(t, SessionConfig{})

	c.expect(CodeReady)
	require.NoError(t, c.conn.Close())

	select {
	case err := <-c.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after disconnect")
	}
}

// replyOf rebuilds a Reply value from expect output so the PASV parsing
// helper can be shared with the negotiator tests.
func replyOf(lines []string, code int) Reply {
	return Reply{Code: code, Lines: lines}
}
