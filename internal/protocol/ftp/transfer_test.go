package ftp

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftpy/ftpy/internal/vfs"
)

func newTestExecutor(t *testing.T) (*Executor, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/docs", 0755))
	require.NoError(t, afero.WriteFile(fs, "/hello.txt", []byte("hello world"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/docs/readme.md", []byte("# readme"), 0644))

	return &Executor{FS: vfs.NewWithFs(fs), ChunkSize: 4}, fs
}

func TestExecutor_Retrieve(t *testing.T) {
	e, _ := newTestExecutor(t)

	var buf bytes.Buffer
	n, err := e.Retrieve(context.Background(), &buf, "/hello.txt", TypeBinary)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, "hello world", buf.String())
}

func TestExecutor_RetrieveMissing(t *testing.T) {
	e, _ := newTestExecutor(t)

	var buf bytes.Buffer
	_, err := e.Retrieve(context.Background(), &buf, "/nope", TypeBinary)
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestExecutor_Store(t *testing.T) {
	e, fs := newTestExecutor(t)

	// Larger than the 4-byte chunk so the loop runs several iterations.
	payload := strings.Repeat("abcdefghij", 100)
	n, err := e.Store(context.Background(), strings.NewReader(payload), "/up.bin", TypeBinary)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	data, err := afero.ReadFile(fs, "/up.bin")
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestExecutor_StoreEmpty(t *testing.T) {
	e, fs := newTestExecutor(t)

	n, err := e.Store(context.Background(), strings.NewReader(""), "/empty.bin", TypeBinary)
	require.NoError(t, err)
	assert.Zero(t, n)

	info, err := fs.Stat("/empty.bin")
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestExecutor_StoreCancelled(t *testing.T) {
	e, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Store(ctx, strings.NewReader("data"), "/up.bin", TypeBinary)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_AsciiRoundTrip(t *testing.T) {
	e, fs := newTestExecutor(t)

	// Upload with CRLF line endings: stored content uses LF.
	_, err := e.Store(context.Background(), strings.NewReader("line1\r\nline2\r\n"), "/notes.txt", TypeASCII)
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", string(data))

	// Download in ASCII mode: LF expands back to CRLF.
	var buf bytes.Buffer
	_, err = e.Retrieve(context.Background(), &buf, "/notes.txt", TypeASCII)
	require.NoError(t, err)
	assert.Equal(t, "line1\r\nline2\r\n", buf.String())
}

func TestAsciiReader_CRAcrossChunks(t *testing.T) {
	r := &asciiReader{r: iotest(strings.NewReader("a\r\nb\rc"))}

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\rc", string(data))
}

func TestAsciiReader_OneByteBuffer(t *testing.T) {
	// A held-back CR followed by a regular byte yields two output bytes
	// from one input byte; with a one-byte destination the surplus must
	// carry over to the next Read instead of being dropped.
	r := &asciiReader{r: strings.NewReader("a\rb\r\nc")}

	var out []byte
	p := make([]byte, 1)
	for {
		n, err := r.Read(p)
		out = append(out, p[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, "a\rb\nc", string(out))
}

// iotest wraps a reader to deliver one byte at a time, forcing the CR
// held-back path at every boundary.
func iotest(r io.Reader) io.Reader {
	return readerFunc(func(p []byte) (int, error) {
		if len(p) > 1 {
			p = p[:1]
		}
		return r.Read(p)
	})
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestFormatListLine(t *testing.T) {
	e, _ := newTestExecutor(t)

	info, err := e.FS.Stat("/hello.txt")
	require.NoError(t, err)

	line := FormatListLine(info)
	assert.True(t, strings.HasPrefix(line, "-rw-r--r-- 1 owner group"), line)
	assert.True(t, strings.HasSuffix(line, " hello.txt"), line)
	assert.Contains(t, line, "11")

	dir, err := e.FS.Stat("/docs")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(FormatListLine(dir), "drwxr-xr-x"), FormatListLine(dir))
}

func TestFormatListLine_Date(t *testing.T) {
	info := fakeInfo{name: "f.txt", size: 42, modTime: time.Date(2026, time.March, 7, 9, 30, 0, 0, time.UTC)}
	line := FormatListLine(info)
	assert.Contains(t, line, "07 Mar 2026 09:30")
}

func TestFormatMlsdLine(t *testing.T) {
	info := fakeInfo{name: "f.txt", size: 42, modTime: time.Date(2026, time.March, 7, 9, 30, 15, 0, time.UTC)}
	assert.Equal(t, "type=file;size=42;modify=20260307093015; f.txt", FormatMlsdLine(info))

	dir := fakeInfo{name: "sub", dir: true, modTime: time.Date(2026, time.March, 7, 9, 30, 15, 0, time.UTC)}
	assert.Equal(t, "type=dir;size=0;modify=20260307093015; sub", FormatMlsdLine(dir))
}

func TestSendList_SingleFile(t *testing.T) {
	e, _ := newTestExecutor(t)

	var buf bytes.Buffer
	require.NoError(t, e.SendList(context.Background(), &buf, "/hello.txt"))

	lines := strings.Split(strings.TrimRight(buf.String(), "\r\n"), "\r\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], "hello.txt"))
}

func TestSendNameList(t *testing.T) {
	e, _ := newTestExecutor(t)

	var buf bytes.Buffer
	require.NoError(t, e.SendNameList(context.Background(), &buf, "/"))

	out := buf.String()
	assert.Contains(t, out, "hello.txt\r\n")
	assert.Contains(t, out, "docs\r\n")
}

// countingWriter records every Write it receives.
type countingWriter struct {
	writes []string
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, string(p))
	return len(p), nil
}

func TestSendList_StreamsPerEntry(t *testing.T) {
	e, fs := newTestExecutor(t)
	for _, name := range []string{"/docs/a.txt", "/docs/b.txt", "/docs/c.txt"} {
		require.NoError(t, afero.WriteFile(fs, name, []byte("x"), 0644))
	}

	var w countingWriter
	require.NoError(t, e.SendList(context.Background(), &w, "/docs"))

	// One write per entry, each a complete CRLF-terminated line, so large
	// directories never accumulate in memory before hitting the wire.
	require.Len(t, w.writes, 4)
	for _, line := range w.writes {
		assert.True(t, strings.HasSuffix(line, "\r\n"), line)
	}
}

func TestSendList_Cancelled(t *testing.T) {
	e, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := e.SendList(ctx, &buf, "/docs")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestSendMlsd_DirectoryOnly(t *testing.T) {
	e, _ := newTestExecutor(t)

	var buf bytes.Buffer
	err := e.SendMlsd(context.Background(), &buf, "/hello.txt")
	assert.ErrorIs(t, err, vfs.ErrNotDir)

	buf.Reset()
	require.NoError(t, e.SendMlsd(context.Background(), &buf, "/docs"))
	assert.Contains(t, buf.String(), "type=file")
	assert.Contains(t, buf.String(), " readme.md\r\n")
}

type fakeInfo struct {
	name    string
	size    int64
	dir     bool
	modTime time.Time
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() os.FileMode  { return 0644 }
func (f fakeInfo) ModTime() time.Time { return f.modTime }
func (f fakeInfo) IsDir() bool        { return f.dir }
func (f fakeInfo) Sys() any           { return nil }
