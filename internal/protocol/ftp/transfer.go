package ftp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ftpy/ftpy/internal/vfs"
)

const (
	// DefaultChunkSize is the transfer buffer size when none is configured.
	DefaultChunkSize = 4096

	mlsdTimeFormat = "20060102150405"
	listTimeFormat = "02 Jan 2006 15:04"
)

// Executor moves file content and directory listings over established data
// connections. Cancellation is checked between chunks, so a shutdown
// interrupts a transfer at the next buffer boundary rather than mid-write.
type Executor struct {
	FS        *vfs.Gateway
	ChunkSize int
}

func (e *Executor) chunkSize() int {
	if e.ChunkSize > 0 {
		return e.ChunkSize
	}
	return DefaultChunkSize
}

// Retrieve streams the file at path to dst, returning the byte count
// written to the wire.
func (e *Executor) Retrieve(ctx context.Context, dst io.Writer, path string, mode TransferType) (int64, error) {
	f, err := e.FS.OpenRead(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if mode == TypeASCII {
		dst = &asciiWriter{w: dst}
	}
	return e.copyChunked(ctx, dst, f)
}

// Store reads from src until EOF and writes the content to the file at
// path, creating or truncating it. A zero-byte upload is a valid transfer
// and produces an empty file.
func (e *Executor) Store(ctx context.Context, src io.Reader, path string, mode TransferType) (int64, error) {
	f, err := e.FS.OpenWrite(path)
	if err != nil {
		return 0, err
	}

	if mode == TypeASCII {
		src = &asciiReader{r: src}
	}

	n, err := e.copyChunked(ctx, f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// copyChunked is the transfer loop shared by both directions: read up to
// one chunk, write it out, check for cancellation, repeat until EOF.
func (e *Executor) copyChunked(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, e.chunkSize())
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
			if wn < n {
				return total, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// SendList writes a long-format listing of path to dst, one line per entry.
func (e *Executor) SendList(ctx context.Context, dst io.Writer, path string) error {
	entries, err := e.listTarget(path)
	if err != nil {
		return err
	}
	return e.sendLines(ctx, dst, entries, FormatListLine)
}

// SendNameList writes a bare-names listing of path to dst.
func (e *Executor) SendNameList(ctx context.Context, dst io.Writer, path string) error {
	entries, err := e.listTarget(path)
	if err != nil {
		return err
	}
	return e.sendLines(ctx, dst, entries, func(info os.FileInfo) string {
		return info.Name()
	})
}

// SendMlsd writes a machine-readable listing of path to dst.
func (e *Executor) SendMlsd(ctx context.Context, dst io.Writer, path string) error {
	entries, err := e.FS.List(path)
	if err != nil {
		return err
	}
	return e.sendLines(ctx, dst, entries, FormatMlsdLine)
}

// sendLines streams one CRLF-terminated line per entry to dst, so a large
// directory never has its whole listing buffered in memory. Cancellation is
// checked before each entry.
func (e *Executor) sendLines(ctx context.Context, dst io.Writer, entries []os.FileInfo, format func(os.FileInfo) string) error {
	for _, info := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.WriteString(dst, format(info)+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

// listTarget resolves the LIST/NLST target: directories enumerate their
// entries, a single file lists just itself.
func (e *Executor) listTarget(path string) ([]os.FileInfo, error) {
	info, err := e.FS.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []os.FileInfo{info}, nil
	}
	return e.FS.List(path)
}

// FormatListLine renders one long-format listing line. The leading flag is
// "d" for directories and "-" for files; link count, owner and group are
// fixed since the sandbox has no user model.
func FormatListLine(info os.FileInfo) string {
	flag := "-"
	perms := "rw-r--r--"
	if info.IsDir() {
		flag = "d"
		perms = "rwxr-xr-x"
	}
	return fmt.Sprintf("%s%s 1 owner group %12d %s %s",
		flag, perms, info.Size(), info.ModTime().UTC().Format(listTimeFormat), info.Name())
}

// FormatMlsdLine renders one MLSD fact line: semicolon-separated facts,
// then a single space, then the entry name.
func FormatMlsdLine(info os.FileInfo) string {
	entryType := "file"
	if info.IsDir() {
		entryType = "dir"
	}
	return fmt.Sprintf("type=%s;size=%d;modify=%s; %s",
		entryType, info.Size(), info.ModTime().UTC().Format(mlsdTimeFormat), info.Name())
}

// FormatMdtm renders a modification time for the MDTM reply.
func FormatMdtm(t time.Time) string {
	return t.UTC().Format(mlsdTimeFormat)
}

// asciiWriter expands bare LF to CRLF on the way out.
type asciiWriter struct {
	w         io.Writer
	lastWasCR bool
}

func (a *asciiWriter) Write(p []byte) (int, error) {
	var out bytes.Buffer
	out.Grow(len(p) + len(p)/8)

	for _, c := range p {
		if c == '\n' && !a.lastWasCR {
			out.WriteByte('\r')
		}
		a.lastWasCR = c == '\r'
		out.WriteByte(c)
	}

	if _, err := a.w.Write(out.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// asciiReader collapses CRLF to LF on the way in. A CR at a buffer boundary
// is held back until the next byte decides its fate, and translated bytes
// that exceed the caller's buffer are carried over to the next Read.
type asciiReader struct {
	r         io.Reader
	pendingCR bool
	carry     []byte
	err       error
}

func (a *asciiReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if len(a.carry) == 0 && a.err == nil {
		raw := make([]byte, len(p))
		n, err := a.r.Read(raw)
		a.err = err

		out := make([]byte, 0, n+1)
		for _, c := range raw[:n] {
			if a.pendingCR {
				a.pendingCR = false
				if c != '\n' {
					out = append(out, '\r')
				}
			}
			if c == '\r' {
				a.pendingCR = true
				continue
			}
			out = append(out, c)
		}
		if err == io.EOF && a.pendingCR {
			out = append(out, '\r')
			a.pendingCR = false
		}
		a.carry = out
	}

	n := copy(p, a.carry)
	a.carry = a.carry[n:]
	if len(a.carry) > 0 {
		return n, nil
	}
	err := a.err
	a.err = nil
	return n, err
}
