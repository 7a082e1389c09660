// Package vfs implements the sandboxed filesystem gateway.
//
// Every path a client supplies is resolved against the session's working
// directory into a normalized, sandbox-confined virtual path before any
// filesystem operation runs. The gateway is backed by an afero.Fs rooted at
// the sandbox directory, so even a resolution bug cannot reach outside the
// served subtree; Resolve rejects escapes explicitly on top of that.
package vfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Sentinel errors returned by gateway operations. Callers map these onto
// protocol reply codes.
var (
	ErrOutsideSandbox = errors.New("path escapes sandbox root")
	ErrNotFound       = errors.New("no such file or directory")
	ErrPermission     = errors.New("permission denied")
	ErrNotDir         = errors.New("not a directory")
	ErrIsDir          = errors.New("is a directory")
)

// File is the handle returned for reads and writes. It is satisfied by
// afero.File and therefore by *os.File.
type File interface {
	io.ReadWriteCloser
	io.Seeker
	Name() string
}

// Gateway provides sandboxed access to one filesystem subtree.
//
// All paths accepted and returned by Gateway methods are virtual: absolute,
// slash-separated, with "/" denoting the sandbox root. Translation to real
// paths happens inside the backing afero.Fs.
type Gateway struct {
	fs   afero.Fs
	root string // real path of the sandbox root, for logging only
}

// New creates a Gateway serving the given directory. The directory must
// exist; it becomes "/" for every session.
func New(root string) (*Gateway, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q: %w", root, ErrNotDir)
	}

	return &Gateway{
		fs:   afero.NewBasePathFs(afero.NewOsFs(), root),
		root: root,
	}, nil
}

// NewWithFs creates a Gateway over an arbitrary afero.Fs. Used by tests with
// an in-memory filesystem.
func NewWithFs(fsys afero.Fs) *Gateway {
	return &Gateway{fs: fsys, root: "/"}
}

// Root returns the real path of the sandbox root.
func (g *Gateway) Root() string {
	return g.root
}

// Resolve turns a client-supplied path into a normalized virtual path.
//
// Relative paths are resolved against cwd (itself a virtual absolute path).
// The result is cleaned and always confined: ".." components cannot climb
// above "/". Paths containing NUL bytes are rejected as sandbox escapes
// since they can truncate paths at the OS boundary.
func (g *Gateway) Resolve(cwd, name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("resolve %q: %w", name, ErrOutsideSandbox)
	}

	if cwd == "" {
		cwd = "/"
	}

	var p string
	if path.IsAbs(name) {
		p = path.Clean(name)
	} else {
		p = path.Clean(path.Join(cwd, name))
	}

	// path.Clean on an absolute path never yields "..", but keep the check:
	// the invariant is cheap to state and this is the sandbox boundary.
	if !path.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("resolve %q: %w", name, ErrOutsideSandbox)
	}

	return p, nil
}

// Stat returns file information for the given virtual path.
func (g *Gateway) Stat(name string) (os.FileInfo, error) {
	info, err := g.fs.Stat(name)
	if err != nil {
		return nil, g.wrap("stat", name, err)
	}
	return info, nil
}

// List enumerates a directory, sorted by name.
func (g *Gateway) List(name string) ([]os.FileInfo, error) {
	info, err := g.fs.Stat(name)
	if err != nil {
		return nil, g.wrap("list", name, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("list %q: %w", name, ErrNotDir)
	}

	f, err := g.fs.Open(name)
	if err != nil {
		return nil, g.wrap("list", name, err)
	}
	defer f.Close()

	entries, err := f.Readdir(-1)
	if err != nil {
		return nil, g.wrap("list", name, err)
	}
	return entries, nil
}

// OpenRead opens a file for reading.
func (g *Gateway) OpenRead(name string) (File, error) {
	info, err := g.fs.Stat(name)
	if err != nil {
		return nil, g.wrap("open", name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open %q: %w", name, ErrIsDir)
	}

	f, err := g.fs.Open(name)
	if err != nil {
		return nil, g.wrap("open", name, err)
	}
	return f, nil
}

// OpenWrite opens a file for writing, creating it if missing and truncating
// any existing content.
func (g *Gateway) OpenWrite(name string) (File, error) {
	if info, err := g.fs.Stat(name); err == nil && info.IsDir() {
		return nil, fmt.Errorf("create %q: %w", name, ErrIsDir)
	}

	f, err := g.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, g.wrap("create", name, err)
	}
	return f, nil
}

// Mkdir creates a directory.
func (g *Gateway) Mkdir(name string) error {
	if err := g.fs.Mkdir(name, 0755); err != nil {
		return g.wrap("mkdir", name, err)
	}
	return nil
}

// Remove deletes a regular file.
func (g *Gateway) Remove(name string) error {
	info, err := g.fs.Stat(name)
	if err != nil {
		return g.wrap("remove", name, err)
	}
	if info.IsDir() {
		return fmt.Errorf("remove %q: %w", name, ErrIsDir)
	}

	if err := g.fs.Remove(name); err != nil {
		return g.wrap("remove", name, err)
	}
	return nil
}

// RemoveDir deletes an empty directory.
func (g *Gateway) RemoveDir(name string) error {
	info, err := g.fs.Stat(name)
	if err != nil {
		return g.wrap("rmdir", name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("rmdir %q: %w", name, ErrNotDir)
	}

	if err := g.fs.Remove(name); err != nil {
		return g.wrap("rmdir", name, err)
	}
	return nil
}

// Rename moves a file or directory within the sandbox.
func (g *Gateway) Rename(oldName, newName string) error {
	if err := g.fs.Rename(oldName, newName); err != nil {
		return g.wrap("rename", oldName, err)
	}
	return nil
}

// IsDir reports whether the virtual path names an existing directory.
func (g *Gateway) IsDir(name string) bool {
	info, err := g.fs.Stat(name)
	return err == nil && info.IsDir()
}

// wrap maps OS-level errors onto the gateway's sentinel taxonomy while
// preserving the original error for logging.
func (g *Gateway) wrap(op, name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %q: %w", op, name, ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s %q: %w", op, name, ErrPermission)
	default:
		return fmt.Errorf("%s %q: %w", op, name, err)
	}
}
