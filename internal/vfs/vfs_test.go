package vfs

import (
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/docs/sub", 0755))
	require.NoError(t, afero.WriteFile(fs, "/hello.txt", []byte("hello world"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/docs/readme.md", []byte("# readme"), 0644))

	return NewWithFs(fs)
}

func TestResolve(t *testing.T) {
	g := newTestGateway(t)

	tests := []struct {
		name string
		cwd  string
		arg  string
		want string
	}{
		{"absolute", "/docs", "/hello.txt", "/hello.txt"},
		{"relative", "/docs", "readme.md", "/docs/readme.md"},
		{"relative from root", "/", "docs", "/docs"},
		{"dot", "/docs", ".", "/docs"},
		{"dotdot", "/docs/sub", "..", "/docs"},
		{"dotdot clamps at root", "/", "../../..", "/"},
		{"embedded dotdot clamps", "/", "../../etc/passwd", "/etc/passwd"},
		{"trailing slash", "/", "docs/", "/docs"},
		{"empty cwd defaults to root", "", "docs", "/docs"},
		{"redundant separators", "/", "docs//sub", "/docs/sub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Resolve(tt.cwd, tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_NulByte(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.Resolve("/", "evil\x00.txt")
	assert.ErrorIs(t, err, ErrOutsideSandbox)
}

func TestStat(t *testing.T) {
	g := newTestGateway(t)

	info, err := g.Stat("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.Size())
	assert.False(t, info.IsDir())

	info, err = g.Stat("/docs")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = g.Stat("/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	g := newTestGateway(t)

	entries, err := g.List("/docs")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"readme.md", "sub"}, names)

	_, err = g.List("/hello.txt")
	assert.ErrorIs(t, err, ErrNotDir)

	_, err = g.List("/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRead(t *testing.T) {
	g := newTestGateway(t)

	f, err := g.OpenRead("/hello.txt")
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, err = g.OpenRead("/docs")
	assert.ErrorIs(t, err, ErrIsDir)

	_, err = g.OpenRead("/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenWrite(t *testing.T) {
	g := newTestGateway(t)

	f, err := g.OpenWrite("/new.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("fresh"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, err := g.Stat("/new.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
}

func TestOpenWrite_Truncates(t *testing.T) {
	g := newTestGateway(t)

	f, err := g.OpenWrite("/hello.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, err := g.Stat("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size())
}

func TestOpenWrite_Directory(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.OpenWrite("/docs")
	assert.ErrorIs(t, err, ErrIsDir)
}

func TestMkdirRemove(t *testing.T) {
	g := newTestGateway(t)

	require.NoError(t, g.Mkdir("/incoming"))
	assert.True(t, g.IsDir("/incoming"))

	require.NoError(t, g.RemoveDir("/incoming"))
	assert.False(t, g.IsDir("/incoming"))

	assert.ErrorIs(t, g.Remove("/docs"), ErrIsDir)
	assert.ErrorIs(t, g.RemoveDir("/hello.txt"), ErrNotDir)
	assert.ErrorIs(t, g.Remove("/nope"), ErrNotFound)

	require.NoError(t, g.Remove("/hello.txt"))
	_, err := g.Stat("/hello.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRename(t *testing.T) {
	g := newTestGateway(t)

	require.NoError(t, g.Rename("/hello.txt", "/docs/hello.txt"))

	_, err := g.Stat("/hello.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	info, err := g.Stat("/docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.Size())
}
