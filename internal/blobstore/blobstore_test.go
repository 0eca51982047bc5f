package blobstore

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "a.txt", want: "a.txt"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `..\..\windows\system.ini`, want: "system.ini"},
		{in: "dir/sub/file.bin", want: "file.bin"},
		{in: "we\x00ird\nname?.txt", want: "weirdname_.txt"},
		{in: ".env", want: "env"},
		{in: "  spaced  ", want: "spaced"},
		{in: "", err: true},
		{in: "..", err: true},
		{in: "/", err: true},
		{in: "...", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := SanitizeName(tc.in)
			if tc.err {
				assert.ErrorIs(t, err, ErrInvalidName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSanitizeNameTruncates(t *testing.T) {
	got, err := SanitizeName(strings.Repeat("x", 500) + ".tar.gz")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), MaxNameLength)
	assert.True(t, strings.HasSuffix(got, ".gz"))
}

func TestNewLocation(t *testing.T) {
	a, err := NewLocation("abc123")
	require.NoError(t, err)
	b, err := NewLocation("abc123")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "abc123", CodeOf(a))

	_, err = NewLocation("../x")
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

// exerciseStore runs the same contract checks against every backend.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	loc, err := s.CreateContainer(ctx, "code01")
	require.NoError(t, err)

	n, err := s.WriteItem(ctx, loc, "item-000", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	_, err = s.WriteItem(ctx, loc, "01_b.txt", strings.NewReader("world!"))
	require.NoError(t, err)

	rc, err := s.ReadItem(ctx, loc, "item-000")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = s.ReadItem(ctx, loc, "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.WriteItem(ctx, loc, "../escape", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.ReadItem(ctx, "../"+loc, "item-000")
	assert.ErrorIs(t, err, ErrInvalidLocation)

	locs, err := s.Containers(ctx)
	require.NoError(t, err)
	assert.Contains(t, locs, loc)

	require.NoError(t, s.DeleteContainer(ctx, loc))
	require.NoError(t, s.DeleteContainer(ctx, loc))

	_, err = s.ReadItem(ctx, loc, "item-000")
	assert.ErrorIs(t, err, ErrNotFound)

	locs, err = s.Containers(ctx)
	require.NoError(t, err)
	assert.NotContains(t, locs, loc)

	_, err = s.WriteItem(ctx, loc, "item-000", strings.NewReader("late"))
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestDiskStore(t *testing.T) {
	s, err := NewDisk(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestDiskStoreFailedWriteLeavesNoItem(t *testing.T) {
	ctx := context.Background()
	s, err := NewDisk(t.TempDir())
	require.NoError(t, err)

	loc, err := s.CreateContainer(ctx, "code02")
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.WriteItem(ctx, loc, "item-000", io.MultiReader(strings.NewReader("part"), errReader{boom}))
	assert.ErrorIs(t, err, boom)

	_, err = s.ReadItem(ctx, loc, "item-000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreParallelContainers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc, err := s.CreateContainer(ctx, "same")
			if !assert.NoError(t, err) {
				return
			}
			_, err = s.WriteItem(ctx, loc, "item-000", strings.NewReader(loc))
			assert.NoError(t, err)
			assert.NoError(t, s.DeleteContainer(ctx, loc))
		}()
	}
	wg.Wait()

	locs, err := s.Containers(ctx)
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestWebDAVStore(t *testing.T) {
	srv := httptest.NewServer(&webdav.Handler{
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	})
	defer srv.Close()

	s, err := NewWebDAV(context.Background(), WebDAVConfig{URL: srv.URL, Root: "shares"})
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestSFTPStore(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go server.Serve()
	defer server.Close()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	require.NoError(t, err)
	require.NoError(t, client.MkdirAll("/shares"))

	s := newSFTPWithClient(client, "/shares", "pipe")
	defer s.Close()
	exerciseStore(t, s)
}

func TestSSHClientConfigHostKey(t *testing.T) {
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, nil, 0o600))

	cases := map[string]struct {
		cfg     SFTPConfig
		wantErr error
	}{
		"no known hosts": {
			cfg:     SFTPConfig{User: "u", Password: "p"},
			wantErr: ErrNoHostKeyCheck,
		},
		"known hosts file": {
			cfg: SFTPConfig{User: "u", Password: "p", KnownHosts: knownHosts},
		},
		"explicit opt out": {
			cfg: SFTPConfig{User: "u", Password: "p", InsecureIgnoreHostKey: true},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := sshClientConfig(tc.cfg)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, got.HostKeyCallback)
			assert.Equal(t, "u", got.User)
		})
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
