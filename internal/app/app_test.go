package app_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/remote-fetch/internal/app"
	"github.com/JakeFAU/remote-fetch/internal/auth"
	"github.com/JakeFAU/remote-fetch/internal/config"
	"github.com/JakeFAU/remote-fetch/internal/connpool"
	"github.com/JakeFAU/remote-fetch/internal/crawler"
	sftpfetcher "github.com/JakeFAU/remote-fetch/internal/fetcher/sftp"
	"github.com/JakeFAU/remote-fetch/internal/pool"
)

func memDialer(t *testing.T, handlers sftp.Handlers) connpool.Dialer[sftpfetcher.Session] {
	t.Helper()
	return func(context.Context, connpool.Key, auth.Credential) (sftpfetcher.Session, error) {
		serverConn, clientConn := net.Pipe()
		server := sftp.NewRequestServer(serverConn, handlers)
		go func() { _ = server.Serve() }()
		client, err := sftp.NewClientPipe(clientConn, clientConn)
		if err != nil {
			return nil, err
		}
		return sftpfetcher.NewClientSession(client, server), nil
	}
}

func newApp(t *testing.T, mutate func(*config.Config)) (*app.App, string) {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Output.Dir = t.TempDir()
	cfg.Fetch.TempDir = t.TempDir()
	cfg.Server.MaxConcurrentFetches = 2
	if mutate != nil {
		mutate(&cfg)
	}

	handlers := sftp.InMemHandler()
	writeFile(t, handlers, "/data/file1.txt", "file1")

	a, err := app.New(cfg, zap.NewNop(), app.WithSFTPOptions(sftpfetcher.WithDialer(memDialer(t, handlers))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, cfg.Output.Dir
}

func writeFile(t *testing.T, handlers sftp.Handlers, path, content string) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, handlers)
	go func() { _ = server.Serve() }()
	client, err := sftp.NewClientPipe(clientConn, clientConn)
	require.NoError(t, err)
	defer func() {
		_ = client.Close()
		_ = server.Close()
	}()
	require.NoError(t, client.MkdirAll(filepath.Dir(path)))
	f, err := client.Create(path)
	require.NoError(t, err)
	_, err = io.Copy(f, strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestAppRegistersComponents(t *testing.T) {
	t.Parallel()

	a, _ := newApp(t, nil)
	assert.Equal(t, []string{"sftp", "smb"}, a.Router().Schemes())

	reg, ok := a.Registry().(*pool.MapRegistry)
	require.True(t, ok)
	assert.Contains(t, reg.Names(), app.ComponentWorker)
	assert.Contains(t, reg.Names(), app.ComponentRouter)

	w1, err := a.Registry().Lookup(app.ComponentWorker)
	require.NoError(t, err)
	w2, err := a.Registry().Lookup(app.ComponentWorker)
	require.NoError(t, err)
	assert.NotSame(t, w1, w2, "workers are prototypes")

	r1, err := a.Registry().Lookup(app.ComponentRouter)
	require.NoError(t, err)
	assert.Same(t, a.Router(), r1)

	_, err = a.Registry().Lookup("nope")
	assert.ErrorIs(t, err, crawler.ErrComponentNotFound)
}

func TestAppProcessWritesBody(t *testing.T) {
	t.Parallel()

	a, outDir := newApp(t, nil)
	s, err := a.Process(context.Background(), crawler.Request{URL: "sftp://files.example.com/data/file1.txt", IncludeContent: true})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "file", s.Kind)
	assert.Equal(t, http.StatusOK, s.StatusCode)
	assert.Equal(t, int64(5), s.ContentLength)
	require.NotEmpty(t, s.SHA256)

	want := filepath.Join(outDir, s.SHA256+".txt")
	assert.Equal(t, "file://"+want, s.Location)
	// #nosec G304 -- reads from the test temp directory.
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "file1", string(got))
	assert.Equal(t, int32(1), a.Workers().Total)
}

func TestAppProcessSoftOutcomes(t *testing.T) {
	t.Parallel()

	a, _ := newApp(t, nil)

	s, err := a.Process(context.Background(), crawler.Request{URL: "sftp://files.example.com/data/missing", IncludeContent: true})
	require.NoError(t, err)
	assert.Equal(t, "not_found", s.Kind)
	assert.Equal(t, http.StatusNotFound, s.StatusCode)

	s, err = a.Process(context.Background(), crawler.Request{URL: "sftp://files.example.com/data/", IncludeContent: true})
	require.NoError(t, err)
	assert.Equal(t, "directory", s.Kind)
	assert.Equal(t, []string{"sftp://files.example.com/data/file1.txt"}, s.Children)

	s, err = a.Process(context.Background(), crawler.Request{URL: "sftp://files.example.com/data/"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = a.Process(context.Background(), crawler.Request{URL: "sftp://files.example.com/data/file1.txt"})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, crawler.MethodHead, s.Method)
	assert.Equal(t, "file", s.Kind)
	assert.Empty(t, s.SHA256)

	_, err = a.Process(context.Background(), crawler.Request{URL: "ftp://files.example.com/x"})
	var malformed *crawler.MalformedTargetError
	assert.True(t, errors.As(err, &malformed))
}

func TestAppFailsFastOnBadHostKeys(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Fetch.StrictHostKeyChecking = "yes"
	cfg.Fetch.KnownHostsFile = filepath.Join(t.TempDir(), "missing_known_hosts")

	_, err = app.New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), app.ComponentSFTP)
}

func TestAppFailsOnBadCredentialPattern(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Credentials = []auth.Config{{Pattern: "(["}}

	_, err = app.New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials[0]")
}
