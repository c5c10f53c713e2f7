package smbfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hirochachacha/go-smb2"
)

// Session is an authenticated SMB session.
type Session interface {
	ListShares(ctx context.Context) ([]string, error)
	Mount(ctx context.Context, share string) (Share, error)
	IsConnected() bool
	Close() error
}

// Share is a mounted share. Names are relative to the share root; "" is the root.
type Share interface {
	Stat(name string) (os.FileInfo, error)
	ReadDir(name string) ([]os.FileInfo, error)
	Open(name string) (io.ReadCloser, error)
	Umount() error
}

// NTSTATUS codes mapped onto os errors.
const (
	statusNoSuchFile         = 0xC000000F
	statusAccessDenied       = 0xC0000022
	statusObjectNameNotFound = 0xC0000034
	statusObjectPathNotFound = 0xC000003A
	statusBadNetworkName     = 0xC00000CC
)

// translate maps server status codes to os.ErrNotExist and os.ErrPermission.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var respErr *smb2.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch respErr.Code {
	case statusNoSuchFile, statusObjectNameNotFound, statusObjectPathNotFound, statusBadNetworkName:
		return fmt.Errorf("%w: %w", os.ErrNotExist, err)
	case statusAccessDenied:
		return fmt.Errorf("%w: %w", os.ErrPermission, err)
	}
	return err
}

// smb2Session adapts *smb2.Session. The session dies with its TCP
// connection, so any error that is not a server status marks it dead.
type smb2Session struct {
	session   *smb2.Session
	conn      net.Conn
	alive     atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newSMB2Session(session *smb2.Session, conn net.Conn) *smb2Session {
	s := &smb2Session{session: session, conn: conn}
	s.alive.Store(true)
	return s
}

func (s *smb2Session) observe(err error) error {
	if err == nil {
		return nil
	}
	var respErr *smb2.ResponseError
	if !errors.As(err, &respErr) {
		s.alive.Store(false)
	}
	return translate(err)
}

func (s *smb2Session) ListShares(ctx context.Context) ([]string, error) {
	names, err := s.session.WithContext(ctx).ListSharenames()
	return names, s.observe(err)
}

func (s *smb2Session) Mount(ctx context.Context, share string) (Share, error) {
	fs, err := s.session.WithContext(ctx).Mount(share)
	if err != nil {
		return nil, s.observe(err)
	}
	return &smb2Share{fs: fs.WithContext(ctx), session: s}, nil
}

func (s *smb2Session) IsConnected() bool {
	return s.alive.Load()
}

func (s *smb2Session) Close() error {
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		logoffErr := s.session.Logoff()
		s.closeErr = errors.Join(logoffErr, s.conn.Close())
	})
	return s.closeErr
}

type smb2Share struct {
	fs      *smb2.Share
	session *smb2Session
}

func (sh *smb2Share) Stat(name string) (os.FileInfo, error) {
	info, err := sh.fs.Stat(name)
	return info, sh.session.observe(err)
}

func (sh *smb2Share) ReadDir(name string) ([]os.FileInfo, error) {
	infos, err := sh.fs.ReadDir(name)
	return infos, sh.session.observe(err)
}

func (sh *smb2Share) Open(name string) (io.ReadCloser, error) {
	f, err := sh.fs.Open(name)
	if err != nil {
		return nil, sh.session.observe(err)
	}
	return f, nil
}

func (sh *smb2Share) Umount() error {
	return sh.session.observe(sh.fs.Umount())
}
