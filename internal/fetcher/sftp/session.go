package sftpfetcher

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/sftp"
)

// Session is the subset of an SFTP client a fetch needs.
type Session interface {
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	IsConnected() bool
	Close() error
}

// clientSession adapts *sftp.Client. Closing it also closes the transport
// beneath the SFTP channel.
type clientSession struct {
	client    *sftp.Client
	transport []io.Closer
	alive     atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewClientSession wraps client. transport is closed after the client, in order.
func NewClientSession(client *sftp.Client, transport ...io.Closer) Session {
	s := &clientSession{client: client, transport: transport}
	s.alive.Store(true)
	go func() {
		_ = client.Wait()
		s.alive.Store(false)
	}()
	return s
}

func (s *clientSession) Stat(path string) (os.FileInfo, error) {
	return s.client.Stat(path)
}

func (s *clientSession) ReadDir(path string) ([]os.FileInfo, error) {
	return s.client.ReadDir(path)
}

func (s *clientSession) Open(path string) (io.ReadCloser, error) {
	f, err := s.client.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *clientSession) IsConnected() bool {
	return s.alive.Load()
}

func (s *clientSession) Close() error {
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		errs := []error{s.client.Close()}
		for _, c := range s.transport {
			errs = append(errs, c.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
