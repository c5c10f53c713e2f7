package smbfetcher

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/JakeFAU/remote-fetch/internal/auth"
	"github.com/JakeFAU/remote-fetch/internal/connpool"
)

// NewSMB2Dialer opens a TCP connection and authenticates with NTLM.
// connectTimeout bounds both the dial and the negotiate/session setup.
//
// A go-smb2 session cannot be renegotiated over its connection, so a dead
// session is always replaced by a fresh dial.
func NewSMB2Dialer(connectTimeout time.Duration) connpool.Dialer[Session] {
	return func(ctx context.Context, key connpool.Key, cred auth.Credential) (Session, error) {
		addr := net.JoinHostPort(key.Host, strconv.Itoa(key.Port))
		d := net.Dialer{Timeout: connectTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		if connectTimeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(connectTimeout))
		}

		user := cred.Username()
		if user == auth.AnonymousUser {
			user = ""
		}
		dialer := &smb2.Dialer{
			Initiator: &smb2.NTLMInitiator{
				User:     user,
				Password: cred.Password(),
				Domain:   cred.Domain(),
			},
		}
		session, err := dialer.DialContext(ctx, conn)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("smb session setup %s: %w", addr, err)
		}
		_ = conn.SetDeadline(time.Time{})
		return newSMB2Session(session, conn), nil
	}
}
