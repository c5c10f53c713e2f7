package sftpfetcher

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/JakeFAU/remote-fetch/internal/auth"
	"github.com/JakeFAU/remote-fetch/internal/connpool"
)

// HostKeyCallback returns the host key policy. With strict checking the
// known_hosts file (default ~/.ssh/known_hosts) must list the server.
func HostKeyCallback(strict bool, knownHostsFile string) (ssh.HostKeyCallback, error) {
	if !strict {
		// #nosec G106 -- host key checking is disabled by operator configuration.
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if knownHostsFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		knownHostsFile = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", knownHostsFile, err)
	}
	return cb, nil
}

// AuthMethods builds SSH auth methods from cred. A private key is offered
// before the password.
func AuthMethods(cred auth.Credential) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if key := cred.PrivateKey(); key != "" {
		var (
			signer ssh.Signer
			err    error
		)
		if pass := cred.Passphrase(); pass != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(key), []byte(pass))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(key))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if pw := cred.Password(); pw != "" {
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}
	return methods, nil
}

// NewSSHDialer opens an SSH connection and an SFTP channel on top of it.
// connectTimeout bounds both the TCP dial and the SSH handshake.
func NewSSHDialer(connectTimeout time.Duration, hostKeys ssh.HostKeyCallback) connpool.Dialer[Session] {
	return func(ctx context.Context, key connpool.Key, cred auth.Credential) (Session, error) {
		methods, err := AuthMethods(cred)
		if err != nil {
			return nil, err
		}
		addr := net.JoinHostPort(key.Host, strconv.Itoa(key.Port))
		clientCfg := &ssh.ClientConfig{
			User:            cred.Username(),
			Auth:            methods,
			HostKeyCallback: hostKeys,
			Timeout:         connectTimeout,
		}

		d := net.Dialer{Timeout: connectTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		if connectTimeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(connectTimeout))
		}
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
		}
		_ = conn.SetDeadline(time.Time{})

		sshClient := ssh.NewClient(sshConn, chans, reqs)
		client, err := sftp.NewClient(sshClient)
		if err != nil {
			_ = sshClient.Close()
			return nil, fmt.Errorf("open sftp channel %s: %w", addr, err)
		}
		return NewClientSession(client, sshClient), nil
	}
}
