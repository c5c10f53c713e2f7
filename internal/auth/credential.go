// Package auth resolves crawl targets to credentials by URL pattern.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// AnonymousUser is the identity used when no credential matches a target.
const AnonymousUser = "anonymous"

// Config is the configuration form of a credential entry.
type Config struct {
	// Pattern is a regular expression that must match the whole target URL.
	Pattern        string `mapstructure:"pattern" validate:"required"`
	Port           int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	PrivateKey     string `mapstructure:"private_key"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
	Passphrase     string `mapstructure:"passphrase"`
	Domain         string `mapstructure:"domain"`
}

// Credential is an immutable (URL pattern, identity) pair.
type Credential struct {
	pattern    *regexp.Regexp
	port       int
	username   string
	password   string
	privateKey string
	passphrase string
	domain     string
}

// New compiles cfg into a Credential. The pattern is anchored at both ends.
func New(cfg Config) (Credential, error) {
	if strings.TrimSpace(cfg.Pattern) == "" {
		return Credential{}, fmt.Errorf("credential pattern is required")
	}
	re, err := regexp.Compile(`^(?:` + cfg.Pattern + `)$`)
	if err != nil {
		return Credential{}, fmt.Errorf("compile credential pattern %q: %w", cfg.Pattern, err)
	}
	key := cfg.PrivateKey
	if key == "" && cfg.PrivateKeyFile != "" {
		// #nosec G304 -- key path comes from operator configuration.
		raw, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return Credential{}, fmt.Errorf("read private key file: %w", err)
		}
		key = string(raw)
	}
	return Credential{
		pattern:    re,
		port:       cfg.Port,
		username:   cfg.Username,
		password:   cfg.Password,
		privateKey: key,
		passphrase: cfg.Passphrase,
		domain:     cfg.Domain,
	}, nil
}

// MustNew is New for static test fixtures; it panics on error.
func MustNew(cfg Config) Credential {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Anonymous returns the fallback identity.
func Anonymous() Credential {
	return Credential{username: AnonymousUser}
}

// Matches reports whether the pattern matches the whole URL.
func (c Credential) Matches(url string) bool {
	return c.pattern != nil && c.pattern.MatchString(url)
}

// Pattern returns the anchored pattern source.
func (c Credential) Pattern() string {
	if c.pattern == nil {
		return ""
	}
	return c.pattern.String()
}

// Port returns the configured port, 0 when the URL port applies.
func (c Credential) Port() int { return c.port }

// Username returns the login name, AnonymousUser when unset.
func (c Credential) Username() string {
	if c.username == "" {
		return AnonymousUser
	}
	return c.username
}

// Password returns the password, possibly empty.
func (c Credential) Password() string { return c.password }

// PrivateKey returns PEM key material, possibly empty.
func (c Credential) PrivateKey() string { return c.privateKey }

// Passphrase returns the private key passphrase, possibly empty.
func (c Credential) Passphrase() string { return c.passphrase }

// Domain returns the SMB domain, possibly empty.
func (c Credential) Domain() string { return c.domain }

// Identity identifies the principal for connection pooling.
func (c Credential) Identity() string {
	if c.domain != "" {
		return c.domain + `\` + c.Username()
	}
	return c.Username()
}

// Fingerprint is a short digest of the secret material, empty when the
// credential carries none. Entries for the same principal with different
// secrets get different fingerprints.
func (c Credential) Fingerprint() string {
	if c.password == "" && c.privateKey == "" && c.passphrase == "" {
		return ""
	}
	h := sha256.New()
	for _, part := range []string{c.password, c.privateKey, c.passphrase} {
		_, _ = fmt.Fprintf(h, "%d:%s;", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// String never includes secrets.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{pattern=%s, port=%d, user=%s, domain=%s, password=%t, key=%t}",
		c.Pattern(), c.port, c.Username(), c.domain, c.password != "", c.privateKey != "")
}
