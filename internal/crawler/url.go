package crawler

import (
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Target is a parsed, normalized fetch URL.
type Target struct {
	Scheme      string
	Host        string
	Port        int
	DefaultPort int
	// Path is decoded, absolute, and free of "." and ".." segments.
	Path string
}

// ParseTarget parses raw as a URL of the given scheme.
//
// Repeated separators are collapsed, ".." segments are resolved, an empty
// path becomes "/", and a missing port falls back to defaultPort.
func ParseTarget(raw, scheme string, defaultPort int) (Target, error) {
	if strings.TrimSpace(raw) == "" {
		return Target{}, &MalformedTargetError{URL: raw, Reason: "url is blank"}
	}
	fixed := strings.ReplaceAll(raw, " ", "%20")
	if prefix := scheme + ":/"; strings.HasPrefix(fixed, prefix) && !strings.HasPrefix(fixed, prefix+"/") {
		fixed = scheme + "://" + strings.TrimPrefix(fixed, prefix)
	}

	u, err := url.Parse(fixed)
	if err != nil {
		return Target{}, &MalformedTargetError{URL: raw, Reason: "invalid url", Err: err}
	}
	if !strings.EqualFold(u.Scheme, scheme) {
		return Target{}, &MalformedTargetError{URL: raw, Reason: "invalid scheme " + strconv.Quote(u.Scheme)}
	}
	if u.Hostname() == "" {
		return Target{}, &MalformedTargetError{URL: raw, Reason: "missing host"}
	}

	port := defaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Target{}, &MalformedTargetError{URL: raw, Reason: "invalid port " + strconv.Quote(p)}
		}
	}

	return Target{
		Scheme:      strings.ToLower(u.Scheme),
		Host:        u.Hostname(),
		Port:        port,
		DefaultPort: defaultPort,
		Path:        NormalizePath(u.Path),
	}, nil
}

// NormalizePath collapses separators, resolves "..", and maps "" to "/".
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "." {
		return "/"
	}
	return cleaned
}

// IsRoot reports whether the target addresses the server root.
func (t Target) IsRoot() bool {
	return t.Path == "" || t.Path == "/"
}

// Authority returns host:port.
func (t Target) Authority() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// URL renders the normalized URL. The default port is omitted.
func (t Target) URL() string {
	host := t.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if t.Port != t.DefaultPort && t.Port > 0 {
		host = t.Authority()
	}
	u := url.URL{Scheme: t.Scheme, Host: host, Path: t.Path}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// Child returns the target for an entry directly below this one.
func (t Target) Child(name string) Target {
	child := t
	child.Path = strings.TrimSuffix(t.Path, "/") + "/" + strings.Trim(name, "/")
	return child
}

// ChildURL renders the URL of an entry below this one, with exactly one
// separator between parent and child.
func (t Target) ChildURL(name string) string {
	return t.Child(name).URL()
}

// Filename returns the last path segment, empty for the root.
func (t Target) Filename() string {
	if t.IsRoot() {
		return ""
	}
	return path.Base(t.Path)
}

// Segments splits the path into its non-empty components.
func (t Target) Segments() []string {
	var out []string
	for _, s := range strings.Split(t.Path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
