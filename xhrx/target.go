package xhrx

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Target identifies where one exchange connects: host, port, request
// path, whether to wrap the connection in TLS, or a local file path
// for file: URLs (which bypass the network entirely).
type Target struct {
	Host string // hostname or IP literal, without brackets or port
	Port string
	Path string // path plus query, as sent on the request line
	TLS  bool
	File string // non-empty for file: URLs; all other fields are unset
}

// Addr returns the dial address.
func (t Target) Addr() string { return net.JoinHostPort(t.Host, t.Port) }

// HostHeader returns the Host header value: the port is included only
// when it is not the scheme's default.
func (t Target) HostHeader() string {
	def := "80"
	if t.TLS {
		def = "443"
	}
	if t.Port == def {
		if strings.Contains(t.Host, ":") {
			return "[" + t.Host + "]"
		}
		return t.Host
	}
	return net.JoinHostPort(t.Host, t.Port)
}

// resolveTarget maps a URL onto transport parameters. Supported
// schemes are http, https and file.
func resolveTarget(u *url.URL) (Target, error) {
	if u == nil {
		return Target{}, fmt.Errorf("xhrx: nil url")
	}
	switch u.Scheme {
	case "file":
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		if p == "" {
			return Target{}, fmt.Errorf("xhrx: file url %q has no path", u)
		}
		return Target{File: p}, nil
	case "http", "https":
		host := u.Hostname()
		if host == "" {
			return Target{}, fmt.Errorf("xhrx: url %q has no host", u)
		}
		port := u.Port()
		tls := u.Scheme == "https"
		if port == "" {
			if tls {
				port = "443"
			} else {
				port = "80"
			}
		}
		path := u.RequestURI()
		if path == "" {
			path = "/"
		}
		return Target{Host: host, Port: port, Path: path, TLS: tls}, nil
	}
	return Target{}, fmt.Errorf("xhrx: unsupported scheme %q", u.Scheme)
}
