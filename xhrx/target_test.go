package xhrx

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return u
}

func TestResolveTargetDefaults(t *testing.T) {
	tgt, err := resolveTarget(mustParse(t, "http://example.com/path?q=1"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.Host != "example.com" || tgt.Port != "80" || tgt.TLS {
		t.Fatalf("target = %+v", tgt)
	}
	if tgt.Path != "/path?q=1" {
		t.Fatalf("path = %q", tgt.Path)
	}
	if tgt.HostHeader() != "example.com" {
		t.Fatalf("host header = %q, default port must be omitted", tgt.HostHeader())
	}
	if tgt.Addr() != "example.com:80" {
		t.Fatalf("addr = %q", tgt.Addr())
	}
}

func TestResolveTargetHTTPS(t *testing.T) {
	tgt, err := resolveTarget(mustParse(t, "https://example.com/"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !tgt.TLS || tgt.Port != "443" {
		t.Fatalf("target = %+v", tgt)
	}
	if tgt.HostHeader() != "example.com" {
		t.Fatalf("host header = %q", tgt.HostHeader())
	}
}

func TestResolveTargetExplicitPort(t *testing.T) {
	tgt, err := resolveTarget(mustParse(t, "http://example.com:8080/x"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.HostHeader() != "example.com:8080" {
		t.Fatalf("host header = %q, non-default port must be kept", tgt.HostHeader())
	}
}

func TestResolveTargetEmptyPath(t *testing.T) {
	tgt, err := resolveTarget(mustParse(t, "http://example.com"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.Path != "/" {
		t.Fatalf("path = %q, want /", tgt.Path)
	}
}

func TestResolveTargetFile(t *testing.T) {
	tgt, err := resolveTarget(mustParse(t, "file:///tmp/data.txt"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.File != "/tmp/data.txt" {
		t.Fatalf("file = %q", tgt.File)
	}
}

func TestResolveTargetUnsupportedScheme(t *testing.T) {
	if _, err := resolveTarget(mustParse(t, "ftp://example.com/")); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestResolveTargetIPv6HostHeader(t *testing.T) {
	tgt, err := resolveTarget(mustParse(t, "http://[::1]/"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.HostHeader() != "[::1]" {
		t.Fatalf("host header = %q", tgt.HostHeader())
	}
	if tgt.Addr() != "[::1]:80" {
		t.Fatalf("addr = %q", tgt.Addr())
	}
}
