package xhrx

import (
	"fmt"
	"net/url"
)

// DefaultMaxRedirects bounds redirect chains when Request.MaxRedirects
// is zero. The chain fails with ErrTooManyRedirects past the bound.
const DefaultMaxRedirects = 20

func isRedirectStatus(code int) bool {
	switch code {
	case 301, 302, 303, 307:
		return true
	}
	return false
}

// resolveRedirect computes the follow-up URL and method for a redirect
// response. Relative Locations resolve against the current URL. A 303
// always downgrades to GET; 301/302/307 preserve the method.
func resolveRedirect(cur *url.URL, status int, location, method string) (*url.URL, string, error) {
	if location == "" {
		return nil, "", fmt.Errorf("%w: %d without Location", ErrBadResponse, status)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, "", fmt.Errorf("xhrx: parse Location %q: %w", location, err)
	}
	next := cur.ResolveReference(ref)
	if status == 303 {
		method = "GET"
	}
	return next, method, nil
}
