package xhrx

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"dqx0.com/go/webcompat/internal/obs"
)

// ReadyState is the five-valued lifecycle stage of a Request.
type ReadyState int

const (
	Unsent          ReadyState = 0
	Opened          ReadyState = 1
	HeadersReceived ReadyState = 2
	Loading         ReadyState = 3
	Done            ReadyState = 4
)

func (s ReadyState) String() string {
	switch s {
	case Unsent:
		return "UNSENT"
	case Opened:
		return "OPENED"
	case HeadersReceived:
		return "HEADERS_RECEIVED"
	case Loading:
		return "LOADING"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// DefaultTimeout bounds the blocking wait of a synchronous Send when
// Request.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Request is a browser-style HTTP request object. Zero value is ready
// to use; configuration fields and the On* handler slots must be set
// before Send. One Request runs at most one attempt at a time; it may
// be re-Opened and re-sent after completion.
//
// Getters and operations are safe for concurrent use. The mutable
// request state (descriptor, headers, response record, flags) is owned
// exclusively by the request for the duration of one attempt.
type Request struct {
	// Transport performs the actual exchanges. Nil means DefaultTransport.
	Transport Transport
	// Timeout bounds a synchronous Send. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxRedirects bounds redirect chains. Zero means DefaultMaxRedirects.
	MaxRedirects int
	// DisableHeaderCheck lifts the forbidden-header restriction for the
	// lifetime of this request object.
	DisableHeaderCheck bool
	// WithCredentials is accepted for API compatibility. There is no
	// CORS machinery here, so it has no behavioral effect.
	WithCredentials bool

	Logger obs.Logger
	Meter  obs.Meter

	// Single-slot event handlers, invoked before listeners.
	OnReadyStateChange func(*Request)
	OnLoadStart        func(*Request)
	OnLoad             func(*Request)
	OnLoadEnd          func(*Request)
	OnError            func(*Request)
	OnAbort            func(*Request)

	mu    sync.Mutex
	state ReadyState

	// Request descriptor, immutable between Open and completion.
	method   string
	url      *url.URL
	async    bool
	user     string
	password string

	headers   *headerTable
	sendFlag  bool
	errorFlag bool
	// gen numbers attempts. Send increments it, and every transport
	// callback carries the value it was started with, so an outcome
	// arriving after the request was re-opened and re-sent cannot touch
	// the attempt that superseded it.
	gen uint64

	// Response record.
	status      int
	statusText  string
	respHeaders map[string]string
	respBody    strings.Builder
	err         error

	cancel    context.CancelFunc
	listeners map[Event][]*Listener
}

// New returns an unsent Request.
func New() *Request { return &Request{} }

// Open validates the method, stores the request descriptor and
// transitions to OPENED. Any in-flight attempt is dropped. Credentials
// may be given in the URL userinfo; see OpenWithAuth for explicit ones.
func (r *Request) Open(method, rawurl string, async bool) error {
	return r.OpenWithAuth(method, rawurl, async, "", "")
}

// OpenWithAuth is Open with explicit basic-auth credentials, which take
// precedence over URL userinfo.
func (r *Request) OpenWithAuth(method, rawurl string, async bool, user, password string) error {
	if isForbiddenMethod(method) {
		return fmt.Errorf("%w: %s", ErrSecurity, method)
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return fmt.Errorf("xhrx: parse url: %w", err)
	}
	if user == "" && u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.method = normalizeMethod(method)
	r.url = u
	r.async = async
	r.user = user
	r.password = password
	r.headers = newHeaderTable()
	r.sendFlag = false
	r.errorFlag = false
	r.err = nil
	r.status = 0
	r.statusText = ""
	r.respHeaders = nil
	r.respBody.Reset()
	evs := r.setStateLocked(Opened)
	r.mu.Unlock()
	r.fire(evs...)
	return nil
}

// SetRequestHeader records a request header. Valid only while the
// state is OPENED and no send is in flight. Setting the same name
// again concatenates values with ", ". Forbidden headers are dropped
// with a warning instead of an error, unless DisableHeaderCheck is set.
func (r *Request) SetRequestHeader(name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Opened || r.sendFlag {
		return ErrInvalidState
	}
	if !r.DisableHeaderCheck && isForbiddenHeader(name) {
		obs.From(r.Logger).Logf(obs.Warn, "xhrx: refusing to set forbidden header %q", name)
		return nil
	}
	r.headers.add(name, value)
	return nil
}

// GetRequestHeader returns a previously set request header, matching
// the name case-insensitively. Empty string when absent.
func (r *Request) GetRequestHeader(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headers == nil {
		return ""
	}
	return r.headers.get(name)
}

// GetResponseHeader returns a response header by case-insensitive
// name. ok is false before headers arrive or after a failure.
func (r *Request) GetResponseHeader(name string) (value string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state <= Opened || r.errorFlag || r.respHeaders == nil {
		return "", false
	}
	value, ok = r.respHeaders[strings.ToLower(name)]
	return value, ok
}

// GetAllResponseHeaders serializes the response headers as
// "name: value" lines joined by CRLF without a trailing CRLF, sorted
// by name. Empty before headers arrive or after a failure. Set-Cookie
// entries are included — a documented relaxation of the browser rule.
func (r *Request) GetAllResponseHeaders() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state <= Opened || r.errorFlag {
		return ""
	}
	return serializeResponseHeaders(r.respHeaders)
}

// Abort cancels any in-flight attempt, clears the request headers,
// raises the error flag, passes transiently through DONE and settles
// on UNSENT, then fires abort. It never fails and may be called in any
// state, including from inside an event handler.
func (r *Request) Abort() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.headers = newHeaderTable()
	r.status = 0
	r.statusText = ""
	r.respHeaders = nil
	r.respBody.Reset()
	r.errorFlag = true
	var evs []Event
	if (r.state == Opened && r.sendFlag) || r.state == HeadersReceived || r.state == Loading {
		r.sendFlag = false
		evs = r.setStateLocked(Done)
	}
	// Settle on UNSENT without a readystatechange of its own.
	r.state = Unsent
	r.mu.Unlock()
	r.fire(evs...)
	r.DispatchEvent(EventAbort)
}

// ReadyState returns the current lifecycle state.
func (r *Request) ReadyState() ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns the response status code, 0 before headers arrive and
// after failures.
func (r *Request) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// StatusText returns the reason phrase from the status line.
func (r *Request) StatusText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusText
}

// ResponseText returns the body text accumulated so far; the full body
// once DONE.
func (r *Request) ResponseText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.respBody.String()
}

// Err returns the diagnostic recorded by the error path (wrapping
// ErrNetwork, ErrTooManyRedirects or ErrDeadlineExceeded), or nil.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// setStateLocked applies the transition rule and returns the events to
// fire once the lock is released: a transition is accepted when the
// new state is LOADING (which legitimately re-fires per chunk) or
// differs from the current one; readystatechange is dispatched for
// async requests and, for sync ones, only below OPENED or at DONE;
// DONE without the error flag adds load then loadend.
func (r *Request) setStateLocked(s ReadyState) []Event {
	if s != Loading && s == r.state {
		return nil
	}
	r.state = s
	var evs []Event
	if r.async || s < Opened || s == Done {
		evs = append(evs, EventReadyStateChange)
	}
	if s == Done && !r.errorFlag {
		evs = append(evs, EventLoad, EventLoadEnd)
	}
	return evs
}

// liveLocked reports whether a callback carrying gen belongs to the
// attempt currently in flight.
func (r *Request) liveLocked(gen uint64) bool {
	return r.sendFlag && gen == r.gen
}

func (r *Request) transport() Transport {
	if r.Transport != nil {
		return r.Transport
	}
	return DefaultTransport
}

func (r *Request) maxRedirects() int {
	if r.MaxRedirects > 0 {
		return r.MaxRedirects
	}
	return DefaultMaxRedirects
}

func (r *Request) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}
