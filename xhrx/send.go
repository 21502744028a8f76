package xhrx

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"

	"dqx0.com/go/webcompat/internal/obs"
)

// Send begins transmission of the opened request. Valid only in
// OPENED with no send in flight. In async mode it returns immediately
// and the attempt proceeds on its own goroutine; in sync mode it
// returns only once the request reaches DONE.
//
// Transport failures, redirect-loop overruns and sync deadline
// overruns are never returned from Send: they surface through the
// error event, status 0 and Err. Send itself returns only validation
// errors.
func (r *Request) Send(body []byte) error {
	r.mu.Lock()
	if r.state != Opened || r.sendFlag {
		r.mu.Unlock()
		return ErrInvalidState
	}
	tgt, err := resolveTarget(r.url)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	method := r.method
	async := r.async
	if method == "GET" || method == "HEAD" {
		body = nil
	} else if body != nil {
		body = append([]byte(nil), body...)
	}
	r.sendFlag = true
	r.gen++
	gen := r.gen
	r.errorFlag = false
	r.err = nil
	r.status = 0
	r.statusText = ""
	r.respHeaders = nil
	r.respBody.Reset()
	var ctx context.Context
	var cancel context.CancelFunc
	if async {
		ctx, cancel = context.WithCancel(context.Background())
	} else {
		ctx, cancel = context.WithTimeout(context.Background(), r.timeout())
	}
	r.cancel = cancel
	r.mu.Unlock()
	r.DispatchEvent(EventLoadStart)

	switch {
	case tgt.File != "" && async:
		go r.loadFile(cancel, gen, method, tgt.File)
	case tgt.File != "":
		r.loadFile(cancel, gen, method, tgt.File)
	case async:
		go r.run(ctx, cancel, gen, tgt, method, body)
	default:
		r.run(ctx, cancel, gen, tgt, method, body)
	}
	return nil
}

// run drives the hop loop for one attempt: issue the exchange, follow
// bounded redirects, and replay the outcome into the state machine.
// It is the same code path for both execution modes; sync mode simply
// runs it on the calling goroutine under a deadline.
func (r *Request) run(ctx context.Context, cancel context.CancelFunc, gen uint64, tgt Target, method string, body []byte) {
	defer cancel()
	tr := r.transport()
	cur := r.url
	hops := 0
	for {
		r.mu.Lock()
		if !r.liveLocked(gen) {
			r.mu.Unlock()
			return
		}
		wreq := r.buildWireRequestLocked(tgt, method, body)
		r.mu.Unlock()

		sink := &lifecycleSink{r: r, gen: gen}
		err := tr.RoundTrip(ctx, wreq, sink)

		r.mu.Lock()
		live := r.liveLocked(gen)
		r.mu.Unlock()
		if !live {
			return // aborted or superseded; a late outcome must not re-enter the machine
		}
		if err != nil {
			// Classify by the context first: transport errors caused by
			// cancellation or deadline arrive as closed-connection noise.
			switch {
			case ctx.Err() == context.Canceled || errors.Is(err, context.Canceled):
				return
			case ctx.Err() == context.DeadlineExceeded || errors.Is(err, os.ErrDeadlineExceeded):
				r.handleError(gen, fmt.Errorf("%w: %v", ErrDeadlineExceeded, err))
			default:
				r.handleError(gen, fmt.Errorf("%w: %v", ErrNetwork, err))
			}
			return
		}
		if !sink.redirect {
			r.finish(gen)
			return
		}
		hops++
		if hops > r.maxRedirects() {
			r.handleError(gen, fmt.Errorf("%w: %d hops", ErrTooManyRedirects, hops))
			return
		}
		next, m, err := resolveRedirect(cur, sink.status, sink.location, method)
		if err != nil {
			r.handleError(gen, fmt.Errorf("%w: %v", ErrNetwork, err))
			return
		}
		ntgt, err := resolveTarget(next)
		if err != nil || ntgt.File != "" {
			r.handleError(gen, fmt.Errorf("%w: bad redirect target %q", ErrNetwork, sink.location))
			return
		}
		obs.From(r.Logger).Logf(obs.Debug, "xhrx: following %d redirect to %s", sink.status, next)
		if sink.status == 303 {
			body = nil
		}
		cur, tgt, method = next, ntgt, m
	}
}

// lifecycleSink forwards transport callbacks into the state machine,
// except for redirect hops, which stay invisible to the caller: their
// headers and body are swallowed and the hop loop reissues instead.
type lifecycleSink struct {
	r        *Request
	gen      uint64
	redirect bool
	status   int
	location string
}

func (s *lifecycleSink) Headers(status int, reason string, hdr map[string][]string) {
	if isRedirectStatus(status) {
		if loc := getHeaderMap(hdr, "Location"); loc != "" {
			s.redirect = true
			s.status = status
			s.location = loc
			return
		}
	}
	s.r.onHeaders(s.gen, status, reason, hdr)
}

func (s *lifecycleSink) Chunk(p []byte) {
	if s.redirect {
		return
	}
	s.r.onChunk(s.gen, p)
}

// buildWireRequestLocked assembles one fully resolved exchange from
// the descriptor and header table: defaults merged only for unset
// names, basic auth applied, and Content-Length computed per method
// (GET/HEAD never carry a body; other methods always declare a length,
// 0 included).
func (r *Request) buildWireRequestLocked(tgt Target, method string, body []byte) *WireRequest {
	h := make(map[string][]string, len(r.headers.values)+4)
	for k, v := range r.headers.entries() {
		h[k] = []string{v}
	}
	if !r.headers.has("User-Agent") {
		h["User-Agent"] = []string{defaultUserAgent}
	}
	if !r.headers.has("Accept") {
		h["Accept"] = []string{"*/*"}
	}
	if r.user != "" && !r.headers.has("Authorization") {
		cred := base64.StdEncoding.EncodeToString([]byte(r.user + ":" + r.password))
		h["Authorization"] = []string{"Basic " + cred}
	}
	if method != "GET" && method != "HEAD" {
		h["Content-Length"] = []string{strconv.Itoa(len(body))}
	}
	return &WireRequest{Method: method, Target: tgt, Header: h, Body: body}
}

const defaultUserAgent = "xhrx/1.0"

// onHeaders records status and headers and enters HEADERS_RECEIVED.
// Dropped when the attempt is no longer live (aborted or superseded).
func (r *Request) onHeaders(gen uint64, status int, reason string, hdr map[string][]string) {
	r.mu.Lock()
	if !r.liveLocked(gen) {
		r.mu.Unlock()
		return
	}
	r.status = status
	r.statusText = reason
	r.respHeaders = flattenHeader(hdr)
	evs := r.setStateLocked(HeadersReceived)
	r.mu.Unlock()
	r.fire(evs...)
}

// onChunk appends a body chunk and (re-)enters LOADING.
func (r *Request) onChunk(gen uint64, p []byte) {
	r.mu.Lock()
	if !r.liveLocked(gen) {
		r.mu.Unlock()
		return
	}
	r.respBody.Write(p)
	evs := r.setStateLocked(Loading)
	r.mu.Unlock()
	r.fire(evs...)
}

// finish completes a successful attempt: DONE, then load and loadend.
func (r *Request) finish(gen uint64) {
	r.mu.Lock()
	if !r.liveLocked(gen) {
		r.mu.Unlock()
		return
	}
	r.sendFlag = false
	evs := r.setStateLocked(Done)
	r.mu.Unlock()
	r.fire(evs...)
}

// handleError is the single failure path: status 0, diagnostic
// recorded, error flag raised, DONE forced, error fired.
func (r *Request) handleError(gen uint64, err error) {
	r.mu.Lock()
	if !r.liveLocked(gen) {
		r.mu.Unlock()
		return
	}
	r.status = 0
	r.statusText = ""
	r.err = err
	r.errorFlag = true
	r.sendFlag = false
	evs := r.setStateLocked(Done)
	r.mu.Unlock()
	obs.From(r.Logger).Logf(obs.Error, "xhrx: request failed: %v", err)
	r.fire(evs...)
	r.DispatchEvent(EventError)
}

// loadFile serves a file: URL without touching the network: GET only,
// whole content in one read, straight to DONE with status 200.
func (r *Request) loadFile(cancel context.CancelFunc, gen uint64, method, path string) {
	defer cancel()
	if method != "GET" {
		r.handleError(gen, fmt.Errorf("%w: %s not supported for file urls", ErrNetwork, method))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.handleError(gen, fmt.Errorf("%w: %v", ErrNetwork, err))
		return
	}
	r.mu.Lock()
	if !r.liveLocked(gen) {
		r.mu.Unlock()
		return
	}
	r.status = 200
	r.statusText = "OK"
	r.respHeaders = map[string]string{}
	r.respBody.Write(data)
	r.sendFlag = false
	evs := r.setStateLocked(Done)
	r.mu.Unlock()
	r.fire(evs...)
}
