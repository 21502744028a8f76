package xhrx

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"dqx0.com/go/webcompat/internal/obs"
)

// ResponseSink receives the streamed response of one exchange:
// Headers exactly once (after any interim 1xx responses), then zero or
// more Chunk calls. The chunk slice is only valid during the call.
// Completion or failure is RoundTrip's return value.
type ResponseSink interface {
	Headers(status int, reason string, header map[string][]string)
	Chunk(p []byte)
}

// Transport issues a single outbound HTTP exchange and streams the
// response into a ResponseSink. Implementations must not retain the
// sink after RoundTrip returns.
type Transport interface {
	RoundTrip(ctx context.Context, req *WireRequest, sink ResponseSink) error
}

// WireRequest is one fully resolved exchange: everything the transport
// needs without consulting the request object again.
type WireRequest struct {
	Method string
	Target Target
	Header map[string][]string
	Body   []byte
}

// StreamTransport is a minimal HTTP/1.1 Transport over a dedicated
// connection per exchange (Connection: close — the request object it
// serves never pipelines, and pooling is out of scope). TLS with SNI
// and http/1.1 ALPN when the target asks for it.
type StreamTransport struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLSConfig    *tls.Config

	Logger obs.Logger
	Meter  obs.Meter
}

// DefaultTransport is used by Request when Transport is nil.
var DefaultTransport Transport = &StreamTransport{
	DialTimeout: 5 * time.Second,
}

const maxLineBytes = 8 << 10

func (t *StreamTransport) RoundTrip(ctx context.Context, req *WireRequest, sink ResponseSink) error {
	rtStart := time.Now()
	if req == nil {
		return errors.New("xhrx: nil wire request")
	}
	conn, err := t.dial(ctx, req.Target)
	if err != nil {
		t.logf(obs.Error, "dial %s failed: %v", req.Target.Addr(), err)
		t.metricCounter("xhrx_client_requests_error", 1, obs.Label{Key: "stage", Value: "dial"})
		return err
	}
	defer conn.Close()
	// Cancelling ctx (abort) unblocks any read or write in progress.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	bw := bufio.NewWriter(conn)
	br := bufio.NewReader(conn)

	setWriteDeadlineWithContext(conn, t.WriteTimeout, ctx)
	if err := t.writeRequest(bw, req); err != nil {
		t.logf(obs.Warn, "write request failed: %v", err)
		t.metricCounter("xhrx_client_requests_error", 1, obs.Label{Key: "stage", Value: "write"})
		return err
	}
	t.metricCounter("xhrx_client_requests_total", 1, obs.Label{Key: "method", Value: req.Method})

	setReadDeadlineWithContext(conn, t.ReadTimeout, ctx)
	code, reason, err := readFinalStatusLine(br)
	if err != nil {
		t.logf(obs.Warn, "read status line failed: %v", err)
		t.metricCounter("xhrx_client_requests_error", 1, obs.Label{Key: "stage", Value: "read_status"})
		return err
	}
	hdr, err := readHeaders(br)
	if err != nil {
		t.logf(obs.Warn, "read headers failed: %v", err)
		t.metricCounter("xhrx_client_requests_error", 1, obs.Label{Key: "stage", Value: "read_headers"})
		return err
	}
	sink.Headers(code, reason, hdr)

	if err := t.streamResponseBody(br, req.Method, code, hdr, sink); err != nil {
		t.metricCounter("xhrx_client_requests_error", 1, obs.Label{Key: "stage", Value: "read_body"})
		return err
	}
	t.metricCounter("xhrx_client_responses_total", 1, obs.Label{Key: "status", Value: strconv.Itoa(code)})
	t.metricHistogram("xhrx_client_roundtrip_duration_ms", float64(time.Since(rtStart).Milliseconds()),
		obs.Label{Key: "method", Value: req.Method}, obs.Label{Key: "status", Value: strconv.Itoa(code)})
	return nil
}

func (t *StreamTransport) dial(ctx context.Context, tgt Target) (net.Conn, error) {
	d := net.Dialer{Timeout: t.DialTimeout}
	if !tgt.TLS {
		return d.DialContext(ctx, "tcp", tgt.Addr())
	}
	cfg := t.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone()
		cfg.ServerName = tgt.Host
	}
	if len(cfg.NextProtos) == 0 {
		cfg = cfg.Clone()
		cfg.NextProtos = []string{"http/1.1"}
	}
	td := tls.Dialer{NetDialer: &d, Config: cfg}
	return td.DialContext(ctx, "tcp", tgt.Addr())
}

func (t *StreamTransport) writeRequest(bw *bufio.Writer, req *WireRequest) error {
	path := req.Target.Path
	if path == "" {
		path = "/"
	}
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", req.Method, path); err != nil {
		return err
	}
	fmt.Fprintf(bw, "Host: %s\r\n", req.Target.HostHeader())
	fmt.Fprint(bw, "Connection: close\r\n")

	hdr := req.Header
	// Correlation and W3C trace context, unless the caller set their own.
	if getHeaderMap(hdr, "X-Request-ID") == "" {
		fmt.Fprintf(bw, "X-Request-ID: %s\r\n", genID())
	}
	if getHeaderMap(hdr, "Traceparent") == "" {
		fmt.Fprintf(bw, "Traceparent: %s\r\n", formatTraceparent(genTraceID(), genSpanID(), "01"))
	}
	for k, vv := range hdr {
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Connection") {
			continue
		}
		for _, v := range vv {
			if strings.EqualFold(k, "Tracestate") {
				// Sanitize before it goes on the wire.
				v = NewTraceStateBuilder(v).String()
				if v == "" {
					continue
				}
			}
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	if _, err := fmt.Fprint(bw, "\r\n"); err != nil {
		return err
	}
	if len(req.Body) > 0 {
		if _, err := bw.Write(req.Body); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// streamResponseBody decides the framing and feeds the sink chunk by
// chunk: no-body statuses, chunked transfer coding, Content-Length, or
// close-delimited in that order of precedence.
func (t *StreamTransport) streamResponseBody(br *bufio.Reader, method string, code int, hdr map[string][]string, sink ResponseSink) error {
	if noResponseBody(code, method) {
		return nil
	}
	if hasChunkedTE(hdr) {
		return streamBody(&chunkedReader{br: br, remain: -1}, sink)
	}
	if v := getHeaderMap(hdr, "Content-Length"); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			t.logf(obs.Warn, "bad Content-Length: %q", v)
			return ErrBadResponse
		}
		if n == 0 {
			return nil
		}
		return streamBodyN(br, n, sink)
	}
	// Close-delimited: read to EOF.
	return streamBody(br, sink)
}

func streamBody(r io.Reader, sink ResponseSink) error {
	buf := make([]byte, 8<<10)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sink.Chunk(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func streamBodyN(r io.Reader, n int64, sink ResponseSink) error {
	buf := make([]byte, 8<<10)
	for n > 0 {
		want := int64(len(buf))
		if want > n {
			want = n
		}
		got, err := r.Read(buf[:want])
		if got > 0 {
			sink.Chunk(buf[:got])
			n -= int64(got)
		}
		if err != nil {
			if err == io.EOF && n > 0 {
				return io.ErrUnexpectedEOF
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return nil
}

func noResponseBody(code int, method string) bool {
	if strings.EqualFold(method, "HEAD") {
		return true
	}
	return code == 204 || code == 304 || (code >= 100 && code < 200)
}

// readFinalStatusLine reads the status line, skipping interim 1xx
// responses (and their headers) until the final one.
func readFinalStatusLine(br *bufio.Reader) (code int, reason string, err error) {
	for {
		code, reason, err = readStatusLine(br)
		if err != nil {
			return 0, "", err
		}
		if code < 100 || code >= 200 {
			return code, reason, nil
		}
		if _, err := readHeaders(br); err != nil {
			return 0, "", err
		}
	}
}

func readStatusLine(br *bufio.Reader) (code int, reason string, err error) {
	line, err := readLine(br, maxLineBytes)
	if err != nil {
		return 0, "", err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, "", ErrBadResponse
	}
	if !strings.HasPrefix(parts[0], "HTTP/1.") {
		return 0, "", ErrProtocolViolation
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", ErrBadResponse
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return code, reason, nil
}

func readHeaders(br *bufio.Reader) (map[string][]string, error) {
	h := make(map[string][]string)
	for {
		line, err := readLine(br, maxLineBytes)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, ErrBadResponse
		}
		k := canonicalKey(strings.TrimSpace(line[:i]))
		v := strings.TrimSpace(line[i+1:])
		h[k] = append(h[k], v)
	}
	return h, nil
}

func readLine(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if limit > 0 && sb.Len() > limit {
			return "", ErrHeaderTooLarge
		}
	}
	return sb.String(), nil
}

func getHeaderMap(h map[string][]string, k string) string {
	if vv, ok := h[canonicalKey(k)]; ok && len(vv) > 0 {
		return vv[0]
	}
	return ""
}

func hasChunkedTE(h map[string][]string) bool {
	for _, v := range h[canonicalKey("Transfer-Encoding")] {
		if strings.Contains(strings.ToLower(v), "chunked") {
			return true
		}
	}
	return false
}

func canonicalKey(s string) string {
	b := []byte(strings.ToLower(s))
	upper := true
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			if upper {
				b[i] = byte(c - 'a' + 'A')
			}
			upper = false
		} else {
			upper = c == '-'
		}
	}
	return string(b)
}

// chunkedReader decodes Transfer-Encoding: chunked incrementally,
// returning io.EOF after the terminal chunk and its trailers.
type chunkedReader struct {
	br       *bufio.Reader
	remain   int64
	finished bool
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.finished {
		return 0, io.EOF
	}
	if c.remain <= 0 {
		line, err := readLine(c.br, maxLineBytes)
		if err != nil {
			return 0, err
		}
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return 0, ErrBadResponse
		}
		n, err := strconv.ParseInt(line, 16, 64)
		if err != nil || n < 0 {
			return 0, ErrBadResponse
		}
		if n == 0 {
			// Consume trailers up to the blank line.
			for {
				l, err := readLine(c.br, maxLineBytes)
				if err != nil {
					return 0, err
				}
				if l == "" {
					break
				}
			}
			c.finished = true
			return 0, io.EOF
		}
		c.remain = n
	}
	toRead := int64(len(p))
	if toRead > c.remain {
		toRead = c.remain
	}
	n, err := io.ReadFull(c.br, p[:toRead])
	c.remain -= int64(n)
	if err != nil {
		return n, err
	}
	if c.remain == 0 {
		b1, err := c.br.ReadByte()
		if err != nil {
			return n, err
		}
		b2, err := c.br.ReadByte()
		if err != nil {
			return n, err
		}
		if b1 != '\r' || b2 != '\n' {
			return n, ErrBadResponse
		}
	}
	return n, nil
}

// Deadline helpers merging explicit timeouts with the context deadline.
func setWriteDeadlineWithContext(c net.Conn, writeTO time.Duration, ctx context.Context) {
	var d time.Time
	if writeTO > 0 {
		d = time.Now().Add(writeTO)
	}
	if dl, ok := ctx.Deadline(); ok {
		if d.IsZero() || dl.Before(d) {
			d = dl
		}
	}
	if !d.IsZero() {
		_ = c.SetWriteDeadline(d)
	}
}

func setReadDeadlineWithContext(c net.Conn, readTO time.Duration, ctx context.Context) {
	var d time.Time
	if readTO > 0 {
		d = time.Now().Add(readTO)
	}
	if dl, ok := ctx.Deadline(); ok {
		if d.IsZero() || dl.Before(d) {
			d = dl
		}
	}
	if !d.IsZero() {
		_ = c.SetReadDeadline(d)
	}
}

func (t *StreamTransport) logf(level obs.Level, format string, args ...interface{}) {
	obs.From(t.Logger).Logf(level, format, args...)
}

func (t *StreamTransport) metricCounter(name string, value float64, labels ...obs.Label) {
	obs.MeterFrom(t.Meter).Counter(name, value, labels...)
}

func (t *StreamTransport) metricHistogram(name string, value float64, labels ...obs.Label) {
	obs.MeterFrom(t.Meter).Histogram(name, value, labels...)
}
