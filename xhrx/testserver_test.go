package xhrx

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// wireRecord is what a scripted server saw on one connection.
type wireRecord struct {
	Method string
	Path   string
	Header map[string]string // lower-case keys
	Body   string
}

// serve starts a listener answering each successive connection with the
// corresponding canned response, closing the connection afterwards, and
// records what it received.
func serve(t *testing.T, responses ...string) (addr string, got <-chan wireRecord) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	ch := make(chan wireRecord, len(responses))
	go func() {
		for _, res := range responses {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			rec, err := readWireRecord(bufio.NewReader(c))
			if err == nil {
				ch <- rec
			}
			io.WriteString(c, res)
			c.Close()
		}
	}()
	return ln.Addr().String(), ch
}

// serveSilent accepts connections and never responds.
func serveSilent(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go io.Copy(io.Discard, c)
		}
	}()
	return ln.Addr().String()
}

// deadAddr returns an address nothing listens on.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func readWireRecord(br *bufio.Reader) (wireRecord, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return wireRecord{}, err
	}
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) < 3 {
		return wireRecord{}, fmt.Errorf("bad request line %q", line)
	}
	rec := wireRecord{Method: parts[0], Path: parts[1], Header: map[string]string{}}
	for {
		l, err := br.ReadString('\n')
		if err != nil {
			return rec, err
		}
		l = strings.TrimRight(l, "\r\n")
		if l == "" {
			break
		}
		k, v, _ := strings.Cut(l, ":")
		rec.Header[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	if cl := rec.Header["content-length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil {
			return rec, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(br, b); err != nil {
			return rec, err
		}
		rec.Body = string(b)
	}
	return rec, nil
}

func recvRecord(t *testing.T, ch <-chan wireRecord) wireRecord {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server-side record")
		return wireRecord{}
	}
}

// eventRecorder collects every event a request fires, in order.
type eventRecorder struct {
	mu  sync.Mutex
	evs []Event
}

func allEvents() []Event {
	return []Event{EventReadyStateChange, EventLoadStart, EventLoad, EventLoadEnd, EventError, EventAbort}
}

func attachRecorder(r *Request) *eventRecorder {
	er := &eventRecorder{}
	for _, ev := range allEvents() {
		r.AddEventListener(ev, func(*Request) {
			er.mu.Lock()
			er.evs = append(er.evs, ev)
			er.mu.Unlock()
		})
	}
	return er
}

func (er *eventRecorder) snapshot() []Event {
	er.mu.Lock()
	defer er.mu.Unlock()
	return append([]Event(nil), er.evs...)
}

func (er *eventRecorder) count(ev Event) int {
	n := 0
	for _, e := range er.snapshot() {
		if e == ev {
			n++
		}
	}
	return n
}

func (er *eventRecorder) index(ev Event) int {
	for i, e := range er.snapshot() {
		if e == ev {
			return i
		}
	}
	return -1
}

// eventChan signals on a channel each time ev fires.
func eventChan(r *Request, ev Event) <-chan struct{} {
	ch := make(chan struct{}, 8)
	r.AddEventListener(ev, func(*Request) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}
