package xhrx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "body.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestFileURLSync(t *testing.T) {
	path := writeTempFile(t, "file contents")
	r := New()
	if err := r.Open("GET", "file://"+path, false); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.Send(nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if r.ReadyState() != Done || r.Status() != 200 {
		t.Fatalf("state=%v status=%d", r.ReadyState(), r.Status())
	}
	if got := r.ResponseText(); got != "file contents" {
		t.Fatalf("responseText = %q", got)
	}
	if err := r.Err(); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestFileURLAsync(t *testing.T) {
	path := writeTempFile(t, "async file")
	r := New()
	r.Open("GET", "file://"+path, true)
	er := attachRecorder(r)
	done := eventChan(r, EventLoadEnd)
	r.Send(nil)
	waitEvent(t, done)

	if r.Status() != 200 || r.ResponseText() != "async file" {
		t.Fatalf("got %d %q", r.Status(), r.ResponseText())
	}
	if er.index(EventLoad) == -1 || er.index(EventLoad) >= er.index(EventLoadEnd) {
		t.Fatalf("event order: %v", er.snapshot())
	}
}

func TestFileURLRejectsNonGET(t *testing.T) {
	path := writeTempFile(t, "x")
	r := New()
	r.Open("POST", "file://"+path, false)
	er := attachRecorder(r)
	if err := r.Send(nil); err != nil {
		t.Fatalf("send must not raise, got %v", err)
	}
	if err := r.Err(); !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if r.Status() != 0 || er.count(EventError) != 1 {
		t.Fatalf("status=%d events=%v", r.Status(), er.snapshot())
	}
}

func TestFileURLMissingFile(t *testing.T) {
	r := New()
	r.Open("GET", "file:///nonexistent/definitely/missing.txt", false)
	failed := false
	r.OnError = func(*Request) { failed = true }
	r.Send(nil)
	if !failed {
		t.Fatal("error event not fired")
	}
	if err := r.Err(); !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v", err)
	}
}
