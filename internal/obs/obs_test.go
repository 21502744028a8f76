package obs

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestStdLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	lg := StdLogger{L: log.New(&buf, "", 0), Min: Warn}
	lg.Logf(Info, "dropped %d", 1)
	lg.Logf(Error, "kept %d", 2)
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info not filtered: %q", out)
	}
	if !strings.Contains(out, "[ERROR] kept 2") {
		t.Fatalf("error missing: %q", out)
	}
}

func TestFromNilDefaults(t *testing.T) {
	// Must not panic.
	From(nil).Logf(Debug, "noop")
	MeterFrom(nil).Counter("c", 1, Label{Key: "k", Value: "v"})
	MeterFrom(nil).Histogram("h", 1)
}

func TestLevelString(t *testing.T) {
	for lv, want := range map[Level]string{Debug: "DEBUG", Info: "INFO", Warn: "WARN", Error: "ERROR", Level(99): "UNKNOWN"} {
		if got := lv.String(); got != want {
			t.Fatalf("%d = %q, want %q", lv, got, want)
		}
	}
}
