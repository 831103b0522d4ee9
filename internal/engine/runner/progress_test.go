package runner

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestProgress_Suppressed(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, true, 3)

	p.OnStart("db")
	p.OnComplete("db", false, "", 800*time.Millisecond)
	p.Finish()

	if buf.Len() != 0 {
		t.Errorf("expected no output in suppressed mode, got: %q", buf.String())
	}
}

func TestProgress_Header(t *testing.T) {
	var buf bytes.Buffer
	_ = NewProgress(&buf, false, 3)

	if !strings.Contains(buf.String(), "Starting 3 container(s)") {
		t.Errorf("unexpected header %q", buf.String())
	}
}

func TestProgress_Transitions(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, false, 3)

	p.OnStart("db")
	p.OnStart("cache")
	p.OnStart("broken")
	p.OnComplete("db", false, "", 800*time.Millisecond)
	p.OnComplete("cache", true, "", 20*time.Millisecond)
	p.OnComplete("broken", false, "pulling image", 1500*time.Millisecond)
	p.Finish()

	out := buf.String()
	for _, want := range []string{"✅ db  800ms", "♻️  cache  20ms", "❌ broken  1.5s: pulling image", "Results: 1 ready, 1 reused, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestProgress_AllReady(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, false, 2)

	p.OnComplete("db", false, "", time.Millisecond)
	p.OnComplete("cache", true, "", time.Millisecond)
	p.Finish()

	if !strings.Contains(buf.String(), "✅ 2 container(s) ready (1 reused)") {
		t.Errorf("unexpected summary:\n%s", buf.String())
	}
}
