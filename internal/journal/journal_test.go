package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 11, 3, 21, 15, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// writeJournal captures the given lines with the given gap before each one,
// returning the journal path.
func writeJournal(t *testing.T, path string, gaps []time.Duration, lines []string) {
	t.Helper()
	clock := newFakeClock()
	c := NewCapture(path)
	c.now = clock.now
	if err := c.Start(); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	for i, line := range lines {
		clock.advance(gaps[i])
		c.CaptureLine(line)
	}
	clock.advance(50 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Fatalf("stop capture: %v", err)
	}
}

func TestCaptureWritesOrderedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")

	clock := newFakeClock()
	c := NewCapture(path)
	c.now = clock.now
	if err := c.Start(); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	clock.advance(100 * time.Millisecond)
	c.CaptureLine("<item><type>73736e63</type><code>70626567</code><length>0</length>")
	clock.advance(20 * time.Millisecond)
	c.CaptureEvent("state_change", "no_session -> playing")
	clock.advance(30 * time.Millisecond)
	c.CaptureLine("</item>")
	clock.advance(50 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Fatalf("stop capture: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading journal: %v", err)
	}
	var recs []record
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var r record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("invalid journal line %q: %v", line, err)
		}
		recs = append(recs, r)
	}

	if len(recs) != 5 {
		t.Fatalf("expected 5 records, got %d", len(recs))
	}
	if recs[0].Type != recordHeader || recs[0].Version != captureVersion {
		t.Errorf("bad header: %+v", recs[0])
	}
	if recs[len(recs)-1].Type != recordFooter {
		t.Errorf("footer must be last, got %+v", recs[len(recs)-1])
	}

	line1 := recs[1]
	if line1.Type != recordLine || !strings.HasPrefix(line1.Data, "<item>") {
		t.Errorf("bad first line record: %+v", line1)
	}
	if line1.GapSinceLast < 0.099 || line1.GapSinceLast > 0.101 {
		t.Errorf("expected 100ms gap, got %f", line1.GapSinceLast)
	}
	if recs[2].Type != recordEvent || recs[2].EventType != "state_change" {
		t.Errorf("bad event record: %+v", recs[2])
	}
	// Gap measures distance to the previous record of any kind, so the
	// event in between shrinks the second line's gap to 30ms.
	if recs[3].GapSinceLast < 0.029 || recs[3].GapSinceLast > 0.031 {
		t.Errorf("expected 30ms gap after event, got %f", recs[3].GapSinceLast)
	}
	if recs[4].TotalDuration < 0.19 || recs[4].TotalDuration > 0.21 {
		t.Errorf("expected ~200ms total duration, got %f", recs[4].TotalDuration)
	}
}

func TestReplayDeliversIdenticalSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	lines := []string{
		"<item><type>73736e63</type><code>70626567</code><length>0</length>",
		"</item>",
		"<item><type>636f7265</type><code>6d696e6d</code><length>5</length>",
	}
	writeJournal(t, path, []time.Duration{
		10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond,
	}, lines)

	r, err := NewReplay(path)
	if err != nil {
		t.Fatalf("new replay: %v", err)
	}
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	var got []string
	stats, err := r.Run(context.Background(), func(line string) {
		got = append(got, line)
	}, nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if len(got) != len(lines) {
		t.Fatalf("expected %d lines, got %d", len(lines), len(got))
	}
	for i := range lines {
		if got[i] != lines[i] {
			t.Errorf("line %d: expected %q, got %q", i, lines[i], got[i])
		}
	}
	if !stats.FooterSeen {
		t.Error("footer must be reported in stats")
	}
	if stats.Lines != 3 {
		t.Errorf("expected 3 lines in stats, got %d", stats.Lines)
	}
}

func TestFastForwardCollapsesLongGaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	writeJournal(t, path, []time.Duration{
		50 * time.Millisecond, // short, kept
		10 * time.Second,      // idle period, collapsed
		30 * time.Millisecond, // short, kept
	}, []string{"a", "b", "c"})

	run := func(opts ...ReplayOption) []time.Duration {
		r, err := NewReplay(path, opts...)
		if err != nil {
			t.Fatalf("new replay: %v", err)
		}
		var waits []time.Duration
		r.sleep = func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}
		if _, err := r.Run(context.Background(), func(string) {}, nil); err != nil {
			t.Fatalf("replay: %v", err)
		}
		return waits
	}

	waits := run()
	if len(waits) != 3 {
		t.Fatalf("expected 3 waits, got %v", waits)
	}
	if waits[0] < 49*time.Millisecond || waits[0] > 51*time.Millisecond {
		t.Errorf("short gap must replay at real speed, got %v", waits[0])
	}
	if waits[1] != fastForwardWait {
		t.Errorf("long gap must collapse to %v, got %v", fastForwardWait, waits[1])
	}
	if waits[2] > 31*time.Millisecond {
		t.Errorf("gap after fast-forward must stay real, got %v", waits[2])
	}

	real := run(WithFastForward(false))
	if real[1] < 9*time.Second {
		t.Errorf("fast-forward disabled must keep the full gap, got %v", real[1])
	}
}

func TestGzipJournalDetectedByMagicBytes(t *testing.T) {
	dir := t.TempDir()
	gzPath := filepath.Join(dir, "session.jsonl.gz")
	writeJournal(t, gzPath, []time.Duration{time.Millisecond}, []string{"hello"})

	raw, err := os.ReadFile(gzPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		t.Fatalf("expected gzip magic bytes, got % x", raw[:2])
	}

	// Rename away the .gz suffix; detection goes by content.
	plainName := filepath.Join(dir, "renamed.jsonl")
	if err := os.Rename(gzPath, plainName); err != nil {
		t.Fatal(err)
	}

	r, err := NewReplay(plainName)
	if err != nil {
		t.Fatalf("new replay: %v", err)
	}
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	var got []string
	if _, err := r.Run(context.Background(), func(line string) { got = append(got, line) }, nil); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("unexpected replayed lines: %v", got)
	}

	info, err := r.Inspect()
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !info.Compressed || !info.Complete || info.Lines != 1 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestFooterlessJournalReplaysToTruncationPoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crashed.jsonl")
	content := fmt.Sprintf("%s\n%s\n%s\n",
		`{"type":"capture_header","version":"1.0","start_time":1762204500.0,"description":"x"}`,
		`{"type":"metadata_line","timestamp":0.05,"gap_since_last":0.05,"data":"line-1"}`,
		`{"type":"metadata_line","timestamp":0.08,"gap_since_last":0.03,"data":"line-2"}`,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewReplay(path)
	if err != nil {
		t.Fatalf("new replay: %v", err)
	}
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	var got []string
	var truncated bool
	stats, err := r.Run(context.Background(),
		func(line string) { got = append(got, line) },
		func(kind, _ string, _ time.Duration) {
			if kind == "premature_end" {
				truncated = true
			}
		})
	if err != nil {
		t.Fatalf("footerless journal must replay without error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected both lines, got %v", got)
	}
	if !truncated {
		t.Error("premature end must be reported via the event callback")
	}
	if stats.FooterSeen {
		t.Error("stats must not claim a footer")
	}
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirty.jsonl")
	content := fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n",
		`{"type":"capture_header","version":"1.0","start_time":1762204500.0,"description":"x"}`,
		`{"type":"metadata_line","timestamp":0.01,"gap_since_last":0.01,"data":"before"}`,
		`{"type":"metadata_line","timestamp":0.02,`, // truncated write
		`{"type":"metadata_line","timestamp":0.03,"gap_since_last":0.01,"data":"after"}`,
		`{"type":"capture_footer","end_time":1762204500.1,"total_duration":0.1}`,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewReplay(path)
	if err != nil {
		t.Fatalf("new replay: %v", err)
	}
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	var got []string
	var malformed int
	_, err = r.Run(context.Background(),
		func(line string) { got = append(got, line) },
		func(kind, _ string, _ time.Duration) {
			if kind == "malformed_record" {
				malformed++
			}
		})
	if err != nil {
		t.Fatalf("replay must survive malformed records: %v", err)
	}
	if len(got) != 2 || got[0] != "before" || got[1] != "after" {
		t.Errorf("expected records around the bad one, got %v", got)
	}
	if malformed != 1 {
		t.Errorf("expected 1 malformed record report, got %d", malformed)
	}
}

func TestReplayHonorsCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	writeJournal(t, path, []time.Duration{
		time.Millisecond, time.Millisecond, time.Millisecond,
	}, []string{"a", "b", "c"})

	r, err := NewReplay(path)
	if err != nil {
		t.Fatalf("new replay: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	_, err = r.Run(ctx, func(line string) {
		got = append(got, line)
		if len(got) == 1 {
			cancel()
		}
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(got) != 1 {
		t.Errorf("replay must stop between records, delivered %d", len(got))
	}
}

func TestConcurrentJournalAccessRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.jsonl")

	c := NewCapture(path)
	if err := c.Start(); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	defer c.Stop()

	second := NewCapture(path)
	if err := second.Start(); !errors.Is(err, ErrJournalBusy) {
		t.Errorf("second capture must be rejected, got %v", err)
	}

	r, err := NewReplay(path)
	if err != nil {
		t.Fatalf("new replay: %v", err)
	}
	if _, err := r.Run(context.Background(), func(string) {}, nil); !errors.Is(err, ErrJournalBusy) {
		t.Errorf("replay of an active capture must be rejected, got %v", err)
	}
}
