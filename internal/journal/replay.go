package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

const (
	// fastForwardWait replaces any long idle gap when fast-forward is on.
	fastForwardWait = 100 * time.Millisecond

	// DefaultMaxGap is the largest inter-record gap replayed at real speed
	// before fast-forward kicks in.
	DefaultMaxGap = 2 * time.Second

	// Journal lines carry whole base64 artwork payloads.
	maxRecordBytes = 4 * 1024 * 1024
)

var gzipMagic = []byte{0x1f, 0x8b}

// LineFunc receives one raw metadata line, exactly as it was captured.
type LineFunc func(line string)

// EventFunc receives a captured or synthesized event with its offset from
// the start of the capture.
type EventFunc func(kind, description string, at time.Duration)

// ReplayStats summarizes a completed replay run.
type ReplayStats struct {
	Lines          int
	Events         int
	FastForwarded  int
	FooterSeen     bool
	CapturedLength time.Duration
}

// Replay re-drives a captured journal through the same callbacks a live
// pipe would feed. Record order is preserved unconditionally; only the
// delays between records are adjustable.
type Replay struct {
	path        string
	fastForward bool
	maxGap      time.Duration

	// sleep is swapped out in tests to observe waits without real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// ReplayOption configures a Replay.
type ReplayOption func(*Replay)

// WithFastForward toggles collapsing of long idle gaps. Enabled by default.
func WithFastForward(enabled bool) ReplayOption {
	return func(r *Replay) { r.fastForward = enabled }
}

// WithMaxGap sets the largest gap replayed at real speed when fast-forward
// is enabled.
func WithMaxGap(d time.Duration) ReplayOption {
	return func(r *Replay) {
		if d > 0 {
			r.maxGap = d
		}
	}
}

// NewReplay prepares a replay of the journal at path.
func NewReplay(path string, opts ...ReplayOption) (*Replay, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	r := &Replay{
		path:        path,
		fastForward: true,
		maxGap:      DefaultMaxGap,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run replays the journal, invoking onLine for every captured metadata line
// and onEvent for captured events and replay anomalies. Malformed records
// are skipped, never fatal; a missing footer is reported as a premature end.
// Cancellation is honored between records.
func (r *Replay) Run(ctx context.Context, onLine LineFunc, onEvent EventFunc) (ReplayStats, error) {
	var stats ReplayStats

	abs, err := acquirePath(r.path)
	if err != nil {
		return stats, err
	}
	defer releasePath(abs)

	rc, compressed, err := r.open()
	if err != nil {
		return stats, err
	}
	defer rc.Close()

	log.Info().
		Str("path", r.path).
		Bool("gzip", compressed).
		Bool("fast_forward", r.fastForward).
		Msg("starting journal replay")

	emitEvent := func(kind, description string, at time.Duration) {
		if onEvent != nil {
			onEvent(kind, description, at)
		}
	}

	var last time.Duration

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Err(err).Msg("skipping malformed journal record")
			emitEvent("malformed_record", err.Error(), last)
			continue
		}

		at := secondsToDuration(rec.Timestamp)

		switch rec.Type {
		case recordHeader:
			log.Info().
				Str("version", rec.Version).
				Time("captured_at", time.Unix(0, int64(rec.StartTime*float64(time.Second)))).
				Msg("replaying capture")
			continue

		case recordFooter:
			stats.FooterSeen = true
			stats.CapturedLength = secondsToDuration(rec.TotalDuration)
			log.Info().
				Int("lines", stats.Lines).
				Int("events", stats.Events).
				Int("fast_forwarded", stats.FastForwarded).
				Float64("captured_duration_s", rec.TotalDuration).
				Msg("journal replay complete")
			return stats, nil

		case recordLine:
			wait := at - last
			if r.fastForward && secondsToDuration(rec.GapSinceLast) > r.maxGap {
				if wait > fastForwardWait {
					wait = fastForwardWait
				}
				stats.FastForwarded++
			}
			if wait > 0 {
				if err := r.sleep(ctx, wait); err != nil {
					return stats, err
				}
			}
			if onLine != nil {
				onLine(rec.Data)
			}
			stats.Lines++

		case recordEvent:
			emitEvent(rec.EventType, rec.Description, at)
			stats.Events++

		default:
			log.Debug().Str("type", rec.Type).Msg("ignoring unknown journal record type")
		}

		last = at
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("reading journal: %w", err)
	}

	// No footer: the capturing process died before Stop. Everything up to
	// here already replayed, so report the truncation and finish normally.
	emitEvent("premature_end", "journal ended without a footer", last)
	log.Warn().Str("path", r.path).Msg("journal replay ended without footer")
	return stats, nil
}

// Info describes a journal file without replaying it.
type Info struct {
	Path       string        `json:"path"`
	Size       int64         `json:"size"`
	Compressed bool          `json:"compressed"`
	Lines      int           `json:"lines"`
	Events     int           `json:"events"`
	Complete   bool          `json:"complete"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
}

// Inspect returns summary information about the journal.
func (r *Replay) Inspect() (Info, error) {
	info := Info{Path: r.path}

	st, err := os.Stat(r.path)
	if err != nil {
		return info, fmt.Errorf("journal %s: %w", r.path, err)
	}
	info.Size = st.Size()

	rc, compressed, err := r.open()
	if err != nil {
		return info, err
	}
	defer rc.Close()
	info.Compressed = compressed

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)
	for scanner.Scan() {
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Type {
		case recordHeader:
			info.StartTime = time.Unix(0, int64(rec.StartTime*float64(time.Second)))
		case recordFooter:
			info.Complete = true
			info.Duration = secondsToDuration(rec.TotalDuration)
		case recordLine:
			info.Lines++
		case recordEvent:
			info.Events++
		}
	}
	if err := scanner.Err(); err != nil {
		return info, fmt.Errorf("reading journal: %w", err)
	}
	return info, nil
}

// open returns a reader over the journal, transparently decompressing gzip
// content. Detection is by magic bytes, not extension, so renamed files
// still replay.
func (r *Replay) open() (io.ReadCloser, bool, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, false, fmt.Errorf("opening journal %s: %w", r.path, err)
	}

	br := bufio.NewReaderSize(f, 64*1024)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, true, fmt.Errorf("opening gzip journal %s: %w", r.path, err)
		}
		return &gzipReadCloser{gz: gz, f: f}, true, nil
	}
	return &bufferedReadCloser{br: br, f: f}, false, nil
}

type gzipReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	gerr := g.gz.Close()
	if err := g.f.Close(); err != nil {
		return err
	}
	return gerr
}

type bufferedReadCloser struct {
	br *bufio.Reader
	f  *os.File
}

func (b *bufferedReadCloser) Read(p []byte) (int, error) { return b.br.Read(p) }

func (b *bufferedReadCloser) Close() error { return b.f.Close() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
