package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// Capture appends the raw metadata stream, plus notable session events, to
// a journal file. It satisfies the session tap interface, so it slots in
// beside the live pipe without touching the parsing path. Lines are flushed
// record by record; if the process dies the journal is missing only its
// footer and replays cleanly up to the crash point.
type Capture struct {
	mu       sync.Mutex
	path     string
	lockPath string

	file *os.File
	gz   *gzip.Writer
	out  io.Writer

	startTime    time.Time
	lastActivity time.Time

	// now is swapped out in tests to control recorded timestamps.
	now func() time.Time
}

// NewCapture prepares a capture targeting path. Paths ending in .gz are
// gzip-compressed transparently. Nothing is opened until Start.
func NewCapture(path string) *Capture {
	return &Capture{path: path, now: time.Now}
}

// Start opens the journal file and writes the header record. It fails if
// another capture or replay in this process owns the same path.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file != nil {
		return fmt.Errorf("capture already started for %s", c.path)
	}

	abs, err := acquirePath(c.path)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			releasePath(abs)
			return fmt.Errorf("creating journal directory: %w", err)
		}
	}

	f, err := os.Create(c.path)
	if err != nil {
		releasePath(abs)
		return fmt.Errorf("opening journal %s: %w", c.path, err)
	}

	c.file = f
	c.lockPath = abs
	c.out = f
	if strings.HasSuffix(strings.ToLower(c.path), ".gz") {
		c.gz = gzip.NewWriter(f)
		c.out = c.gz
	}

	c.startTime = c.now()
	c.lastActivity = c.startTime

	header := headerRecord{
		Type:        recordHeader,
		Version:     captureVersion,
		StartTime:   unixSeconds(c.startTime),
		Description: "Shairport-sync metadata capture for debugging",
	}
	if err := c.writeRecord(header); err != nil {
		c.closeLocked()
		return err
	}

	log.Info().Str("path", c.path).Bool("gzip", c.gz != nil).Msg("metadata capture started")
	return nil
}

// CaptureLine records one raw protocol line with its elapsed time and the
// gap since the previous record of any kind.
func (c *Capture) CaptureLine(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return
	}

	now := c.now()
	rec := lineRecord{
		Type:         recordLine,
		Timestamp:    now.Sub(c.startTime).Seconds(),
		GapSinceLast: now.Sub(c.lastActivity).Seconds(),
		Data:         strings.TrimRight(line, "\r\n"),
	}
	c.lastActivity = now

	if err := c.writeRecord(rec); err != nil {
		log.Error().Err(err).Msg("failed to capture line")
	}
}

// CaptureEvent records a session event such as a state change or a
// malformed item, for context when reading the journal back.
func (c *Capture) CaptureEvent(kind, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return
	}

	now := c.now()
	rec := eventRecord{
		Type:        recordEvent,
		Timestamp:   now.Sub(c.startTime).Seconds(),
		EventType:   kind,
		Description: description,
	}
	c.lastActivity = now

	if err := c.writeRecord(rec); err != nil {
		log.Error().Err(err).Msg("failed to capture event")
	}
}

// Stop writes the footer and closes the journal. The footer goes out only
// after every earlier record has been flushed, so a file with a footer is
// known complete.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}

	end := c.now()
	footer := footerRecord{
		Type:          recordFooter,
		EndTime:       unixSeconds(end),
		TotalDuration: end.Sub(c.startTime).Seconds(),
	}
	werr := c.writeRecord(footer)
	cerr := c.closeLocked()

	log.Info().
		Str("path", c.path).
		Float64("duration_s", footer.TotalDuration).
		Msg("metadata capture stopped")

	if werr != nil {
		return werr
	}
	return cerr
}

func (c *Capture) writeRecord(rec any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding journal record: %w", err)
	}
	if _, err := c.out.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("writing journal record: %w", err)
	}
	if c.gz != nil {
		if err := c.gz.Flush(); err != nil {
			return fmt.Errorf("flushing journal: %w", err)
		}
	}
	return nil
}

func (c *Capture) closeLocked() error {
	var err error
	if c.gz != nil {
		err = c.gz.Close()
		c.gz = nil
	}
	if cerr := c.file.Close(); err == nil {
		err = cerr
	}
	c.file = nil
	c.out = nil
	releasePath(c.lockPath)
	c.lockPath = ""
	return err
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
