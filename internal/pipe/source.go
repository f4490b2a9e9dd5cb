// Package pipe reads raw metadata lines from the shairport-sync named pipe
// and survives the producer coming and going. shairport-sync reopens the
// pipe on every session, so EOF means "writer left", never "stop".
package pipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Single metadata lines can carry a whole base64 cover art payload.
const maxLineBytes = 4 * 1024 * 1024

// LineFunc receives one raw line from the pipe, newline stripped.
type LineFunc func(line string)

// Source owns the lifecycle of the metadata pipe: waiting for it to exist,
// opening it, draining lines, and reopening with backoff when the writer
// side closes.
type Source struct {
	path          string
	create        bool
	reopenBackoff time.Duration
	maxBackoff    time.Duration
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithCreate makes Run create the FIFO if the path does not exist, instead
// of waiting for shairport-sync to create it.
func WithCreate(create bool) SourceOption {
	return func(s *Source) { s.create = create }
}

// WithBackoff sets the initial and maximum delay between reopen attempts.
func WithBackoff(initial, max time.Duration) SourceOption {
	return func(s *Source) {
		if initial > 0 {
			s.reopenBackoff = initial
		}
		if max > 0 {
			s.maxBackoff = max
		}
	}
}

// NewSource prepares a source for the pipe at path.
func NewSource(path string, opts ...SourceOption) *Source {
	s := &Source{
		path:          path,
		reopenBackoff: time.Second,
		maxBackoff:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads lines from the pipe and hands each one to fn, reopening the
// pipe whenever the writer disappears. It blocks until ctx is cancelled or
// the path becomes permanently unusable.
func (s *Source) Run(ctx context.Context, fn LineFunc) error {
	backoff := s.reopenBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.waitForPath(ctx); err != nil {
			return err
		}

		f, err := s.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("cannot open metadata pipe")
			if err := wait(ctx, backoff); err != nil {
				return err
			}
			backoff = nextBackoff(backoff, s.maxBackoff)
			continue
		}

		log.Info().Str("path", s.path).Msg("metadata pipe open")
		lines, derr := s.drain(ctx, f, fn)
		f.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if derr != nil {
			log.Warn().Err(derr).Msg("error reading metadata pipe")
		}

		if lines > 0 {
			backoff = s.reopenBackoff
		} else {
			backoff = nextBackoff(backoff, s.maxBackoff)
		}

		log.Debug().Str("path", s.path).Dur("reopen_in", backoff).Msg("metadata pipe closed by writer")
		if err := wait(ctx, backoff); err != nil {
			return err
		}
	}
}

func (s *Source) drain(ctx context.Context, f *os.File, fn LineFunc) (int, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lines := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return lines, nil
		}
		fn(scanner.Text())
		lines++
	}
	return lines, scanner.Err()
}

// open opens the pipe read side. Opening a FIFO for read blocks until a
// writer connects, so the open runs on its own goroutine; on cancellation
// a throwaway write end is connected to release it.
func (s *Source) open(ctx context.Context) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(s.path, os.O_RDONLY, 0)
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		return r.f, r.err
	case <-ctx.Done():
		if w, err := os.OpenFile(s.path, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
			w.Close()
		}
		go func() {
			if r := <-ch; r.f != nil {
				r.f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// waitForPath blocks until the pipe path exists, creating it when
// configured to. Directory watching catches the common case immediately; a
// stat ticker covers events racing the watch registration.
func (s *Source) waitForPath(ctx context.Context) error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}

	if s.create {
		if err := unix.Mkfifo(s.path, 0o644); err != nil && !errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("creating fifo %s: %w", s.path, err)
		}
		log.Info().Str("path", s.path).Msg("created metadata pipe")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting pipe watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(s.path), err)
	}

	// The pipe may have appeared between the stat and the watch.
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}

	log.Info().Str("path", s.path).Msg("waiting for metadata pipe to appear")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("pipe watcher closed")
			}
			if ev.Name == s.path && ev.Op&fsnotify.Create != 0 {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("pipe watcher closed")
			}
			log.Warn().Err(err).Msg("pipe watcher error")
		case <-ticker.C:
			if _, err := os.Stat(s.path); err == nil {
				return nil
			}
		}
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
