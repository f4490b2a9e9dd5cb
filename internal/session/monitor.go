package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/auroraplayer/aurora-airplay-backend/internal/shairport"
)

// StateChangeFunc receives validated session state transitions.
type StateChangeFunc func(from, to State, reason string)

// MetadataFunc receives a snapshot copy after a field update.
type MetadataFunc func(Snapshot)

// ArtworkSaveFunc persists received cover art and returns its path.
type ArtworkSaveFunc func(data []byte, album string) (string, error)

// Tap observes the raw line/event stream, typically to journal it.
// Both methods are called synchronously on the pipeline path.
type Tap interface {
	CaptureLine(line string)
	CaptureEvent(kind, description string)
}

// Monitor folds raw metadata pipe lines into session state and snapshot
// updates. Feed is the single seam both the live pipe source and the replay
// engine drive, so consumers cannot distinguish replayed input from live
// input except by timing.
type Monitor struct {
	machine *Machine
	holder  snapshotHolder
	parser  *shairport.PipeParser

	onState    StateChangeFunc
	onMetadata MetadataFunc
	onTrack    MetadataFunc
	tap        Tap
	saveArt    ArtworkSaveFunc

	waitTimeout time.Duration

	timerMu   sync.Mutex
	waitTimer *time.Timer

	bundleActive bool
	lastTrack    string
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithStateCallback sets the state transition callback.
func WithStateCallback(fn StateChangeFunc) MonitorOption {
	return func(m *Monitor) { m.onState = fn }
}

// WithMetadataCallback sets the metadata update callback.
func WithMetadataCallback(fn MetadataFunc) MonitorOption {
	return func(m *Monitor) { m.onMetadata = fn }
}

// WithTrackCallback sets the callback fired once per distinct track while
// the session is playing, after its metadata bundle has completed. Unlike
// the metadata callback it never sees half-updated snapshots, so it is the
// right hook for play history.
func WithTrackCallback(fn MetadataFunc) MonitorOption {
	return func(m *Monitor) { m.onTrack = fn }
}

// WithTap sets the capture tap observing raw lines and events.
func WithTap(tap Tap) MonitorOption {
	return func(m *Monitor) { m.tap = tap }
}

// WithArtworkSaver sets the hook that persists received cover art.
func WithArtworkSaver(fn ArtworkSaveFunc) MonitorOption {
	return func(m *Monitor) { m.saveArt = fn }
}

// WithWaitTimeout sets how long a paused/stopped session is held before
// dropping to waiting.
func WithWaitTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.waitTimeout = d }
}

// NewMonitor creates a session monitor.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		machine:     NewMachine(),
		waitTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.parser = shairport.NewPipeParser(m.handleItem,
		shairport.WithMalformedHandler(m.handleMalformed))
	return m
}

// Feed consumes one raw metadata pipe line. All decoding, state machine
// work, and callbacks happen synchronously before Feed returns, preserving
// pipe order end to end.
func (m *Monitor) Feed(line string) {
	if m.tap != nil {
		m.tap.CaptureLine(line)
	}
	m.parser.ProcessLine(line)
}

// State returns the current session state.
func (m *Monitor) State() State {
	return m.machine.Current()
}

// Snapshot returns a copy of the current now-playing snapshot.
func (m *Monitor) Snapshot() Snapshot {
	return m.holder.Current()
}

// Teardown ends the session explicitly, dropping to no_session and
// clearing the snapshot.
func (m *Monitor) Teardown() {
	m.transition(StateNoSession, "teardown")
}

func (m *Monitor) handleItem(item shairport.Item) {
	switch {
	case item.IsCore():
		m.handleCore(item)
	case item.IsSSNC():
		m.handleSSNC(item)
	default:
		log.Debug().Str("item", item.String()).Msg("Ignoring unknown item type")
	}
}

func (m *Monitor) handleCore(item shairport.Item) {
	field, known := shairport.CoreFieldName(item.Code)
	if !known {
		if desc, ok := shairport.DescribeDMAP(item.Code); ok {
			log.Debug().Str("code", item.Code).Str("desc", desc).Msg("Unmapped DMAP item")
		} else {
			log.Debug().Str("item", item.String()).Msg("Unknown core item")
		}
		return
	}

	text, ok := item.Text()
	if !ok {
		log.Debug().Str("field", field).Int("bytes", len(item.Payload)).Msg("Binary payload for text field")
		return
	}

	var snap Snapshot
	switch field {
	case "artist":
		snap = m.holder.update(func(s *Snapshot) { s.Artist = text })
	case "title":
		snap = m.holder.update(func(s *Snapshot) { s.Title = text })
	case "album":
		snap = m.holder.update(func(s *Snapshot) { s.Album = text })
	case "genre":
		snap = m.holder.update(func(s *Snapshot) { s.Genre = text })
	default:
		// Mapped but not part of the snapshot (composer, track numbers, ...)
		log.Debug().Str("field", field).Str("value", text).Msg("Core metadata")
		return
	}

	log.Debug().Str("field", field).Str("value", text).Uint64("seq", snap.Sequence).Msg("Snapshot field updated")
	m.emitMetadata(snap)
}

func (m *Monitor) handleSSNC(item shairport.Item) {
	switch item.Code {
	case shairport.CodePlayControl:
		m.handlePlayControl(item)

	case shairport.CodeSessionBegin:
		// A fresh session may replay the last reported track.
		m.lastTrack = ""
		m.transition(StatePlaying, "session begin")

	case shairport.CodeFirstFrame:
		m.transition(StatePlaying, "first frame received")

	case shairport.CodeStreamResume:
		m.transition(StatePlaying, "stream resume")

	case shairport.CodeSessionEnd:
		if _, changed := m.doTransition(StateStopped, "session end"); changed {
			// Keep the last track on screen, but flag it as ended.
			m.holder.markStale()
		}

	case shairport.CodeActiveEnd:
		m.transition(StateNoSession, "active session ended")

	case shairport.CodeStreamFlush:
		log.Debug().Msg("Play stream flush")

	case shairport.CodeConnectionEnd:
		log.Debug().Msg("Play stream connection end")

	case shairport.CodeMetadataStart:
		m.bundleActive = true
		m.holder.update(func(s *Snapshot) {
			s.BundleID = uuid.New().String()
			s.Stale = false
		})
		log.Debug().Msg("Metadata bundle start")

	case shairport.CodeMetadataEnd:
		log.Debug().Uint64("seq", m.holder.Current().Sequence).Msg("Metadata bundle end")
		if m.bundleActive {
			m.bundleActive = false
			m.reportTrack()
		}

	case shairport.CodeProgress:
		m.handleProgress(item)

	case shairport.CodePicture:
		m.handlePicture(item)

	case shairport.CodeActiveRemote, shairport.CodeDACPID,
		shairport.CodeClientIP, shairport.CodeServerIP:
		if text, ok := item.Text(); ok {
			log.Debug().Str("code", item.Code).Str("value", text).Msg("Session attribute")
		}

	default:
		log.Debug().Str("item", item.String()).Msg("Unknown ssnc code")
	}
}

func (m *Monitor) handlePlayControl(item shairport.Item) {
	text, ok := item.Text()
	if !ok {
		log.Warn().Msg("Undecodable play control payload")
		return
	}
	switch text {
	case "1":
		m.transition(StatePlaying, "play control")
	case "0":
		m.transition(StatePaused, "play control")
	default:
		log.Debug().Str("state", text).Msg("Unknown play control state")
	}
}

func (m *Monitor) handleProgress(item shairport.Item) {
	p, err := shairport.ParseProgress(item.Payload)
	if err != nil {
		log.Debug().Err(err).Msg("Unparseable progress record")
		return
	}
	snap := m.holder.update(func(s *Snapshot) {
		s.Duration = p.Duration
		s.Position = p.Position
	})
	m.emitMetadata(snap)
}

func (m *Monitor) handlePicture(item shairport.Item) {
	if len(item.Payload) == 0 {
		log.Debug().Msg("Empty picture payload")
		return
	}

	var path string
	if m.saveArt != nil {
		saved, err := m.saveArt(item.Payload, m.holder.Current().Album)
		if err != nil {
			log.Error().Err(err).Msg("Failed to save cover art")
		} else {
			path = saved
		}
	}

	snap := m.holder.update(func(s *Snapshot) {
		s.Artwork = item.Payload
		s.ArtworkPath = path
	})
	log.Info().Int("bytes", len(item.Payload)).Str("path", path).Msg("Cover art received")
	m.emitMetadata(snap)
}

func (m *Monitor) handleMalformed(err *shairport.MalformedItemError) {
	if m.tap != nil {
		m.tap.CaptureEvent("malformed_item", err.Error())
	}
}

// transition attempts a state change and runs the side effects.
func (m *Monitor) transition(to State, reason string) {
	m.doTransition(to, reason)
}

func (m *Monitor) doTransition(to State, reason string) (from State, changed bool) {
	from, changed = m.machine.TransitionTo(to, reason)
	if !changed {
		if from != to && m.tap != nil {
			m.tap.CaptureEvent("unexpected_transition", fmt.Sprintf("%s -> %s: %s", from, to, reason))
		}
		return from, false
	}

	m.cancelWaitTimer()

	if m.tap != nil {
		m.tap.CaptureEvent("state_change", fmt.Sprintf("%s -> %s: %s", from, to, reason))
	}

	if m.onState != nil {
		m.onState(from, to, reason)
	}

	switch to {
	case StateNoSession:
		// Session fully gone: clear the display.
		m.lastTrack = ""
		m.emitMetadata(m.holder.reset())
	case StatePlaying:
		// The metadata bundle may land before playback starts.
		m.reportTrack()
	case StatePaused, StateStopped:
		m.startWaitTimer()
	}

	return from, true
}

// reportTrack fires the track callback for the current snapshot if it names
// a track not yet reported this session. It is a no-op mid-bundle: during a
// track change fields arrive one at a time, and until the bundle closes the
// snapshot can pair the new artist with the previous title.
func (m *Monitor) reportTrack() {
	if m.onTrack == nil || m.bundleActive {
		return
	}
	if m.machine.Current() != StatePlaying {
		return
	}
	// A stale snapshot is the previous session's track, kept for display.
	snap := m.holder.Current()
	if snap.Title == "" || snap.Stale {
		return
	}
	key := snap.Artist + "\x00" + snap.Title
	if key == m.lastTrack {
		return
	}
	m.lastTrack = key
	m.onTrack(snap)
}

func (m *Monitor) emitMetadata(snap Snapshot) {
	if m.onMetadata != nil {
		m.onMetadata(snap)
	}
}

func (m *Monitor) startWaitTimer() {
	if m.waitTimeout <= 0 {
		return
	}
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.waitTimer != nil {
		m.waitTimer.Stop()
	}
	m.waitTimer = time.AfterFunc(m.waitTimeout, func() {
		m.transition(StateWaiting, "idle timeout")
	})
}

func (m *Monitor) cancelWaitTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.waitTimer != nil {
		m.waitTimer.Stop()
		m.waitTimer = nil
	}
}
