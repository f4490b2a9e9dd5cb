package session

import (
	"sync"
	"time"
)

// Snapshot is the current now-playing view handed to consumers. It is a
// value: once returned from the holder it never changes, and the artwork
// slice is replaced wholesale on update, never mutated in place.
type Snapshot struct {
	BundleID string `json:"bundleId"` // identifies the metadata bundle this view belongs to

	Artist string `json:"artist"`
	Title  string `json:"title"`
	Album  string `json:"album"`
	Genre  string `json:"genre"`

	Duration float64 `json:"duration"` // seconds, 0 when unknown
	Position float64 `json:"position"` // seconds into the track

	Artwork     []byte `json:"-"`
	ArtworkPath string `json:"artworkPath,omitempty"`

	// Sequence increments on every field change within a session.
	Sequence uint64 `json:"sequence"`

	// Stale marks a snapshot retained for display after the session ended.
	Stale bool `json:"stale"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Empty reports whether the snapshot carries no track identity.
func (s Snapshot) Empty() bool {
	return s.Artist == "" && s.Title == "" && s.Album == ""
}

// snapshotHolder is the single-writer, multi-reader home of the live
// snapshot. The monitor is the only writer; consumers read value copies and
// never race with the next mutation.
type snapshotHolder struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Current returns a copy of the live snapshot.
func (h *snapshotHolder) Current() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// update applies a mutation and bumps the sequence number. Returns the
// resulting snapshot value.
func (h *snapshotHolder) update(fn func(*Snapshot)) Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn(&h.snap)
	h.snap.Sequence++
	h.snap.UpdatedAt = time.Now()
	return h.snap
}

// reset discards the snapshot on session teardown. The sequence restarts:
// the next session is a new ordered view.
func (h *snapshotHolder) reset() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.snap = Snapshot{UpdatedAt: time.Now()}
	return h.snap
}

// markStale flags the snapshot as belonging to an ended session without
// touching its fields, so the display can keep showing the last track.
func (h *snapshotHolder) markStale() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.snap.Stale = true
	return h.snap
}
