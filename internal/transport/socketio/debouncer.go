package socketio

import (
	"sync"
	"time"
)

// Trigger kinds accepted by the debouncer.
const (
	// TriggerState marks a session state transition.
	TriggerState = "state"
	// TriggerMetadata marks a snapshot field update.
	TriggerMetadata = "metadata"
)

// BroadcastDebouncer collapses rapid session updates into batched
// broadcasts. A metadata bundle arrives as many individual field updates
// within a few milliseconds; clients get a single pushMetadata for the
// whole burst.
type BroadcastDebouncer struct {
	window           time.Duration
	stateCallback    func()
	metadataCallback func()

	mu              sync.Mutex
	pendingState    bool
	pendingMetadata bool
	timer           *time.Timer
	stopped         bool
}

// NewBroadcastDebouncer creates a debouncer with the given window duration.
// stateCallback fires for session state transitions, metadataCallback for
// snapshot updates.
func NewBroadcastDebouncer(window time.Duration, stateCallback, metadataCallback func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:           window,
		stateCallback:    stateCallback,
		metadataCallback: metadataCallback,
	}
}

// Trigger records a pending update of the given kind. The broadcast
// callbacks are deferred until the debounce window elapses without further
// triggers.
func (d *BroadcastDebouncer) Trigger(kind string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	switch kind {
	case TriggerState:
		// A transition changes the status field clients render from the
		// metadata payload too.
		d.pendingState = true
		d.pendingMetadata = true
	case TriggerMetadata:
		d.pendingMetadata = true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush fires callbacks for any pending flags and resets them.
func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	doState := d.pendingState
	doMetadata := d.pendingMetadata
	d.pendingState = false
	d.pendingMetadata = false
	d.mu.Unlock()

	if doState && d.stateCallback != nil {
		d.stateCallback()
	}
	if doMetadata && d.metadataCallback != nil {
		d.metadataCallback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingState = false
	d.pendingMetadata = false
}
