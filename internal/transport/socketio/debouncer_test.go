package socketio

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerRapidMetadataEventsCollapseToOne(t *testing.T) {
	var stateCalls int32
	var metadataCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() { atomic.AddInt32(&metadataCalls, 1) },
	)
	defer d.Stop()

	// A metadata bundle arrives as a burst of field updates
	for i := 0; i < 10; i++ {
		d.Trigger(TriggerMetadata)
	}

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&metadataCalls); got != 1 {
		t.Errorf("expected 1 metadata callback, got %d", got)
	}
	if got := atomic.LoadInt32(&stateCalls); got != 0 {
		t.Errorf("expected 0 state callbacks, got %d", got)
	}
}

func TestDebouncerStateTriggersBothBroadcasts(t *testing.T) {
	var stateCalls int32
	var metadataCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() { atomic.AddInt32(&metadataCalls, 1) },
	)
	defer d.Stop()

	d.Trigger(TriggerState)

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback, got %d", got)
	}
	if got := atomic.LoadInt32(&metadataCalls); got != 1 {
		t.Errorf("expected 1 metadata callback, got %d", got)
	}
}

func TestDebouncerSustainedBurstCollapsesToOne(t *testing.T) {
	var metadataCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() {},
		func() { atomic.AddInt32(&metadataCalls, 1) },
	)
	defer d.Stop()

	// Progress updates trickle in faster than the window
	for i := 0; i < 20; i++ {
		d.Trigger(TriggerMetadata)
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&metadataCalls); got != 1 {
		t.Errorf("expected 1 metadata callback for sustained burst, got %d", got)
	}
}

func TestDebouncerSeparateWindowsFireIndependently(t *testing.T) {
	var metadataCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() {},
		func() { atomic.AddInt32(&metadataCalls, 1) },
	)
	defer d.Stop()

	d.Trigger(TriggerMetadata)
	time.Sleep(100 * time.Millisecond)

	d.Trigger(TriggerMetadata)
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&metadataCalls); got != 2 {
		t.Errorf("expected 2 metadata callbacks for separate windows, got %d", got)
	}
}

func TestDebouncerStopPreventsCallbacks(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)

	d.Trigger(TriggerState)
	d.Stop()

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 0 {
		t.Errorf("expected 0 state callbacks after stop, got %d", got)
	}
}

func TestDebouncerTriggerAfterStopIsIgnored(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)

	d.Stop()
	d.Trigger(TriggerState)

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 0 {
		t.Errorf("expected 0 state callbacks after stop+trigger, got %d", got)
	}
}
