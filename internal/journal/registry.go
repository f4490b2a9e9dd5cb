package journal

import (
	"fmt"
	"path/filepath"
	"sync"
)

// ErrJournalBusy is returned when a capture or replay is requested for a
// path that another capture or replay in this process already holds open.
// A journal has exactly one owner at a time; interleaved access is rejected
// up front instead of producing a silently corrupted file.
var ErrJournalBusy = fmt.Errorf("journal is already in use")

var (
	activeMu    sync.Mutex
	activePaths = map[string]struct{}{}
)

func acquirePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	activeMu.Lock()
	defer activeMu.Unlock()
	if _, busy := activePaths[abs]; busy {
		return "", fmt.Errorf("%w: %s", ErrJournalBusy, abs)
	}
	activePaths[abs] = struct{}{}
	return abs, nil
}

func releasePath(abs string) {
	activeMu.Lock()
	defer activeMu.Unlock()
	delete(activePaths, abs)
}
