package snapshot

import (
	"github.com/goodtune/licensewatch/internal/metrics"
	"github.com/rs/zerolog"
)

// Tracker owns the last known snapshot of one directory.
//
// A Tracker is not safe for concurrent use. CheckForChanges reads and replaces the
// retained snapshot, so all calls must come from a single owner (see watcher.Watcher)
// or be serialized by the caller.
type Tracker struct {
	dir    string
	last   Snapshot
	logger zerolog.Logger
}

// NewTracker creates a tracker for dir, seeded with the directory's current state.
func NewTracker(dir string, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		dir:    dir,
		logger: logger.With().Str("component", "snapshot-tracker").Str("dir", dir).Logger(),
	}
	t.last = t.Capture()
	return t
}

// Dir returns the watched directory.
func (t *Tracker) Dir() string {
	return t.dir
}

// Capture records the directory's current state. Failures are logged and produce an
// empty snapshot, which callers treat as "nothing to report".
func (t *Tracker) Capture() Snapshot {
	snap, err := Capture(t.dir)
	if err != nil {
		metrics.SnapshotErrors.Inc()
		t.logger.Warn().Err(err).Msg("Failed to capture directory state")
		return Snapshot{}
	}
	return snap
}

// CheckForChanges captures the current state and compares it with the retained one.
// The retained snapshot is replaced only when they differ.
func (t *Tracker) CheckForChanges() bool {
	current := t.Capture()
	if !HasChanged(t.last, current) {
		return false
	}

	t.logger.Info().
		Int("previous_files", len(t.last)).
		Int("current_files", len(current)).
		Msg("File changes detected")

	t.last = current
	metrics.DirectoryChanges.Inc()
	metrics.WatchedFiles.Set(float64(len(current)))
	return true
}

// Last returns a copy of the retained snapshot.
func (t *Tracker) Last() Snapshot {
	return t.last.Clone()
}
