// Package snapshot records the observable state of a watched directory (file names, sizes
// and modification times) and decides whether it changed since the last check.
//
// Detection is stat-based only: an edit that keeps both size and mtime unchanged is not
// seen. File contents are never read here.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrDirectoryUnavailable is returned when the directory cannot be listed or one of its
// files cannot be stat-ed.
var ErrDirectoryUnavailable = errors.New("snapshot: directory unavailable")

// FileState is the part of a file's metadata used for change detection.
type FileState struct {
	ModTime time.Time `json:"mtime"`
	Size    int64     `json:"size"`
}

// Snapshot maps file names to their state at one point in time.
type Snapshot map[string]FileState

// Capture lists dir and records every regular file in it. On failure it returns an empty
// snapshot and an error wrapping ErrDirectoryUnavailable.
func Capture(dir string) (Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s: %w", ErrDirectoryUnavailable, dir, err)
	}

	snap := make(Snapshot, len(entries))
	for _, entry := range entries {
		info, err := os.Stat(filepath.Join(dir, entry.Name()))
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: stat %s: %w", ErrDirectoryUnavailable, entry.Name(), err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		snap[entry.Name()] = FileState{
			ModTime: info.ModTime(),
			Size:    info.Size(),
		}
	}
	return snap, nil
}

// HasChanged reports whether current differs from previous: a file was added or removed,
// or a file present in both has a different mtime or size.
func HasChanged(previous, current Snapshot) bool {
	if len(previous) != len(current) {
		return true
	}
	for name, cur := range current {
		prev, ok := previous[name]
		if !ok {
			return true
		}
		if !cur.ModTime.Equal(prev.ModTime) || cur.Size != prev.Size {
			return true
		}
	}
	for name := range previous {
		if _, ok := current[name]; !ok {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
