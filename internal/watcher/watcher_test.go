package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodtune/licensewatch/internal/snapshot"
)

func startWatcher(t *testing.T, dir string, cfg Config, onChange ChangeFunc) *Watcher {
	t.Helper()
	w := New(snapshot.NewTracker(dir, zerolog.Nop()), cfg, onChange, zerolog.Nop())
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return w
}

func TestCheckNow(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	w := startWatcher(t, dir, Config{PollInterval: time.Hour}, func(context.Context) {
		calls.Add(1)
	})
	ctx := context.Background()

	changed, err := w.CheckNow(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "synopsys"), []byte("x"), 0644))

	changed, err = w.CheckNow(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int32(1), calls.Load(), "callback completes before CheckNow returns")

	changed, err = w.CheckNow(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCheckNow_Concurrent(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, Config{PollInterval: time.Hour}, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cadence"), []byte("x"), 0644))

	results := make(chan bool, 8)
	for range 8 {
		go func() {
			changed, err := w.CheckNow(context.Background())
			assert.NoError(t, err)
			results <- changed
		}()
	}

	var changes int
	for range 8 {
		if <-results {
			changes++
		}
	}
	assert.Equal(t, 1, changes, "exactly one caller observes the change")
}

func TestCheckNow_Stopped(t *testing.T) {
	w := New(snapshot.NewTracker(t.TempDir(), zerolog.Nop()), Config{}, nil, zerolog.Nop())
	w.Start(context.Background())
	w.Stop()

	_, err := w.CheckNow(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	w := startWatcher(t, dir, Config{PollInterval: time.Hour}, func(context.Context) {
		calls.Add(1)
	})
	ctx := context.Background()

	require.NoError(t, w.Reload(ctx))
	assert.Equal(t, int32(1), calls.Load(), "reload runs the callback without a change")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "synopsys"), []byte("x"), 0644))
	require.NoError(t, w.Reload(ctx))
	assert.Equal(t, int32(2), calls.Load())

	changed, err := w.CheckNow(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "reload resynchronizes the tracker")
	assert.Equal(t, int32(2), calls.Load())
}

func TestReload_SerializedWithChecks(t *testing.T) {
	dir := t.TempDir()
	var running, overlaps atomic.Int32
	w := startWatcher(t, dir, Config{PollInterval: time.Hour}, func(context.Context) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
	})

	done := make(chan struct{}, 8)
	for i := range 8 {
		go func() {
			if i%2 == 0 {
				assert.NoError(t, w.Reload(context.Background()))
			} else {
				assert.NoError(t, os.WriteFile(filepath.Join(dir, "tool"), []byte{byte(i)}, 0644))
				_, err := w.CheckNow(context.Background())
				assert.NoError(t, err)
			}
			done <- struct{}{}
		}()
	}
	for range 8 {
		<-done
	}
	assert.Zero(t, overlaps.Load(), "callbacks never overlap")
}

func TestReload_Stopped(t *testing.T) {
	w := New(snapshot.NewTracker(t.TempDir(), zerolog.Nop()), Config{}, nil, zerolog.Nop())
	w.Start(context.Background())
	w.Stop()

	assert.ErrorIs(t, w.Reload(context.Background()), ErrStopped)
}

func TestCheckNow_ContextCancelled(t *testing.T) {
	w := New(snapshot.NewTracker(t.TempDir(), zerolog.Nop()), Config{}, nil, zerolog.Nop())

	// Never started: the request cannot be delivered
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.CheckNow(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPolling(t *testing.T) {
	dir := t.TempDir()
	changes := make(chan struct{}, 1)
	startWatcher(t, dir, Config{PollInterval: 10 * time.Millisecond}, func(context.Context) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "mentor"), []byte("x"), 0644))

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not detect the new file")
	}
}

func TestFSNotify(t *testing.T) {
	dir := t.TempDir()
	changes := make(chan struct{}, 1)
	startWatcher(t, dir, Config{
		PollInterval: time.Hour,
		Debounce:     10 * time.Millisecond,
		UseFSNotify:  true,
	}, func(context.Context) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	// Give the loop a moment to register the directory
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cadence"), []byte("x"), 0644))

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("fsnotify event did not trigger a check")
	}
}

func TestFSNotify_MissingDirectoryFallsBackToPolling(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "later")
	w := startWatcher(t, dir, Config{PollInterval: time.Hour, UseFSNotify: true}, nil)

	require.NoError(t, os.Mkdir(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cadence"), []byte("x"), 0644))

	changed, err := w.CheckNow(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
}
