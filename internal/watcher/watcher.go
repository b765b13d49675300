// Package watcher decides when the license directory needs to be parsed again.
//
// A Watcher is the only goroutine that touches its snapshot.Tracker. Filesystem events
// (debounced) and a poll ticker both lead to a change check, and other goroutines ask for an
// immediate check through CheckNow or a forced refresh through Reload. Both are served by
// the same loop, so the change callback never runs concurrently with itself.
package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/goodtune/licensewatch/internal/snapshot"
)

// ErrStopped is returned by CheckNow when the watcher is not running.
var ErrStopped = errors.New("watcher: not running")

// ChangeFunc is invoked from the watcher goroutine after a change was detected.
type ChangeFunc func(ctx context.Context)

// Config holds watcher configuration
type Config struct {
	PollInterval time.Duration
	Debounce     time.Duration
	UseFSNotify  bool
}

type checkRequest struct {
	force bool
	reply chan bool
}

// Watcher serializes change checks of one directory
type Watcher struct {
	tracker  *snapshot.Tracker
	config   Config
	onChange ChangeFunc
	logger   zerolog.Logger

	requests chan checkRequest
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher that owns tracker from Start until Stop.
func New(tracker *snapshot.Tracker, config Config, onChange ChangeFunc, logger zerolog.Logger) *Watcher {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.Debounce <= 0 {
		config.Debounce = 500 * time.Millisecond
	}

	return &Watcher{
		tracker:  tracker,
		config:   config,
		onChange: onChange,
		logger:   logger.With().Str("component", "watcher").Logger(),
		requests: make(chan checkRequest),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins watching. ctx is handed to the change callback.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
	w.logger.Info().
		Str("dir", w.tracker.Dir()).
		Dur("poll_interval", w.config.PollInterval).
		Bool("fsnotify", w.config.UseFSNotify).
		Msg("Directory watcher started")
}

// Stop stops the watcher and waits for the loop to exit
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	<-w.done
	w.logger.Info().Msg("Directory watcher stopped")
}

// CheckNow runs a change check on the watcher goroutine and reports whether the directory
// changed since the previous check. The change callback has completed when it returns true.
func (w *Watcher) CheckNow(ctx context.Context) (bool, error) {
	return w.request(ctx, false)
}

// Reload runs the change callback on the watcher goroutine whether or not the directory
// changed, and resynchronizes the tracker. It returns once the callback has completed.
func (w *Watcher) Reload(ctx context.Context) error {
	_, err := w.request(ctx, true)
	return err
}

func (w *Watcher) request(ctx context.Context, force bool) (bool, error) {
	req := checkRequest{force: force, reply: make(chan bool, 1)}

	select {
	case w.requests <- req:
	case <-w.done:
		return false, ErrStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case changed := <-req.reply:
		return changed, nil
	case <-w.done:
		return false, ErrStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// run is the main watch loop
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.config.UseFSNotify {
		fsw, err := w.openNotify()
		if err != nil {
			w.logger.Warn().Err(err).Msg("fsnotify unavailable, falling back to polling")
		} else {
			defer fsw.Close()
			events = fsw.Events
			errs = fsw.Errors
		}
	}

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Debounce timer, armed by filesystem events
	debounce := time.NewTimer(w.config.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.check(ctx, "poll")

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Filesystem event")
			debounce.Reset(w.config.Debounce)

		case <-debounce.C:
			w.check(ctx, "fsnotify")

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn().Err(err).Msg("fsnotify error")

		case req := <-w.requests:
			if req.force {
				req.reply <- w.reload(ctx)
				continue
			}
			req.reply <- w.check(ctx, "request")
		}
	}
}

// openNotify watches the directory itself, which reports creates, writes, renames and
// removals of its entries.
func (w *Watcher) openNotify() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(w.tracker.Dir()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return fsw, nil
}

// check asks the tracker for changes and runs the callback when there are any
func (w *Watcher) check(ctx context.Context, trigger string) bool {
	changed := w.tracker.CheckForChanges()
	if !changed {
		return false
	}

	w.logger.Debug().Str("trigger", trigger).Msg("Directory changed")
	if w.onChange != nil {
		w.onChange(ctx)
	}
	return true
}

// reload runs the callback unconditionally
func (w *Watcher) reload(ctx context.Context) bool {
	changed := w.tracker.CheckForChanges()
	w.logger.Debug().Bool("changed", changed).Msg("Forced reload")
	if w.onChange != nil {
		w.onChange(ctx)
	}
	return changed
}
