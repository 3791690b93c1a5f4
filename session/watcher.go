package session

import (
	"context"
	"time"
)

// Watcher keeps the current device fresh in the background. It checks the
// device is still attached and refreshes its detail sheet with a silent
// fetch. A device that went away is cleared.
type Watcher struct {
	store    *Store
	interval time.Duration
}

func NewWatcher(store *Store, interval time.Duration) *Watcher {
	return &Watcher{store: store, interval: interval}
}

// Run polls until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick performs one refresh round. It never overrides a device chosen or
// requested while the round was running.
func (w *Watcher) Tick(ctx context.Context) {
	current, token := w.store.currentWithToken()
	udid := current.UDID()
	if udid == "" {
		return
	}

	if !w.store.CheckDeviceConnection(ctx, udid) {
		if w.store.replaceCurrentIf(current, token, nil) {
			w.store.log.WithField("udid", udid).Info("Current device disconnected")
		}
		return
	}
	if !w.store.refreshCurrent(ctx, current, token) {
		w.store.log.WithField("udid", udid).Debug("Background refresh skipped")
	}
}
