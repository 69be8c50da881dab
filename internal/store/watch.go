package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Watcher pings the store on an interval so the reachability flag stays
// current even when no requests are flowing. The health endpoint itself
// never probes; this is the only background prober.
type Watcher struct {
	store    *Store
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger

	wasReachable bool
}

func NewWatcher(s *Store, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{
		store:        s,
		interval:     interval,
		stop:         make(chan struct{}),
		logger:       logger,
		wasReachable: true,
	}
}

func (w *Watcher) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.check()
			}
		}
	}()
}

func (w *Watcher) Stop() {
	close(w.stop)
	w.wg.Wait()
}

// RunOnce runs a single check synchronously. Used in tests.
func (w *Watcher) RunOnce() {
	w.check()
}

func (w *Watcher) check() {
	err := w.store.Ping(context.Background())
	reachable := err == nil
	if reachable != w.wasReachable {
		if reachable {
			w.logger.Info("storewatch: store reachable again")
		} else {
			w.logger.Warn("storewatch: store unreachable", "err", err)
		}
	}
	w.wasReachable = reachable
}
