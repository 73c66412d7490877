package btcsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrEmptyTxID = errors.New("cannot watch an empty txid")

// Watcher keeps at most one Monitor per txid.
type Watcher struct {
	src ConfirmationSource
	cfg MonitorConfig
	now func() time.Time

	mu       sync.Mutex
	monitors map[string]*watched
}

type watched struct {
	monitor *Monitor
	cancel  context.CancelFunc
}

func NewWatcher(src ConfirmationSource, cfg MonitorConfig) *Watcher {
	return &Watcher{
		src:      src,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		monitors: make(map[string]*watched),
	}
}

// Watch starts monitoring txid. Watching a txid whose monitor is still
// running returns that monitor and ignores hooks; a finished monitor is
// replaced by a fresh one with a new grace window.
func (w *Watcher) Watch(ctx context.Context, txid string, hooks Hooks) (*Monitor, error) {
	if txid == "" {
		return nil, ErrEmptyTxID
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.monitors[txid]; ok {
		if !existing.monitor.finished() {
			return existing.monitor, nil
		}
		existing.cancel()
	}

	mctx, cancel := context.WithCancel(ctx)
	m := newMonitor(txid, w.src, w.cfg, hooks, w.now)
	w.monitors[txid] = &watched{monitor: m, cancel: cancel}
	go m.run(mctx)
	return m, nil
}

// Stop cancels the monitor of txid and forgets it, so a later Watch
// starts a fresh grace window.
func (w *Watcher) Stop(txid string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	wm, ok := w.monitors[txid]
	if !ok {
		return false
	}
	wm.cancel()
	delete(w.monitors, txid)
	return true
}

func (w *Watcher) StopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for txid, wm := range w.monitors {
		wm.cancel()
		delete(w.monitors, txid)
	}
}

func (w *Watcher) Status(txid string) (MonitorStatus, bool) {
	w.mu.Lock()
	wm, ok := w.monitors[txid]
	w.mu.Unlock()
	if !ok {
		return MonitorStatus{}, false
	}
	return wm.monitor.Status(), true
}

// Statuses lists every watched tx ordered by txid.
func (w *Watcher) Statuses() []MonitorStatus {
	w.mu.Lock()
	ms := make([]*Monitor, 0, len(w.monitors))
	for _, wm := range w.monitors {
		ms = append(ms, wm.monitor)
	}
	w.mu.Unlock()

	out := make([]MonitorStatus, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TxID < out[j].TxID })
	return out
}
