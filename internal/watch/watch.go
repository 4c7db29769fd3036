// Package watch detects newly arrived pending items by diffing successive
// snapshots of their identifiers.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukerupert/hoadmin/internal/alert"
	"github.com/dukerupert/hoadmin/internal/backend"
)

const DefaultClearAfter = 10 * time.Second

// Fetch returns the identifiers of the items currently pending.
type Fetch func(ctx context.Context) ([]string, error)

// Subscribe calls notify whenever the watched collection may have changed.
type Subscribe func(ctx context.Context, notify func()) (unsubscribe func(), err error)

// Realtime adapts a realtime change feed on table to Subscribe.
func Realtime(rt backend.Realtime, table string) Subscribe {
	return func(ctx context.Context, notify func()) (func(), error) {
		return rt.Subscribe(ctx, table, func(backend.Change) { notify() })
	}
}

// Config parameterises a Watcher. At least one of Interval or Subscribe
// drives refreshes after the initial baseline.
type Config struct {
	Source    string
	Title     string
	Fetch     Fetch
	Interval  time.Duration
	Subscribe Subscribe
	Alerter   alert.Alerter

	// ClearAfter is how long HasNew stays set without an Acknowledge.
	ClearAfter time.Duration
	// OnHasNew is called whenever the flag changes.
	OnHasNew func(source string, hasNew bool)
}

// Watcher keeps the baseline set of pending ids for one collection.
type Watcher struct {
	cfg    Config
	logger *slog.Logger

	refreshMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	baseline    map[string]struct{}
	hasNew      bool
	clearTimer  *time.Timer
	flagSeq     uint64
}

func New(cfg Config, logger *slog.Logger) (*Watcher, error) {
	if cfg.Fetch == nil {
		return nil, errors.New("watch: fetch is required")
	}
	if cfg.Interval <= 0 && cfg.Subscribe == nil {
		return nil, errors.New("watch: interval or subscribe is required")
	}
	if cfg.ClearAfter <= 0 {
		cfg.ClearAfter = DefaultClearAfter
	}
	if cfg.Alerter == nil {
		cfg.Alerter = alert.Multi{}
	}
	return &Watcher{
		cfg:    cfg,
		logger: logger.With("component", "watch", "source", cfg.Source),
	}, nil
}

// Run records the baseline and refreshes on every tick or change
// notification until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stopClearTimer()

	w.Refresh(ctx)

	changes := make(chan struct{}, 1)
	if w.cfg.Subscribe != nil {
		unsubscribe, err := w.cfg.Subscribe(ctx, func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		})
		if err != nil {
			return fmt.Errorf("watch %s: %w", w.cfg.Source, err)
		}
		defer unsubscribe()
	}

	var tick <-chan time.Time
	if w.cfg.Interval > 0 {
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			w.Refresh(ctx)
		case <-changes:
			w.Refresh(ctx)
		}
	}
}

// Refresh fetches the current pending ids and returns the ones not in the
// baseline. The first successful fetch only records the baseline. A failed
// fetch leaves the baseline untouched.
func (w *Watcher) Refresh(ctx context.Context) ([]string, error) {
	w.refreshMu.Lock()
	defer w.refreshMu.Unlock()

	ids, err := w.cfg.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("refresh pending items", "error", err)
		}
		return nil, err
	}

	w.mu.Lock()
	var fresh []string
	if w.initialized {
		fresh = diff(w.baseline, ids)
	}
	w.baseline = toSet(ids)
	w.initialized = true
	w.mu.Unlock()

	if len(fresh) == 0 {
		return nil, nil
	}

	w.logger.Info("new pending items", "count", len(fresh))
	if err := w.cfg.Alerter.Alert(ctx, alert.NewNotice(w.cfg.Source, w.cfg.Title, fresh)); err != nil {
		w.logger.Warn("alert new pending items", "error", err)
	}
	w.setHasNew()
	return fresh, nil
}

func (w *Watcher) setHasNew() {
	w.mu.Lock()
	if w.clearTimer != nil {
		w.clearTimer.Stop()
	}
	w.flagSeq++
	seq := w.flagSeq
	changed := !w.hasNew
	w.hasNew = true
	w.clearTimer = time.AfterFunc(w.cfg.ClearAfter, func() { w.clear(seq) })
	w.mu.Unlock()

	if changed {
		w.notifyFlag(true)
	}
}

func (w *Watcher) clear(seq uint64) {
	w.mu.Lock()
	if seq != w.flagSeq || !w.hasNew {
		w.mu.Unlock()
		return
	}
	w.hasNew = false
	w.clearTimer = nil
	w.mu.Unlock()
	w.notifyFlag(false)
}

func (w *Watcher) notifyFlag(v bool) {
	if w.cfg.OnHasNew != nil {
		w.cfg.OnHasNew(w.cfg.Source, v)
	}
}

// Acknowledge clears HasNew when the admin opens the pending list.
func (w *Watcher) Acknowledge() {
	w.mu.Lock()
	w.flagSeq++
	if w.clearTimer != nil {
		w.clearTimer.Stop()
		w.clearTimer = nil
	}
	changed := w.hasNew
	w.hasNew = false
	w.mu.Unlock()

	if changed {
		w.notifyFlag(false)
	}
}

func (w *Watcher) stopClearTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.clearTimer != nil {
		w.clearTimer.Stop()
		w.clearTimer = nil
	}
}

func (w *Watcher) HasNew() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasNew
}

func (w *Watcher) Initialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initialized
}

// Baseline returns the known pending ids, sorted.
func (w *Watcher) Baseline() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.baseline))
	for id := range w.baseline {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Diff returns the ids in current that are not in previous, in current's order.
func Diff(previous, current []string) []string {
	return diff(toSet(previous), current)
}

func diff(previous map[string]struct{}, current []string) []string {
	var fresh []string
	seen := make(map[string]struct{}, len(current))
	for _, id := range current {
		if _, ok := previous[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, id)
	}
	return fresh
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
