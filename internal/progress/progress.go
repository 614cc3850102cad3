// Package progress implements the per-stream progress tracker of §4
// Component C4: counters with rate/ETA, reported through a bounded
// subscriber callback rather than an unbounded event buffer, per the
// "Progress subscribers" design note.
package progress

import (
	"sync"
	"time"
)

// Snapshot is one point-in-time progress report for a single entity URI
// (§4.7 "Progress reporting").
type Snapshot struct {
	Entity      string
	Processed   int64
	Total       int64
	Percent     float64
	RateRPS     float64
	ETASeconds  float64
	Message     string
}

// Callback receives progress snapshots. It must return quickly: Tracker
// calls it synchronously and does not buffer events if the callback is
// slow, by design (bounded, not unbounded, per the design note).
type Callback func(Snapshot)

// Tracker accumulates processed/total counters for one entity and
// derives rate and ETA from wall-clock elapsed time.
type Tracker struct {
	entity string
	total  int64

	mu        sync.Mutex
	processed int64
	started   time.Time
	cb        Callback
}

// New creates a Tracker for entity (a source+vendor://... or
// destination+vendor://... URI, per §4.7) with the given expected total.
func New(entity string, total int64) *Tracker {
	return &Tracker{entity: entity, total: total, started: time.Now()}
}

// Subscribe installs the single callback slot. A later call replaces the
// previous subscriber; Tracker never fans out to more than one at a time.
func (t *Tracker) Subscribe(cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cb = cb
}

// Add increments the processed counter by n and, if a subscriber is
// installed, emits a Snapshot.
func (t *Tracker) Add(n int64, message string) {
	t.mu.Lock()
	t.processed += n
	snap := t.snapshotLocked(message)
	cb := t.cb
	t.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// Message emits a Snapshot with the current counters and the given
// message, without changing the processed count — used for the
// empty-stream short-circuit's "still emit a progress message" rule.
func (t *Tracker) Message(message string) {
	t.mu.Lock()
	snap := t.snapshotLocked(message)
	cb := t.cb
	t.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// Snapshot returns the current progress state without emitting it.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked("")
}

func (t *Tracker) snapshotLocked(message string) Snapshot {
	elapsed := time.Since(t.started).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(t.processed) / elapsed
	}
	var percent float64
	if t.total > 0 {
		percent = float64(t.processed) * 100 / float64(t.total)
	}
	var eta float64
	if rate > 0 && t.total > t.processed {
		eta = float64(t.total-t.processed) / rate
	}
	return Snapshot{
		Entity:     t.entity,
		Processed:  t.processed,
		Total:      t.total,
		Percent:    percent,
		RateRPS:    rate,
		ETASeconds: eta,
		Message:    message,
	}
}

// Aggregator collects the latest Snapshot per entity, keyed exactly as
// §4.7 describes: "keyed by entity URI". The Transfer command uses this
// to build output.progress and to compute destination row-count totals
// for telemetry.
type Aggregator struct {
	mu    sync.Mutex
	byURI map[string]Snapshot
}

// NewAggregator constructs an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{byURI: map[string]Snapshot{}}
}

// Observe is a Callback suitable for Tracker.Subscribe that records the
// latest snapshot per entity.
func (a *Aggregator) Observe(s Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byURI[s.Entity] = s
}

// Snapshots returns a copy of the latest snapshot per entity URI.
func (a *Aggregator) Snapshots() map[string]Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Snapshot, len(a.byURI))
	for k, v := range a.byURI {
		out[k] = v
	}
	return out
}

// DestinationRowsProcessed sums Processed for every entity whose URI
// begins with "destination", per §4.7's telemetry aggregation rule.
func (a *Aggregator) DestinationRowsProcessed() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total int64
	for uri, snap := range a.byURI {
		if hasPrefix(uri, "destination") {
			total += snap.Processed
		}
	}
	return total
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
