// Package scheduler implements the scheduler client (§4.8, component
// C10): cron-triggered registration of scheduled transfers, backed by
// the sqlite store in store.go, plus the single-threaded cooperative
// beat loop of §5 that evaluates due entries once per tick and enqueues
// them onto the worker pool (internal/worker, component C11).
//
// Adapted from the teacher's `Scheduler` (`scheduler.go`): the teacher
// polled `scheduled_tasks`/`migration_jobs` rows on two tickers for VM
// cutover/sync work; this keeps the same ticker-driven beat shape but
// replaces the table and the unit of work with one cron-keyed
// `scheduled_transfers` entry per transfer, dispatched through
// `internal/worker` instead of a bare `go` goroutine per task.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/sp00nznet/pontoond/internal/worker"
)

// KeyPrefix namespaces scheduled-transfer keys, per §4.8: "uniquely
// keyed by <prefix><transfer_uuid>".
const KeyPrefix = "pontoond-transfer-"

// Key builds a scheduler entry key from a transfer id.
func Key(transferID string) string { return KeyPrefix + transferID }

// Transfer is the in-memory description of one scheduled transfer that
// Apply reconciles against the persisted Entry, per §4.8.
type Transfer struct {
	TransferID string
	CronExpr   string
	TaskName   string
	Args       []string // frozen CLI argument list, per §6.4
}

// enqueuer is the subset of *worker.Pool the scheduler needs, kept as
// an interface so tests can substitute a fake without standing up a
// real pool.
type enqueuer interface {
	Enqueue(task worker.Task) *worker.Handle
}

// Client implements the scheduler client operations of §4.8:
// exists/is_enabled/enable/disable/apply/delete/run, plus the beat
// loop that drives scheduled execution.
type Client struct {
	store *store
	pool  enqueuer
	log   *logrus.Entry

	mu       sync.Mutex
	nextFire map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open constructs a Client backed by a sqlite store at dbPath, ready to
// enqueue due transfers onto pool.
func Open(dbPath string, pool enqueuer, log *logrus.Entry) (*Client, error) {
	st, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{store: st, pool: pool, log: log, nextFire: map[string]time.Time{}}, nil
}

// Close releases the backing store. The beat loop, if running, must be
// stopped first via Stop.
func (c *Client) Close() error { return c.store.close() }

// Exists reports whether a schedule entry is registered for transferID.
func (c *Client) Exists(transferID string) (bool, error) {
	e, err := c.store.get(Key(transferID))
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

// IsEnabled reads the entry's enabled flag.
func (c *Client) IsEnabled(transferID string) (bool, error) {
	e, err := c.store.get(Key(transferID))
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, fmt.Errorf("scheduler: no entry for transfer %s", transferID)
	}
	return e.Enabled, nil
}

// Enable toggles the entry on.
func (c *Client) Enable(transferID string) error {
	return c.store.setEnabled(Key(transferID), true)
}

// Disable toggles the entry off; the beat loop skips disabled entries.
func (c *Client) Disable(transferID string) error {
	return c.store.setEnabled(Key(transferID), false)
}

// Delete removes the entry and forgets any pending next-fire time.
func (c *Client) Delete(transferID string) error {
	key := Key(transferID)
	c.mu.Lock()
	delete(c.nextFire, key)
	c.mu.Unlock()
	return c.store.delete(key)
}

// Apply creates the entry if absent, updates otherwise. Before writing,
// it loads the existing entry's stored args and merges them with t.Args
// so a partial update (e.g. toggling the cron expression alone) doesn't
// erase a previously-set `--api-endpoint` or vendor-specific flag, per
// the "Scheduler entry sync" design note.
func (c *Client) Apply(t Transfer) error {
	key := Key(t.TransferID)
	existing, err := c.store.get(key)
	if err != nil {
		return err
	}

	args := t.Args
	enabled := true
	if existing != nil {
		args = mergeArgs(existing.Args, t.Args)
		enabled = existing.Enabled
	}

	return c.store.upsert(Entry{
		Key:        key,
		TransferID: t.TransferID,
		CronExpr:   t.CronExpr,
		TaskName:   t.TaskName,
		Args:       args,
		Enabled:    enabled,
		UpdatedAt:  time.Now().UTC(),
	})
}

// mergeArgs overlays incoming flag/value pairs onto stored ones,
// preserving any stored flag the incoming list doesn't mention. Flag
// order follows incoming first, then leftover stored flags.
func mergeArgs(stored, incoming []string) []string {
	values := parseFlags(stored)
	for k, v := range parseFlags(incoming) {
		values[k] = v
	}

	var order []string
	seen := map[string]bool{}
	for i := 0; i+1 < len(incoming); i += 2 {
		if !seen[incoming[i]] {
			order = append(order, incoming[i])
			seen[incoming[i]] = true
		}
	}
	for i := 0; i+1 < len(stored); i += 2 {
		if !seen[stored[i]] {
			order = append(order, stored[i])
			seen[stored[i]] = true
		}
	}

	out := make([]string, 0, len(order)*2)
	for _, k := range order {
		out = append(out, k, values[k])
	}
	return out
}

func parseFlags(args []string) map[string]string {
	m := make(map[string]string, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		m[args[i]] = args[i+1]
	}
	return m
}

// Run enqueues an immediate one-shot execution of transferID's stored
// command, returning a Handle the caller can Wait/Status/Output/Error
// on, per §4.8's `run(expedited=false)`. expedited is accepted for
// interface parity with the spec but this single in-process queue has
// no separate priority lane to route it through.
func (c *Client) Run(ctx context.Context, transferID string, expedited bool) (*worker.Handle, error) {
	e, err := c.store.get(Key(transferID))
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("scheduler: no entry for transfer %s", transferID)
	}
	return c.enqueue(*e), nil
}

func (c *Client) enqueue(e Entry) *worker.Handle {
	return c.pool.Enqueue(worker.Task{
		ID:      fmt.Sprintf("%s-%d", e.TransferID, time.Now().UnixNano()),
		Command: e.TaskName,
		Args:    e.Args,
	})
}

// Start launches the beat loop: a single goroutine that wakes once a
// minute, lists enabled entries, and enqueues any whose cron schedule
// came due since the last tick — the "Scheduling model ... single-
// threaded cooperative" beat process of §5, rendered as one goroutine
// rather than a separate process.
func (c *Client) Start(ctx context.Context) {
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.beat(ctx)
}

// Stop halts the beat loop and waits for it to exit.
func (c *Client) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Client) beat(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func (c *Client) tick() {
	entries, err := c.store.listEnabled()
	if err != nil {
		c.log.WithError(err).Warn("scheduler: listing enabled entries")
		return
	}

	now := time.Now().UTC()
	for _, e := range entries {
		sched, err := cronParser.Parse(e.CronExpr)
		if err != nil {
			c.log.WithError(err).WithField("transfer_id", e.TransferID).Warn("scheduler: invalid cron expression")
			continue
		}

		c.mu.Lock()
		next, ok := c.nextFire[e.Key]
		if !ok {
			next = sched.Next(now.Add(-time.Minute))
			c.nextFire[e.Key] = next
		}
		due := !next.After(now)
		if due {
			c.nextFire[e.Key] = sched.Next(now)
		}
		c.mu.Unlock()

		if due {
			c.log.WithField("transfer_id", e.TransferID).Info("scheduler: enqueueing due transfer")
			c.enqueue(e)
		}
	}
}
