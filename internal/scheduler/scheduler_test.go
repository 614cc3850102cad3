package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sp00nznet/pontoond/internal/worker"
)

type fakeEnqueuer struct {
	tasks []worker.Task
}

func (f *fakeEnqueuer) Enqueue(task worker.Task) *worker.Handle {
	f.tasks = append(f.tasks, task)
	p := worker.NewPool(func(ctx context.Context, t worker.Task) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}, 1, 1, time.Millisecond, nil)
	h := p.Enqueue(task)
	h.Wait(context.Background(), time.Second)
	p.Close()
	return h
}

func newTestClient(t *testing.T) (*Client, *fakeEnqueuer) {
	t.Helper()
	fe := &fakeEnqueuer{}
	c, err := Open(filepath.Join(t.TempDir(), "scheduler.db"), fe, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, fe
}

func TestApplyCreatesThenExists(t *testing.T) {
	c, _ := newTestClient(t)

	ok, err := c.Exists("t1")
	require.NoError(t, err)
	require.False(t, ok)

	err = c.Apply(Transfer{
		TransferID: "t1",
		CronExpr:   "0 9 * * *",
		TaskName:   "transfer",
		Args:       []string{"--command", "transfer", "--transfer-id", "t1"},
	})
	require.NoError(t, err)

	ok, err = c.Exists("t1")
	require.NoError(t, err)
	require.True(t, ok)

	enabled, err := c.IsEnabled("t1")
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestApplyMergesStoredArgs(t *testing.T) {
	c, _ := newTestClient(t)

	require.NoError(t, c.Apply(Transfer{
		TransferID: "t1",
		CronExpr:   "0 9 * * *",
		TaskName:   "transfer",
		Args:       []string{"--command", "transfer", "--transfer-id", "t1", "--api-endpoint", "https://cp.example.com"},
	}))

	// A later partial update only touches the cron expression's hour;
	// the api-endpoint flag set at creation must survive.
	require.NoError(t, c.Apply(Transfer{
		TransferID: "t1",
		CronExpr:   "0 10 * * *",
		TaskName:   "transfer",
		Args:       []string{"--command", "transfer", "--transfer-id", "t1"},
	}))

	e, err := c.store.get(Key("t1"))
	require.NoError(t, err)
	require.NotNil(t, e)
	require.Equal(t, "0 10 * * *", e.CronExpr)
	require.Contains(t, e.Args, "--api-endpoint")
	require.Contains(t, e.Args, "https://cp.example.com")
}

func TestEnableDisable(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Apply(Transfer{TransferID: "t1", CronExpr: "0 9 * * *", TaskName: "transfer"}))

	require.NoError(t, c.Disable("t1"))
	enabled, err := c.IsEnabled("t1")
	require.NoError(t, err)
	require.False(t, enabled)

	require.NoError(t, c.Enable("t1"))
	enabled, err = c.IsEnabled("t1")
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestDeleteRemovesEntry(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Apply(Transfer{TransferID: "t1", CronExpr: "0 9 * * *", TaskName: "transfer"}))
	require.NoError(t, c.Delete("t1"))

	ok, err := c.Exists("t1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunEnqueuesStoredTask(t *testing.T) {
	c, fe := newTestClient(t)
	require.NoError(t, c.Apply(Transfer{
		TransferID: "t1",
		CronExpr:   "0 9 * * *",
		TaskName:   "transfer",
		Args:       []string{"--command", "transfer", "--transfer-id", "t1"},
	}))

	h, err := c.Run(context.Background(), "t1", false)
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background(), time.Second))
	require.Len(t, fe.tasks, 1)
	require.Equal(t, "transfer", fe.tasks[0].Command)
}

func TestRunUnknownTransferErrors(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Run(context.Background(), "missing", false)
	require.Error(t, err)
}

func TestMergeArgsPreservesOrderAndOverrides(t *testing.T) {
	stored := []string{"--command", "transfer", "--api-endpoint", "https://old"}
	incoming := []string{"--command", "transfer", "--transfer-id", "t1"}

	merged := mergeArgs(stored, incoming)
	require.Equal(t, []string{"--command", "transfer", "--transfer-id", "t1", "--api-endpoint", "https://old"}, merged)
	m := parseFlags(merged)
	require.Equal(t, "t1", m["--transfer-id"])
	require.Equal(t, "https://old", m["--api-endpoint"])
	require.Equal(t, "transfer", m["--command"])
}
