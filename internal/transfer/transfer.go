// Package transfer implements the Transfer command (§4.7, component
// C9): one end-to-end execution that reads every configured model from
// its source into a per-run cache and lands it at the destination,
// reporting progress and writing a terminal TransferRun status.
package transfer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sp00nznet/pontoond/internal/cache"
	"github.com/sp00nznet/pontoond/internal/controlplane"
	"github.com/sp00nznet/pontoond/internal/destination"
	"github.com/sp00nznet/pontoond/internal/progress"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/source"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

// Request configures one Transfer command invocation, mirroring the
// frozen CLI argument list of §6.4.
type Request struct {
	TransferID        string
	OrganizationID    string
	DestinationID     string
	SourceID          string
	ModelIDs          []string
	ReplicationMode   *schedule.Mode // run mode; FULL_REFRESH when nil
	ExecutionID       string
	RetryCount        int
	RetryLimit        int
	DropAfterComplete bool
	CacheDir          string
}

// Result is the Transfer command's JSON result, written to stdout by
// cmd/pontoond per §6.4.
type Result struct {
	RunID            string                    `json:"run_id"`
	Status           controlplane.RunStatus    `json:"status"`
	RowsWritten      int64                     `json:"rows_written"`
	Progress         map[string]progress.Snapshot `json:"progress"`
	Error            string                    `json:"error,omitempty"`
}

// Command executes one Transfer run against the control plane described
// by cp, per §4.7's ten-step sequence.
type Command struct {
	cp  *controlplane.Client
	log *logrus.Entry
}

// New constructs a Command. log is enriched with transfer_id/execution_id
// fields per §4.7's `[AMBIENT]` structured-logging note.
func New(cp *controlplane.Client, log *logrus.Entry) *Command {
	return &Command{cp: cp, log: log}
}

// Run executes req end to end. The returned error is always non-nil iff
// the run's terminal status is FAILURE; callers that only need an exit
// code can test err != nil.
func (c *Command) Run(ctx context.Context, req Request) (Result, error) {
	log := c.log.WithFields(logrus.Fields{
		"transfer_id": req.TransferID,
		"execution_id": req.ExecutionID,
	})

	// Step 1: open a RUNNING TransferRun.
	run, err := c.cp.CreateRun(ctx, controlplane.TransferRun{
		TransferID: req.TransferID,
		Status:     controlplane.RunRunning,
		Meta: map[string]any{
			"type":                "transfer",
			"models":              req.ModelIDs,
			"drop_after_complete": req.DropAfterComplete,
			"execution_id":        req.ExecutionID,
			"retry_count":         req.RetryCount,
			"retry_limit":         req.RetryLimit,
		},
	})
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.UnknownKind, "opening transfer run", err)
	}

	agg := progress.NewAggregator()
	result, runErr := c.execute(ctx, req, run, agg, log)

	status := controlplane.RunSuccess
	errMsg := ""
	if runErr != nil {
		status = controlplane.RunFailure
		errMsg = runErr.Error()
		log.WithError(runErr).Error("transfer run failed")
	}

	// Step 10: write terminal status including the latest progress snapshot.
	output := map[string]any{"progress": agg.Snapshots(), "rows_written": result.RowsWritten}
	if errMsg != "" {
		output["error"] = errMsg
	}
	if updErr := c.cp.UpdateRun(ctx, run.ID, controlplane.RunUpdate{Status: &status, Output: output}); updErr != nil {
		// A failing terminal PUT is logged but does not change the outcome (§6.2).
		log.WithError(updErr).Error("failed to write terminal transfer run status")
	}

	result.RunID = run.ID
	result.Status = status
	result.Progress = agg.Snapshots()
	if errMsg != "" {
		result.Error = errMsg
	}
	return result, runErr
}

func (c *Command) execute(ctx context.Context, req Request, run *controlplane.TransferRun,
	agg *progress.Aggregator, log *logrus.Entry) (Result, error) {

	// Step 2: fetch Destination, Recipient, Models, and each Model's Source.
	dest, err := c.cp.GetDestination(ctx, req.DestinationID)
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.DestinationConnectionFailed, "fetching destination", err)
	}
	recipient, err := c.cp.GetRecipient(ctx, req.OrganizationID)
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.UnknownKind, "fetching recipient", err)
	}

	models := make([]*controlplane.Model, 0, len(req.ModelIDs))
	sourcesByID := map[string]*controlplane.Source{}
	for _, id := range req.ModelIDs {
		m, err := c.cp.GetModel(ctx, id)
		if err != nil {
			return Result{}, xerrors.Wrap(xerrors.UnknownKind, fmt.Sprintf("fetching model %s", id), err)
		}
		models = append(models, m)
		if _, ok := sourcesByID[m.SourceID]; !ok {
			src, err := c.cp.GetSource(ctx, m.SourceID)
			if err != nil {
				return Result{}, xerrors.Wrap(xerrors.SourceConnectionFailed, fmt.Sprintf("fetching source %s", m.SourceID), err)
			}
			sourcesByID[m.SourceID] = src
		}
	}

	// Step 3: the run's Mode is req.ReplicationMode when set, else
	// FULL_REFRESH; no Schedule is fetched or resolved here.
	mode := schedule.Mode{Type: schedule.FullRefresh}
	if req.ReplicationMode != nil {
		mode = *req.ReplicationMode
	}

	// Step 4: gap check.
	lastRun, err := c.cp.LatestRun(ctx, req.TransferID)
	if err != nil {
		log.WithError(err).Warn("could not fetch latest run for gap check")
	}
	var lastSuccessAt *time.Time
	if lastRun != nil && lastRun.Status == controlplane.RunSuccess {
		ts := lastRun.CreatedAt
		lastSuccessAt = &ts
	}
	if schedule.GapDetected(mode, lastSuccessAt, req.ReplicationMode != nil) {
		return Result{}, xerrors.New(xerrors.RunGapDetected,
			"prior successful run predates the current incremental window's start")
	}

	// Step 5: group models by source.
	modelsBySource := map[string][]*controlplane.Model{}
	for _, m := range models {
		modelsBySource[m.SourceID] = append(modelsBySource[m.SourceID], m)
	}

	batchID := uuid.NewString()
	namespace := req.OrganizationID
	dt := time.Now().UTC().Format("2006-01-02")
	cacheDir := req.CacheDir
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}

	c1, err := cache.Open(cache.Options{Backend: cache.BackendArrow, Dir: cacheDir, Namespace: namespace})
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.UnknownKind, "opening run cache", err)
	}
	// Step 9: always unlink cache files before returning.
	defer c1.Close()

	destConn, err := destination.New(dest.ConnectionInfo)
	if err != nil {
		return Result{}, err
	}
	defer destConn.Close()

	var totalWritten int64
	for sourceID, srcModels := range modelsBySource {
		src := sourcesByID[sourceID]

		specs := make([]source.StreamSpec, 0, len(srcModels))
		for _, m := range srcModels {
			specs = append(specs, source.StreamSpec{
				SchemaName:   m.SchemaName,
				TableName:    m.TableName,
				PrimaryField: m.PrimaryKeyColumn,
				CursorField:  m.LastModifiedAtColumn,
				Filters:      map[string]any{m.TenantIDColumn: recipient.TenantID},
				DropFields:   []string{m.TenantIDColumn},
			})
		}

		srcConn, err := source.New(src.ConnectionInfo)
		if err != nil {
			return Result{RowsWritten: totalWritten}, err
		}

		now := time.Now().UTC()
		ds, err := srcConn.Read(ctx, source.ReadConfig{
			Mode:         mode,
			Streams:      specs,
			ChunkSize:    source.DefaultChunkSize,
			BatchID:      batchID,
			LastSyncedAt: &now,
			Cache:        c1,
			Namespace:    namespace,
			Dt:           dt,
		}, agg)
		srcConn.Close()
		if err != nil {
			return Result{RowsWritten: totalWritten}, err
		}

		for _, st := range ds.Streams() {
			cur, err := ds.Read(ctx, st)
			if err != nil {
				return Result{RowsWritten: totalWritten}, xerrors.Wrap(xerrors.UnknownKind, "reading stream from cache", err)
			}

			uri := destination.EntityURI(dest.VendorType, namespace, st.SchemaName, st.Name)
			tracker := progress.New(uri, 0)
			if agg != nil {
				tracker.Subscribe(agg.Observe)
			}

			targetSchema := st.SchemaName
			if dest.ConnectionInfo.TargetSchema != "" {
				targetSchema = dest.ConnectionInfo.TargetSchema
			}

			n, err := destConn.Write(ctx, destination.WriteConfig{
				Mode:      mode,
				Namespace: namespace,
				BatchID:   batchID,
				Dt:        dt,
			}, targetSchema, st.Name, st.Schema(), cur, tracker)
			cur.Close()
			if err != nil {
				return Result{RowsWritten: totalWritten}, err
			}
			totalWritten += n

			// Step 8: integrity check, unless the destination drops
			// after complete (there would be nothing left to count).
			if !dest.DropAfterComplete {
				if checker, ok := destConn.(destination.IntegrityChecker); ok {
					landed, err := checker.RowCount(ctx, targetSchema, st.Name)
					if err != nil {
						return Result{RowsWritten: totalWritten}, err
					}
					if mode.Type == schedule.FullRefresh && landed != n {
						return Result{RowsWritten: totalWritten}, xerrors.New(xerrors.IntegrityCheckFailed,
							fmt.Sprintf("%s.%s: landed row count %d does not match written row count %d", targetSchema, st.Name, landed, n))
					}
				}
			}
		}
	}

	return Result{RowsWritten: totalWritten}, nil
}
