// Command pontoond is the CLI entrypoint of SPEC_FULL.md §6.4: the
// transfer/source-check/source-inspect one-shot commands, plus a
// `serve` daemon mode that runs the scheduler beat, the worker pool,
// and the admin/health HTTP surface together — the always-on process
// the teacher's bare `cmd/main.go` ran unconditionally, now split into
// explicit subcommands via `github.com/spf13/cobra`.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sp00nznet/pontoond/internal/api"
	"github.com/sp00nznet/pontoond/internal/auth"
	"github.com/sp00nznet/pontoond/internal/config"
	"github.com/sp00nznet/pontoond/internal/controlplane"
	"github.com/sp00nznet/pontoond/internal/schedule"
	"github.com/sp00nznet/pontoond/internal/scheduler"
	"github.com/sp00nznet/pontoond/internal/source"
	"github.com/sp00nznet/pontoond/internal/transfer"
	"github.com/sp00nznet/pontoond/internal/worker"
	"github.com/sp00nznet/pontoond/internal/xerrors"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "pontoond",
		Short: "Multi-tenant data-transfer engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a pontoond config file")

	root.AddCommand(newTransferCmd(), newSourceCheckCmd(), newSourceInspectCmd(), newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfigOrExit() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newLogger(cfg *config.Config) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	return logrus.NewEntry(log)
}

// transferFlags mirrors §6.4's frozen CLI argument list for the
// `transfer` command, shared between the cobra subcommand (invoked
// directly) and the worker's in-process re-execution of a scheduler
// entry's stored argument list (parseTransferArgs).
type transferFlags struct {
	transferID        string
	organizationID    string
	destinationID     string
	sourceID          string
	modelIDsJSON      string
	replicationMode   string
	apiEndpoint       string
	executionID       string
	retryCount        int
	retryLimit        int
	dropAfterComplete bool
}

func (f transferFlags) toRequest() (transfer.Request, error) {
	var modelIDs []string
	if f.modelIDsJSON != "" {
		if err := json.Unmarshal([]byte(f.modelIDsJSON), &modelIDs); err != nil {
			return transfer.Request{}, fmt.Errorf("parsing --model-ids: %w", err)
		}
	}

	var mode *schedule.Mode
	if f.replicationMode != "" {
		var m schedule.Mode
		if err := json.Unmarshal([]byte(f.replicationMode), &m); err != nil {
			return transfer.Request{}, fmt.Errorf("parsing --replication-mode: %w", err)
		}
		mode = &m
	}

	return transfer.Request{
		TransferID:        f.transferID,
		OrganizationID:    f.organizationID,
		DestinationID:     f.destinationID,
		SourceID:          f.sourceID,
		ModelIDs:          modelIDs,
		ReplicationMode:   mode,
		ExecutionID:       f.executionID,
		RetryCount:        f.retryCount,
		RetryLimit:        f.retryLimit,
		DropAfterComplete: f.dropAfterComplete,
	}, nil
}

// parseTransferArgs re-parses a scheduler entry's frozen argument list
// (§4.8 "the frozen command-line argument list") the same way the
// cobra subcommand's own flags are bound, so a task re-executed by
// internal/worker behaves identically to a direct CLI invocation.
func parseTransferArgs(args []string) (transfer.Request, error) {
	var f transferFlags
	var command string
	fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
	fs.StringVar(&command, "command", "transfer", "")
	fs.StringVar(&f.transferID, "transfer-id", "", "")
	fs.StringVar(&f.organizationID, "organization-id", "", "")
	fs.StringVar(&f.destinationID, "destination-id", "", "")
	fs.StringVar(&f.sourceID, "source-id", "", "")
	fs.StringVar(&f.modelIDsJSON, "model-ids", "[]", "")
	fs.StringVar(&f.replicationMode, "replication-mode", "", "")
	fs.StringVar(&f.apiEndpoint, "api-endpoint", "", "")
	fs.StringVar(&f.executionID, "execution-id", "", "")
	fs.IntVar(&f.retryCount, "retry-count", 0, "")
	fs.IntVar(&f.retryLimit, "retry-limit", 0, "")
	fs.BoolVar(&f.dropAfterComplete, "drop-after-complete", false, "")
	if err := fs.Parse(args); err != nil {
		return transfer.Request{}, err
	}
	return f.toRequest()
}

func resultToMap(result transfer.Result) map[string]any {
	b, _ := json.Marshal(result)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

func newTransferCmd() *cobra.Command {
	var f transferFlags
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Run one end-to-end transfer (§4.7)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrExit()
			log := newLogger(cfg)

			req, err := f.toRequest()
			if err != nil {
				return err
			}
			req.CacheDir = cfg.CacheDir
			if f.apiEndpoint != "" {
				cfg.APIEndpoint = f.apiEndpoint
			}
			if req.ExecutionID == "" {
				req.ExecutionID = uuid.NewString()
			}

			cp := controlplane.New(cfg.APIEndpoint, 5)
			result, runErr := transfer.New(cp, log).Run(cmd.Context(), req)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(result)

			if runErr != nil {
				return runErr
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.transferID, "transfer-id", "", "transfer id")
	cmd.Flags().StringVar(&f.organizationID, "organization-id", "", "organization id")
	cmd.Flags().StringVar(&f.destinationID, "destination-id", "", "destination id")
	cmd.Flags().StringVar(&f.sourceID, "source-id", "", "source id (unused when --model-ids spans multiple sources)")
	cmd.Flags().StringVar(&f.modelIDsJSON, "model-ids", "[]", "JSON list of model ids to replicate")
	cmd.Flags().StringVar(&f.replicationMode, "replication-mode", "", "JSON-encoded Mode override")
	cmd.Flags().StringVar(&f.apiEndpoint, "api-endpoint", "", "control plane base URL override")
	cmd.Flags().StringVar(&f.executionID, "execution-id", "", "execution id")
	cmd.Flags().IntVar(&f.retryCount, "retry-count", 0, "current retry attempt")
	cmd.Flags().IntVar(&f.retryLimit, "retry-limit", 0, "retry ceiling")
	cmd.Flags().BoolVar(&f.dropAfterComplete, "drop-after-complete", false, "drop the destination table after a successful write (test/dry-run)")
	return cmd
}

func newSourceCheckCmd() *cobra.Command {
	var sourceID, apiEndpoint string
	cmd := &cobra.Command{
		Use:   "source-check",
		Short: "Open, ping, and close a configured source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrExit()
			if apiEndpoint != "" {
				cfg.APIEndpoint = apiEndpoint
			}
			cp := controlplane.New(cfg.APIEndpoint, 5)

			src, err := cp.GetSource(cmd.Context(), sourceID)
			if err != nil {
				return err
			}
			conn, err := source.New(src.ConnectionInfo)
			if err != nil {
				return err
			}
			defer conn.Close()

			result := map[string]any{"source_id": sourceID, "ok": true}
			if err := conn.TestConnect(cmd.Context()); err != nil {
				result["ok"] = false
				result["error"] = err.Error()
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(result)
			if result["ok"] != true {
				return fmt.Errorf("source-check failed for %s", sourceID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceID, "source-id", "", "source id")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "control plane base URL override")
	return cmd
}

func newSourceInspectCmd() *cobra.Command {
	var sourceID, apiEndpoint string
	cmd := &cobra.Command{
		Use:   "source-inspect",
		Short: "List streams visible to a configured source's principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrExit()
			if apiEndpoint != "" {
				cfg.APIEndpoint = apiEndpoint
			}
			cp := controlplane.New(cfg.APIEndpoint, 5)

			src, err := cp.GetSource(cmd.Context(), sourceID)
			if err != nil {
				return err
			}
			conn, err := source.New(src.ConnectionInfo)
			if err != nil {
				return err
			}
			defer conn.Close()

			streams, err := conn.InspectStreams(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(streams)
		},
	}
	cmd.Flags().StringVar(&sourceID, "source-id", "", "source id")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "control plane base URL override")
	return cmd
}

func newServeCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler beat, worker pool, and admin HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrExit()
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			log := newLogger(cfg)

			runner := func(ctx context.Context, task worker.Task) (map[string]any, error) {
				switch task.Command {
				case "", "transfer":
					req, err := parseTransferArgs(task.Args)
					if err != nil {
						return nil, xerrors.Wrap(xerrors.UnknownKind, "parsing stored transfer args", err)
					}
					req.CacheDir = cfg.CacheDir
					req.ExecutionID = task.ExecutionID
					req.RetryCount = task.RetryCount
					req.RetryLimit = task.RetryLimit
					cp := controlplane.New(cfg.APIEndpoint, uint64(cfg.TaskMaxRetries))
					result, err := transfer.New(cp, log).Run(ctx, req)
					return resultToMap(result), err
				default:
					return nil, xerrors.New(xerrors.UnknownKind, fmt.Sprintf("unsupported task command %q", task.Command))
				}
			}

			pool := worker.NewPool(runner, cfg.WorkerConcurrency, cfg.TaskMaxRetries, cfg.TaskRetryDelay, log)
			defer pool.Close()

			sched, err := scheduler.Open(cfg.SchedulerDBPath, pool, log)
			if err != nil {
				return err
			}
			defer sched.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sched.Start(ctx)
			defer sched.Stop()

			authn := auth.New(cfg.JWTSecret, 24*time.Hour)
			server := api.NewServer(sched, authn, log)

			log.WithField("listen_addr", cfg.ListenAddr).Info("pontoond serve: admin surface listening")
			return http.ListenAndServe(cfg.ListenAddr, server.Router())
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen-addr", "", "admin/health HTTP surface bind address")
	return cmd
}
