package command

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"taskvault/internal/activity"
	"taskvault/internal/agent"
	"taskvault/internal/api"
	"taskvault/internal/config"
	"taskvault/internal/dashboard"
	"taskvault/internal/ingest"
	"taskvault/internal/ledger"
	"taskvault/internal/orchestrator"
	"taskvault/internal/task"
	"taskvault/internal/watch"
)

const logsFolder = "Logs"

// DefaultDeps wires the commands to the real vault components.
func DefaultDeps() Deps {
	return Deps{
		LoadConfig:     config.LoadForVault,
		SetupLogging:   SetupLogging,
		RunWatch:       RunWatch,
		RunOrchestrate: RunOrchestrate,
		RunReject:      RunReject,
		RunStatus:      RunStatus,
	}
}

func openStore(ctx context.Context, cfg config.Config) (task.Store, error) {
	store := task.NewFileStore(cfg.VaultPath)
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// RunWatch runs the file-drop watcher, plus the sample source when asked,
// until ctx is cancelled.
func RunWatch(ctx context.Context, cfg config.Config, opts WatchOptions) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	processed, err := ledger.Open(filepath.Join(cfg.VaultPath, ledger.FileName))
	if err != nil {
		return err
	}
	log.Info().Str("vault", cfg.VaultPath).Str("drop", cfg.ResolvedDropDir()).Int("known_hashes", processed.Len()).Msg("starting watcher")

	loopOpts := watch.Options{Interval: cfg.PollInterval}
	g, gctx := errgroup.WithContext(ctx)
	drop := watch.NewLoop[ingest.Item](ingest.NewFileDropSource(cfg.VaultPath, cfg.ResolvedDropDir(), store, processed), loopOpts)
	g.Go(func() error { return drop.Run(gctx) })
	if opts.Sample {
		sample := watch.NewLoop[ingest.SampleItem](ingest.NewSampleSource(store), loopOpts)
		g.Go(func() error { return sample.Run(gctx) })
	}
	return g.Wait()
}

type orchestratorRuntime struct {
	store    task.Store
	activity *activity.Log
	orch     *orchestrator.Orchestrator
}

func newOrchestratorRuntime(ctx context.Context, cfg config.Config) (*orchestratorRuntime, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	activityLog, err := activity.Open(filepath.Join(cfg.VaultPath, logsFolder))
	if err != nil {
		return nil, err
	}
	invoker := agent.NewInvoker(agent.Options{
		Candidates:    cfg.Agent.Candidates,
		Dir:           cfg.VaultPath,
		Timeout:       cfg.Agent.Timeout,
		ProbeTimeout:  cfg.Agent.ProbeTimeout,
		RunnerTimeout: cfg.Agent.RunnerTimeout,
	})
	dash := dashboard.New(cfg.VaultPath, dashboard.WithLimit(cfg.RecentEntries))
	return &orchestratorRuntime{
		store:    store,
		activity: activityLog,
		orch:     orchestrator.New(store, invoker, activityLog, dash),
	}, nil
}

// RunOrchestrate runs one cycle, or cycles until ctx is cancelled in
// continuous mode, optionally serving the status API alongside.
func RunOrchestrate(ctx context.Context, cfg config.Config, opts OrchestrateOptions) error {
	rt, err := newOrchestratorRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.activity.Close() }()

	if !opts.Continuous {
		report, err := rt.orch.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.Info().Str("cycle_id", report.ID.String()).Int("executed", report.Executed).
			Int("failed", report.Failed).Int("pending", report.PendingBatched).Msg("single cycle complete")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.orch.Run(gctx, cfg.CycleInterval) })
	if cfg.StatusAddr != "" {
		router := api.NewRouter(api.NewAPI(rt.store, rt.orch, rt.activity))
		g.Go(func() error { return api.Serve(gctx, cfg.StatusAddr, router) })
	}
	return g.Wait()
}

// RunReject moves one task to Rejected with the operator's reason.
func RunReject(ctx context.Context, cfg config.Config, req RejectRequest) error {
	state, err := task.ParseState(req.State)
	if err != nil {
		return err
	}
	rt, err := newOrchestratorRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.activity.Close() }()

	ref, err := rt.orch.Reject(ctx, state, req.Task, req.Reason)
	if err != nil {
		return fmt.Errorf("reject %s: %w", req.Task, err)
	}
	log.Info().Str("task", ref.Name).Str("path", ref.Path).Msg("task moved to Rejected")
	return nil
}

// RunStatus prints the number of tasks per state.
func RunStatus(ctx context.Context, cfg config.Config, out io.Writer) error {
	store := task.NewFileStore(cfg.VaultPath)
	snap, err := orchestrator.New(store, nil, nil, nil).Snapshot(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STATE\tFOLDER\tTASKS")
	for _, state := range task.States {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n", state, state.Folder(), snap.Counts[state])
	}
	_, _ = fmt.Fprintf(tw, "total\t\t%d\n", snap.Total)
	return tw.Flush()
}
