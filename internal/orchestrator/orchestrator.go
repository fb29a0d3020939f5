// Package orchestrator drives one processing cycle over the vault: approved
// tasks are executed first, then pending tasks are handed to the agent as a
// single batch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"taskvault/internal/activity"
	"taskvault/internal/agent"
	"taskvault/internal/dashboard"
	"taskvault/internal/task"
	"taskvault/internal/watch"
)

const (
	ActionExecuteApproved    = "execute_approved"
	ActionProcessNeedsAction = "process_needs_action"
	ActionRejectTask         = "reject_task"

	defaultCycleInterval = 60 * time.Second
	cycleTick            = time.Second
)

// ActivityRecorder appends audit entries.
type ActivityRecorder interface {
	Record(ctx context.Context, action, details string, status activity.Status) error
}

// DashboardRecorder publishes human-facing recent activity.
type DashboardRecorder interface {
	Record(ctx context.Context, action, details string) (dashboard.Entry, error)
}

// CycleReport summarises one RunOnce.
type CycleReport struct {
	ID              uuid.UUID `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	ApprovedChecked int       `json:"approved_checked"`
	Executed        int       `json:"executed"`
	Failed          int       `json:"failed"`
	PendingBatched  int       `json:"pending_batched"`
	BatchSucceeded  bool      `json:"batch_succeeded"`
}

// Snapshot counts tasks per state.
type Snapshot struct {
	Counts map[task.State]int `json:"counts"`
	Total  int                `json:"total"`
}

type Orchestrator struct {
	store     task.Store
	agent     agent.Client
	activity  ActivityRecorder
	dashboard DashboardRecorder
}

func New(store task.Store, client agent.Client, activityLog ActivityRecorder, dash DashboardRecorder) *Orchestrator {
	return &Orchestrator{store: store, agent: client, activity: activityLog, dashboard: dash}
}

// RunOnce performs the approved pass followed by the pending pass. Listing
// failures are returned; per-task failures are only logged.
func (o *Orchestrator) RunOnce(ctx context.Context) (CycleReport, error) {
	report := CycleReport{ID: uuid.New(), StartedAt: time.Now()}
	logger := log.With().Str("cycle_id", report.ID.String()).Logger()
	logger.Info().Msg("orchestrator cycle started")

	approvedErr := o.approvedPass(ctx, logger, &report)
	pendingErr := o.needsActionPass(ctx, logger, &report)

	report.FinishedAt = time.Now()
	logger.Info().Int("executed", report.Executed).Int("failed", report.Failed).
		Int("pending", report.PendingBatched).Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("orchestrator cycle finished")
	return report, errors.Join(approvedErr, pendingErr)
}

func (o *Orchestrator) approvedPass(ctx context.Context, logger zerolog.Logger, report *CycleReport) error {
	refs, err := o.store.List(ctx, task.StateApproved)
	if err != nil {
		logger.Error().Err(err).Msg("list approved tasks")
		return fmt.Errorf("list approved: %w", err)
	}
	if len(refs) == 0 {
		logger.Debug().Msg("no approved tasks")
		return nil
	}
	logger.Info().Int("count", len(refs)).Msg("executing approved tasks")
	for _, ref := range refs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report.ApprovedChecked++
		if o.executeApproved(ctx, logger.With().Str("task", ref.Name).Logger(), ref) {
			report.Executed++
		} else {
			report.Failed++
		}
	}
	return nil
}

// executeApproved writes exactly one activity record per task: success
// once the task is in Done, error otherwise.
func (o *Orchestrator) executeApproved(ctx context.Context, logger zerolog.Logger, ref task.Ref) bool {
	loaded, err := o.store.Load(ctx, ref)
	if err != nil {
		logger.Error().Err(err).Msg("read approved task")
		o.record(ctx, logger, ActionExecuteApproved, "Failed: "+err.Error(), activity.StatusError)
		return false
	}

	if _, err := o.agent.Invoke(ctx, approvedPrompt(ref.Name, string(loaded.Raw))); err != nil {
		logger.Error().Err(err).Str("kind", failureKind(err)).Msg("approved task execution failed")
		o.record(ctx, logger, ActionExecuteApproved, "Failed: "+err.Error(), activity.StatusError)
		return false
	}

	if _, err := o.store.Move(ctx, ref, task.StateDone, ""); err != nil {
		logger.Error().Err(err).Msg("move executed task to done")
		o.record(ctx, logger, ActionExecuteApproved, fmt.Sprintf("Failed: move %s to Done: %v", ref.Name, err), activity.StatusError)
		return false
	}

	logger.Info().Msg("approved task executed")
	o.record(ctx, logger, ActionExecuteApproved, "Executed: "+ref.Name, activity.StatusSuccess)
	o.publish(ctx, logger, "Completed", "Approved action: "+ref.Name)
	return true
}

func (o *Orchestrator) needsActionPass(ctx context.Context, logger zerolog.Logger, report *CycleReport) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	refs, err := o.store.List(ctx, task.StateNeedsAction)
	if err != nil {
		logger.Error().Err(err).Msg("list pending tasks")
		return fmt.Errorf("list needs action: %w", err)
	}
	if len(refs) == 0 {
		logger.Debug().Msg("no pending tasks")
		return nil
	}

	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Name)
	}
	report.PendingBatched = len(names)
	logger.Info().Int("count", len(names)).Msg("handing pending tasks to agent")

	if _, err := o.agent.Invoke(ctx, needsActionPrompt(names)); err != nil {
		logger.Error().Err(err).Str("kind", failureKind(err)).Msg("pending batch failed")
		o.record(ctx, logger, ActionProcessNeedsAction, "Failed: "+err.Error(), activity.StatusError)
		return nil
	}
	report.BatchSucceeded = true
	o.record(ctx, logger, ActionProcessNeedsAction, fmt.Sprintf("Processed %d items", len(names)), activity.StatusSuccess)
	o.publish(ctx, logger, "Processed", fmt.Sprintf("%d pending item(s)", len(names)))
	return nil
}

// Reject moves a task to Rejected on behalf of an operator.
func (o *Orchestrator) Reject(ctx context.Context, state task.State, name, reason string) (task.Ref, error) {
	ref, err := o.store.Get(ctx, state, name)
	if err != nil {
		return task.Ref{}, err
	}
	rejected, err := o.store.Reject(ctx, ref, reason)
	if err != nil {
		o.record(ctx, log.Logger, ActionRejectTask, fmt.Sprintf("Failed: reject %s: %v", name, err), activity.StatusError)
		return ref, err
	}
	log.Info().Str("task", name).Str("from", string(state)).Str("reason", reason).Msg("task rejected")
	o.record(ctx, log.Logger, ActionRejectTask, fmt.Sprintf("Rejected: %s (%s)", name, reason), activity.StatusSuccess)
	return rejected, nil
}

// Run repeats RunOnce every interval until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultCycleInterval
	}
	log.Info().Dur("interval", interval).Msg("orchestrator running continuously")
	for ctx.Err() == nil {
		if _, err := o.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("orchestrator cycle incomplete")
		}
		if !watch.Pause(ctx, interval, cycleTick, nil) {
			break
		}
	}
	log.Info().Msg("orchestrator stopped")
	return nil
}

// Snapshot counts the documents currently in each state folder.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Counts: make(map[task.State]int, len(task.States))}
	for _, state := range task.States {
		refs, err := o.store.List(ctx, state)
		if err != nil {
			return snap, err
		}
		snap.Counts[state] = len(refs)
		snap.Total += len(refs)
	}
	return snap, nil
}

func (o *Orchestrator) record(ctx context.Context, logger zerolog.Logger, action, details string, status activity.Status) {
	if o.activity == nil {
		return
	}
	if err := o.activity.Record(context.WithoutCancel(ctx), action, details, status); err != nil {
		logger.Error().Err(err).Str("action", action).Msg("activity log write failed")
	}
}

func (o *Orchestrator) publish(ctx context.Context, logger zerolog.Logger, action, details string) {
	if o.dashboard == nil {
		return
	}
	if _, err := o.dashboard.Record(ctx, action, details); err != nil {
		logger.Warn().Err(err).Msg("dashboard update failed")
	}
}

func failureKind(err error) string {
	var agentErr *agent.Error
	if errors.As(err, &agentErr) {
		return agentErr.Kind.String()
	}
	return agent.KindUnexpected.String()
}
