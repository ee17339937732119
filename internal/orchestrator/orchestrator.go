// Package orchestrator drives a single power action from submission to the
// terminal state of its asynchronous cluster task, including the
// shutdown-to-stop escalation path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkovalv/pvewatch/internal/config"
	"github.com/mkovalv/pvewatch/internal/metrics"
	"github.com/mkovalv/pvewatch/internal/model"
	"github.com/mkovalv/pvewatch/internal/proxmox"
)

// ErrJobPollTimeout indicates the task did not reach a terminal state before
// the polling deadline. Distinct from a task that finished with a bad exit
// status; both escalate on a forced shutdown, but callers log them apart.
var ErrJobPollTimeout = errors.New("task polling deadline exceeded")

// ExitError is a task that reached its terminal state with a non-ok exit
// status
type ExitError struct {
	UPID       string
	ExitStatus string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("task %s finished with exit status %q", e.UPID, e.ExitStatus)
}

// Options modifies how a single action is performed
type Options struct {
	// Force escalates a failed or timed-out shutdown to a hard stop.
	// Meaningful only for ActionShutdown.
	Force bool
}

// Orchestrator performs power actions against the cluster. It holds no
// per-guest state; the caller is responsible for not issuing a second action
// for a guest while one is pending.
type Orchestrator struct {
	client       proxmox.Client
	metrics      *metrics.Metrics
	logger       *slog.Logger
	pollInterval time.Duration
	pollDeadline time.Duration
	// guest shutdown grace handed to the cluster alongside the shutdown
	// request, in seconds
	shutdownTimeout time.Duration
}

// New creates an orchestrator with the configured task-polling cadence
func New(client proxmox.Client, cfg config.ActionsConfig, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		client:          client,
		metrics:         m,
		logger:          logger,
		pollInterval:    cfg.JobPollInterval,
		pollDeadline:    cfg.JobPollDeadline,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Perform submits the action and waits for its task to finish. It returns
// nil once the task reports a clean exit, or the failure of the final
// attempt. State is not mutated here; callers re-poll to observe the new
// guest status.
func (o *Orchestrator) Perform(ctx context.Context, guest model.Guest, kind model.ActionKind, opts Options) error {
	if !kind.Valid() {
		return fmt.Errorf("unsupported action %q", kind)
	}

	correlation := uuid.NewString()
	log := o.logger.With(
		slog.String("guest", guest.Key.String()),
		slog.String("action", string(kind)),
		slog.String("correlation_id", correlation),
	)

	started := time.Now()
	err := o.attempt(ctx, log, guest, kind)

	if err != nil && kind == model.ActionShutdown && opts.Force {
		// One-shot escalation: the guest ignored or outlived its shutdown,
		// power it off hard. Only the second attempt's outcome surfaces.
		log.Warn("shutdown failed, escalating to stop", slog.String("error", err.Error()))
		o.metrics.Actions.WithLabelValues(string(kind), "escalated").Inc()
		err = o.attempt(ctx, log, guest, model.ActionStop)
	}

	o.metrics.ActionSeconds.Observe(time.Since(started).Seconds())
	o.metrics.Actions.WithLabelValues(string(kind), outcome(err)).Inc()

	if err != nil {
		log.Error("action failed", slog.String("error", err.Error()))
		return err
	}

	log.Info("action completed", slog.Duration("took", time.Since(started)))
	return nil
}

// attempt submits one action and polls its task to a terminal state
func (o *Orchestrator) attempt(ctx context.Context, log *slog.Logger, guest model.Guest, kind model.ActionKind) error {
	params := map[string]string{}
	if kind == model.ActionShutdown && o.shutdownTimeout > 0 {
		params["timeout"] = strconv.Itoa(int(o.shutdownTimeout.Seconds()))
	}

	upid, err := o.client.SubmitAction(ctx, guest.Key, guest.Kind, kind, params)
	if err != nil {
		return err
	}

	job := model.ActionJob{
		Key:      guest.Key,
		Kind:     kind,
		UPID:     upid,
		Started:  time.Now(),
		Deadline: time.Now().Add(o.pollDeadline),
	}
	log.Debug("task submitted", slog.String("upid", upid))

	return o.pollJob(ctx, job)
}

// pollJob fetches the task status at a fixed cadence until it reports
// "stopped" or the deadline lapses
func (o *Orchestrator) pollJob(ctx context.Context, job model.ActionJob) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(time.Until(job.Deadline))
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrJobPollTimeout
		case <-ticker.C:
			status, err := o.client.JobStatus(ctx, job.Key.Node, job.UPID)
			if err != nil {
				return err
			}
			if !status.Terminal() {
				continue
			}
			if exitOK(status.ExitStatus) {
				return nil
			}
			return &ExitError{UPID: job.UPID, ExitStatus: status.ExitStatus}
		}
	}
}

// exitOK treats an absent exit status or an exact "ok" (case-insensitive)
// as success. Qualified statuses such as "OK-but-wrong-case" are failures.
func exitOK(exitStatus string) bool {
	return exitStatus == "" || strings.EqualFold(exitStatus, "ok")
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrJobPollTimeout):
		return "timeout"
	default:
		return "error"
	}
}
