// Package saga runs multi-step workflows against a store that offers no
// multi-document atomicity.
//
// A workflow declares an ordered list of steps. Steps run in order; the
// first failing critical step stops the workflow, after which the
// compensations of every previously succeeded step run in reverse order.
// Compensation is best-effort: its own failure is logged as critical and
// counted, but the error returned to the caller is always the one from the
// failed step, never the compensation's.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/greencycle-id/rewards-core/pkg/logger"
)

// Step is one action of a workflow.
type Step struct {
	// Name identifies the step in logs and stage-tagged errors.
	Name string
	// Run performs the action.
	Run func(ctx context.Context) error
	// Compensate undoes the action after a later critical step fails.
	// Nil means the step has nothing to undo.
	Compensate func(ctx context.Context) error
	// BestEffort marks a step whose failure is tolerated: the workflow
	// logs and continues, and no compensation is triggered. Used for the
	// audit posting append in workflows that keep the balance movement
	// even when the audit trail lags behind. A best-effort step can still
	// fail the workflow by returning an error wrapped with Critical.
	BestEffort bool
}

type criticalError struct{ err error }

func (e criticalError) Error() string { return e.err.Error() }
func (e criticalError) Unwrap() error { return e.err }

// Critical marks an error from a best-effort step as non-tolerable: the
// workflow fails and compensates exactly as if the step were critical.
// Steps use it when one error class proves an earlier step must not stand,
// while every other failure of the same step stays tolerated.
func Critical(err error) error {
	if err == nil {
		return nil
	}
	return criticalError{err: err}
}

func isCritical(err error) bool {
	var ce criticalError
	return errors.As(err, &ce)
}

// Metrics receives saga outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	StepFailed(workflow, step string, bestEffort bool)
	CompensationRun(workflow, step string, failed bool)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) StepFailed(string, string, bool)      {}
func (NopMetrics) CompensationRun(string, string, bool) {}

// Engine executes workflow steps with a shared logger and metrics sink.
type Engine struct {
	log     *logger.Logger
	metrics Metrics
}

// NewEngine constructs an engine. A nil logger or metrics sink gets a
// default.
func NewEngine(log *logger.Logger, metrics Metrics) *Engine {
	if log == nil {
		log = logger.NewDefault("saga")
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Engine{log: log, metrics: metrics}
}

// ErrCancelled reports a workflow abandoned because its context ended.
// No compensation runs in that case; completed steps remain in effect.
var ErrCancelled = errors.New("workflow cancelled")

// Execute runs the steps of the named workflow in order.
//
// On a critical step failure it runs the compensations of the previously
// succeeded steps in reverse order, then returns the step's error. On
// context cancellation it stops immediately without compensating: there is
// no durable intent record, so a cancelled workflow leaves whatever steps
// completed in effect.
func (e *Engine) Execute(ctx context.Context, workflow string, steps []Step) error {
	var done []Step

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			e.log.WithField("workflow", workflow).
				WithField("step", step.Name).
				Warn("workflow cancelled mid-sequence; completed steps remain in effect")
			return fmt.Errorf("%w before %s: %v", ErrCancelled, step.Name, err)
		}

		err := step.Run(ctx)
		if err == nil {
			done = append(done, step)
			continue
		}

		if step.BestEffort && !isCritical(err) {
			e.metrics.StepFailed(workflow, step.Name, true)
			e.log.WithError(err).
				WithField("workflow", workflow).
				WithField("step", step.Name).
				Error("best-effort step failed; continuing without compensation")
			continue
		}

		e.metrics.StepFailed(workflow, step.Name, false)
		e.compensate(ctx, workflow, done)
		return err
	}

	return nil
}

func (e *Engine) compensate(ctx context.Context, workflow string, done []Step) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}

		err := step.Compensate(ctx)
		e.metrics.CompensationRun(workflow, step.Name, err != nil)
		if err != nil {
			// Non-recoverable: the balance and the audit trail may now
			// disagree until reconciliation.
			e.log.WithError(err).
				WithField("workflow", workflow).
				WithField("step", step.Name).
				Error("CRITICAL: compensation failed; manual reconciliation required")
			continue
		}
		e.log.WithField("workflow", workflow).
			WithField("step", step.Name).
			Info("compensated step after workflow failure")
	}
}
