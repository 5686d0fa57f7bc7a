package workflow

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// Action results recorded by RunGuarded
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultTimeout = "timeout"
)

// GuardOptions configures RunGuarded
type GuardOptions struct {
	Action    string
	ClusterID string
	Datastore string

	// Timeout is the hard deadline of the whole action. Zero means none.
	Timeout time.Duration

	// Reset releases the cluster. It runs exactly once on every exit path.
	Reset func(ctx context.Context) error

	// OnFailure reports the failure, typically by marking nodes errored
	OnFailure func(ctx context.Context, cause error)

	// OnRecover tries to restore the last converged state
	OnRecover func(ctx context.Context, cause error)
}

// RunGuarded runs action under a deadline and converts its outcome:
//
//   - success returns nil
//   - expiry of the guard's own deadline is logged and swallowed
//   - any other failure, panics included, is returned as *ClusterActionError
//
// OnFailure and OnRecover run on every failure, deadline included, on a
// context that outlives the action deadline. Reset runs last in all cases.
func RunGuarded(ctx context.Context, opts GuardOptions, action func(ctx context.Context) error) (err error) {
	logger := log.WithAction(opts.Action, opts.ClusterID)
	detached := context.WithoutCancel(ctx)
	timer := metrics.NewTimer()

	actionCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		actionCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	result := ResultSuccess
	defer func() {
		if opts.Reset != nil {
			if rerr := safeReset(detached, opts.Reset); rerr != nil {
				logger.Error().Err(rerr).Msg("Failed to reset cluster task")
			}
		}
		timer.ObserveDurationVec(metrics.ClusterActionDuration, opts.Action)
		metrics.ClusterActionsTotal.WithLabelValues(opts.Action, result).Inc()
	}()

	logger.Debug().Dur("timeout", opts.Timeout).Msg("Running cluster action")

	actionErr := runRecovered(actionCtx, action)
	if actionErr == nil {
		logger.Debug().Dur("duration", timer.Duration()).Msg("Cluster action finished")
		return nil
	}

	var panicErr *PanicError
	if errors.As(actionErr, &panicErr) {
		logger.Error().Interface("panic", panicErr.Value).Bytes("stack", panicErr.Stack).Msg("Cluster action panicked")
	} else {
		logger.Error().Err(actionErr).Msg("Error during cluster action")
	}

	if opts.OnFailure != nil {
		runCallback(detached, "failure", opts.OnFailure, actionErr)
	}
	if opts.OnRecover != nil {
		runCallback(detached, "recover", opts.OnRecover, actionErr)
	}

	if deadlineExpired(ctx, actionCtx) {
		result = ResultTimeout
		logger.Error().Dur("timeout", opts.Timeout).Msg("Timeout for cluster action")
		return nil
	}

	result = ResultFailed
	return &ClusterActionError{
		Action:    opts.Action,
		Datastore: opts.Datastore,
		ClusterID: opts.ClusterID,
		Err:       actionErr,
	}
}

// deadlineExpired reports whether the guard's own deadline fired, as opposed
// to the caller canceling
func deadlineExpired(parent, actionCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(actionCtx.Err(), context.DeadlineExceeded)
}

func runRecovered(ctx context.Context, action func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return action(ctx)
}

func runCallback(ctx context.Context, name string, cb func(context.Context, error), cause error) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger.Error().Str("callback", name).Interface("panic", r).Msg("Cluster action callback panicked")
		}
	}()
	cb(ctx, cause)
}

func safeReset(ctx context.Context, reset func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return reset(ctx)
}
