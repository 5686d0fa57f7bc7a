// Package poll implements bounded polling for convergence checks.
//
// A poll timeout is reported as *TimeoutError so callers can tell "the phase
// did not converge" apart from a cancelled context, which is returned as
// ctx.Err().
package poll
