package engine

import (
	"errors"
	"fmt"
)

// HookError reports a failed experiment hook. The surrounding transaction
// is rolled back, so the hook's side-effect claim is released and the job
// is retried.
type HookError struct {
	// Effect names the hook, e.g. "abandoned" or "submission_trigger".
	Effect string

	// Participant is the participant the hook ran for.
	Participant string

	Err error
}

// Error implements the error interface.
func (e *HookError) Error() string {
	return fmt.Sprintf("hook %s (participant=%s): %v", e.Effect, e.Participant, e.Err)
}

// Unwrap returns the hook's own error.
func (e *HookError) Unwrap() error {
	return e.Err
}

// IsHookError reports whether err came from an experiment hook.
// Uses errors.As to handle wrapped errors.
func IsHookError(err error) bool {
	var he *HookError
	return errors.As(err, &he)
}
