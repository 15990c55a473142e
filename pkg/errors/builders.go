// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	stderrors "errors"
	"fmt"
)

// NewConfigurationError reports a malformed configuration value, naming
// the offending key.
func NewConfigurationError(key, message string) *SchedulerError {
	return newError(ErrorCodeConfiguration, fmt.Sprintf("configuration key %q: %s", key, message), nil)
}

// NewDetectionError reports that an explicitly requested backend failed
// its availability probe, naming the missing prerequisite.
func NewDetectionError(backend, prerequisite string) *SchedulerError {
	e := newError(ErrorCodeDetection, fmt.Sprintf("backend %q unavailable: missing %s", backend, prerequisite), nil)
	e.Backend = backend
	return e
}

// NewSubmissionError wraps a backend submission failure with the raw
// command output attached.
func NewSubmissionError(backend string, cause error, rawOutput string) *SchedulerError {
	e := newError(ErrorCodeSubmission, "submission failed", cause)
	e.Backend = backend
	e.Details = rawOutput
	return e
}

// NewWaitObservationError records a non-fatal anomaly seen during a wait
// loop (unknown accounting state, sentinel job failure). The barrier does
// not reraise these; callers log them and continue.
func NewWaitObservationError(backend, message string) *SchedulerError {
	e := newError(ErrorCodeWaitObservation, message, nil)
	e.Backend = backend
	return e
}

// Is reports whether err is a SchedulerError with the given code.
func Is(err error, code ErrorCode) bool {
	var se *SchedulerError
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}
