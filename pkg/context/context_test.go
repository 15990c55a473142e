// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package context

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTimeoutConfig(t *testing.T) {
	config := DefaultTimeoutConfig()

	require.NotNil(t, config)
	assert.Equal(t, DefaultTimeout, config.Default)
	assert.Equal(t, 5*time.Second, config.Detect)
	assert.Equal(t, 30*time.Second, config.Submit)
	assert.Equal(t, time.Duration(0), config.Wait)
}

func TestWithTimeout(t *testing.T) {
	config := &TimeoutConfig{
		Default: 10 * time.Second,
		Detect:  5 * time.Second,
		Submit:  15 * time.Second,
		Wait:    0,
	}

	tests := []struct {
		name          string
		operationType OperationType
		expectedTime  time.Duration
		expectCancel  bool
	}{
		{name: "detect operation", operationType: OpDetect, expectedTime: 5 * time.Second},
		{name: "submit operation", operationType: OpSubmit, expectedTime: 15 * time.Second},
		{name: "wait operation (no timeout)", operationType: OpWait, expectCancel: true},
		{name: "default operation", operationType: OpDefault, expectedTime: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			timeoutCtx, cancel := WithTimeout(ctx, tt.operationType, config)
			defer cancel()

			if tt.expectCancel {
				deadline, hasDeadline := timeoutCtx.Deadline()
				assert.False(t, hasDeadline)
				assert.True(t, deadline.IsZero())
			} else {
				deadline, hasDeadline := timeoutCtx.Deadline()
				assert.True(t, hasDeadline)

				expectedDeadline := time.Now().Add(tt.expectedTime)
				assert.WithinDuration(t, expectedDeadline, deadline, 100*time.Millisecond)
			}
		})
	}
}

func TestWithTimeoutNilConfig(t *testing.T) {
	ctx := context.Background()
	timeoutCtx, cancel := WithTimeout(ctx, OpSubmit, nil)
	defer cancel()

	deadline, hasDeadline := timeoutCtx.Deadline()
	assert.True(t, hasDeadline)

	expectedDeadline := time.Now().Add(30 * time.Second)
	assert.WithinDuration(t, expectedDeadline, deadline, 100*time.Millisecond)
}

func TestWithTimeoutWaitWithTimeout(t *testing.T) {
	config := &TimeoutConfig{Wait: 1 * time.Minute}

	ctx := context.Background()
	timeoutCtx, cancel := WithTimeout(ctx, OpWait, config)
	defer cancel()

	deadline, hasDeadline := timeoutCtx.Deadline()
	assert.True(t, hasDeadline)

	expectedDeadline := time.Now().Add(1 * time.Minute)
	assert.WithinDuration(t, expectedDeadline, deadline, 100*time.Millisecond)
}

func TestWithDeadline(t *testing.T) {
	t.Run("no existing deadline", func(t *testing.T) {
		ctx := context.Background()
		deadline := time.Now().Add(1 * time.Hour)

		deadlineCtx, cancel := WithDeadline(ctx, deadline)
		defer cancel()

		actualDeadline, hasDeadline := deadlineCtx.Deadline()
		assert.True(t, hasDeadline)
		assert.Equal(t, deadline, actualDeadline)
	})

	t.Run("existing deadline is sooner", func(t *testing.T) {
		soonerDeadline := time.Now().Add(1 * time.Hour)
		ctx, cancel := context.WithDeadline(context.Background(), soonerDeadline)
		defer cancel()

		laterDeadline := time.Now().Add(2 * time.Hour)
		deadlineCtx, cancelFunc := WithDeadline(ctx, laterDeadline)
		cancelFunc()

		actualDeadline, hasDeadline := deadlineCtx.Deadline()
		assert.True(t, hasDeadline)
		assert.Equal(t, soonerDeadline, actualDeadline)
		assert.Equal(t, ctx, deadlineCtx)
	})

	t.Run("existing deadline is later", func(t *testing.T) {
		laterDeadline := time.Now().Add(2 * time.Hour)
		ctx, cancel := context.WithDeadline(context.Background(), laterDeadline)
		defer cancel()

		soonerDeadline := time.Now().Add(1 * time.Hour)
		deadlineCtx, cancelFunc := WithDeadline(ctx, soonerDeadline)
		defer cancelFunc()

		actualDeadline, hasDeadline := deadlineCtx.Deadline()
		assert.True(t, hasDeadline)
		assert.Equal(t, soonerDeadline, actualDeadline)
	})
}

func TestEnsureTimeout(t *testing.T) {
	t.Run("no existing deadline", func(t *testing.T) {
		ctx := context.Background()
		defaultTimeout := 30 * time.Second

		timeoutCtx, cancel := EnsureTimeout(ctx, defaultTimeout)
		defer cancel()

		deadline, hasDeadline := timeoutCtx.Deadline()
		assert.True(t, hasDeadline)

		expectedDeadline := time.Now().Add(defaultTimeout)
		assert.WithinDuration(t, expectedDeadline, deadline, 100*time.Millisecond)
	})

	t.Run("existing deadline", func(t *testing.T) {
		existingDeadline := time.Now().Add(1 * time.Hour)
		ctx, cancel := context.WithDeadline(context.Background(), existingDeadline)
		defer cancel()

		timeoutCtx, cancelFunc := EnsureTimeout(ctx, 30*time.Second)
		cancelFunc()

		actualDeadline, hasDeadline := timeoutCtx.Deadline()
		assert.True(t, hasDeadline)
		assert.Equal(t, existingDeadline, actualDeadline)
		assert.Equal(t, ctx, timeoutCtx)
	})

	t.Run("zero default timeout", func(t *testing.T) {
		ctx := context.Background()

		timeoutCtx, cancel := EnsureTimeout(ctx, 0)
		defer cancel()

		deadline, hasDeadline := timeoutCtx.Deadline()
		assert.True(t, hasDeadline)

		expectedDeadline := time.Now().Add(DefaultTimeout)
		assert.WithinDuration(t, expectedDeadline, deadline, 100*time.Millisecond)
	})
}

func TestIsContextError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "context canceled", err: context.Canceled, expected: true},
		{name: "context deadline exceeded", err: context.DeadlineExceeded, expected: true},
		{name: "other error", err: errors.New("some other error"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsContextError(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestOpError(t *testing.T) {
	t.Run("deadline exceeded", func(t *testing.T) {
		err := &OpError{Operation: "wait", Timeout: 30 * time.Second, Err: context.DeadlineExceeded}

		assert.Equal(t, "operation 'wait' timed out after 30s", err.Error())
		assert.Equal(t, context.DeadlineExceeded, err.Unwrap())
	})

	t.Run("canceled", func(t *testing.T) {
		err := &OpError{Operation: "wait", Timeout: 30 * time.Second, Err: context.Canceled}

		assert.Equal(t, "operation 'wait' was canceled", err.Error())
		assert.Equal(t, context.Canceled, err.Unwrap())
	})

	t.Run("other context error", func(t *testing.T) {
		customErr := errors.New("custom context error")
		err := &OpError{Operation: "wait", Timeout: 30 * time.Second, Err: customErr}

		assert.Equal(t, "context error in operation 'wait': custom context error", err.Error())
		assert.Equal(t, customErr, err.Unwrap())
	})
}

func TestWrapOpError(t *testing.T) {
	t.Run("context error", func(t *testing.T) {
		operation := "submit:slurm"
		timeout := 30 * time.Second

		wrappedErr := WrapOpError(context.DeadlineExceeded, operation, timeout)

		require.IsType(t, &OpError{}, wrappedErr)
		opErr := wrappedErr.(*OpError)
		assert.Equal(t, operation, opErr.Operation)
		assert.Equal(t, timeout, opErr.Timeout)
		assert.Equal(t, context.DeadlineExceeded, opErr.Err)
	})

	t.Run("non-context error", func(t *testing.T) {
		originalErr := errors.New("not a context error")
		wrappedErr := WrapOpError(originalErr, "submit", 30*time.Second)
		assert.Equal(t, originalErr, wrappedErr)
	})

	t.Run("nil error", func(t *testing.T) {
		wrappedErr := WrapOpError(nil, "submit", 30*time.Second)
		assert.Nil(t, wrappedErr)
	})
}

func TestOperationType(t *testing.T) {
	assert.Equal(t, OperationType(0), OpDetect)
	assert.Equal(t, OperationType(1), OpSubmit)
	assert.Equal(t, OperationType(2), OpWait)
	assert.Equal(t, OperationType(3), OpDefault)
}

func TestConstants(t *testing.T) {
	assert.Equal(t, 30*time.Second, DefaultTimeout)
}
