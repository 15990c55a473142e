// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package watch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashs-pipeline/batchsched/pkg/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{"COMPLETED", "FAILED", "CANCELLED", "TIMEOUT", "NODE_FAIL", "PREEMPTED", "OUT_OF_MEMORY"} {
		assert.True(t, watch.IsTerminal(s), s)
	}
	for _, s := range []string{"PENDING", "RUNNING", "COMPLETING", "CONFIGURING", "SUSPENDED", ""} {
		assert.False(t, watch.IsTerminal(s), s)
	}
}

func TestIsKnown(t *testing.T) {
	assert.True(t, watch.IsKnown("RUNNING"))
	assert.True(t, watch.IsKnown("COMPLETED"))
	assert.False(t, watch.IsKnown("BOGUS"))
}

// sequenceAccounting returns states[call] in order, repeating the last
// entry once exhausted, mirroring a three-poll accounting sequence.
func sequenceAccounting(states map[string][]string) (watch.AccountingProbe, *int32) {
	var calls int32
	idx := make(map[string]int)
	var mu sync.Mutex

	probe := func(ctx context.Context, jobID string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		atomic.AddInt32(&calls, 1)

		seq := states[jobID]
		i := idx[jobID]
		if i >= len(seq) {
			i = len(seq) - 1
		}
		idx[jobID] = i + 1
		return seq[i], nil
	}
	return probe, &calls
}

func TestWaitReturnsAfterTerminalState(t *testing.T) {
	// Mock sacct returns PENDING, RUNNING, FAILED over three polls.
	probe, _ := sequenceAccounting(map[string][]string{
		"42": {"PENDING", "RUNNING", "FAILED"},
	})

	p := &watch.Poller{
		Accounting: probe,
		Interval:   5 * time.Millisecond,
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Wait(context.Background(), []string{"42"})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after terminal state observed")
	}
}

func TestWaitEmptySet(t *testing.T) {
	p := watch.NewPoller(nil, nil)
	require.NoError(t, p.Wait(context.Background(), nil))
}

func TestWaitMultipleHandlesAllMustFinish(t *testing.T) {
	probe, calls := sequenceAccounting(map[string][]string{
		"1": {"RUNNING", "COMPLETED"},
		"2": {"COMPLETED"},
	})

	p := &watch.Poller{Accounting: probe, Interval: 5 * time.Millisecond}

	err := p.Wait(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(calls), int32(3))
}

func TestWaitEmptyStateFallsBackToQueueThenRecheck(t *testing.T) {
	var accountingCalls int32
	accounting := func(ctx context.Context, jobID string) (string, error) {
		n := atomic.AddInt32(&accountingCalls, 1)
		if n <= 1 {
			return "", nil
		}
		return "COMPLETED", nil
	}

	var queueCalls int32
	queue := func(ctx context.Context, jobID string) (bool, error) {
		atomic.AddInt32(&queueCalls, 1)
		return false, nil
	}

	var anomalies int32
	p := &watch.Poller{
		Accounting:   accounting,
		Queue:        queue,
		Interval:     5 * time.Millisecond,
		RecheckDelay: 5 * time.Millisecond,
		OnAnomaly:    func(string) { atomic.AddInt32(&anomalies, 1) },
	}

	err := p.Wait(context.Background(), []string{"99"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&queueCalls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&anomalies))
}

func TestWaitGivesUpWithAnomalyWhenNeitherAccountingNorQueueKnowsJob(t *testing.T) {
	accounting := func(ctx context.Context, jobID string) (string, error) {
		return "", nil
	}
	queue := func(ctx context.Context, jobID string) (bool, error) {
		return false, nil
	}

	var anomalies int32
	p := &watch.Poller{
		Accounting:   accounting,
		Queue:        queue,
		Interval:     5 * time.Millisecond,
		RecheckDelay: 5 * time.Millisecond,
		OnAnomaly:    func(string) { atomic.AddInt32(&anomalies, 1) },
	}

	err := p.Wait(context.Background(), []string{"404"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&anomalies))
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	accounting := func(ctx context.Context, jobID string) (string, error) {
		return "RUNNING", nil
	}

	p := &watch.Poller{Accounting: accounting, Interval: 5 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Wait(ctx, []string{"1"})
	require.Error(t, err)
}

func TestOnUnknownStateLoggedAndPollingContinues(t *testing.T) {
	probe, _ := sequenceAccounting(map[string][]string{
		"7": {"REVOKED", "COMPLETED"},
	})

	var unknowns int32
	p := &watch.Poller{
		Accounting: probe,
		Interval:   5 * time.Millisecond,
		OnUnknown: func(id, state string) {
			assert.Equal(t, "REVOKED", state)
			atomic.AddInt32(&unknowns, 1)
		},
	}

	require.NoError(t, p.Wait(context.Background(), []string{"7"}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&unknowns))
}

func TestOnPollCalledPerProbe(t *testing.T) {
	probe, _ := sequenceAccounting(map[string][]string{"1": {"COMPLETED"}})

	var polls int32
	p := &watch.Poller{
		Accounting: probe,
		Interval:   5 * time.Millisecond,
		OnPoll:     func(string) { atomic.AddInt32(&polls, 1) },
	}

	require.NoError(t, p.Wait(context.Background(), []string{"1"}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&polls))
}
