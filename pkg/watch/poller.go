// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package watch implements the polling-based wait barrier used by the
// SLURM adapter: repeated accounting probes until every tracked job
// reaches a terminal state.
package watch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentProbes bounds how many accounting probes a single poll
// tick may run concurrently, keeping a large JobSet from spawning an
// unbounded number of sacct/squeue child processes at once.
const maxConcurrentProbes = 8

// DefaultPollInterval is the SLURM accounting poll interval.
const DefaultPollInterval = 10 * time.Second

// DefaultRecheckDelay is how long to wait before the one extra
// accounting recheck when a job is visible in neither accounting nor
// the live queue.
const DefaultRecheckDelay = 5 * time.Second

var terminalStates = map[string]bool{
	"COMPLETED":     true,
	"FAILED":        true,
	"CANCELLED":     true,
	"TIMEOUT":       true,
	"NODE_FAIL":     true,
	"PREEMPTED":     true,
	"OUT_OF_MEMORY": true,
}

var nonTerminalStates = map[string]bool{
	"PENDING":     true,
	"RUNNING":     true,
	"COMPLETING":  true,
	"CONFIGURING": true,
	"SUSPENDED":   true,
}

// IsTerminal reports whether state (already whitespace-trimmed) names a
// terminal SLURM accounting state.
func IsTerminal(state string) bool {
	return terminalStates[state]
}

// IsKnown reports whether state is any recognized terminal or
// non-terminal accounting state.
func IsKnown(state string) bool {
	return terminalStates[state] || nonTerminalStates[state]
}

// AccountingProbe queries the historical accounting service (sacct) for
// a job's State field, whitespace-trimmed. An empty string with a nil
// error means the job is not yet visible in accounting.
type AccountingProbe func(ctx context.Context, jobID string) (state string, err error)

// QueueProbe queries the live queue (squeue) for whether jobID is still
// present at all.
type QueueProbe func(ctx context.Context, jobID string) (found bool, err error)

// AnomalyFunc is called when a job is visible in neither accounting nor
// the live queue after the one extra recheck.
type AnomalyFunc func(jobID string)

// Poller drives the SLURM wait barrier: it polls AccountingProbe for
// each tracked job ID until every one reports a terminal state.
type Poller struct {
	Accounting   AccountingProbe
	Queue        QueueProbe
	Interval     time.Duration
	RecheckDelay time.Duration

	// OnPoll is invoked once per job on every poll tick, before that
	// job's accounting probe, for metrics. The extra recheck probe after
	// an empty state does not invoke it.
	OnPoll func(jobID string)

	// OnUnknown is invoked when accounting reports a state token that is
	// neither terminal nor non-terminal; polling continues regardless.
	OnUnknown func(jobID, state string)

	// OnAnomaly is invoked when a job can't be resolved.
	OnAnomaly AnomalyFunc
}

// NewPoller builds a Poller with the standard default intervals.
func NewPoller(accounting AccountingProbe, queue QueueProbe) *Poller {
	return &Poller{
		Accounting:   accounting,
		Queue:        queue,
		Interval:     DefaultPollInterval,
		RecheckDelay: DefaultRecheckDelay,
	}
}

// Wait blocks until every job in ids has reached a terminal accounting
// state, or ctx is canceled. It never returns early and never surfaces per-job failure as an error — a
// FAILED/CANCELLED/etc. terminal state simply ends polling for that job.
func (p *Poller) Wait(ctx context.Context, ids []string) error {
	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	if len(pending) == 0 {
		return nil
	}

	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()

	if err := p.pollOnce(ctx, pending); err != nil {
		return err
	}

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.pollOnce(ctx, pending); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Poller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return DefaultPollInterval
}

func (p *Poller) recheckDelay() time.Duration {
	if p.RecheckDelay > 0 {
		return p.RecheckDelay
	}
	return DefaultRecheckDelay
}

// pollOnce probes every pending job concurrently via an errgroup.Group
// (bounded by maxConcurrentProbes): with N pending jobs, one tick costs
// roughly one probe's latency, not N of them.
func (p *Poller) pollOnce(ctx context.Context, pending map[string]bool) error {
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}

	done := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if p.OnPoll != nil {
				p.OnPoll(id)
			}

			state, err := p.Accounting(gctx, id)
			if err != nil {
				return err
			}

			if state == "" {
				resolved, err := p.resolveMissing(gctx, id)
				if err != nil {
					return err
				}
				done[i] = resolved
				return nil
			}

			if !IsKnown(state) && p.OnUnknown != nil {
				p.OnUnknown(id, state)
			}
			done[i] = IsTerminal(state)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for i, id := range ids {
		if done[i] {
			delete(pending, id)
		}
	}
	return nil
}

// resolveMissing implements the "empty state" fallback: re-probe the
// live queue, and if absent there too, wait RecheckDelay and check
// accounting once more before giving up with a warning.
func (p *Poller) resolveMissing(ctx context.Context, id string) (bool, error) {
	if p.Queue != nil {
		found, err := p.Queue(ctx, id)
		if err != nil {
			return false, err
		}
		if found {
			return false, nil
		}
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(p.recheckDelay()):
	}

	state, err := p.Accounting(ctx, id)
	if err != nil {
		return false, err
	}
	if state != "" {
		return IsTerminal(state), nil
	}

	if p.OnAnomaly != nil {
		p.OnAnomaly(id)
	}
	return true, nil
}
