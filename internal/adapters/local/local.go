// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package local implements the jobtypes.Adapter contract for the fully
// sequential local executor: every submission runs synchronously in the
// driver process, always succeeds its availability probe, and returns
// the constant sentinel handle.
package local

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ashs-pipeline/batchsched/pkg/executil"
	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
	"github.com/ashs-pipeline/batchsched/pkg/logging"
	"github.com/ashs-pipeline/batchsched/pkg/metrics"
	"github.com/ashs-pipeline/batchsched/pkg/resources"
)

// Adapter is the sequential local backend: the terminal fallback that
// never fails its probe.
type Adapter struct {
	JobPrefix string
	Logger    logging.Logger
	Metrics   metrics.Collector
}

// New builds a local adapter.
func New(jobPrefix string, logger logging.Logger, collector metrics.Collector) *Adapter {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Adapter{JobPrefix: jobPrefix, Logger: logger, Metrics: collector}
}

func (a *Adapter) Name() jobtypes.Backend { return jobtypes.BackendLocal }

// Detect unconditionally succeeds: local is the guaranteed
// terminal fallback.
func (a *Adapter) Detect(ctx context.Context) (bool, string) {
	return true, ""
}

// BuildOpts is a no-op for local: resource fields are entirely ignored.
func (a *Adapter) BuildOpts(req jobtypes.ResourceRequest) []string {
	return resources.Compile(jobtypes.BackendLocal, req, "")
}

func (a *Adapter) jobName(name string) string {
	return a.JobPrefix + "_" + name
}

func (a *Adapter) run(ctx context.Context, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobHandle, error) {
	if err := executil.EnsureDir(logDir); err != nil {
		return jobtypes.JobHandle{}, err
	}

	jobName := a.jobName(spec.Name)
	args := append([]string{spec.Script}, spec.Args...)

	a.Logger.Debug("local run", "job", jobName, "script", spec.Script, "args", spec.Args)

	result, err := executil.Run(ctx, "bash", args, "", nil)
	if err != nil {
		a.Metrics.RecordSubmissionError(string(jobtypes.BackendLocal))
		return jobtypes.JobHandle{}, fmt.Errorf("local: job %q failed: %w (stderr: %s)", jobName, err, result.Stderr)
	}

	return jobtypes.LocalSentinel(), nil
}

// Submit runs the job synchronously even though the backend is
// asynchronous in name: there is no process-in-background concept for
// "local".
func (a *Adapter) Submit(ctx context.Context, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobHandle, error) {
	return a.run(ctx, spec, logDir)
}

func (a *Adapter) SubmitSync(ctx context.Context, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobHandle, error) {
	return a.run(ctx, spec, logDir)
}

// SubmitArraySingle executes every value sequentially in parameter order
// and returns the sentinel handle.
func (a *Adapter) SubmitArraySingle(ctx context.Context, name string, values []string, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobSet, error) {
	for _, v := range values {
		legSpec := spec
		legSpec.Name = name + "_" + v
		legSpec.Args = append(append([]string{}, spec.Args...), v)

		if _, err := a.run(ctx, legSpec, logDir); err != nil {
			return nil, err
		}
	}
	a.Metrics.RecordArraySubmission(string(jobtypes.BackendLocal), len(values))
	return jobtypes.JobSet{jobtypes.LocalSentinel()}, nil
}

// SubmitArrayDouble executes the Cartesian product sequentially,
// outer-major, and returns the sentinel handle.
func (a *Adapter) SubmitArrayDouble(ctx context.Context, name string, outer, inner []string, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobSet, error) {
	count := 0
	for _, o := range outer {
		for _, in := range inner {
			legSpec := spec
			legSpec.Name = name + "_" + o + "_" + in
			legSpec.Args = append(append([]string{}, spec.Args...), o, in)

			if _, err := a.run(ctx, legSpec, logDir); err != nil {
				return nil, err
			}
			count++
		}
	}
	a.Metrics.RecordArraySubmission(string(jobtypes.BackendLocal), count)
	return jobtypes.JobSet{jobtypes.LocalSentinel()}, nil
}

// Wait is an immediate no-op: by the time a handle exists, the local
// backend has already run the job to completion.
func (a *Adapter) Wait(ctx context.Context, set jobtypes.JobSet) error {
	return nil
}

// Slots reports the host's detected core count.
func (a *Adapter) Slots() int {
	return runtime.NumCPU()
}

// InManagedJob always reports false: local never runs
// inside a cluster allocation.
func (a *Adapter) InManagedJob() bool {
	return false
}

var _ jobtypes.Adapter = (*Adapter)(nil)
