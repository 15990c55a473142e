// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package slurm implements the jobtypes.Adapter contract for the SLURM
// workload manager: sbatch for submission, sacct/squeue for the wait
// barrier.
package slurm

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	batcherrors "github.com/ashs-pipeline/batchsched/pkg/errors"
	"github.com/ashs-pipeline/batchsched/pkg/executil"
	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
	"github.com/ashs-pipeline/batchsched/pkg/logging"
	"github.com/ashs-pipeline/batchsched/pkg/metrics"
	"github.com/ashs-pipeline/batchsched/pkg/resources"
	"github.com/ashs-pipeline/batchsched/pkg/watch"
)

// Adapter is the SLURM backend.
type Adapter struct {
	JobPrefix string
	ExtraOpts string
	Logger    logging.Logger
	Metrics   metrics.Collector
}

// New builds a SLURM adapter.
func New(jobPrefix, extraOpts string, logger logging.Logger, collector metrics.Collector) *Adapter {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Adapter{JobPrefix: jobPrefix, ExtraOpts: extraOpts, Logger: logger, Metrics: collector}
}

func (a *Adapter) Name() jobtypes.Backend { return jobtypes.BackendSlurm }

// Detect checks that sbatch, squeue, and sacct are all resolvable on
// PATH.
func (a *Adapter) Detect(ctx context.Context) (bool, string) {
	for _, bin := range []string{"sbatch", "squeue", "sacct"} {
		if !executil.LookPath(bin) {
			return false, fmt.Sprintf("%s not found on PATH", bin)
		}
	}
	return true, ""
}

func (a *Adapter) BuildOpts(req jobtypes.ResourceRequest) []string {
	return resources.Compile(jobtypes.BackendSlurm, req, a.ExtraOpts)
}

func (a *Adapter) jobName(name string) string {
	return a.JobPrefix + "_" + name
}

// buildSubmitArgs assembles the sbatch argv in the expected
// command shape exactly: `sbatch --parsable <opts> -J <name> -o <out>
// -D <workdir> --export=ALL <script> [args...]`.
func (a *Adapter) buildSubmitArgs(spec jobtypes.SubmitSpec, logDir string, sync bool) ([]string, string) {
	jobName := a.jobName(spec.Name)
	outPath := filepath.Join(logDir, jobName+"_%j.out")

	args := []string{"--parsable"}
	args = append(args, a.BuildOpts(spec.Resources)...)
	args = append(args, "-J", jobName, "-o", outPath, "-D", mustGetwd(), "--export=ALL")
	if sync {
		args = append(args, "--wait")
	}
	args = append(args, spec.Script)
	args = append(args, spec.Args...)

	return args, jobName
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func (a *Adapter) submit(ctx context.Context, spec jobtypes.SubmitSpec, logDir string, sync bool) (jobtypes.JobHandle, error) {
	if err := executil.EnsureDir(logDir); err != nil {
		return jobtypes.JobHandle{}, err
	}

	args, jobName := a.buildSubmitArgs(spec, logDir, sync)
	logger := logging.LogSubmission(a.Logger, string(jobtypes.BackendSlurm), jobName, append([]string{"sbatch"}, args...))

	result, err := executil.Run(ctx, "sbatch", args, "", nil)
	if err != nil {
		a.Metrics.RecordSubmissionError(string(jobtypes.BackendSlurm))
		logger.Error("sbatch submission failed", "stderr", result.Stderr)
		return jobtypes.JobHandle{}, batcherrors.NewSubmissionError(string(jobtypes.BackendSlurm), fmt.Errorf("sbatch: %w", err), result.Stderr)
	}

	id, err := extractID(result.Stdout)
	if err != nil {
		a.Metrics.RecordSubmissionError(string(jobtypes.BackendSlurm))
		return jobtypes.JobHandle{}, err
	}

	return jobtypes.JobHandle{Backend: jobtypes.BackendSlurm, ID: id}, nil
}

// extractID takes the whole first line of sbatch --parsable's stdout as
// the job id.
func extractID(stdout string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	if !scanner.Scan() {
		return "", fmt.Errorf("slurm: empty sbatch output")
	}
	id := strings.TrimSpace(scanner.Text())
	if id == "" {
		return "", fmt.Errorf("slurm: could not parse job id from sbatch output")
	}
	return id, nil
}

func (a *Adapter) Submit(ctx context.Context, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobHandle, error) {
	return a.submit(ctx, spec, logDir, false)
}

func (a *Adapter) SubmitSync(ctx context.Context, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobHandle, error) {
	return a.submit(ctx, spec, logDir, true)
}

func (a *Adapter) SubmitArraySingle(ctx context.Context, name string, values []string, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobSet, error) {
	set := make(jobtypes.JobSet, 0, len(values))
	for _, v := range values {
		legSpec := spec
		legSpec.Name = name + "_" + v
		legSpec.Args = append(append([]string{}, spec.Args...), v)

		handle, err := a.Submit(ctx, legSpec, logDir)
		if err != nil {
			return nil, err
		}
		set = append(set, handle)
	}
	a.Metrics.RecordArraySubmission(string(jobtypes.BackendSlurm), len(values))
	return set, nil
}

func (a *Adapter) SubmitArrayDouble(ctx context.Context, name string, outer, inner []string, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobSet, error) {
	set := make(jobtypes.JobSet, 0, len(outer)*len(inner))
	for _, o := range outer {
		for _, in := range inner {
			legSpec := spec
			legSpec.Name = name + "_" + o + "_" + in
			legSpec.Args = append(append([]string{}, spec.Args...), o, in)

			handle, err := a.Submit(ctx, legSpec, logDir)
			if err != nil {
				return nil, err
			}
			set = append(set, handle)
		}
	}
	a.Metrics.RecordArraySubmission(string(jobtypes.BackendSlurm), len(set))
	return set, nil
}

// Wait polls sacct for every handle until each reaches a terminal
// accounting state.
func (a *Adapter) Wait(ctx context.Context, set jobtypes.JobSet) error {
	if len(set) == 0 {
		return nil
	}
	if _, err := set.SameBackend(); err != nil {
		return err
	}

	ids := make([]string, len(set))
	for i, h := range set {
		ids[i] = h.ID
	}

	poller := watch.NewPoller(a.accountingProbe, a.queueProbe)
	poller.OnPoll = func(id string) { a.Metrics.RecordWaitPoll(string(jobtypes.BackendSlurm)) }
	poller.OnUnknown = func(id, state string) {
		obs := batcherrors.NewWaitObservationError(string(jobtypes.BackendSlurm), "unknown accounting state "+state)
		a.Logger.Warn("slurm job reported unrecognized accounting state, continuing to poll", "job_id", id, "error", obs)
	}
	poller.OnAnomaly = func(id string) {
		a.Logger.Warn("slurm job not found in accounting or live queue, giving up", "job_id", id)
	}

	return poller.Wait(ctx, ids)
}

func (a *Adapter) accountingProbe(ctx context.Context, jobID string) (string, error) {
	result, err := executil.Run(ctx, "sacct", []string{"-j", jobID, "--format=State", "--noheader", "--parsable2"}, "", nil)
	if err != nil {
		return "", fmt.Errorf("slurm: sacct failed for job %s: %w", jobID, err)
	}

	line := firstNonEmptyLine(result.Stdout)
	return strings.TrimSpace(line), nil
}

func (a *Adapter) queueProbe(ctx context.Context, jobID string) (bool, error) {
	result, err := executil.Run(ctx, "squeue", []string{"-j", jobID, "-h"}, "", nil)
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(result.Stdout) != "", nil
}

func firstNonEmptyLine(s string) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			return line
		}
	}
	return ""
}

// Slots honors SLURM_CPUS_ON_NODE / SLURM_JOB_CPUS_PER_NODE when running
// inside a managed job, else falls back to the host's core count.
func (a *Adapter) Slots() int {
	for _, key := range []string{"SLURM_CPUS_ON_NODE", "SLURM_JOB_CPUS_PER_NODE"} {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(firstToken(v)); err == nil && n > 0 {
				return n
			}
		}
	}
	return runtime.NumCPU()
}

func firstToken(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "(,"); i >= 0 {
		return s[:i]
	}
	return s
}

// InManagedJob reports whether the process is running inside a SLURM
// allocation, via SLURM_JOB_ID.
func (a *Adapter) InManagedJob() bool {
	return os.Getenv("SLURM_JOB_ID") != ""
}

var _ jobtypes.Adapter = (*Adapter)(nil)
