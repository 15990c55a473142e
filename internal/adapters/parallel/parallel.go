// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package parallel implements the jobtypes.Adapter contract for the
// local multi-process backend built on GNU parallel: a single job is a
// background child process, and an array submission is one parallel
// invocation that fans the values out internally.
package parallel

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ashs-pipeline/batchsched/pkg/executil"
	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
	"github.com/ashs-pipeline/batchsched/pkg/logging"
	"github.com/ashs-pipeline/batchsched/pkg/metrics"
	"github.com/ashs-pipeline/batchsched/pkg/resources"
)

// Adapter is the local multi-process backend. A JobHandle's ID is the
// spawned process's PID: Wait is correct only because,
// for array submissions, the `parallel` binary does not exit until every
// one of its fanned-out children has.
type Adapter struct {
	JobPrefix string
	ExtraOpts string
	Logger    logging.Logger
	Metrics   metrics.Collector

	mu       sync.Mutex
	inFlight map[string]*exec.Cmd
}

// New builds a parallel adapter.
func New(jobPrefix, extraOpts string, logger logging.Logger, collector metrics.Collector) *Adapter {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Adapter{
		JobPrefix: jobPrefix, ExtraOpts: extraOpts, Logger: logger, Metrics: collector,
		inFlight: make(map[string]*exec.Cmd),
	}
}

func (a *Adapter) Name() jobtypes.Backend { return jobtypes.BackendParallel }

// Detect requires the `parallel` binary to resolve on PATH.
func (a *Adapter) Detect(ctx context.Context) (bool, string) {
	if !executil.LookPath("parallel") {
		return false, "parallel not found on PATH"
	}
	return true, ""
}

func (a *Adapter) BuildOpts(req jobtypes.ResourceRequest) []string {
	return resources.Compile(jobtypes.BackendParallel, req, a.ExtraOpts)
}

func (a *Adapter) cores(req jobtypes.ResourceRequest) int {
	if req.Cores > 0 {
		return req.Cores
	}
	return runtime.NumCPU()
}

func (a *Adapter) jobName(name string) string {
	return a.JobPrefix + "_" + name
}

func (a *Adapter) track(pid int, cmd *exec.Cmd) jobtypes.JobHandle {
	id := strconv.Itoa(pid)
	a.mu.Lock()
	a.inFlight[id] = cmd
	a.mu.Unlock()
	return jobtypes.JobHandle{Backend: jobtypes.BackendParallel, ID: id}
}

// submit forks spec.Script directly as a single background process;
// there is no `parallel` invocation for a non-array submission.
func (a *Adapter) submit(ctx context.Context, spec jobtypes.SubmitSpec, logDir string, sync bool) (jobtypes.JobHandle, error) {
	if err := executil.EnsureDir(logDir); err != nil {
		return jobtypes.JobHandle{}, err
	}

	jobName := a.jobName(spec.Name)
	args := append([]string{spec.Script}, spec.Args...)

	if sync {
		a.Logger.Debug("parallel submit_sync", "job", jobName, "script", spec.Script)
		result, err := executil.Run(ctx, "bash", args, "", nil)
		if err != nil {
			a.Metrics.RecordSubmissionError(string(jobtypes.BackendParallel))
			return jobtypes.JobHandle{}, fmt.Errorf("parallel: job %q failed: %w (stderr: %s)", jobName, err, result.Stderr)
		}
		return jobtypes.JobHandle{Backend: jobtypes.BackendParallel, ID: "0"}, nil
	}

	stdout, stderr, err := executil.OpenLogFiles(logDir, jobName+"."+strconv.Itoa(os.Getpid()))
	if err != nil {
		return jobtypes.JobHandle{}, err
	}
	defer stdout.Close()
	defer stderr.Close()

	cmd, err := executil.Start(ctx, "bash", args, "", nil, stdout, stderr)
	if err != nil {
		a.Metrics.RecordSubmissionError(string(jobtypes.BackendParallel))
		return jobtypes.JobHandle{}, fmt.Errorf("parallel: failed to start job %q: %w", jobName, err)
	}

	a.Logger.Debug("parallel submit", "job", jobName, "pid", cmd.Process.Pid)
	return a.track(cmd.Process.Pid, cmd), nil
}

func (a *Adapter) Submit(ctx context.Context, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobHandle, error) {
	return a.submit(ctx, spec, logDir, false)
}

func (a *Adapter) SubmitSync(ctx context.Context, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobHandle, error) {
	return a.submit(ctx, spec, logDir, true)
}

// SubmitArraySingle issues exactly one `parallel` invocation fanning the
// values out internally: `parallel -j C [extra] bash
// script [prefix-args] {} ::: v1 v2 ...`.
func (a *Adapter) SubmitArraySingle(ctx context.Context, name string, values []string, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobSet, error) {
	if err := executil.EnsureDir(logDir); err != nil {
		return nil, err
	}

	jobName := a.jobName(name)
	args := []string{"-j", strconv.Itoa(a.cores(spec.Resources))}
	if a.ExtraOpts != "" {
		args = append(args, strings.Fields(a.ExtraOpts)...)
	}
	args = append(args, "bash", spec.Script)
	args = append(args, spec.Args...)
	args = append(args, "{}", ":::")
	args = append(args, values...)

	return a.runParallel(ctx, jobName, args, logDir, len(values))
}

// SubmitArrayDouble issues one `parallel` invocation with two `:::`
// operand lists, outer-major: `parallel -j C bash script
// {1} {2} ::: o1 o2 ::: i1 i2`.
func (a *Adapter) SubmitArrayDouble(ctx context.Context, name string, outer, inner []string, spec jobtypes.SubmitSpec, logDir string) (jobtypes.JobSet, error) {
	if err := executil.EnsureDir(logDir); err != nil {
		return nil, err
	}

	jobName := a.jobName(name)
	args := []string{"-j", strconv.Itoa(a.cores(spec.Resources))}
	if a.ExtraOpts != "" {
		args = append(args, strings.Fields(a.ExtraOpts)...)
	}
	args = append(args, "bash", spec.Script)
	args = append(args, spec.Args...)
	args = append(args, "{1}", "{2}", ":::")
	args = append(args, outer...)
	args = append(args, ":::")
	args = append(args, inner...)

	return a.runParallel(ctx, jobName, args, logDir, len(outer)*len(inner))
}

func (a *Adapter) runParallel(ctx context.Context, jobName string, args []string, logDir string, fanOut int) (jobtypes.JobSet, error) {
	stdout, stderr, err := executil.OpenLogFiles(logDir, jobName+"."+strconv.Itoa(os.Getpid()))
	if err != nil {
		return nil, err
	}
	defer stdout.Close()
	defer stderr.Close()

	a.Logger.Debug("parallel array submit", "job", jobName, "argv", append([]string{"parallel"}, args...))

	cmd, err := executil.Start(ctx, "parallel", args, "", nil, stdout, stderr)
	if err != nil {
		a.Metrics.RecordSubmissionError(string(jobtypes.BackendParallel))
		return nil, fmt.Errorf("parallel: failed to start array job %q: %w", jobName, err)
	}

	a.Metrics.RecordArraySubmission(string(jobtypes.BackendParallel), fanOut)
	handle := a.track(cmd.Process.Pid, cmd)
	return jobtypes.JobSet{handle}, nil
}

// Wait reaps every held process id. For an array handle this blocks on
// the `parallel` process itself, which is correct only because
// `parallel` does not exit until all its fanned-out children have.
func (a *Adapter) Wait(ctx context.Context, set jobtypes.JobSet) error {
	if len(set) == 0 {
		return nil
	}
	if _, err := set.SameBackend(); err != nil {
		return err
	}

	// Reap every handle's process concurrently: distinct JobHandles are
	// independent, so one slow child must not delay reaping the rest.
	g := new(errgroup.Group)
	for _, h := range set {
		h := h
		if h.ID == "0" {
			continue
		}

		g.Go(func() error {
			a.mu.Lock()
			cmd, ok := a.inFlight[h.ID]
			if ok {
				delete(a.inFlight, h.ID)
			}
			a.mu.Unlock()

			if !ok {
				a.Logger.Warn("parallel wait: pid not tracked by this process, skipping", "pid", h.ID)
				return nil
			}

			a.Metrics.RecordWaitPoll(string(jobtypes.BackendParallel))
			if err := cmd.Wait(); err != nil {
				a.Logger.Warn("parallel wait: job exited non-zero", "pid", h.ID, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Slots reports the host's detected core count; the parallel backend
// has no cluster-side slot accounting to honor.
func (a *Adapter) Slots() int {
	return runtime.NumCPU()
}

// InManagedJob always reports false: `parallel` is a local fan-out, not
// a cluster workload manager allocation.
func (a *Adapter) InManagedJob() bool {
	return false
}

var _ jobtypes.Adapter = (*Adapter)(nil)
