// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package sge implements the jobtypes.Adapter contract for SGE/OGS: qsub
// for submission, a dependent sentinel job held on the target identifier
// for the wait barrier.
package sge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	batcherrors "github.com/ashs-pipeline/batchsched/pkg/errors"
	"github.com/ashs-pipeline/batchsched/pkg/executil"
	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
	"github.com/ashs-pipeline/batchsched/pkg/logging"
	"github.com/ashs-pipeline/batchsched/pkg/metrics"
	"github.com/ashs-pipeline/batchsched/pkg/resources"
)

// RootEnvVar names the environment variable that must be set for SGE to
// be considered a candidate backend.
const RootEnvVar = "SGE_ROOT"

// Adapter is the SGE/OGS backend.
type Adapter struct {
	JobPrefix string
	ExtraOpts string
	Logger    logging.Logger
	Metrics   metrics.Collector
}

// New builds an SGE adapter.
func New(jobPrefix, extraOpts string, logger logging.Logger, collector metrics.Collector) *Adapter {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Adapter{JobPrefix: jobPrefix, ExtraOpts: extraOpts, Logger: logger, Metrics: collector}
}

func (a *Adapter) Name() jobtypes.Backend { return jobtypes.BackendSGE }

// Detect requires SGE_ROOT to be set and qsub to resolve on PATH.
func (a *Adapter) Detect(ctx context.Context) (bool, string) {
	if os.Getenv(RootEnvVar) == "" {
		return false, RootEnvVar + " environment variable is not set"
	}
	if !executil.LookPath("qsub") {
		return false, "qsub not found on PATH"
	}
	return true, ""
}

func (a *Adapter) BuildOpts(req jobtypes.ResourceRequest) []string {
	return resources.Compile(jobtypes.BackendSGE, req, a.ExtraOpts)
}

func (a *Adapter) jobName(name string) string {
	return a.JobPrefix + "_" + name
}

// buildSubmitArgs assembles the qsub argv in the expected shape:
// `-N <name> -cwd -V <opts> -o <log-dir> <script> [args...]`.
func (a *Adapter) buildSubmitArgs(spec jobtypes.SubmitSpec, logDir string, sync bool) ([]string, string) {
	jobName := a.jobName(spec.Name)

	args := []string{"-N", jobName, "-cwd", "-V"}
	args = append(args, a.BuildOpts(spec.Resources)...)
	args = append(args, "-o", logDir+string(filepath.Separator))
	if sync {
		args = append(args, "-sync", "y")
	}
	args = append(args, spec.Script)
	args = append(args, spec.Args...)

	return args, jobName
}

func (a *Adapter) submit(ctx context.Context, spec jobtypes.SubmitSpec, logDir string, sync bool) (jobtypes.JobHandle, error) {
	if err := executil.EnsureDir(logDir); err != nil {
		return jobtypes.JobHandle{}, err
	}

	args, jobName := a.buildSubmitArgs(spec, logDir, sync)
	logger := logging.LogSubmission(a.Logger, string(jobtypes.BackendSGE), jobName, append([]string{"qsub"}, args...))

	result, err := executil.Run(ctx, "qsub", args, "", nil)
	if err != nil {
		a.Metrics.RecordSubmissionError(string(jobtypes.BackendSGE))
		logger.Error("qsub submission failed", "stderr", result.Stderr)
		return jobtypes.JobHandle{}, batcherrors.NewSubmissionError(string(jobtypes.BackendSGE), fmt.Errorf("qsub: %w", err), result.Stderr)
	}

	id, err := extractID(result.Stdout)
	if err != nil {
		a.Metrics.RecordSubmissionError(string(jobtypes.BackendSGE))
		return jobtypes.JobHandle{}, err
	}

	return jobtypes.JobHandle{Backend: jobtypes.BackendSGE, ID: id}, nil
}

var jobLineRe = regexp.MustCompile(`Your job\s+(\d+)`)

// extractID takes the third whitespace-delimited token of qsub's
// "Your job <id> (<name>) has been submitted" message, falling back to
// any decimal run following the "Your job" token.
func extractID(stdout string) (string, error) {
	fields := strings.Fields(stdout)
	for i, f := range fields {
		if f == "job" && i > 0 && fields[i-1] == "Your" && i+1 < len(fields) {
			if _, err := strconv.Atoi(fields[i+1]); err == nil {
				return fields[i+1], nil
			}
		}
	}
	if m := jobLineRe.FindStringSubmatch(stdout); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("sge: could not parse job id from qsub output: %q", stdout)
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
	a.Metrics.RecordArraySubmission(string(jobtypes.BackendSGE), len(values))
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
	a.Metrics.RecordArraySubmission(string(jobtypes.BackendSGE), len(set))
	return set, nil
}

// Wait submits a trivial sentinel job held on every target identifier
// (-hold_jid) and blocks on it synchronously (-sync y).
// The sentinel's own stderr is discarded: if
// the sentinel itself fails to schedule, that failure is swallowed
// rather than surfaced, inherited unchanged from the source behavior.
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

	sentinelName := jobtypes.NewSentinelName(a.JobPrefix + "_sentinel")
	args := []string{
		"-N", sentinelName,
		"-hold_jid", strings.Join(ids, ","),
		"-sync", "y",
		"-b", "y",
		"/bin/true",
	}

	a.Logger.Debug("sge wait: submitting sentinel job", "sentinel", sentinelName, "holds", ids)
	a.Metrics.RecordWaitPoll(string(jobtypes.BackendSGE))

	_, err := executil.Run(ctx, "qsub", args, "", nil)
	if err != nil {
		// Sentinel failures are swallowed, not reraised: the barrier
		// still returns.
		obs := batcherrors.NewWaitObservationError(string(jobtypes.BackendSGE), "sentinel job failed: "+err.Error())
		a.Logger.Warn("sge wait: sentinel job failed", "sentinel", sentinelName, "error", obs)
	}

	return nil
}

// Slots honors NSLOTS when running inside a managed job.
func (a *Adapter) Slots() int {
	if v := os.Getenv("NSLOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

// InManagedJob reports whether the process is running inside an SGE job,
// via JOB_ID.
func (a *Adapter) InManagedJob() bool {
	return os.Getenv("JOB_ID") != ""
}

var _ jobtypes.Adapter = (*Adapter)(nil)
