// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package lsf implements the jobtypes.Adapter contract for IBM Spectrum
// LSF: bsub for submission, a dependent sentinel job with an
// "ended(...)" predicate for the wait barrier.
package lsf

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

// RootEnvVar names the environment variable that must be set for LSF to
// be considered a candidate backend.
const RootEnvVar = "LSF_BINDIR"

// Adapter is the LSF backend.
type Adapter struct {
	JobPrefix string
	ExtraOpts string
	Logger    logging.Logger
	Metrics   metrics.Collector
}

// New builds an LSF adapter.
func New(jobPrefix, extraOpts string, logger logging.Logger, collector metrics.Collector) *Adapter {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Adapter{JobPrefix: jobPrefix, ExtraOpts: extraOpts, Logger: logger, Metrics: collector}
}

func (a *Adapter) Name() jobtypes.Backend { return jobtypes.BackendLSF }

// Detect requires LSF_BINDIR to be set and bsub to resolve on PATH.
func (a *Adapter) Detect(ctx context.Context) (bool, string) {
	if os.Getenv(RootEnvVar) == "" {
		return false, RootEnvVar + " environment variable is not set"
	}
	if !executil.LookPath("bsub") {
		return false, "bsub not found on PATH"
	}
	return true, ""
}

func (a *Adapter) BuildOpts(req jobtypes.ResourceRequest) []string {
	return resources.Compile(jobtypes.BackendLSF, req, a.ExtraOpts)
}

func (a *Adapter) jobName(name string) string {
	return a.JobPrefix + "_" + name
}

// buildSubmitArgs assembles the bsub argv: `-J <name> -o <out> -e <err>
// <opts> [-K] <script> [args...]`.
func (a *Adapter) buildSubmitArgs(spec jobtypes.SubmitSpec, logDir string, sync bool) ([]string, string) {
	jobName := a.jobName(spec.Name)
	outPath := filepath.Join(logDir, jobName+".%J.out")
	errPath := filepath.Join(logDir, jobName+".%J.err")

	args := []string{"-J", jobName, "-o", outPath, "-e", errPath}
	args = append(args, a.BuildOpts(spec.Resources)...)
	if sync {
		args = append(args, "-K")
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
	logger := logging.LogSubmission(a.Logger, string(jobtypes.BackendLSF), jobName, append([]string{"bsub"}, args...))

	result, err := executil.Run(ctx, "bsub", args, "", nil)
	if err != nil {
		a.Metrics.RecordSubmissionError(string(jobtypes.BackendLSF))
		logger.Error("bsub submission failed", "stderr", result.Stderr)
		return jobtypes.JobHandle{}, batcherrors.NewSubmissionError(string(jobtypes.BackendLSF), fmt.Errorf("bsub: %w", err), result.Stderr)
	}

	id, err := extractID(result.Stdout)
	if err != nil {
		a.Metrics.RecordSubmissionError(string(jobtypes.BackendLSF))
		return jobtypes.JobHandle{}, err
	}

	return jobtypes.JobHandle{Backend: jobtypes.BackendLSF, ID: id}, nil
}

var angleBracketRe = regexp.MustCompile(`<(\d+)>`)

// extractID takes the decimal run enclosed by the first "<...>"
// delimiters of bsub's "Job <<id>> is submitted to queue <<q>>." message.
func extractID(stdout string) (string, error) {
	m := angleBracketRe.FindStringSubmatch(stdout)
	if m == nil {
		return "", fmt.Errorf("lsf: could not parse job id from bsub output: %q", stdout)
	}
	return m[1], nil
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
	a.Metrics.RecordArraySubmission(string(jobtypes.BackendLSF), len(values))
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
	a.Metrics.RecordArraySubmission(string(jobtypes.BackendLSF), len(set))
	return set, nil
}

// Wait submits a trivial sentinel job with a completion-dependency
// predicate ("ended(<id>) && ...") and the synchronous flag. The
// sentinel's own stderr is discarded; a sentinel submission failure is
// logged but does not fail the wait.
func (a *Adapter) Wait(ctx context.Context, set jobtypes.JobSet) error {
	if len(set) == 0 {
		return nil
	}
	if _, err := set.SameBackend(); err != nil {
		return err
	}

	predicates := make([]string, len(set))
	for i, h := range set {
		predicates[i] = fmt.Sprintf("ended(%s)", h.ID)
	}

	sentinelName := jobtypes.NewSentinelName(a.JobPrefix + "_sentinel")
	args := []string{
		"-J", sentinelName,
		"-w", strings.Join(predicates, " && "),
		"-K",
		"/bin/true",
	}

	a.Logger.Debug("lsf wait: submitting sentinel job", "sentinel", sentinelName, "predicate", args[3])
	a.Metrics.RecordWaitPoll(string(jobtypes.BackendLSF))

	_, err := executil.Run(ctx, "bsub", args, "", nil)
	if err != nil {
		// Sentinel failures are swallowed, not reraised: the barrier
		// still returns.
		obs := batcherrors.NewWaitObservationError(string(jobtypes.BackendLSF), "sentinel job failed: "+err.Error())
		a.Logger.Warn("lsf wait: sentinel job failed", "sentinel", sentinelName, "error", obs)
	}

	return nil
}

// Slots honors LSB_DJOB_NUMPROC when running inside a managed job, else
// falls back to the host's core count.
func (a *Adapter) Slots() int {
	if v := os.Getenv("LSB_DJOB_NUMPROC"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

// InManagedJob reports whether the process is running inside an LSF job,
// via LSB_JOBID.
func (a *Adapter) InManagedJob() bool {
	return os.Getenv("LSB_JOBID") != ""
}

var _ jobtypes.Adapter = (*Adapter)(nil)
