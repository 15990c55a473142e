// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package batchsched

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashs-pipeline/batchsched/internal/adapters/local"
	"github.com/ashs-pipeline/batchsched/internal/adapters/lsf"
	"github.com/ashs-pipeline/batchsched/internal/adapters/parallel"
	"github.com/ashs-pipeline/batchsched/internal/adapters/sge"
	"github.com/ashs-pipeline/batchsched/internal/adapters/slurm"
	"github.com/ashs-pipeline/batchsched/pkg/config"
	batchctx "github.com/ashs-pipeline/batchsched/pkg/context"
	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
	"github.com/ashs-pipeline/batchsched/pkg/logging"
	"github.com/ashs-pipeline/batchsched/pkg/metrics"
	"github.com/ashs-pipeline/batchsched/pkg/registry"
)

// Scheduler is the public submission façade: it holds exactly one
// selected backend adapter per process and exposes the five submission
// operations plus the two auxiliary ones over it. Construct one with
// New and carry it explicitly; there is no package-level scheduler
// state here.
type Scheduler struct {
	backend jobtypes.Adapter
	config  *config.SchedulerConfig
	logger  logging.Logger
	metrics metrics.Collector
	timeout *batchctx.TimeoutConfig
	logDir  string
	dryRun  bool
}

// New resolves configuration, detects (or honors an explicit choice of)
// a backend, and returns a ready-to-use Scheduler.
func New(ctx context.Context, opts ...Option) (*Scheduler, error) {
	o := newOptions(opts)

	installRoot := o.installRoot
	if installRoot == "" {
		if exe, err := os.Executable(); err == nil {
			installRoot = filepath.Dir(exe)
		}
	}

	cfg, err := config.Load(o.configPath, o.workDir, installRoot)
	if err != nil {
		return nil, err
	}

	reg := registry.New(buildAdapters(cfg, o.logger, o.metrics), o.logger, o.metrics)

	selector := o.resolvedBackendSelector(cfg)
	adapter, err := reg.Select(ctx, selector, cfg.Priority)
	if err != nil {
		return nil, err
	}

	o.logger.Info("scheduler backend selected", "backend", adapter.Name(), "selector", selector)

	logDir := logDirFor(cfg.WorkDir)

	return &Scheduler{
		backend: adapter,
		config:  cfg,
		logger:  o.logger,
		metrics: o.metrics,
		timeout: o.timeout,
		logDir:  logDir,
		dryRun:  o.dryRun,
	}, nil
}

// buildAdapters constructs one instance of every known backend, each
// carrying the job-name prefix and its own extra_opts string from the
// resolved configuration.
func buildAdapters(cfg *config.SchedulerConfig, logger logging.Logger, collector metrics.Collector) []jobtypes.Adapter {
	extra := func(b jobtypes.Backend) string { return cfg.ExtraOpts[b] }
	return []jobtypes.Adapter{
		slurm.New(cfg.JobPrefix, extra(jobtypes.BackendSlurm), logger, collector),
		sge.New(cfg.JobPrefix, extra(jobtypes.BackendSGE), logger, collector),
		lsf.New(cfg.JobPrefix, extra(jobtypes.BackendLSF), logger, collector),
		parallel.New(cfg.JobPrefix, extra(jobtypes.BackendParallel), logger, collector),
		local.New(cfg.JobPrefix, logger, collector),
	}
}

// logDirFor derives the LogDirectory path: "<work>/dump", or
// "<cwd>/dump" if no work directory is configured.
func logDirFor(workDir string) string {
	if workDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			workDir = cwd
		}
	}
	return filepath.Join(workDir, "dump")
}

// Backend reports the name of the single active backend for this
// process.
func (s *Scheduler) Backend() jobtypes.Backend {
	return s.backend.Name()
}

// Config returns the resolved, immutable SchedulerConfig for this run.
func (s *Scheduler) Config() *config.SchedulerConfig {
	return s.config
}

// LogDir returns the shared LogDirectory path for this run.
func (s *Scheduler) LogDir() string {
	return s.logDir
}

// Stats returns the current metrics snapshot.
func (s *Scheduler) Stats() *metrics.Stats {
	return s.metrics.GetStats()
}

// resourcesForStage derives a ResourceRequest from the resolved config
// and a stage index, honoring per-stage overrides. The derivation works
// on a deep copy of the config so a submission never reads shared
// mutable state.
func (s *Scheduler) resourcesForStage(stage int) jobtypes.ResourceRequest {
	cfg := s.config.Clone()
	return jobtypes.ResourceRequest{
		Stage:        stage,
		Memory:       cfg.MemoryForStage(stage),
		Cores:        cfg.CoresForStage(stage),
		Walltime:     cfg.WalltimeForStage(stage),
		Queue:        cfg.DefaultQueue,
		NotifyEmail:  cfg.NotifyEmail,
		NotifyPolicy: cfg.NotifyEvents,
	}
}

func (s *Scheduler) spec(stage int, name, script string, args []string) jobtypes.SubmitSpec {
	return jobtypes.SubmitSpec{
		Name:      name,
		Script:    script,
		Args:      args,
		Resources: s.resourcesForStage(stage),
	}
}

// dryRunHandle compiles and logs the submission command line without
// invoking the backend.
func (s *Scheduler) dryRunHandle(spec jobtypes.SubmitSpec) jobtypes.JobHandle {
	argv := append([]string{spec.Script}, spec.Args...)
	opts := s.backend.BuildOpts(spec.Resources)
	s.logger.Info("dry-run: would submit",
		"backend", s.backend.Name(), "name", spec.Name, "opts", opts, "argv", argv)
	return jobtypes.JobHandle{Backend: s.backend.Name(), ID: "dryrun"}
}

// Submit submits a single asynchronous job for the given pipeline stage.
func (s *Scheduler) Submit(ctx context.Context, stage int, name, script string, args ...string) (jobtypes.JobHandle, error) {
	spec := s.spec(stage, name, script, args)
	if s.dryRun {
		return s.dryRunHandle(spec), nil
	}

	ctx, cancel := batchctx.WithTimeout(ctx, batchctx.OpSubmit, s.timeout)
	defer cancel()

	start := time.Now()
	handle, err := s.backend.Submit(ctx, spec, s.logDir)
	if err != nil {
		return jobtypes.JobHandle{}, batchctx.WrapOpError(err, "submit:"+string(s.backend.Name()), s.timeout.Submit)
	}
	s.metrics.RecordSubmission(string(s.backend.Name()), time.Since(start))
	return handle, nil
}

// SubmitSync submits a single job and blocks until it terminates.
func (s *Scheduler) SubmitSync(ctx context.Context, stage int, name, script string, args ...string) (jobtypes.JobHandle, error) {
	spec := s.spec(stage, name, script, args)
	if s.dryRun {
		return s.dryRunHandle(spec), nil
	}

	start := time.Now()
	handle, err := s.backend.SubmitSync(ctx, spec, s.logDir)
	if err != nil {
		return jobtypes.JobHandle{}, fmt.Errorf("submit_sync: %w", err)
	}
	s.metrics.RecordSubmission(string(s.backend.Name()), time.Since(start))
	return handle, nil
}

// SubmitArraySingle submits a 1-D parameter sweep: one job per value in
// values, with the value as the final positional argument.
func (s *Scheduler) SubmitArraySingle(ctx context.Context, stage int, name, script string, values []string, prefixArgs ...string) (jobtypes.JobSet, error) {
	spec := s.spec(stage, name, script, prefixArgs)
	if s.dryRun {
		return jobtypes.JobSet{s.dryRunHandle(spec)}, nil
	}

	ctx, cancel := batchctx.WithTimeout(ctx, batchctx.OpSubmit, s.timeout)
	defer cancel()

	start := time.Now()
	set, err := s.backend.SubmitArraySingle(ctx, name, values, spec, s.logDir)
	if err != nil {
		return nil, fmt.Errorf("submit_array_single: %w", err)
	}
	s.metrics.RecordSubmission(string(s.backend.Name()), time.Since(start))
	return set, nil
}

// SubmitArrayDouble submits a 2-D Cartesian-product array, outer-major.
func (s *Scheduler) SubmitArrayDouble(ctx context.Context, stage int, name, script string, outer, inner []string, prefixArgs ...string) (jobtypes.JobSet, error) {
	spec := s.spec(stage, name, script, prefixArgs)
	if s.dryRun {
		return jobtypes.JobSet{s.dryRunHandle(spec)}, nil
	}

	ctx, cancel := batchctx.WithTimeout(ctx, batchctx.OpSubmit, s.timeout)
	defer cancel()

	start := time.Now()
	set, err := s.backend.SubmitArrayDouble(ctx, name, outer, inner, spec, s.logDir)
	if err != nil {
		return nil, fmt.Errorf("submit_array_double: %w", err)
	}
	s.metrics.RecordSubmission(string(s.backend.Name()), time.Since(start))
	return set, nil
}

// Wait blocks until every handle in set has reached a terminal state.
// Every handle must belong to the active backend; mixing a handle
// minted by a different backend is a detectable programming error, not
// a silent malfunction.
func (s *Scheduler) Wait(ctx context.Context, set jobtypes.JobSet) error {
	if len(set) == 0 {
		return nil
	}
	for _, h := range set {
		if err := h.CheckBackend(s.backend.Name()); err != nil {
			return err
		}
	}

	ctx, cancel := batchctx.WithTimeout(ctx, batchctx.OpWait, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.backend.Wait(ctx, set)
	s.metrics.RecordWaitComplete(string(s.backend.Name()), time.Since(start))
	return err
}

// Slots reports the cores available to the current execution context.
func (s *Scheduler) Slots() int {
	return s.backend.Slots()
}

// InManagedJob reports whether the process is executing within a job
// allocated by the active backend.
func (s *Scheduler) InManagedJob() bool {
	return s.backend.InManagedJob()
}

// DetectionReport exposes, for every backend in priority order, whether
// its probe passed and why it didn't.
func DetectionReport(ctx context.Context, cfg *config.SchedulerConfig, logger logging.Logger, collector metrics.Collector) ([]registry.ProbeResult, error) {
	reg := registry.New(buildAdapters(cfg, logger, collector), logger, collector)
	return reg.DetectVerbose(ctx, cfg.Priority)
}
