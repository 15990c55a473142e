// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package batchsched

import (
	"github.com/ashs-pipeline/batchsched/pkg/config"
	batchctx "github.com/ashs-pipeline/batchsched/pkg/context"
	"github.com/ashs-pipeline/batchsched/pkg/logging"
	"github.com/ashs-pipeline/batchsched/pkg/metrics"
)

// options collects the values the functional Option list may set before
// New resolves a Scheduler.
type options struct {
	configPath      string
	workDir         string
	installRoot     string
	explicitBackend string // caller override; beats config and legacy env

	logger  logging.Logger
	metrics metrics.Collector
	timeout *batchctx.TimeoutConfig

	dryRun bool
}

// Option configures a Scheduler at construction time.
type Option func(*options)

// WithConfigPath supplies an explicit configuration document path,
// first in the search order.
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithWorkDir sets the pipeline work directory used to resolve the
// config search path and the LogDirectory.
func WithWorkDir(dir string) Option {
	return func(o *options) { o.workDir = dir }
}

// WithInstallRoot sets the install-root fallback for the config search
// path.
func WithInstallRoot(dir string) Option {
	return func(o *options) { o.installRoot = dir }
}

// WithExplicitBackend forces backend selection, overriding both the
// configuration file and the legacy environment bridge.
func WithExplicitBackend(name string) Option {
	return func(o *options) { o.explicitBackend = name }
}

// WithLogger installs a structured logger used by the registry, the
// compiler's callers, and every adapter.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics installs a metrics collector.
func WithMetrics(collector metrics.Collector) Option {
	return func(o *options) { o.metrics = collector }
}

// WithTimeouts overrides the default per-operation timeout
// configuration.
func WithTimeouts(t *batchctx.TimeoutConfig) Option {
	return func(o *options) { o.timeout = t }
}

// WithDryRun compiles and logs the submission command line without
// invoking the backend, returning a synthetic handle.
func WithDryRun(dryRun bool) Option {
	return func(o *options) { o.dryRun = dryRun }
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:  logging.NoOpLogger{},
		metrics: metrics.NoOpCollector{},
		timeout: batchctx.DefaultTimeoutConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// resolvedBackendSelector prefers an explicit caller argument over the
// resolved SchedulerConfig (which already has the legacy env bridge
// folded in by config.Load).
func (o *options) resolvedBackendSelector(cfg *config.SchedulerConfig) string {
	if o.explicitBackend != "" {
		return o.explicitBackend
	}
	return cfg.BackendSelector
}
