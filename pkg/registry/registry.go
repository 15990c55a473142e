// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package registry enumerates backend adapters in priority order,
// probes each for availability, and selects one — either the first
// available, or an explicitly requested backend that must itself pass
// its probe.
package registry

import (
	"context"
	"fmt"

	batcherrors "github.com/ashs-pipeline/batchsched/pkg/errors"
	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
	"github.com/ashs-pipeline/batchsched/pkg/logging"
	"github.com/ashs-pipeline/batchsched/pkg/metrics"
)

// Registry holds one Adapter instance per known backend.
type Registry struct {
	adapters map[jobtypes.Backend]jobtypes.Adapter
	logger   logging.Logger
	metrics  metrics.Collector
}

// New builds a Registry from the given adapters, keyed by their own
// Name(). A nil logger or collector falls back to a no-op.
func New(adapters []jobtypes.Adapter, logger logging.Logger, collector metrics.Collector) *Registry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	m := make(map[jobtypes.Backend]jobtypes.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}

	return &Registry{adapters: m, logger: logger, metrics: collector}
}

// ProbeResult records the outcome of probing a single backend, used by
// DetectVerbose for startup diagnostics.
type ProbeResult struct {
	Backend Backend
	OK      bool
	Reason  string
}

// Backend is a type alias so callers of this package don't need to
// import pkg/jobtypes solely to name a ProbeResult's Backend field.
type Backend = jobtypes.Backend

// Detect iterates priority in order, probing each adapter, and returns
// the first available one. local, if present, always succeeds and so
// acts as the terminal fallback: a run never fails to find
// a backend as long as local is reachable in the priority list.
func (r *Registry) Detect(ctx context.Context, priority []Backend) (jobtypes.Adapter, error) {
	results, err := r.detectAll(ctx, priority)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if res.OK {
			return r.adapters[res.Backend], nil
		}
	}
	return nil, fmt.Errorf("registry: no backend in priority list is available")
}

// DetectVerbose runs the same probe sequence as Detect but returns every
// result, not just the winner — used for startup diagnostics.
func (r *Registry) DetectVerbose(ctx context.Context, priority []Backend) ([]ProbeResult, error) {
	return r.detectAll(ctx, priority)
}

func (r *Registry) detectAll(ctx context.Context, priority []Backend) ([]ProbeResult, error) {
	results := make([]ProbeResult, 0, len(priority))
	for _, name := range priority {
		adapter, ok := r.adapters[name]
		if !ok {
			return nil, fmt.Errorf("registry: no adapter registered for backend %q", name)
		}

		ok, reason := adapter.Detect(ctx)
		r.metrics.RecordDetection(string(name), ok)
		r.logger.Debug("backend probe", "backend", name, "available", ok, "reason", reason)

		results = append(results, ProbeResult{Backend: name, OK: ok, Reason: reason})
	}
	return results, nil
}

// SelectExplicit runs the availability probe for exactly the named
// backend, without walking the priority list. If the probe fails, the
// returned error names both the requested backend and the missing
// prerequisite.
func (r *Registry) SelectExplicit(ctx context.Context, name Backend) (jobtypes.Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("registry: no adapter registered for backend %q", name)
	}

	available, reason := adapter.Detect(ctx)
	r.metrics.RecordDetection(string(name), available)
	if !available {
		return nil, batcherrors.NewDetectionError(string(name), reason)
	}

	return adapter, nil
}

// Select resolves backendSelector ("auto" or an explicit backend name).
// For "auto" (or empty) it walks the priority list, falling through to
// the next candidate whenever a probe fails; an explicit name is probed
// alone via SelectExplicit and its probe failure is returned.
func (r *Registry) Select(ctx context.Context, backendSelector string, priority []Backend) (jobtypes.Adapter, error) {
	if backendSelector == "" || backendSelector == "auto" {
		return r.Detect(ctx, priority)
	}

	backend := jobtypes.Backend(backendSelector)
	if !backend.Valid() {
		return nil, fmt.Errorf("registry: unknown backend selector %q", backendSelector)
	}
	return r.SelectExplicit(ctx, backend)
}
