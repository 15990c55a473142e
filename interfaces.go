// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// This file re-exports the shared data-model types from pkg/jobtypes and
// pkg/config so that callers of this package rarely need to import those
// subpackages directly. Concrete logic lives in scheduler.go and
// options.go.

package batchsched

import (
	"github.com/ashs-pipeline/batchsched/pkg/config"
	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
)

// Backend identifies a concrete workload-manager implementation.
type Backend = jobtypes.Backend

const (
	BackendSlurm    = jobtypes.BackendSlurm
	BackendSGE      = jobtypes.BackendSGE
	BackendLSF      = jobtypes.BackendLSF
	BackendParallel = jobtypes.BackendParallel
	BackendLocal    = jobtypes.BackendLocal
)

// NotifyPolicy is the notification event filter applied to a submission.
type NotifyPolicy = jobtypes.NotifyPolicy

const (
	NotifyNone  = jobtypes.NotifyNone
	NotifyAll   = jobtypes.NotifyAll
	NotifyFail  = jobtypes.NotifyFail
	NotifyEnd   = jobtypes.NotifyEnd
	NotifyBegin = jobtypes.NotifyBegin
)

// JobHandle is an opaque, backend-tagged job identifier.
type JobHandle = jobtypes.JobHandle

// JobSet is an ordered sequence of handles returned by an array
// submission.
type JobSet = jobtypes.JobSet

// ResourceRequest is the generic, backend-agnostic resource description
// a stage compiles into backend flags.
type ResourceRequest = jobtypes.ResourceRequest

// SchedulerConfig is the resolved, immutable configuration for a single
// pipeline run.
type SchedulerConfig = config.SchedulerConfig

// Adapter is the capability set every backend implements.
type Adapter = jobtypes.Adapter
