// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package jobtypes defines the backend-agnostic types shared by every
// scheduler adapter: the Backend enumeration, the opaque JobHandle, the
// generic ResourceRequest, and the Adapter contract itself.
package jobtypes

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Backend identifies a concrete workload-manager implementation.
type Backend string

const (
	BackendSlurm    Backend = "slurm"
	BackendSGE      Backend = "sge"
	BackendLSF      Backend = "lsf"
	BackendParallel Backend = "parallel"
	BackendLocal    Backend = "local"
)

// Valid reports whether b names one of the five recognized backends.
func (b Backend) Valid() bool {
	switch b {
	case BackendSlurm, BackendSGE, BackendLSF, BackendParallel, BackendLocal:
		return true
	default:
		return false
	}
}

// NotifyPolicy is the notification event filter applied to a submission.
type NotifyPolicy string

const (
	NotifyNone  NotifyPolicy = "none"
	NotifyAll   NotifyPolicy = "all"
	NotifyFail  NotifyPolicy = "fail"
	NotifyEnd   NotifyPolicy = "end"
	NotifyBegin NotifyPolicy = "begin"
)

// ParseNotifyPolicy validates a notify_events configuration value.
func ParseNotifyPolicy(s string) (NotifyPolicy, error) {
	switch NotifyPolicy(s) {
	case NotifyNone, NotifyAll, NotifyFail, NotifyEnd, NotifyBegin:
		return NotifyPolicy(s), nil
	default:
		return "", fmt.Errorf("jobtypes: unknown notify policy %q", s)
	}
}

// JobHandle is an opaque, backend-tagged job identifier. Mixing a handle
// minted by one backend into another backend's Wait call is a detectable
// programming error rather than a silent malfunction.
type JobHandle struct {
	Backend Backend
	ID      string
}

// LocalSentinel is the constant handle returned by synchronous backends
// (local) that have already completed submission.
func LocalSentinel() JobHandle {
	return JobHandle{Backend: BackendLocal, ID: "0"}
}

// String renders the handle for logging; it is not meant to be parsed.
func (h JobHandle) String() string {
	return fmt.Sprintf("%s:%s", h.Backend, h.ID)
}

// CheckBackend returns an error if h was not minted by want.
func (h JobHandle) CheckBackend(want Backend) error {
	if h.Backend != want {
		return fmt.Errorf("jobtypes: handle %s does not belong to backend %s", h, want)
	}
	return nil
}

// JobSet is an ordered sequence of handles returned by an array submission.
// Ordering follows parameter-list iteration order (outer-major for 2-D).
type JobSet []JobHandle

// SameBackend returns the common backend of every handle in the set, or an
// error if the set is empty or mixes backends — which should never happen
// since a JobSet is always produced by a single adapter.
func (s JobSet) SameBackend() (Backend, error) {
	if len(s) == 0 {
		return "", fmt.Errorf("jobtypes: empty job set")
	}
	b := s[0].Backend
	for _, h := range s[1:] {
		if h.Backend != b {
			return "", fmt.Errorf("jobtypes: job set mixes backends %s and %s", b, h.Backend)
		}
	}
	return b, nil
}

// NewSentinelName mints a short, unique name for an SGE/LSF barrier
// sentinel job.
func NewSentinelName(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8])
}

// ResourceRequest is the generic, backend-agnostic resource description a
// stage compiles into backend flags.
type ResourceRequest struct {
	// Stage is the non-negative integer identifying the pipeline phase
	// this request was derived for; used only for logging/debugging.
	Stage int

	// Memory is a size with a unit suffix, e.g. "4G", "512M", or empty.
	Memory string

	// Cores is the requested core count, or 0 if unset.
	Cores int

	// Walltime is "H:M:S" (or a backend-native string), or empty.
	Walltime string

	// Queue is the target queue/partition name, or empty.
	Queue string

	// NotifyEmail is the notification address, or empty (no notification).
	NotifyEmail string

	// NotifyPolicy selects which events trigger notification.
	NotifyPolicy NotifyPolicy

	// ExtraOpts is carried with the request but is not read by
	// resources.Compile; adapters pass their configured extra_opts
	// string to Compile as a separate argument.
	ExtraOpts string
}

// SubmitSpec describes a single job submission: a script and its ordered
// positional arguments. The core never interprets the script's contents.
type SubmitSpec struct {
	Name      string
	Script    string
	Args      []string
	Resources ResourceRequest
}

// Adapter is the capability set every backend implements. A tagged sum over {slurm, sge, lsf,
// parallel, local} backed by a per-variant method table, not an
// open-world plugin registry.
type Adapter interface {
	Name() Backend

	// Detect reports whether this backend's prerequisites are satisfied
	// in the current environment, and if not, why.
	Detect(ctx context.Context) (ok bool, reason string)

	// BuildOpts compiles a ResourceRequest into backend-specific flag
	// tokens.
	BuildOpts(req ResourceRequest) []string

	Submit(ctx context.Context, spec SubmitSpec, logDir string) (JobHandle, error)
	SubmitSync(ctx context.Context, spec SubmitSpec, logDir string) (JobHandle, error)
	SubmitArraySingle(ctx context.Context, name string, values []string, spec SubmitSpec, logDir string) (JobSet, error)
	SubmitArrayDouble(ctx context.Context, name string, outer, inner []string, spec SubmitSpec, logDir string) (JobSet, error)

	Wait(ctx context.Context, set JobSet) error

	Slots() int
	InManagedJob() bool
}
