// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package resources compiles a generic ResourceRequest into the
// backend-specific flag tokens each workload manager expects. Per-stage values shadow defaults upstream in pkg/config;
// compilation itself only ever sees the already-resolved request.
package resources

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
)

// Compile emits the flag tokens for req on the named backend, followed
// by extraOpts split on whitespace and appended verbatim.
// Empty fields on req are omitted entirely: no flag is emitted for an
// unset value.
func Compile(backend jobtypes.Backend, req jobtypes.ResourceRequest, extraOpts string) []string {
	var opts []string

	switch backend {
	case jobtypes.BackendSlurm:
		opts = compileSlurm(req)
	case jobtypes.BackendSGE:
		opts = compileSGE(req)
	case jobtypes.BackendLSF:
		opts = compileLSF(req)
	case jobtypes.BackendParallel:
		opts = compileParallel(req)
	case jobtypes.BackendLocal:
		opts = nil
	}

	if extraOpts != "" {
		opts = append(opts, strings.Fields(extraOpts)...)
	}

	return opts
}

func compileSlurm(req jobtypes.ResourceRequest) []string {
	var opts []string

	if req.Memory != "" {
		opts = append(opts, "--mem="+req.Memory)
	}
	if req.Cores > 0 {
		opts = append(opts, "--cpus-per-task="+strconv.Itoa(req.Cores))
	}
	if req.Walltime != "" {
		opts = append(opts, "--time="+req.Walltime)
	}
	if req.Queue != "" {
		opts = append(opts, "--partition="+req.Queue)
	}

	if req.NotifyEmail != "" {
		opts = append(opts, "--mail-user="+req.NotifyEmail)
		switch req.NotifyPolicy {
		case jobtypes.NotifyAll:
			opts = append(opts, "--mail-type=ALL")
		case jobtypes.NotifyFail:
			opts = append(opts, "--mail-type=FAIL")
		case jobtypes.NotifyEnd:
			opts = append(opts, "--mail-type=END")
		case jobtypes.NotifyBegin:
			opts = append(opts, "--mail-type=BEGIN")
		}
	}

	return opts
}

func compileSGE(req jobtypes.ResourceRequest) []string {
	var opts []string

	if req.Memory != "" {
		opts = append(opts, "-l", "h_vmem="+req.Memory)
	}
	if req.Cores > 0 {
		opts = append(opts, "-pe", "smp", strconv.Itoa(req.Cores))
	}
	if req.Walltime != "" {
		opts = append(opts, "-l", "h_rt="+req.Walltime)
	}
	if req.Queue != "" {
		opts = append(opts, "-q", req.Queue)
	}

	if req.NotifyEmail != "" {
		opts = append(opts, "-M", req.NotifyEmail)
		switch req.NotifyPolicy {
		case jobtypes.NotifyAll:
			opts = append(opts, "-m", "beas")
		case jobtypes.NotifyFail:
			opts = append(opts, "-m", "a")
		case jobtypes.NotifyEnd:
			opts = append(opts, "-m", "e")
		case jobtypes.NotifyBegin:
			opts = append(opts, "-m", "b")
		}
	}

	return opts
}

func compileLSF(req jobtypes.ResourceRequest) []string {
	var opts []string

	if req.Memory != "" {
		if mb, ok := ToLSFMegabytes(req.Memory); ok {
			opts = append(opts, "-R", fmt.Sprintf("rusage[mem=%s]", mb))
		}
	}
	if req.Cores > 0 {
		opts = append(opts, "-n", strconv.Itoa(req.Cores))
	}
	if req.Walltime != "" {
		opts = append(opts, "-W", lsfWalltime(req.Walltime))
	}
	if req.Queue != "" {
		opts = append(opts, "-q", req.Queue)
	}

	if req.NotifyEmail != "" {
		opts = append(opts, "-u", req.NotifyEmail)
		switch req.NotifyPolicy {
		case jobtypes.NotifyAll, jobtypes.NotifyFail, jobtypes.NotifyEnd:
			opts = append(opts, "-N")
		}
	}

	return opts
}

// lsfWalltime keeps only the first two colon-separated components of an
// "H:M:S" walltime, as LSF's -W expects "H:M".
func lsfWalltime(walltime string) string {
	parts := strings.Split(walltime, ":")
	if len(parts) <= 2 {
		return walltime
	}
	return parts[0] + ":" + parts[1]
}

func compileParallel(req jobtypes.ResourceRequest) []string {
	cores := req.Cores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	return []string{"-j", strconv.Itoa(cores)}
}
