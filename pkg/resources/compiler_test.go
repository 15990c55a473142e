// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package resources_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
	"github.com/ashs-pipeline/batchsched/pkg/resources"
)

func TestCompileSlurmTrivialJob(t *testing.T) {
	// a trivial SLURM job with default_memory=4G, default_cores=2.
	req := jobtypes.ResourceRequest{Memory: "4G", Cores: 2}
	opts := resources.Compile(jobtypes.BackendSlurm, req, "")
	assert.Equal(t, []string{"--mem=4G", "--cpus-per-task=2"}, opts)
}

func TestCompileSlurmAllFields(t *testing.T) {
	req := jobtypes.ResourceRequest{
		Memory: "8G", Cores: 4, Walltime: "12:00:00", Queue: "general",
		NotifyEmail: "a@b.com", NotifyPolicy: jobtypes.NotifyAll,
	}
	opts := resources.Compile(jobtypes.BackendSlurm, req, "--exclusive")
	assert.Equal(t, []string{
		"--mem=8G", "--cpus-per-task=4", "--time=12:00:00", "--partition=general",
		"--mail-user=a@b.com", "--mail-type=ALL", "--exclusive",
	}, opts)
}

func TestCompileSlurmEmptyFieldsOmitted(t *testing.T) {
	opts := resources.Compile(jobtypes.BackendSlurm, jobtypes.ResourceRequest{}, "")
	assert.Empty(t, opts)
}

func TestCompileSGE(t *testing.T) {
	req := jobtypes.ResourceRequest{Memory: "2G", Cores: 4, Walltime: "1:00:00", Queue: "all.q"}
	opts := resources.Compile(jobtypes.BackendSGE, req, "")
	assert.Equal(t, []string{"-l", "h_vmem=2G", "-pe", "smp", "4", "-l", "h_rt=1:00:00", "-q", "all.q"}, opts)
}

func TestCompileSGENotifyPolicies(t *testing.T) {
	tests := []struct {
		policy jobtypes.NotifyPolicy
		flag   string
	}{
		{jobtypes.NotifyAll, "beas"},
		{jobtypes.NotifyFail, "a"},
		{jobtypes.NotifyEnd, "e"},
		{jobtypes.NotifyBegin, "b"},
	}
	for _, tt := range tests {
		req := jobtypes.ResourceRequest{NotifyEmail: "x@y.com", NotifyPolicy: tt.policy}
		opts := resources.Compile(jobtypes.BackendSGE, req, "")
		assert.Equal(t, []string{"-M", "x@y.com", "-m", tt.flag}, opts)
	}
}

func TestCompileLSFMemoryConversion(t *testing.T) {
	// default_memory=8G, default_time=4:00:00.
	req := jobtypes.ResourceRequest{Memory: "8G", Walltime: "4:00:00"}
	opts := resources.Compile(jobtypes.BackendLSF, req, "")
	assert.Equal(t, []string{"-R", "rusage[mem=8000]", "-W", "4:00"}, opts)
}

func TestCompileLSFWalltimeTruncation(t *testing.T) {
	req := jobtypes.ResourceRequest{Walltime: "2:30:15"}
	opts := resources.Compile(jobtypes.BackendLSF, req, "")
	assert.Equal(t, []string{"-W", "2:30"}, opts)
}

func TestCompileLSFNotifyPolicies(t *testing.T) {
	for _, policy := range []jobtypes.NotifyPolicy{jobtypes.NotifyAll, jobtypes.NotifyFail, jobtypes.NotifyEnd} {
		req := jobtypes.ResourceRequest{NotifyEmail: "x@y.com", NotifyPolicy: policy}
		opts := resources.Compile(jobtypes.BackendLSF, req, "")
		assert.Equal(t, []string{"-u", "x@y.com", "-N"}, opts)
	}

	req := jobtypes.ResourceRequest{NotifyEmail: "x@y.com", NotifyPolicy: jobtypes.NotifyBegin}
	opts := resources.Compile(jobtypes.BackendLSF, req, "")
	assert.Equal(t, []string{"-u", "x@y.com"}, opts)
}

func TestCompileParallelUsesCoresOrHostCount(t *testing.T) {
	opts := resources.Compile(jobtypes.BackendParallel, jobtypes.ResourceRequest{Cores: 4}, "")
	assert.Equal(t, []string{"-j", "4"}, opts)

	opts = resources.Compile(jobtypes.BackendParallel, jobtypes.ResourceRequest{}, "")
	assert.Equal(t, "-j", opts[0])
}

func TestCompileLocalIgnoresResources(t *testing.T) {
	opts := resources.Compile(jobtypes.BackendLocal, jobtypes.ResourceRequest{Memory: "4G", Cores: 2}, "")
	assert.Empty(t, opts)
}

func TestCompileExtraOptsAppendedVerbatimForAllBackends(t *testing.T) {
	for _, backend := range []jobtypes.Backend{jobtypes.BackendSlurm, jobtypes.BackendSGE, jobtypes.BackendLSF, jobtypes.BackendParallel} {
		opts := resources.Compile(backend, jobtypes.ResourceRequest{}, "--foo bar")
		assert.Contains(t, opts, "--foo")
		assert.Contains(t, opts, "bar")
	}
}
