// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
)

func TestDefault(t *testing.T) {
	cfg := Default("/work")

	assert.Equal(t, "auto", cfg.BackendSelector)
	assert.Equal(t, DefaultPriority, cfg.Priority)
	assert.Equal(t, 1, cfg.DefaultCores)
	assert.Equal(t, "ashs", cfg.JobPrefix)
	assert.Equal(t, jobtypes.NotifyNone, cfg.NotifyEvents)
	assert.Equal(t, "/work", cfg.WorkDir)
}

func TestLoadNoFileFound(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load("", dir, "")
	require.NoError(t, err)
	assert.Equal(t, "auto", cfg.BackendSelector)
}

func TestLoadExplicitPathMissing(t *testing.T) {
	_, err := Load("/nonexistent/path/ashs_scheduler.conf", "", "")
	require.Error(t, err)
}

func TestLoadParsesRecognizedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ashs_scheduler.conf")
	content := `# a comment
backend_selector = SLURM
priority = slurm, sge, lsf, parallel, local

default_memory=8G
default_cores = 4
default_time="12:00:00"
default_queue = general

stage_2_memory = 16G
stage_2_cores=8

extra_opts_slurm = --exclusive
job_prefix = myjob
notify_email = user@example.com
notify_events = fail
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, dir, "")
	require.NoError(t, err)

	assert.Equal(t, "slurm", cfg.BackendSelector)
	assert.Equal(t, "8G", cfg.DefaultMemory)
	assert.Equal(t, 4, cfg.DefaultCores)
	assert.Equal(t, "12:00:00", cfg.DefaultWalltime)
	assert.Equal(t, "general", cfg.DefaultQueue)
	assert.Equal(t, "16G", cfg.MemoryForStage(2))
	assert.Equal(t, "8G", cfg.MemoryForStage(1))
	assert.Equal(t, 8, cfg.CoresForStage(2))
	assert.Equal(t, 4, cfg.CoresForStage(1))
	assert.Equal(t, "--exclusive", cfg.ExtraOpts[jobtypes.BackendSlurm])
	assert.Equal(t, "myjob", cfg.JobPrefix)
	assert.Equal(t, "user@example.com", cfg.NotifyEmail)
	assert.Equal(t, jobtypes.NotifyFail, cfg.NotifyEvents)
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ashs_scheduler.conf")
	require.NoError(t, os.WriteFile(path, []byte("some_future_option = value\n"), 0o644))

	cfg, err := Load(path, dir, "")
	require.NoError(t, err)
	assert.Equal(t, "auto", cfg.BackendSelector)
}

func TestLoadRejectsBadStageIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ashs_scheduler.conf")
	require.NoError(t, os.WriteFile(path, []byte("stage_x_memory = 8G\n"), 0o644))

	_, err := Load(path, dir, "")
	require.Error(t, err)
}

func TestLegacyEnvOverridesSelector(t *testing.T) {
	t.Setenv("USE_LSF", "true")
	for _, key := range []string{"USE_SLURM", "USE_QSUB", "USE_PARALLEL"} {
		t.Setenv(key, "") // register restore, then clear: empty-set breaks ParseBool
		os.Unsetenv(key)
	}

	dir := t.TempDir()
	cfg, err := Load("", dir, "")
	require.NoError(t, err)
	assert.Equal(t, string(jobtypes.BackendLSF), cfg.BackendSelector)
}

func TestClone(t *testing.T) {
	cfg := Default("/work")
	cfg.StageMemory[1] = "4G"

	clone := cfg.Clone()
	clone.StageMemory[1] = "8G"

	assert.Equal(t, "4G", cfg.StageMemory[1])
	assert.Equal(t, "8G", clone.StageMemory[1])
}

func TestStageOverridePrecedence(t *testing.T) {
	cfg := Default("/work")
	cfg.DefaultMemory = "8G"
	cfg.StageMemory[2] = "16G"

	assert.Equal(t, "16G", cfg.MemoryForStage(2))
	assert.Equal(t, "8G", cfg.MemoryForStage(1))
}
