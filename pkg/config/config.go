// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config resolves a SchedulerConfig from a search path, a
// key=value document, and a legacy boolean environment bridge.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/mohae/deepcopy"
	"golang.org/x/text/cases"

	batcherrors "github.com/ashs-pipeline/batchsched/pkg/errors"
	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
)

const configFileName = "ashs_scheduler.conf"

// DefaultPriority is the backend probe order used when the config does
// not name one explicitly.
var DefaultPriority = []jobtypes.Backend{
	jobtypes.BackendSlurm,
	jobtypes.BackendSGE,
	jobtypes.BackendLSF,
	jobtypes.BackendParallel,
	jobtypes.BackendLocal,
}

// SchedulerConfig is the immutable, fully-resolved configuration for a
// single pipeline run.
type SchedulerConfig struct {
	BackendSelector string // "auto" or an explicit backend name
	Priority        []jobtypes.Backend

	DefaultMemory   string
	DefaultCores    int
	DefaultWalltime string
	DefaultQueue    string

	StageMemory   map[int]string
	StageCores    map[int]int
	StageWalltime map[int]string

	ExtraOpts map[jobtypes.Backend]string

	JobPrefix    string
	NotifyEmail  string
	NotifyEvents jobtypes.NotifyPolicy

	WorkDir string
}

// legacyEnv captures the boolean environment bridge. Field tags are consumed by envconfig.
type legacyEnv struct {
	UseSlurm    bool `envconfig:"USE_SLURM"`
	UseQsub     bool `envconfig:"USE_QSUB"`
	UseLSF      bool `envconfig:"USE_LSF"`
	UseParallel bool `envconfig:"USE_PARALLEL"`
}

// Default returns a SchedulerConfig populated entirely from defaults,
// used when no configuration document is found on the search path.
func Default(workDir string) *SchedulerConfig {
	return &SchedulerConfig{
		BackendSelector: "auto",
		Priority:        append([]jobtypes.Backend(nil), DefaultPriority...),
		DefaultCores:    1,
		StageMemory:     map[int]string{},
		StageCores:      map[int]int{},
		StageWalltime:   map[int]string{},
		ExtraOpts:       map[jobtypes.Backend]string{},
		JobPrefix:       "ashs",
		NotifyEvents:    jobtypes.NotifyNone,
		WorkDir:         workDir,
	}
}

// Load resolves a SchedulerConfig per the five-element search path:
// an explicit override, ./<name>, <work>/<name>,
// <home>/.<name>, <install-root>/<name>. The first existing file wins;
// sources are never merged. explicitPath may be empty.
func Load(explicitPath, workDir, installRoot string) (*SchedulerConfig, error) {
	path, err := resolveSearchPath(explicitPath, workDir, installRoot)
	if err != nil {
		return nil, err
	}

	cfg := Default(workDir)
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyLegacyEnv(cfg)

	return cfg, nil
}

func resolveSearchPath(explicitPath, workDir, installRoot string) (string, error) {
	candidates := []string{}
	if explicitPath != "" {
		candidates = append(candidates, explicitPath)
	}
	candidates = append(candidates, filepath.Join(".", configFileName))
	if workDir != "" {
		candidates = append(candidates, filepath.Join(workDir, configFileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "."+configFileName))
	}
	if installRoot != "" {
		candidates = append(candidates, filepath.Join(installRoot, configFileName))
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}

	if explicitPath != "" {
		return "", batcherrors.NewConfigurationError(explicitPath, "explicit config path does not exist")
	}
	return "", nil
}

var caseFolder = cases.Fold()

func applyFile(cfg *SchedulerConfig, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return batcherrors.NewConfigurationError(path, err.Error())
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if err := applyKey(cfg, key, value); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return batcherrors.NewConfigurationError(path, err.Error())
	}
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func applyKey(cfg *SchedulerConfig, key, value string) error {
	switch {
	case key == "backend_selector":
		cfg.BackendSelector = caseFolder.String(value)
	case key == "priority":
		backends, err := parsePriority(value)
		if err != nil {
			return err
		}
		cfg.Priority = backends
	case key == "default_memory":
		cfg.DefaultMemory = value
	case key == "default_cores":
		n, err := strconv.Atoi(value)
		if err != nil {
			return batcherrors.NewConfigurationError(key, "not an integer")
		}
		cfg.DefaultCores = n
	case key == "default_time":
		cfg.DefaultWalltime = value
	case key == "default_queue":
		cfg.DefaultQueue = value
	case key == "job_prefix":
		cfg.JobPrefix = value
	case key == "notify_email":
		cfg.NotifyEmail = value
	case key == "notify_events":
		policy, err := jobtypes.ParseNotifyPolicy(caseFolder.String(value))
		if err != nil {
			return batcherrors.NewConfigurationError(key, err.Error())
		}
		cfg.NotifyEvents = policy
	case strings.HasPrefix(key, "stage_") && strings.HasSuffix(key, "_memory"):
		n, err := stageIndex(key, "stage_", "_memory")
		if err != nil {
			return err
		}
		cfg.StageMemory[n] = value
	case strings.HasPrefix(key, "stage_") && strings.HasSuffix(key, "_cores"):
		n, err := stageIndex(key, "stage_", "_cores")
		if err != nil {
			return err
		}
		cores, err := strconv.Atoi(value)
		if err != nil {
			return batcherrors.NewConfigurationError(key, "not an integer")
		}
		cfg.StageCores[n] = cores
	case strings.HasPrefix(key, "stage_") && strings.HasSuffix(key, "_time"):
		n, err := stageIndex(key, "stage_", "_time")
		if err != nil {
			return err
		}
		cfg.StageWalltime[n] = value
	case strings.HasPrefix(key, "extra_opts_"):
		backendName := strings.TrimPrefix(key, "extra_opts_")
		backend := jobtypes.Backend(caseFolder.String(backendName))
		if !backend.Valid() {
			// unknown backend name: ignore silently per "unknown keys ignored"
			return nil
		}
		cfg.ExtraOpts[backend] = value
	default:
		// unrecognized keys are ignored with no error
	}
	return nil
}

func stageIndex(key, prefix, suffix string) (int, error) {
	mid := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
	n, err := strconv.Atoi(mid)
	if err != nil || n < 0 {
		return 0, batcherrors.NewConfigurationError(key, "stage index must be a non-negative integer")
	}
	return n, nil
}

func parsePriority(value string) ([]jobtypes.Backend, error) {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' '
	})
	backends := make([]jobtypes.Backend, 0, len(parts))
	for _, p := range parts {
		b := jobtypes.Backend(caseFolder.String(strings.TrimSpace(p)))
		if !b.Valid() {
			return nil, batcherrors.NewConfigurationError("priority", fmt.Sprintf("unknown backend %q", p))
		}
		backends = append(backends, b)
	}
	if len(backends) == 0 {
		return nil, batcherrors.NewConfigurationError("priority", "empty priority list")
	}
	return backends, nil
}

// applyLegacyEnv overrides BackendSelector from USE_SLURM/USE_QSUB/
// USE_LSF/USE_PARALLEL. It never overrides an explicit
// caller argument — callers that want explicit-argument precedence
// should apply that choice after Load returns.
func applyLegacyEnv(cfg *SchedulerConfig) {
	var env legacyEnv
	if err := envconfig.Process("", &env); err != nil {
		return
	}

	switch {
	case env.UseSlurm:
		cfg.BackendSelector = string(jobtypes.BackendSlurm)
	case env.UseQsub:
		cfg.BackendSelector = string(jobtypes.BackendSGE)
	case env.UseLSF:
		cfg.BackendSelector = string(jobtypes.BackendLSF)
	case env.UseParallel:
		cfg.BackendSelector = string(jobtypes.BackendParallel)
	}
}

// Clone returns an independent deep copy of cfg, so a submission can
// never mutate the shared SchedulerConfig.
func (c *SchedulerConfig) Clone() *SchedulerConfig {
	return deepcopy.Copy(c).(*SchedulerConfig)
}

// MemoryForStage returns the effective memory string for stage,
// honoring per-stage overrides.
func (c *SchedulerConfig) MemoryForStage(stage int) string {
	if v, ok := c.StageMemory[stage]; ok {
		return v
	}
	return c.DefaultMemory
}

// CoresForStage returns the effective core count for stage.
func (c *SchedulerConfig) CoresForStage(stage int) int {
	if v, ok := c.StageCores[stage]; ok {
		return v
	}
	return c.DefaultCores
}

// WalltimeForStage returns the effective walltime string for stage.
func (c *SchedulerConfig) WalltimeForStage(stage int) string {
	if v, ok := c.StageWalltime[stage]; ok {
		return v
	}
	return c.DefaultWalltime
}
