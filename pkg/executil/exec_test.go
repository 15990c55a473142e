// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package executil_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashs-pipeline/batchsched/pkg/executil"
)

func TestRunCapturesStdout(t *testing.T) {
	result, err := executil.Run(context.Background(), "echo", []string{"hello"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunNonexistentBinary(t *testing.T) {
	_, err := executil.Run(context.Background(), "definitely-not-a-real-binary-xyz", nil, "", nil)
	require.Error(t, err)
}

func TestRunNonZeroExit(t *testing.T) {
	result, err := executil.Run(context.Background(), "false", nil, "", nil)
	require.Error(t, err)
	assert.NotEqual(t, 0, result.ExitCode)
}

func TestRunExtraEnv(t *testing.T) {
	result, err := executil.Run(context.Background(), "sh", []string{"-c", "echo $ASHS_TEST_VAR"}, "", []string{"ASHS_TEST_VAR=hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi\n", result.Stdout)
}

func TestLookPath(t *testing.T) {
	assert.True(t, executil.LookPath("echo"))
	assert.False(t, executil.LookPath("definitely-not-a-real-binary-xyz"))
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dump")
	require.NoError(t, executil.EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenLogFiles(t *testing.T) {
	dir := t.TempDir()
	stdout, stderr, err := executil.OpenLogFiles(dir, "ashs_reg_5")
	require.NoError(t, err)
	defer stdout.Close()
	defer stderr.Close()

	_, err = os.Stat(filepath.Join(dir, "ashs_reg_5.out"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "ashs_reg_5.err"))
	require.NoError(t, err)
}

func TestStartBackgroundProcess(t *testing.T) {
	dir := t.TempDir()
	stdout, stderr, err := executil.OpenLogFiles(dir, "bg")
	require.NoError(t, err)
	defer stdout.Close()
	defer stderr.Close()

	cmd, err := executil.Start(context.Background(), "sh", []string{"-c", "echo started"}, "", nil, stdout, stderr)
	require.NoError(t, err)
	require.NoError(t, cmd.Wait())
}
