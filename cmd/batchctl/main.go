// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command batchctl is the small driver CLI that exercises the
// batchsched façade end-to-end: the four single-letter backend-
// selection flags, a dry-run mode, and submit/submit-sync/
// submit-array-single/submit-array-double/wait/slots/detect subcommands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashs-pipeline/batchsched"
	"github.com/ashs-pipeline/batchsched/pkg/config"
	"github.com/ashs-pipeline/batchsched/pkg/jobtypes"
	"github.com/ashs-pipeline/batchsched/pkg/logging"
	"github.com/ashs-pipeline/batchsched/pkg/metrics"
)

var (
	flagConfigPath string
	flagWorkDir    string
	flagStage      int
	flagDryRun     bool
	flagDebug      bool

	flagSlurm    bool
	flagSGE      bool
	flagLSF      bool
	flagParallel bool

	rootCmd = &cobra.Command{
		Use:   "batchctl",
		Short: "Submit and await jobs across SLURM, SGE, LSF, parallel, and local backends",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "explicit configuration file path")
	rootCmd.PersistentFlags().StringVar(&flagWorkDir, "workdir", "", "pipeline work directory")
	rootCmd.PersistentFlags().IntVar(&flagStage, "stage", 0, "pipeline stage index, for resource overrides")
	rootCmd.PersistentFlags().BoolVarP(&flagDryRun, "dry-run", "n", false, "compile and log the submission command without invoking the backend")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.PersistentFlags().BoolVarP(&flagSlurm, "slurm", "S", false, "force the SLURM backend")
	rootCmd.PersistentFlags().BoolVarP(&flagSGE, "sge", "Q", false, "force the SGE backend")
	rootCmd.PersistentFlags().BoolVarP(&flagLSF, "lsf", "l", false, "force the LSF backend")
	rootCmd.PersistentFlags().BoolVarP(&flagParallel, "parallel", "P", false, "force the parallel backend")

	rootCmd.AddCommand(detectCmd, slotsCmd, submitCmd, submitSyncCmd, submitArraySingleCmd, submitArrayDoubleCmd, waitCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "batchctl:", err)
		os.Exit(1)
	}
}

// explicitBackend resolves the four single-letter flags into a backend
// name, or "" for auto.
func explicitBackend() string {
	switch {
	case flagSlurm:
		return string(jobtypes.BackendSlurm)
	case flagSGE:
		return string(jobtypes.BackendSGE)
	case flagLSF:
		return string(jobtypes.BackendLSF)
	case flagParallel:
		return string(jobtypes.BackendParallel)
	default:
		return ""
	}
}

func newLogger() logging.Logger {
	cfg := logging.DefaultConfig()
	if flagDebug {
		cfg.Level = slog.LevelDebug
	}
	return logging.NewLogger(cfg)
}

func newScheduler(ctx context.Context) (*batchsched.Scheduler, error) {
	opts := []batchsched.Option{
		batchsched.WithConfigPath(flagConfigPath),
		batchsched.WithWorkDir(flagWorkDir),
		batchsched.WithLogger(newLogger()),
		batchsched.WithMetrics(metrics.NewInMemoryCollector()),
		batchsched.WithDryRun(flagDryRun),
	}
	if b := explicitBackend(); b != "" {
		opts = append(opts, batchsched.WithExplicitBackend(b))
	}
	return batchsched.New(ctx, opts...)
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Probe every backend in priority order and report availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.Load(flagConfigPath, flagWorkDir, "")
		if err != nil {
			return err
		}

		results, err := batchsched.DetectionReport(ctx, cfg, newLogger(), metrics.NoOpCollector{})
		if err != nil {
			return err
		}

		for _, r := range results {
			status := "unavailable"
			if r.OK {
				status = "available"
			}
			fmt.Printf("%-10s %s", r.Backend, status)
			if !r.OK && r.Reason != "" {
				fmt.Printf(" (%s)", r.Reason)
			}
			fmt.Println()
		}
		return nil
	},
}

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Report cores available to the active backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, err := newScheduler(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(sched.Slots())
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit NAME SCRIPT [ARGS...]",
	Short: "Submit a single asynchronous job",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, err := newScheduler(cmd.Context())
		if err != nil {
			return err
		}
		handle, err := sched.Submit(cmd.Context(), flagStage, args[0], args[1], args[2:]...)
		if err != nil {
			return err
		}
		printHandle(handle)
		return nil
	},
}

var submitSyncCmd = &cobra.Command{
	Use:   "submit-sync NAME SCRIPT [ARGS...]",
	Short: "Submit a single job and block until it terminates",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, err := newScheduler(cmd.Context())
		if err != nil {
			return err
		}
		handle, err := sched.SubmitSync(cmd.Context(), flagStage, args[0], args[1], args[2:]...)
		if err != nil {
			return err
		}
		printHandle(handle)
		return nil
	},
}

var flagValues string

var submitArraySingleCmd = &cobra.Command{
	Use:   "submit-array-single NAME SCRIPT [PREFIX-ARGS...]",
	Short: "Submit a 1-D parameter sweep (one job per --values entry)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, err := newScheduler(cmd.Context())
		if err != nil {
			return err
		}
		values := strings.Fields(flagValues)
		set, err := sched.SubmitArraySingle(cmd.Context(), flagStage, args[0], args[1], values, args[2:]...)
		if err != nil {
			return err
		}
		printJobSet(set)
		return nil
	},
}

var flagOuter, flagInner string

var submitArrayDoubleCmd = &cobra.Command{
	Use:   "submit-array-double NAME SCRIPT [PREFIX-ARGS...]",
	Short: "Submit a 2-D Cartesian-product array (--outer x --inner)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, err := newScheduler(cmd.Context())
		if err != nil {
			return err
		}
		outer := strings.Fields(flagOuter)
		inner := strings.Fields(flagInner)
		set, err := sched.SubmitArrayDouble(cmd.Context(), flagStage, args[0], args[1], outer, inner, args[2:]...)
		if err != nil {
			return err
		}
		printJobSet(set)
		return nil
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait ID [ID...]",
	Short: "Block until every given job id (belonging to the active backend) is terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sched, err := newScheduler(cmd.Context())
		if err != nil {
			return err
		}

		set := make(jobtypes.JobSet, len(args))
		for i, id := range args {
			set[i] = jobtypes.JobHandle{Backend: sched.Backend(), ID: id}
		}

		return sched.Wait(cmd.Context(), set)
	},
}

func printHandle(h jobtypes.JobHandle) {
	fmt.Println(h.ID)
}

func printJobSet(set jobtypes.JobSet) {
	ids := make([]string, len(set))
	for i, h := range set {
		ids[i] = h.ID
	}
	fmt.Println(strings.Join(ids, " "))
}

func init() {
	submitArraySingleCmd.Flags().StringVar(&flagValues, "values", "", "space-separated parameter values")
	submitArrayDoubleCmd.Flags().StringVar(&flagOuter, "outer", "", "space-separated outer parameter values")
	submitArrayDoubleCmd.Flags().StringVar(&flagInner, "inner", "", "space-separated inner parameter values")
}
