// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

/*
Package batchsched provides a uniform batch-scheduler abstraction over
several mutually incompatible cluster workload managers — SLURM,
SGE/OGS, and LSF — plus a local multi-process parallel executor and a
fully sequential local executor.

A scientific pipeline submits, tracks, and awaits computational jobs
through a single interface without knowing which backend is in use. The
package detects an available backend at startup (or honors an explicit
choice), compiles a generic resource request into backend-specific
flags, and exposes five submission operations plus two auxiliary ones.

# Basic usage

	ctx := context.Background()

	sched, err := batchsched.New(ctx,
	    batchsched.WithWorkDir("/data/ashs_run"),
	    batchsched.WithLogger(logger),
	)
	if err != nil {
	    log.Fatal(err)
	}

	handle, err := sched.Submit(ctx, 0, "register", "register.sh", "subject01")
	if err != nil {
	    log.Fatal(err)
	}

	if err := sched.Wait(ctx, jobtypes.JobSet{handle}); err != nil {
	    log.Fatal(err)
	}

# Backend selection

New resolves a SchedulerConfig from a search path (explicit path, the
working directory, the home directory, the install root), folds in the
legacy USE_SLURM/USE_QSUB/USE_LSF/USE_PARALLEL environment booleans, and
then either probes the configured priority list in order or honors an
explicit backend name passed via WithExplicitBackend — which always
takes precedence over both the configuration file and the legacy
environment bridge.

# Array submissions

SubmitArraySingle fans a script out over a 1-D parameter list;
SubmitArrayDouble fans it out over the Cartesian product of two lists,
outer-major. Both return a JobSet — an ordered sequence of opaque,
backend-tagged JobHandles — to be passed as a whole to Wait.

# Backends

Five backend identities are recognized: slurm, sge, lsf, parallel, and
local. Exactly one is active per process; a JobHandle minted by one
backend is never meaningful to another, and passing a mismatched handle
to Wait returns an error rather than silently misbehaving.
*/
package batchsched
