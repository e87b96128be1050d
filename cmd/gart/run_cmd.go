// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"go.chromium.org/gart/errors"
	"go.chromium.org/gart/harness"
	"go.chromium.org/gart/internal/command"
	"go.chromium.org/gart/internal/logging"
	"go.chromium.org/gart/internal/planner"
	"go.chromium.org/gart/internal/run/reporting"
	"go.chromium.org/gart/internal/run/results"
	"go.chromium.org/gart/internal/timing"
	"go.chromium.org/gart/internal/vars"
	"go.chromium.org/gart/internal/xcontext"
)

const (
	// defaultGlobalTimeout bounds a whole run when -globaltimeout is unset.
	defaultGlobalTimeout = 24 * time.Hour

	resultsName         = "results.json"          // file containing final results
	streamedResultsName = "streamed_results.json" // file progressively updated as subtests finish
	junitName           = "junit_results.xml"     // results in JUnit XML, for CI systems
	timingLogName       = "timing.json"           // file containing timing information
	runLogName          = "run.log"               // copy of the run's log messages
)

// runCmd implements subcommands.Command to support running suites.
type runCmd struct {
	outDir        string        // base directory for result files and subtest output
	timeout       time.Duration // default timeout for each unit of work
	globalTimeout time.Duration // timeout for the whole run
	varsDir       string        // directory scanned for default vars files
	varsFiles     []string      // explicitly named vars files
	cmdVars       map[string]string
	stdout        io.Writer            // where the summary is written
	logger        *logging.MultiLogger // receives a per-run log file while a run is active
}

var _ = subcommands.Command(&runCmd{})

// newRunCmd returns a new runCmd that will write the run summary to stdout
// and attach a per-run log file to logger.
func newRunCmd(stdout io.Writer, logger *logging.MultiLogger) *runCmd {
	return &runCmd{
		cmdVars: make(map[string]string),
		stdout:  stdout,
		logger:  logger,
	}
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run suites" }
func (*runCmd) Usage() string {
	return `Usage: run [flag]... [pattern]...

Description:
    Run suites matched by zero or more patterns. If no pattern is given,
    all registered suites are run.

    Patterns are globs matching suite names:

        $ gart run 'kms_*' gem_create

    Subtest results are written to <outdir>/results.json as they are
    recorded, a JUnit XML report and a timing log are written when the run
    finishes, and a summary is printed to stdout. The exit code is 0 if
    every subtest passed or was skipped, 1 if any failed or crashed and
    2 if the harness itself was misused.

Flag:
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.outDir, "outdir", "", "base directory for result files (default: a fresh directory under the system temp dir)")
	f.Var(command.NewDurationFlag(time.Second, &r.timeout, 0), "timeout", "default timeout for each subtest in seconds (0 = none)")
	f.Var(command.NewDurationFlag(time.Second, &r.globalTimeout, defaultGlobalTimeout), "globaltimeout", "timeout for the whole run in seconds")
	f.StringVar(&r.varsDir, "varsdir", "", "directory scanned for YAML files containing variables")

	vff := command.RepeatedFlag(func(path string) error {
		r.varsFiles = append(r.varsFiles, path)
		return nil
	})
	f.Var(&vff, "varsfile", "YAML file containing variables (can be repeated)")

	vf := command.RepeatedFlag(func(v string) error {
		parts := strings.SplitN(v, "=", 2)
		if len(parts) != 2 {
			return errors.New(`want "name=value"`)
		}
		if _, ok := r.cmdVars[parts[0]]; ok {
			return errors.Errorf("variable %q supplied twice", parts[0])
		}
		r.cmdVars[parts[0]] = parts[1]
		return nil
	})
	f.Var(&vf, "var", `runtime variable in the form "name=value" (can be repeated)`)
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := xcontext.WithTimeout(ctx, r.globalTimeout,
		errors.Errorf("%v: global timeout reached (%v)", context.DeadlineExceeded, r.globalTimeout))
	defer cancel(context.Canceled)

	if errs := harness.RegistrationErrors(); len(errs) > 0 {
		for _, err := range errs {
			logging.Info(ctx, "Registration error: ", err)
		}
		return subcommands.ExitUsageError
	}

	suites, err := harness.GlobalRegistry().SuitesForPatterns(f.Args())
	if err != nil {
		logging.Info(ctx, "Bad patterns: ", err)
		return subcommands.ExitUsageError
	}
	if len(suites) == 0 {
		logging.Infof(ctx, "No suites matched by %q", f.Args())
		return subcommands.ExitUsageError
	}

	updateLatest := r.outDir == ""
	if updateLatest {
		r.outDir = filepath.Join(os.TempDir(), "gart/results", time.Now().Format("20060102-150405"))
	}
	if err := os.MkdirAll(r.outDir, 0755); err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitFailure
	}

	// Mirror the run's log messages into the result directory so they can be
	// inspected alongside the reports.
	logFile, err := os.Create(filepath.Join(r.outDir, runLogName))
	if err != nil {
		logging.Info(ctx, "Failed to create log file: ", err)
		return subcommands.ExitFailure
	}
	defer logFile.Close()
	fileLogger := logging.NewSinkLogger(logging.LevelDebug, true, logging.NewWriterSink(logFile))
	r.logger.AddLogger(fileLogger)
	defer r.logger.RemoveLogger(fileLogger)

	// Update the "latest" symlink if the default result directory is used.
	if updateLatest {
		link := filepath.Join(filepath.Dir(r.outDir), "latest")
		os.Remove(link)
		if err := os.Symlink(filepath.Base(r.outDir), link); err != nil {
			logging.Info(ctx, "Failed to create results symlink: ", err)
		}
	}
	logging.Info(ctx, "Writing results to ", r.outDir)

	runVars, err := r.loadVars()
	if err != nil {
		logging.Info(ctx, "Failed to load vars: ", err)
		return subcommands.ExitUsageError
	}

	tl := timing.NewLog()
	ctx = timing.NewContext(ctx, tl)

	sw, err := results.NewStreamWriter(filepath.Join(r.outDir, streamedResultsName))
	if err != nil {
		logging.Info(ctx, err)
		return subcommands.ExitFailure
	}
	defer sw.Close()

	// Route the aggregator's progress messages to the context logger.
	progress := logging.NewSinkLogger(logging.LevelInfo, false, logging.NewFuncSink(func(msg string) {
		logging.Info(ctx, msg)
	}))
	agg := results.NewAggregator(&results.Config{
		Logger:    progress,
		TimingLog: tl,
		Stream:    sw,
		OutDir:    r.outDir,
	})

	runErr := planner.RunSuites(ctx, suites, agg, &planner.Config{
		Vars:           runVars,
		OutDir:         r.outDir,
		DefaultTimeout: r.timeout,
	})
	if runErr != nil {
		logging.Info(ctx, "Run aborted: ", runErr)
	}

	if err := r.writeReports(agg.Records(), tl); err != nil {
		logging.Info(ctx, "Failed to write reports: ", err)
		if runErr == nil {
			return subcommands.ExitFailure
		}
	}

	if err := reporting.WriteSummary(r.stdout, agg.Records(), agg.RunErrors(), runErr == nil); err != nil {
		logging.Info(ctx, "Failed to write summary: ", err)
		return subcommands.ExitFailure
	}

	switch {
	case planner.IsConfigError(runErr):
		return subcommands.ExitUsageError
	case runErr != nil:
		return subcommands.ExitFailure
	case agg.ExitCode() != 0:
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// loadVars merges runtime variables from -varsdir, -varsfile and -var, in
// increasing order of precedence.
func (r *runCmd) loadVars() (map[string]string, error) {
	runVars := make(map[string]string)
	for name, value := range r.cmdVars {
		runVars[name] = value
	}
	for _, path := range r.varsFiles {
		if err := vars.ReadAndMerge(runVars, path, vars.ErrorOnDuplicate); err != nil {
			return nil, err
		}
	}
	if r.varsDir != "" {
		paths, err := vars.FindFiles(r.varsDir)
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			// Default files never shadow explicitly supplied values.
			if err := vars.ReadAndMerge(runVars, path, vars.SkipOnDuplicate); err != nil {
				return nil, err
			}
		}
	}
	return runVars, nil
}

// writeReports writes the final result files. The files are independent, so
// they are written in parallel.
func (r *runCmd) writeReports(records []*results.Record, tl *timing.Log) error {
	writeFile := func(name string, write func(w io.Writer) error) error {
		f, err := os.Create(filepath.Join(r.outDir, name))
		if err != nil {
			return err
		}
		if err := write(f); err != nil {
			f.Close()
			return errors.Wrapf(err, "failed to write %s", name)
		}
		return f.Close()
	}

	var g errgroup.Group
	g.Go(func() error {
		return writeFile(resultsName, func(w io.Writer) error { return results.Write(w, records) })
	})
	g.Go(func() error {
		return writeFile(junitName, func(w io.Writer) error { return reporting.WriteJUnit(w, records) })
	})
	g.Go(func() error {
		if tl.Empty() {
			return nil
		}
		return writeFile(timingLogName, tl.WritePretty)
	})
	return g.Wait()
}
