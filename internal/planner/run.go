// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package planner drives the execution of suites: it builds a suite's
// declaration tree, maintains the fixture stack, runs each subtest inside
// the isolation boundary and reports progress to an OutputStream.
package planner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"time"

	"go.chromium.org/gart/errors"
	"go.chromium.org/gart/harness"
	"go.chromium.org/gart/internal/logging"
	"go.chromium.org/gart/internal/outcome"
	"go.chromium.org/gart/internal/timing"
	"go.chromium.org/gart/internal/usercode"
)

const (
	// defaultGracePeriod is the extra time given to a subtest or fixture
	// stage after its timeout to finish cleanup before it is abandoned.
	defaultGracePeriod = 30 * time.Second

	// buildTimeout bounds a suite's declaration function, which must only
	// declare subtests and must not touch the device.
	buildTimeout = time.Minute
)

// Config contains details about how the planner should run suites.
type Config struct {
	// Vars contains names and values of runtime variables passed to subtests
	// and fixtures.
	Vars map[string]string

	// OutDir is the base directory under which subtests and fixtures write
	// output files. If empty, output directories are not created.
	OutDir string

	// DefaultTimeout is the timeout applied to subtests and fixture stages
	// in suites that declare no timeout of their own. Zero means no timeout.
	DefaultTimeout time.Duration

	// CustomGracePeriod specifies a custom grace period after a timeout
	// before an unresponsive subtest is abandoned. If nil, a default grace
	// period is used. It is set by unit tests to avoid long waits.
	CustomGracePeriod *time.Duration
}

// GracePeriod returns the grace period after a timeout before an
// unresponsive subtest is abandoned.
func (c *Config) GracePeriod() time.Duration {
	if c.CustomGracePeriod != nil {
		return *c.CustomGracePeriod
	}
	return defaultGracePeriod
}

// ConfigError wraps an error caused by a misdeclared or misused suite, e.g.
// duplicate subtest names, rather than by the device under test. It always
// aborts the whole run.
type ConfigError struct {
	err error
}

// NewConfigError creates a ConfigError wrapping err.
func NewConfigError(err error) *ConfigError {
	return &ConfigError{err: err}
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return e.err.Error()
}

// Unwrap returns the wrapped error.
func (e *ConfigError) Unwrap() error {
	return e.err
}

// IsConfigError returns true if err was caused by misuse of the harness
// rather than by the device under test.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// RunSuites runs suites in order, reporting progress to out.
//
// Failures, skips and crashes of individual subtests do not abort the run;
// they are reported via out only. The returned error is non-nil only if the
// whole run was aborted: a suite misused the harness (see IsConfigError),
// a fixture stage did not return, the run was canceled, or out failed.
func RunSuites(ctx context.Context, suites []*harness.Suite, out OutputStream, pcfg *Config) error {
	for _, s := range suites {
		if err := runSuite(ctx, s, out, pcfg); err != nil {
			return err
		}
	}
	return nil
}

// runSuite runs a single suite from declaration to the last subtest.
func runSuite(ctx context.Context, s *harness.Suite, out OutputStream, pcfg *Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := out.SuiteStart(s); err != nil {
		return err
	}

	entries, err := buildEntries(ctx, s, pcfg)
	if err != nil {
		return NewConfigError(err)
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = pcfg.DefaultTimeout
	}
	r := &suiteRun{
		cfg:     pcfg,
		out:     out,
		suite:   s,
		timeout: timeout,
		stack:   NewFixtureStack(pcfg, out, s),
	}
	if err := r.runEntries(ctx, entries); err != nil {
		return err
	}
	return out.SuiteEnd(s.Name)
}

// buildEntries runs the suite's declaration function inside the isolation
// boundary and returns the declaration tree.
func buildEntries(ctx context.Context, s *harness.Suite, pcfg *Config) ([]*harness.Entry, error) {
	var entries []*harness.Entry
	var declErr error
	onPanic := func(val interface{}) {
		declErr = errors.Errorf("panic in declaration of suite %q: %v", s.Name, val)
	}
	name := fmt.Sprintf("declaration of suite %q", s.Name)
	if err := usercode.SafeCall(ctx, name, buildTimeout, pcfg.GracePeriod(), onPanic, func(ctx context.Context) {
		entries, declErr = harness.BuildEntries(s)
	}); err != nil {
		return nil, err
	}
	if declErr != nil {
		return nil, declErr
	}
	return entries, nil
}

// suiteRun carries the state of one suite run across the declaration tree
// walk.
type suiteRun struct {
	cfg     *Config
	out     OutputStream
	suite   *harness.Suite
	timeout time.Duration // timeout for subtests and fixture stages
	stack   *FixtureStack
}

// runEntries runs the given entries in order. It returns an error only if
// the run should be aborted; see RunSuites.
func (r *suiteRun) runEntries(ctx context.Context, entries []*harness.Entry) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch {
		case e.Fixture != nil:
			if err := r.runScope(ctx, e); err != nil {
				return err
			}
		case e.Func != nil:
			if _, err := r.runSubtest(ctx, e.Name, e.Desc, e.Func); err != nil {
				return err
			}
		case e.Gen != nil:
			if err := r.runDynamicGroup(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// runScope enters a fixture scope, runs the entries it contains and leaves
// the scope again. The scope's teardown runs exactly once even when the run
// is aborted from inside the scope.
func (r *suiteRun) runScope(ctx context.Context, e *harness.Entry) error {
	if err := r.ensureClean(ctx); err != nil {
		return err
	}
	if err := r.stack.Push(ctx, e.Fixture); err != nil {
		return err
	}
	runErr := r.runEntries(ctx, e.Children)
	if err := r.stack.Pop(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// ensureClean resets the fixture stack if an earlier subtest crashed.
func (r *suiteRun) ensureClean(ctx context.Context) error {
	if !r.stack.Dirty() {
		return nil
	}
	return r.stack.Reset(ctx)
}

// runSubtest runs a single subtest inside the currently open fixture scopes,
// writing output messages to out, and reports its outcome. The returned
// error is non-nil only if the run should be aborted; a failing, skipped or
// crashing subtest returns a nil error.
func (r *suiteRun) runSubtest(ctx context.Context, name, desc string, fn harness.SubtestFunc) (outcome.Outcome, error) {
	// Attach a log that the subtest can use to report timing events.
	timingLog := timing.NewLog()
	ctx = timing.NewContext(ctx, timingLog)

	sout := newSubtestOutputStream(r.out, name, desc)
	if err := sout.Start(); err != nil {
		return outcome.Outcome{}, err
	}

	// After a crash the fixtures must prove themselves clean before another
	// subtest runs in them.
	if err := r.ensureClean(ctx); err != nil {
		return outcome.Outcome{}, err
	}
	if r.stack.Status() != statusGreen {
		oc := outcome.Skipped(r.stack.SkipReason())
		return oc, sout.End(oc, timingLog)
	}

	outDir, err := createOutDir(r.cfg.OutDir, r.suite.Name, name)
	if err != nil {
		return outcome.Outcome{}, err
	}

	cond := harness.NewEntityCondition()
	root := harness.NewEntityRoot(&harness.RunConfig{
		Vars:      r.cfg.Vars,
		OutDir:    outDir,
		FixtValue: r.stack.Val(),
	}, sout, cond)
	ctx = root.NewContext(ctx)

	if err := r.stack.PreSubtest(ctx, root); err != nil {
		return outcome.Outcome{}, err
	}

	var crashCause string
	if !cond.HasError() && !root.Skipped() {
		s := root.NewState()
		onPanic := func(val interface{}) {
			crashCause = fmt.Sprintf("Panic: %v", val)
			s.Error("Panic: ", val)
		}
		if err := usercode.SafeCall(ctx, name, r.timeout, r.cfg.GracePeriod(), onPanic, func(ctx context.Context) {
			fn(ctx, s)
		}); err != nil {
			if ctx.Err() != nil {
				// The run is being canceled; unwind and let the open scopes
				// tear down.
				return outcome.Outcome{}, err
			}
			// The body ignored its timeout. Abandon its goroutine, report a
			// crash and keep running; the fixtures will be reset first.
			crashCause = "did not return on timeout"
			sout.Log("Subtest did not return on timeout; abandoning it")
			dumpGoroutines(sout)
		}
	}

	// Post hooks run whenever the pre hooks did, even after a crash.
	if err := r.stack.PostSubtest(ctx, root); err != nil {
		return outcome.Outcome{}, err
	}

	var oc outcome.Outcome
	switch {
	case crashCause != "":
		oc = outcome.Crashed(crashCause)
	case cond.HasError():
		var reason string
		if errs := sout.Errors(); len(errs) > 0 {
			reason = errs[0].Reason
		}
		oc = outcome.Failed(reason)
	case root.Skipped():
		oc = outcome.Skipped(root.SkipReason())
	default:
		oc = outcome.Passed()
	}

	if oc.Kind == outcome.Crash {
		if err := r.stack.MarkDirty(); err != nil {
			return outcome.Outcome{}, err
		}
	}
	return oc, sout.End(oc, timingLog)
}

// runDynamicGroup expands a dynamic group by running its generator inside
// the isolation boundary. Each name the generator yields runs immediately as
// a full subtest before the generator resumes. A fault in the generator
// itself yields a single crash entry attributed to the group.
func (r *suiteRun) runDynamicGroup(ctx context.Context, e *harness.Entry) error {
	// The generator reads fixture state to enumerate its subtests, so it
	// follows the same post-crash policy as a subtest body: the fixtures
	// must prove themselves clean first, and a non-green scope skips the
	// whole group.
	if err := r.ensureClean(ctx); err != nil {
		return err
	}
	if r.stack.Status() != statusGreen {
		gout := newSubtestOutputStream(r.out, e.Name, e.Desc)
		if err := gout.Start(); err != nil {
			return err
		}
		return gout.End(outcome.Skipped(r.stack.SkipReason()), nil)
	}

	var (
		abortErr   error
		crashCause string
		groupErr   *harness.Error
	)
	g := harness.NewGroup(func(name string, fn harness.SubtestFunc) bool {
		if abortErr != nil {
			return false
		}
		if err := harness.ValidateDynamicName(name); err != nil {
			abortErr = NewConfigError(errors.Wrapf(err, "dynamic group %q", e.Name))
			return false
		}
		oc, err := r.runSubtest(ctx, name, e.Desc, fn)
		if err != nil {
			abortErr = err
			return false
		}
		return oc.Kind == outcome.Pass
	})

	// Logs from the generator go to the suite log attributed to the group.
	gctx := r.suiteLogContext(ctx, e.Name)

	onPanic := func(val interface{}) {
		crashCause = fmt.Sprintf("Panic: %v", val)
		msg := fmt.Sprintf("Panic in subtest generator: %v", val)
		groupErr = harness.NewError(nil, msg, msg, 1)
	}
	name := fmt.Sprintf("dynamic group %q", e.Name)
	// The generator itself gets no timeout: its window spans the subtests it
	// yields, each of which is bounded on its own.
	if err := usercode.SafeCall(gctx, name, 0, r.cfg.GracePeriod(), onPanic, func(ctx context.Context) {
		e.Gen(ctx, g)
	}); err != nil {
		return err
	}
	if abortErr != nil {
		return abortErr
	}
	if crashCause == "" {
		return nil
	}

	// One crash entry attributed to the group itself.
	gout := newSubtestOutputStream(r.out, e.Name, e.Desc)
	if err := gout.Start(); err != nil {
		return err
	}
	if err := gout.Error(groupErr); err != nil {
		return err
	}
	// A yielded subtest may already have crashed (dirtying the stack) or
	// turned a scope non-green before the generator itself panicked; only a
	// green, clean stack needs marking here.
	if r.stack.Status() == statusGreen && !r.stack.Dirty() {
		if err := r.stack.MarkDirty(); err != nil {
			return err
		}
	}
	return gout.End(outcome.Crashed(crashCause), nil)
}

// suiteLogContext returns a context whose logs are routed to the suite log
// attributed to the named entity.
func (r *suiteRun) suiteLogContext(ctx context.Context, name string) context.Context {
	logger := logging.NewSinkLogger(logging.LevelInfo, false, logging.NewFuncSink(func(msg string) {
		r.out.SuiteLog(r.suite.Name, fmt.Sprintf("%s: %s", name, msg))
	}))
	return logging.AttachLoggerNoPropagation(ctx, logger)
}

// createOutDir creates the output directory for the named entity and returns
// its path. If base is empty no directory is created and an empty path is
// returned.
func createOutDir(base, suite, name string) (string, error) {
	if base == "" {
		return "", nil
	}
	dir := filepath.Join(base, suite, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// dumpGoroutines dumps all goroutines to sout to help debug an unresponsive
// subtest.
func dumpGoroutines(sout *subtestOutputStream) {
	sout.Log("Dumping all goroutines")
	if err := func() error {
		p := pprof.Lookup("goroutine")
		if p == nil {
			return errors.New("goroutine pprof not found")
		}
		var buf bytes.Buffer
		if err := p.WriteTo(&buf, 2); err != nil {
			return err
		}
		sc := bufio.NewScanner(&buf)
		for sc.Scan() {
			sout.Log(sc.Text())
		}
		return sc.Err()
	}(); err != nil {
		sout.Log(fmt.Sprintf("Failed to dump goroutines: %v", err))
	}
}
