// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package results collects the outcomes of a run as reported by the planner
// and writes them to machine-readable result files.
package results

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"go.chromium.org/gart/errors"
	"go.chromium.org/gart/harness"
	"go.chromium.org/gart/internal/logging"
	"go.chromium.org/gart/internal/outcome"
	"go.chromium.org/gart/internal/planner"
	"go.chromium.org/gart/internal/timing"
)

// Error describes an error recorded against a subtest or against the run.
// Fields are exported so they can be marshaled by the json package.
type Error struct {
	// Time is the time at which the error was recorded.
	Time time.Time `json:"time"`
	// Reason is a human-readable description of the error.
	Reason string `json:"reason"`
	// File is the path of the source file that reported the error.
	File string `json:"file"`
	// Line is the line number at which the error was reported.
	Line int `json:"line"`
	// Stack is a stack trace of the goroutine that reported the error.
	Stack string `json:"stack"`
}

func newError(e *harness.Error, now time.Time) Error {
	return Error{
		Time:   now,
		Reason: e.Reason,
		File:   e.File,
		Line:   e.Line,
		Stack:  e.Stack,
	}
}

// Record describes the result of a single subtest.
//
// End holds the zero value (0001-01-01T00:00:00Z) while the subtest is still
// running, which is also how an unfinished subtest appears in streamed
// results if the process dies mid-run.
type Record struct {
	// Suite is the name of the suite the subtest belongs to.
	Suite string `json:"suite"`
	// Name is the subtest's name within the suite.
	Name string `json:"name"`
	// Desc is a short human-readable description of the subtest.
	Desc string `json:"desc,omitempty"`
	// Outcome classifies how the subtest finished.
	Outcome outcome.Kind `json:"outcome"`
	// Reason explains the outcome for everything but a pass.
	Reason string `json:"reason,omitempty"`
	// Errors contains the errors the subtest reported, in order.
	Errors []Error `json:"errors"`
	// Start is the time at which the subtest started.
	Start time.Time `json:"start"`
	// End is the time at which the subtest finished.
	End time.Time `json:"end"`
	// OutDir is the directory into which the subtest's output files are
	// stored. Empty if no output directory was configured for the run.
	OutDir string `json:"outDir,omitempty"`
}

// FullName returns the name the subtest is reported under,
// "<suite name>/<subtest name>".
func (r *Record) FullName() string {
	return r.Suite + "/" + r.Name
}

// Counts summarizes the outcomes of a run.
type Counts struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Crashed int
}

// Count tallies the outcomes of records.
func Count(records []*Record) Counts {
	c := Counts{Total: len(records)}
	for _, r := range records {
		switch r.Outcome {
		case outcome.Pass:
			c.Passed++
		case outcome.Fail:
			c.Failed++
		case outcome.Skip:
			c.Skipped++
		case outcome.Crash:
			c.Crashed++
		}
	}
	return c
}

// Config contains dependencies of Aggregator. All fields are optional.
type Config struct {
	// Logger receives live progress messages. nil suppresses them.
	Logger logging.Logger

	// Clock is the time source for record timestamps. nil means the system
	// clock; unit tests install a fake.
	Clock clock.Clock

	// TimingLog, if non-nil, accumulates a stage per suite and per subtest,
	// with the stages reported by subtest bodies imported beneath them.
	TimingLog *timing.Log

	// Stream, if non-nil, receives every record as it starts and finishes.
	Stream *StreamWriter

	// OutDir is the base directory the planner stores subtest output files
	// under, used to derive Record.OutDir. It must match the directory the
	// planner was configured with.
	OutDir string
}

// Aggregator collects the outcomes of a whole run in insertion order.
//
// Aggregator implements planner.OutputStream. A subtest name reported twice
// within a suite indicates a harness bug or a dynamic name collision, and is
// returned as a planner.ConfigError to abort the run.
type Aggregator struct {
	cfg *Config
	clk clock.Clock

	mu           sync.Mutex
	suite        string
	suiteStart   time.Time
	suiteStage   *timing.Stage
	subtestStage *timing.Stage
	current      *Record
	seen         map[string]*Record
	records      []*Record
	runErrors    []Error
}

var _ planner.OutputStream = &Aggregator{}

// NewAggregator creates an Aggregator with the given config.
func NewAggregator(cfg *Config) *Aggregator {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Aggregator{
		cfg:  cfg,
		clk:  clk,
		seen: make(map[string]*Record),
	}
}

// RunError records an error not attributable to a single subtest, e.g. a
// broken fixture. Unlike subtest errors it carries no outcome; it is kept so
// reports can explain why surrounding subtests were skipped.
func (a *Aggregator) RunError(e *harness.Error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runErrors = append(a.runErrors, newError(e, a.clk.Now()))
	a.logf("Error at %s:%d: %s", filepath.Base(e.File), e.Line, e.Reason)
	return nil
}

// SuiteStart reports that suite s has started.
func (a *Aggregator) SuiteStart(s *harness.Suite) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.suite != "" {
		return errors.Errorf("got SuiteStart for %q while suite %q is still active", s.Name, a.suite)
	}
	a.suite = s.Name
	a.suiteStart = a.clk.Now()
	if a.cfg.TimingLog != nil {
		a.suiteStage = a.cfg.TimingLog.StartTop(s.Name)
	}
	a.logf("Started suite %s", s.Name)
	return nil
}

// SuiteLog records an informational message from suite-level code.
func (a *Aggregator) SuiteLog(suite, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if suite != a.suite {
		return errors.Errorf("got SuiteLog for %q while it was not active", suite)
	}
	a.logf("%s", msg)
	return nil
}

// SuiteEnd reports that the named suite has ended.
func (a *Aggregator) SuiteEnd(suite string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if suite != a.suite {
		return errors.Errorf("got SuiteEnd for %q while it was not active", suite)
	}
	if a.current != nil {
		return errors.Errorf("got SuiteEnd for %q while subtest %q is still running", suite, a.current.Name)
	}
	a.suiteStage.End()
	a.suiteStage = nil
	a.logf("Completed suite %s in %v", suite, a.clk.Now().Sub(a.suiteStart).Round(time.Millisecond))
	a.suite = ""
	return nil
}

// SubtestStart records that a subtest has started.
func (a *Aggregator) SubtestStart(name, desc string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.suite == "" {
		return errors.Errorf("got SubtestStart for %q before SuiteStart", name)
	}
	if a.current != nil {
		return errors.Errorf("got SubtestStart for %q while %q is still running", name, a.current.Name)
	}
	rec := &Record{
		Suite: a.suite,
		Name:  name,
		Desc:  desc,
		Start: a.clk.Now(),
	}
	if prev := a.seen[rec.FullName()]; prev != nil {
		return planner.NewConfigError(errors.Errorf("subtest %q already recorded", rec.FullName()))
	}
	if a.cfg.OutDir != "" {
		// Mirrors the per-subtest directory layout the planner creates.
		rec.OutDir = filepath.Join(a.cfg.OutDir, a.suite, name)
	}
	a.seen[rec.FullName()] = rec
	a.records = append(a.records, rec)
	a.current = rec
	if a.suiteStage != nil {
		a.subtestStage = a.suiteStage.StartChild(name)
	}
	if a.cfg.Stream != nil {
		// Record that the subtest started, so an unfinished subtest is
		// visible even if the process dies before SubtestEnd.
		if err := a.cfg.Stream.Write(rec, false); err != nil {
			return err
		}
	}
	a.logf("Started subtest %s", name)
	return nil
}

// SubtestLog records an informational message from the running subtest.
func (a *Aggregator) SubtestLog(name, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.current.Name != name {
		return errors.Errorf("got SubtestLog for %q while it was not running", name)
	}
	a.logf("%s", msg)
	return nil
}

// SubtestError records an error reported by the running subtest.
func (a *Aggregator) SubtestError(name string, e *harness.Error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.current.Name != name {
		return errors.Errorf("got SubtestError for %q while it was not running", name)
	}
	a.current.Errors = append(a.current.Errors, newError(e, a.clk.Now()))
	a.logf("Error at %s:%d: %s", filepath.Base(e.File), e.Line, e.Reason)
	if e.Stack != "" {
		a.logf("Stack trace:\n%s", e.Stack)
	}
	return nil
}

// SubtestEnd records that the running subtest finished with outcome oc.
func (a *Aggregator) SubtestEnd(name string, oc outcome.Outcome, timingLog *timing.Log) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.current.Name != name {
		return errors.Errorf("got SubtestEnd for %q while it was not running", name)
	}
	if !oc.Kind.Terminal() {
		return errors.Errorf("subtest %q ended without a terminal outcome", name)
	}
	rec := a.current
	rec.End = a.clk.Now()
	rec.Outcome = oc.Kind
	rec.Reason = oc.Reason
	a.current = nil

	if a.subtestStage != nil {
		if timingLog != nil {
			if err := a.subtestStage.Import(timingLog); err != nil {
				a.logf("Failed importing timing log for %v: %v", name, err)
			}
		}
		a.subtestStage.End()
		a.subtestStage = nil
	}
	if a.cfg.Stream != nil {
		if err := a.cfg.Stream.Write(rec, true); err != nil {
			return err
		}
	}

	switch oc.Kind {
	case outcome.Skip:
		a.logf("Skipped subtest %s: %s", name, oc.Reason)
	case outcome.Crash:
		a.logf("Crashed subtest %s: %s", name, oc.Reason)
	default:
		a.logf("Completed subtest %s in %v with %d error(s)",
			name, rec.End.Sub(rec.Start).Round(time.Millisecond), len(rec.Errors))
	}
	return nil
}

// Records returns the records collected so far in insertion order.
func (a *Aggregator) Records() []*Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Record(nil), a.records...)
}

// RunErrors returns the run-level errors recorded so far.
func (a *Aggregator) RunErrors() []Error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Error(nil), a.runErrors...)
}

// Counts tallies the outcomes recorded so far.
func (a *Aggregator) Counts() Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Count(a.records)
}

// ExitCode returns the process exit code the recorded outcomes call for:
// 0 if every subtest passed or was skipped, 1 if any failed or crashed.
// An aborted run is mapped to an exit code by the caller instead.
func (a *Aggregator) ExitCode() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range a.records {
		if rec.Outcome.Failed() {
			return 1
		}
	}
	return 0
}

func (a *Aggregator) logf(format string, args ...interface{}) {
	if a.cfg.Logger == nil {
		return
	}
	a.cfg.Logger.Log(logging.LevelInfo, a.clk.Now(), fmt.Sprintf(format, args...))
}

// Write writes records to w as an indented JSON array, the schema of
// results.json.
func Write(w io.Writer, records []*Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
