// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package planner

import (
	"fmt"
	"sync"

	"go.chromium.org/gart/errors"
	"go.chromium.org/gart/harness"
	"go.chromium.org/gart/internal/outcome"
	"go.chromium.org/gart/internal/timing"
)

// OutputStream is an interface to report streamed outputs of a whole run.
// Note that harness.OutputStream is for a single subtest or fixture stage in
// contrast.
//
// Implementations must be goroutine-safe. A method returning a non-nil error
// aborts the run.
type OutputStream interface {
	// RunError reports a run-level error not attributable to a single
	// subtest, e.g. a broken fixture.
	RunError(e *harness.Error) error
	// SuiteStart reports that suite s has started.
	SuiteStart(s *harness.Suite) error
	// SuiteLog reports an informational log message from suite-level code
	// such as fixtures and the planner itself.
	SuiteLog(suite, msg string) error
	// SuiteEnd reports that the named suite has ended.
	SuiteEnd(suite string) error
	// SubtestStart reports that a subtest has started.
	SubtestStart(name, desc string) error
	// SubtestLog reports an informational log message from a subtest.
	SubtestLog(name, msg string) error
	// SubtestError reports an error from a subtest. A subtest that reported
	// one or more errors should be considered failed.
	SubtestError(name string, e *harness.Error) error
	// SubtestEnd reports that a subtest has ended with outcome oc.
	// timingLog describes the subtest's timing stages; it may be nil.
	SubtestEnd(name string, oc outcome.Outcome, timingLog *timing.Log) error
}

var errAlreadyEnded = errors.New("subtest has already ended")

// subtestOutputStream wraps planner.OutputStream for a single subtest.
//
// subtestOutputStream implements harness.OutputStream. subtestOutputStream is
// goroutine-safe; a subtest body may call it from multiple goroutines, and an
// abandoned body may keep calling it after the subtest has ended.
type subtestOutputStream struct {
	out  OutputStream
	name string
	desc string

	mu    sync.Mutex
	errs  []*harness.Error
	ended bool
}

var _ harness.OutputStream = &subtestOutputStream{}

// newSubtestOutputStream creates subtestOutputStream for out and the named
// subtest.
func newSubtestOutputStream(out OutputStream, name, desc string) *subtestOutputStream {
	return &subtestOutputStream{out: out, name: name, desc: desc}
}

// Start reports that the subtest has started. It should be called exactly
// once.
func (w *subtestOutputStream) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return errAlreadyEnded
	}
	return w.out.SubtestStart(w.name, w.desc)
}

// Log reports an informational log from the subtest.
func (w *subtestOutputStream) Log(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return errAlreadyEnded
	}
	return w.out.SubtestLog(w.name, msg)
}

// Error reports an error from the subtest.
func (w *subtestOutputStream) Error(e *harness.Error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return errAlreadyEnded
	}
	w.errs = append(w.errs, e)
	return w.out.SubtestError(w.name, e)
}

// End reports that the subtest has ended. After End is called, all methods
// will fail with an error.
func (w *subtestOutputStream) End(oc outcome.Outcome, timingLog *timing.Log) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		return errAlreadyEnded
	}
	w.ended = true
	return w.out.SubtestEnd(w.name, oc, timingLog)
}

// Errors returns the errors reported by the subtest so far.
func (w *subtestOutputStream) Errors() []*harness.Error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*harness.Error(nil), w.errs...)
}

// fixtureOutputStream wraps planner.OutputStream for the setup and teardown
// stages of a single fixture.
//
// fixtureOutputStream implements harness.OutputStream. Log messages are
// routed to the suite log attributed to the fixture. Errors are forwarded as
// run errors, since a broken fixture fails the run rather than a particular
// subtest, and collected so that the fixture stack can derive the skip
// reason for the contained subtests.
type fixtureOutputStream struct {
	out   OutputStream
	suite string
	name  string

	mu   sync.Mutex
	errs []*harness.Error
}

var _ harness.OutputStream = &fixtureOutputStream{}

// newFixtureOutputStream creates fixtureOutputStream for out and the named
// fixture in the named suite.
func newFixtureOutputStream(out OutputStream, suite, name string) *fixtureOutputStream {
	return &fixtureOutputStream{out: out, suite: suite, name: name}
}

// Log reports an informational log from the fixture.
func (w *fixtureOutputStream) Log(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.SuiteLog(w.suite, fmt.Sprintf("%s: %s", w.name, msg))
}

// Error reports an error from the fixture.
func (w *fixtureOutputStream) Error(e *harness.Error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs = append(w.errs, e)
	re := *e
	re.Reason = fmt.Sprintf("[Fixture failure] %s: %s", w.name, e.Reason)
	return w.out.RunError(&re)
}

// Errors returns the errors reported by the fixture so far, unrewritten.
func (w *fixtureOutputStream) Errors() []*harness.Error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*harness.Error(nil), w.errs...)
}
