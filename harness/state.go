// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sync"

	"go.chromium.org/gart/internal/logging"
)

// EntityCondition stores mutable condition of an entity.
type EntityCondition struct {
	mu       sync.Mutex
	hasError bool
}

// NewEntityCondition creates a new EntityCondition.
func NewEntityCondition() *EntityCondition {
	return &EntityCondition{hasError: false}
}

// RecordError records that an error has been reported for the entity.
func (c *EntityCondition) RecordError() {
	c.mu.Lock()
	c.hasError = true
	c.mu.Unlock()
}

// HasError returns whether an error has been reported for the entity.
func (c *EntityCondition) HasError() bool {
	c.mu.Lock()
	res := c.hasError
	c.mu.Unlock()
	return res
}

// RunConfig contains details about how an individual subtest or fixture stage
// should be run.
type RunConfig struct {
	// Vars contains the values of runtime variables loaded from vars files.
	Vars map[string]string
	// OutDir is the directory to which the entity may write output files.
	OutDir string
	// FixtValue is the value exposed by the innermost enclosing fixture scope,
	// or nil if there is none.
	FixtValue interface{}
}

// EntityRoot is the root of all State objects associated with an entity
// (a subtest or a fixture stage). EntityRoot keeps track of states shared
// among all State objects associated with an entity (e.g. whether any error
// has been reported), as well as immutable entity information such as
// RunConfig. Make sure to create State objects for an entity from the same
// EntityRoot.
// EntityRoot must be kept private to the framework.
type EntityRoot struct {
	cfg       *RunConfig   // details about how to run an entity
	out       OutputStream // stream to which logging messages and errors are reported
	condition *EntityCondition

	mu         sync.Mutex // protects skipped and skipReason
	skipped    bool
	skipReason string
}

// NewEntityRoot returns a new EntityRoot object.
func NewEntityRoot(cfg *RunConfig, out OutputStream, condition *EntityCondition) *EntityRoot {
	return &EntityRoot{
		cfg:       cfg,
		out:       out,
		condition: condition,
	}
}

func (r *EntityRoot) newGlobalMixin(errPrefix string, hasError bool) *globalMixin {
	return &globalMixin{
		entityRoot: r,
		errPrefix:  errPrefix,
		hasError:   hasError,
	}
}

func (r *EntityRoot) newEntityMixin() *entityMixin {
	return &entityMixin{
		entityRoot: r,
	}
}

// NewState creates a State for a subtest.
func (r *EntityRoot) NewState() *State {
	return &State{
		globalMixin: r.newGlobalMixin("", r.hasError()),
		entityMixin: r.newEntityMixin(),
		root:        r,
	}
}

// NewFixtState creates a FixtState for a fixture stage.
func (r *EntityRoot) NewFixtState() *FixtState {
	return &FixtState{
		globalMixin: r.newGlobalMixin("", r.hasError()),
		entityMixin: r.newEntityMixin(),
		root:        r,
	}
}

// NewContext creates a new context associated with the entity. Logging
// messages sent to the context are routed to the entity's output stream.
func (r *EntityRoot) NewContext(ctx context.Context) context.Context {
	logger := logging.NewSinkLogger(logging.LevelInfo, false, logging.NewFuncSink(func(msg string) { r.out.Log(msg) }))
	return logging.AttachLoggerNoPropagation(ctx, logger)
}

// hasError checks if any error has been reported.
func (r *EntityRoot) hasError() bool {
	return r.condition.HasError()
}

// recordError records that the entity has reported an error.
func (r *EntityRoot) recordError() {
	r.condition.RecordError()
}

// recordSkip records the reason the entity asked to be skipped.
// The first recorded reason wins; later calls are ignored.
func (r *EntityRoot) recordSkip(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.skipped {
		return
	}
	r.skipped = true
	r.skipReason = reason
}

// Skipped reports whether the entity asked to be skipped.
func (r *EntityRoot) Skipped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

// SkipReason returns the reason recorded by the first Skip or Require call,
// or an empty string if the entity did not ask to be skipped.
func (r *EntityRoot) SkipReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipReason
}

// globalMixin implements common methods for all State types.
// A globalMixin object must not be shared among multiple State objects.
type globalMixin struct {
	entityRoot *EntityRoot
	errPrefix  string // prefix to be added to error messages

	mu       sync.Mutex // protects hasError
	hasError bool       // true if any error was reported from this State object
}

// Log formats its arguments using default formatting and logs them.
func (s *globalMixin) Log(args ...interface{}) {
	s.entityRoot.out.Log(fmt.Sprint(args...))
}

// Logf is similar to Log but formats its arguments using fmt.Sprintf.
func (s *globalMixin) Logf(format string, args ...interface{}) {
	s.entityRoot.out.Log(fmt.Sprintf(format, args...))
}

// Error formats its arguments using default formatting and marks the entity
// as having failed (using the arguments as a reason for the failure)
// while letting the entity continue execution.
func (s *globalMixin) Error(args ...interface{}) {
	s.recordError()
	fullMsg, lastMsg, err := s.formatError(args...)
	e := NewError(err, fullMsg, lastMsg, 1)
	s.entityRoot.out.Error(e)
}

// Errorf is similar to Error but formats its arguments using fmt.Sprintf.
func (s *globalMixin) Errorf(format string, args ...interface{}) {
	s.recordError()
	fullMsg, lastMsg, err := s.formatErrorf(format, args...)
	e := NewError(err, fullMsg, lastMsg, 1)
	s.entityRoot.out.Error(e)
}

// Fatal is similar to Error but additionally immediately ends the entity.
func (s *globalMixin) Fatal(args ...interface{}) {
	s.recordError()
	fullMsg, lastMsg, err := s.formatError(args...)
	e := NewError(err, fullMsg, lastMsg, 1)
	s.entityRoot.out.Error(e)
	runtime.Goexit()
}

// Fatalf is similar to Fatal but formats its arguments using fmt.Sprintf.
func (s *globalMixin) Fatalf(format string, args ...interface{}) {
	s.recordError()
	fullMsg, lastMsg, err := s.formatErrorf(format, args...)
	e := NewError(err, fullMsg, lastMsg, 1)
	s.entityRoot.out.Error(e)
	runtime.Goexit()
}

// Skip marks the entity as skipped (using the arguments as the reason) and
// immediately ends its execution. A skipped entity never counts as failed.
func (s *globalMixin) Skip(args ...interface{}) {
	s.entityRoot.recordSkip(s.errPrefix + fmt.Sprint(args...))
	runtime.Goexit()
}

// Skipf is similar to Skip but formats its arguments using fmt.Sprintf.
func (s *globalMixin) Skipf(format string, args ...interface{}) {
	s.entityRoot.recordSkip(s.errPrefix + fmt.Sprintf(format, args...))
	runtime.Goexit()
}

// Require checks a prerequisite of the entity. If err is non-nil the entity
// is skipped with err's message as the reason, as with Skip. An unmet
// prerequisite never counts as a failure.
func (s *globalMixin) Require(err error) {
	if err == nil {
		return
	}
	s.entityRoot.recordSkip(s.errPrefix + err.Error())
	runtime.Goexit()
}

// Requiref is similar to Require but prepends a message formatted using
// fmt.Sprintf to the skip reason.
func (s *globalMixin) Requiref(err error, format string, args ...interface{}) {
	if err == nil {
		return
	}
	s.entityRoot.recordSkip(s.errPrefix + fmt.Sprintf("%s: %v", fmt.Sprintf(format, args...), err))
	runtime.Goexit()
}

// HasError reports whether the entity has already reported errors.
func (s *globalMixin) HasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasError
}

// errorSuffix matches the well-known error message suffixes for formatError.
var errorSuffix = regexp.MustCompile(`(\s*:\s*|\s+)$`)

// formatError formats an error message using fmt.Sprint.
// If the format is well-known one, such as:
//
//	formatError("Failed something: ", err)
//
// then this function extracts an error object and returns parsed error messages
// in the following way:
//
//	lastMsg = "Failed something"
//	fullMsg = "Failed something: <error message>"
func (s *globalMixin) formatError(args ...interface{}) (fullMsg, lastMsg string, err error) {
	fullMsg = s.errPrefix + fmt.Sprint(args...)
	if len(args) == 1 {
		if e, ok := args[0].(error); ok {
			err = e
		}
	} else if len(args) >= 2 {
		if e, ok := args[len(args)-1].(error); ok {
			if s, ok := args[len(args)-2].(string); ok {
				if m := errorSuffix.FindStringIndex(s); m != nil {
					err = e
					args = append(args[:len(args)-2], s[:m[0]])
				}
			}
		}
	}
	lastMsg = s.errPrefix + fmt.Sprint(args...)
	return fullMsg, lastMsg, err
}

// errorfSuffix matches the well-known error message suffix for formatErrorf.
var errorfSuffix = regexp.MustCompile(`\s*:?\s*%v$`)

// formatErrorf formats an error message using fmt.Sprintf.
// If the format is the following well-known one:
//
//	formatErrorf("Failed something: %v", err)
//
// then this function extracts an error object and returns parsed error messages
// in the following way:
//
//	lastMsg = "Failed something"
//	fullMsg = "Failed something: <error message>"
func (s *globalMixin) formatErrorf(format string, args ...interface{}) (fullMsg, lastMsg string, err error) {
	fullMsg = s.errPrefix + fmt.Sprintf(format, args...)
	if len(args) >= 1 {
		if e, ok := args[len(args)-1].(error); ok {
			if m := errorfSuffix.FindStringIndex(format); m != nil {
				err = e
				args = args[:len(args)-1]
				format = format[:m[0]]
			}
		}
	}
	lastMsg = s.errPrefix + fmt.Sprintf(format, args...)
	return fullMsg, lastMsg, err
}

// recordError records that the entity has reported an error.
func (s *globalMixin) recordError() {
	s.entityRoot.recordError()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasError = true
}

// entityMixin implements common methods for State types allowing access to
// values shared by the whole run, e.g. runtime variables.
// An entityMixin object must not be shared among multiple State objects.
type entityMixin struct {
	entityRoot *EntityRoot
}

// Var returns the value for the named runtime variable.
// If a value was not supplied via -varsfile, ok is false.
func (s *entityMixin) Var(name string) (val string, ok bool) {
	val, ok = s.entityRoot.cfg.Vars[name]
	return val, ok
}

// RequiredVar is similar to Var but skips the entity if the named variable
// was not supplied.
func (s *entityMixin) RequiredVar(name string) string {
	val, ok := s.Var(name)
	if !ok {
		s.entityRoot.recordSkip(fmt.Sprintf("Required variable %q not supplied via -varsfile", name))
		runtime.Goexit()
	}
	return val
}

// OutDir returns a directory into which the entity may place arbitrary files
// that should be included with the run results.
func (s *entityMixin) OutDir() string { return s.entityRoot.cfg.OutDir }

// State holds state relevant to the execution of a single subtest.
//
// Parts of its interface are patterned after Go's testing.T type.
//
// State contains many pieces of data, and it's unclear which are actually being
// used when it's passed to a function. You should minimize the number of
// functions taking State as an argument. Instead you can pass State's derived
// values (e.g. s.FixtValue()) or ctx.
//
// It is intended to be safe when called concurrently by multiple goroutines
// while a subtest is running. A State is only valid during the execution
// window of its subtest; retaining one past the subtest's end is a
// programming error.
type State struct {
	*globalMixin
	*entityMixin
	root *EntityRoot
}

// FixtValue returns the value exposed by the innermost enclosing fixture
// scope, or nil if there is none.
func (s *State) FixtValue() interface{} {
	return s.root.cfg.FixtValue
}
