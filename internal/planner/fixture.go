// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package planner

import (
	"context"
	"fmt"
	"time"

	"go.chromium.org/gart/errors"
	"go.chromium.org/gart/harness"
	"go.chromium.org/gart/internal/logging"
	"go.chromium.org/gart/internal/usercode"
)

// fixtureStatus represents a status of a fixture scope, as well as that of a
// fixture stack.
type fixtureStatus int

const (
	statusRed    fixtureStatus = iota // not set up, failed to set up, or torn down
	statusGreen                       // set up and ready to lend its value
	statusYellow                      // possibly corrupt after a crash
)

// String converts fixtureStatus to a string for debugging.
func (s fixtureStatus) String() string {
	switch s {
	case statusRed:
		return "red"
	case statusGreen:
		return "green"
	case statusYellow:
		return "yellow"
	default:
		return "unknown"
	}
}

// FixtureStack maintains a stack of fixture scopes and their states.
//
// A fixture scope is green when its setup succeeded and its value is ready to
// be lent to contained subtests, yellow when a contained subtest crashed and
// the fixture has not proved itself clean yet, and red when its setup failed,
// was skipped, or its teardown already ran.
//
// The status of a fixture stack is derived from the statuses of its scopes:
// green if all scopes are green (an empty stack is green), red if any scope
// is red, and yellow otherwise. A scope pushed onto a non-green stack starts
// red without running its setup, so a red scope is never below a non-red one.
//
// Subtests run only while the stack is green. When the stack is non-green
// they are skipped with the reason of the topmost non-green scope.
type FixtureStack struct {
	cfg   *Config
	out   OutputStream
	suite *harness.Suite

	stack []*statefulFixture
	dirty bool
}

// NewFixtureStack creates a new empty fixture stack for a run of suite.
func NewFixtureStack(cfg *Config, out OutputStream, suite *harness.Suite) *FixtureStack {
	return &FixtureStack{cfg: cfg, out: out, suite: suite}
}

// Status returns the current status of the fixture stack.
func (st *FixtureStack) Status() fixtureStatus {
	for _, f := range st.stack {
		if s := f.Status(); s != statusGreen {
			return s
		}
	}
	return statusGreen
}

// SkipReason returns the reason contained subtests are skipped when the
// stack is non-green. It returns an empty string for a green stack.
func (st *FixtureStack) SkipReason() string {
	for _, f := range st.stack {
		if f.Status() != statusGreen {
			return f.FailReason()
		}
	}
	return ""
}

// Val returns the fixture value of the top of the stack. It is nil if the
// stack is empty or non-green.
func (st *FixtureStack) Val() interface{} {
	if len(st.stack) == 0 || st.Status() != statusGreen {
		return nil
	}
	return st.top().Val()
}

// Dirty returns true if MarkDirty has been called since the last Reset.
func (st *FixtureStack) Dirty() bool {
	return st.dirty
}

// MarkDirty marks the fixture stack as dirty after a contained subtest
// crashed. The scopes on the stack must prove themselves clean via Reset
// before another subtest runs. It is an error to call MarkDirty on an
// already dirty stack.
func (st *FixtureStack) MarkDirty() error {
	if st.dirty {
		return errors.New("BUG: MarkDirty called for a dirty stack")
	}
	st.dirty = true
	return nil
}

// Push adds a new fixture scope to the top of the stack.
//
// If the stack is green, the fixture's SetUp is run. If SetUp fails or
// reports errors the new scope starts red and the run is considered failed;
// if SetUp skips, the new scope starts red without failing the run. In both
// cases the contained subtests will be skipped and TearDown will not run.
//
// If the stack is non-green the new scope starts red without running SetUp,
// inheriting the enclosing scope's skip reason.
func (st *FixtureStack) Push(ctx context.Context, fixt *harness.Fixture) error {
	status := st.Status()
	parentVal := st.Val()

	fout := newFixtureOutputStream(st.out, st.suite.Name, fixt.Name)
	f := newStatefulFixture(fixt, fout, st.cfg, st.suite)
	st.stack = append(st.stack, f)

	if status == statusGreen {
		if err := f.RunSetUp(ctx, parentVal); err != nil {
			return err
		}
	}
	return nil
}

// Pop removes the top fixture scope from the stack, running its TearDown
// unless the scope is red. TearDown runs exactly once per scope whose SetUp
// succeeded, no matter how the contained subtests ended.
func (st *FixtureStack) Pop(ctx context.Context) error {
	f := st.top()
	st.stack = st.stack[:len(st.stack)-1]
	if f.Status() == statusRed {
		return nil
	}
	return f.RunTearDown(ctx)
}

// Reset runs Reset on the green scopes on the stack from the bottom to the
// top after a contained subtest crashed, and clears the dirty flag. A scope
// that has no Reset hook or whose Reset fails turns yellow, which skips the
// remaining subtests it contains.
func (st *FixtureStack) Reset(ctx context.Context) error {
	if !st.dirty {
		return errors.New("BUG: Reset called for a clean stack")
	}
	if st.Status() == statusYellow {
		return errors.New("BUG: Reset called for a yellow fixture stack")
	}

	st.dirty = false

	for _, f := range st.stack {
		if f.Status() != statusGreen {
			break
		}
		if err := f.RunReset(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PreSubtest runs the PreSubtest hooks of the green scopes from the bottom
// to the top. root must be the subtest's entity root so that reported errors
// are attributed to the subtest.
func (st *FixtureStack) PreSubtest(ctx context.Context, root *harness.EntityRoot) error {
	for _, f := range st.stack {
		if f.Status() != statusGreen {
			break
		}
		if err := f.RunPreSubtest(ctx, root); err != nil {
			return err
		}
	}
	return nil
}

// PostSubtest runs the PostSubtest hooks of the green scopes from the top to
// the bottom. It is called whenever PreSubtest was, even if the subtest
// crashed in between.
func (st *FixtureStack) PostSubtest(ctx context.Context, root *harness.EntityRoot) error {
	top := len(st.stack)
	for top > 0 && st.stack[top-1].Status() != statusGreen {
		top--
	}
	for i := top - 1; i >= 0; i-- {
		if err := st.stack[i].RunPostSubtest(ctx, root); err != nil {
			return err
		}
	}
	return nil
}

// top returns the stateful fixture at the top of the stack.
func (st *FixtureStack) top() *statefulFixture {
	if len(st.stack) == 0 {
		panic("BUG: top called for an empty stack")
	}
	return st.stack[len(st.stack)-1]
}

// statefulFixture holds a fixture and some extra variables tracking its
// states.
type statefulFixture struct {
	cfg   *Config
	suite *harness.Suite
	fixt  *harness.Fixture
	fout  *fixtureOutputStream

	status     fixtureStatus
	failReason string      // why contained subtests are skipped; valid while non-green
	val        interface{} // value returned by SetUp; valid while green
}

// newStatefulFixture creates a new statefulFixture. It starts red until
// RunSetUp succeeds.
func newStatefulFixture(fixt *harness.Fixture, fout *fixtureOutputStream, cfg *Config, suite *harness.Suite) *statefulFixture {
	return &statefulFixture{
		cfg:    cfg,
		suite:  suite,
		fixt:   fixt,
		fout:   fout,
		status: statusRed,
	}
}

// Name returns the name of the fixture.
func (f *statefulFixture) Name() string {
	return f.fixt.Name
}

// Status returns the current status of the fixture scope.
func (f *statefulFixture) Status() fixtureStatus {
	return f.status
}

// FailReason returns the reason contained subtests are skipped when the
// scope is non-green.
func (f *statefulFixture) FailReason() string {
	return f.failReason
}

// Val returns the fixture value to be lent to contained subtests.
func (f *statefulFixture) Val() interface{} {
	return f.val
}

// RunSetUp runs the SetUp hook of the fixture. parentVal is the value of the
// enclosing fixture scope, exposed to the hook via ParentValue.
//
// RunSetUp returns an error only if the hook did not return or the output
// stream failed; a failed or skipped setup is reflected in the scope status
// instead.
func (f *statefulFixture) RunSetUp(ctx context.Context, parentVal interface{}) error {
	if f.status != statusRed {
		return errors.New("BUG: SetUp called for a non-red fixture")
	}
	if f.fixt.SetUp == nil {
		// A teardown-only fixture is immediately ready, with no value.
		f.status = statusGreen
		return nil
	}

	outDir, err := createOutDir(f.cfg.OutDir, f.suite.Name, f.fixt.Name)
	if err != nil {
		return err
	}

	cond := harness.NewEntityCondition()
	root := harness.NewEntityRoot(&harness.RunConfig{
		Vars:      f.cfg.Vars,
		OutDir:    outDir,
		FixtValue: parentVal,
	}, f.fout, cond)
	s := root.NewFixtState()
	ctx = root.NewContext(ctx)

	name := fmt.Sprintf("%s:SetUp", f.fixt.Name)
	if err := usercode.SafeCall(ctx, name, f.stageTimeout(f.fixt.SetUpTimeout), f.cfg.GracePeriod(), usercode.ErrorOnPanic(s), func(ctx context.Context) {
		if err := f.fixt.SetUp(ctx, s); err != nil {
			s.Error(err)
		}
	}); err != nil {
		return err
	}

	if cond.HasError() {
		reason := "setup failed"
		if errs := f.fout.Errors(); len(errs) > 0 {
			reason = errs[0].Reason
		}
		f.failReason = fmt.Sprintf("[Fixture failure] %s: %s", f.fixt.Name, reason)
		return nil
	}
	if root.Skipped() {
		f.failReason = root.SkipReason()
		return f.fout.Log(fmt.Sprintf("Setup skipped: %s", root.SkipReason()))
	}

	f.val = s.Value()
	f.status = statusGreen
	return nil
}

// RunTearDown runs the TearDown hook of the fixture and turns the scope red.
func (f *statefulFixture) RunTearDown(ctx context.Context) error {
	if f.status == statusRed {
		return errors.New("BUG: TearDown called for a red fixture")
	}
	if f.fixt.TearDown == nil {
		f.status = statusRed
		f.val = nil
		return nil
	}

	// A teardown runs even when the run is being canceled so that resources
	// are released. Detach the call from the canceled context to give the
	// hook its full timeout.
	if ctx.Err() != nil {
		ctx = context.Background()
	}

	outDir, err := createOutDir(f.cfg.OutDir, f.suite.Name, f.fixt.Name)
	if err != nil {
		return err
	}

	cond := harness.NewEntityCondition()
	root := harness.NewEntityRoot(&harness.RunConfig{
		Vars:   f.cfg.Vars,
		OutDir: outDir,
	}, f.fout, cond)
	s := root.NewFixtState()
	s.SetValue(f.val)
	ctx = root.NewContext(ctx)

	name := fmt.Sprintf("%s:TearDown", f.fixt.Name)
	if err := usercode.SafeCall(ctx, name, f.stageTimeout(f.fixt.TearDownTimeout), f.cfg.GracePeriod(), usercode.ErrorOnPanic(s), func(ctx context.Context) {
		f.fixt.TearDown(ctx, s)
	}); err != nil {
		return err
	}

	f.status = statusRed
	f.val = nil
	return nil
}

// RunReset runs the Reset hook of the fixture to verify it is clean after a
// contained subtest crashed. A fixture without a Reset hook cannot prove
// itself clean and turns yellow unconditionally.
func (f *statefulFixture) RunReset(ctx context.Context) error {
	if f.status != statusGreen {
		return errors.New("BUG: Reset called for a non-green fixture")
	}

	if f.fixt.Reset == nil {
		f.status = statusYellow
		f.failReason = fmt.Sprintf("[Fixture failure] %s: possibly corrupt after a crash (no reset hook)", f.fixt.Name)
		return f.fout.Log("Skipping remaining subtests in the scope: fixture has no reset hook to recover from the crash")
	}

	ctx = f.newContext(ctx)

	var resetErr error
	onPanic := func(val interface{}) {
		resetErr = errors.Errorf("panic: %v", val)
	}
	name := fmt.Sprintf("%s:Reset", f.fixt.Name)
	if err := usercode.SafeCall(ctx, name, f.stageTimeout(f.fixt.ResetTimeout), f.cfg.GracePeriod(), onPanic, func(ctx context.Context) {
		resetErr = f.fixt.Reset(ctx)
	}); err != nil {
		return err
	}

	if resetErr != nil {
		f.status = statusYellow
		f.failReason = fmt.Sprintf("[Fixture failure] %s: failed to reset after a crash: %v", f.fixt.Name, resetErr)
		return f.fout.Log(fmt.Sprintf("Fixture failed to reset: %v; skipping remaining subtests in the scope", resetErr))
	}
	return nil
}

// RunPreSubtest runs the PreSubtest hook of the fixture. root must be the
// subtest's entity root so that reported errors are attributed to the
// subtest.
func (f *statefulFixture) RunPreSubtest(ctx context.Context, root *harness.EntityRoot) error {
	if f.fixt.PreSubtest == nil {
		return nil
	}
	s := root.NewState()
	name := fmt.Sprintf("%s:PreSubtest", f.fixt.Name)
	return usercode.SafeCall(ctx, name, f.stageTimeout(f.fixt.PreSubtestTimeout), f.cfg.GracePeriod(), usercode.ErrorOnPanic(s), func(ctx context.Context) {
		f.fixt.PreSubtest(ctx, s)
	})
}

// RunPostSubtest runs the PostSubtest hook of the fixture. root must be the
// subtest's entity root so that reported errors are attributed to the
// subtest.
func (f *statefulFixture) RunPostSubtest(ctx context.Context, root *harness.EntityRoot) error {
	if f.fixt.PostSubtest == nil {
		return nil
	}
	s := root.NewState()
	name := fmt.Sprintf("%s:PostSubtest", f.fixt.Name)
	return usercode.SafeCall(ctx, name, f.stageTimeout(f.fixt.PostSubtestTimeout), f.cfg.GracePeriod(), usercode.ErrorOnPanic(s), func(ctx context.Context) {
		f.fixt.PostSubtest(ctx, s)
	})
}

// stageTimeout returns the timeout for a fixture stage, falling back to the
// suite timeout and then the run default when the stage declares none.
func (f *statefulFixture) stageTimeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	if f.suite.Timeout > 0 {
		return f.suite.Timeout
	}
	return f.cfg.DefaultTimeout
}

// newContext returns a context whose logs are routed to the fixture's output
// stream. It is used for hooks that take no state object.
func (f *statefulFixture) newContext(ctx context.Context) context.Context {
	logger := logging.NewSinkLogger(logging.LevelInfo, false, logging.NewFuncSink(func(msg string) { f.fout.Log(msg) }))
	return logging.AttachLoggerNoPropagation(ctx, logger)
}
