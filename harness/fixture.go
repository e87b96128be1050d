// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"context"
	"sync"
	"time"
)

// Fixture brackets a group of subtests with shared setup and teardown.
// Fixtures are declared inline with Builder.Fixture; the hooks are typically
// closures sharing captured variables.
//
// The lifecycle of a fixture scope is as follows:
//
//  1. SetUp is run once when execution enters the scope. If it fails, every
//     subtest contained in the scope is skipped and TearDown does not run.
//  2. PreSubtest and PostSubtest, if set, bracket each contained subtest.
//  3. If a contained subtest crashes, the scope is considered possibly
//     corrupt. Reset, if set, is run before the next contained subtest to
//     restore the fixture to a clean state; if Reset is unset or fails, the
//     remaining subtests in the scope are skipped.
//  4. TearDown is run exactly once when execution leaves a scope whose SetUp
//     succeeded, no matter how the contained subtests ended.
type Fixture struct {
	// Name identifies the fixture in logs and in skip reasons attributed
	// to it. The name must be camelCase starting with a lowercase letter and
	// containing only digits and letters.
	Name string

	// Desc is the description of the fixture.
	Desc string

	// SetUp is run once when execution enters the scope. Returning a non-nil
	// error, reporting an error via s, or calling s.Fatal marks the scope as
	// failed. Calling s.Skip or s.Require marks the scope as skipped, which
	// also skips the contained subtests but does not fail the run.
	// A value passed to s.SetValue is exposed to contained subtests via
	// State.FixtValue.
	SetUp func(ctx context.Context, s *FixtState) error

	// Reset is run to restore the fixture to a clean state after a contained
	// subtest crashed. A non-nil error marks the scope as failed for the
	// remaining subtests. It may be nil if the fixture has no cheap way to
	// verify its own health; the planner then skips the remaining subtests.
	Reset func(ctx context.Context) error

	// PreSubtest is run before each contained subtest. Errors reported via s
	// are attributed to the subtest, and the subtest body does not run.
	PreSubtest func(ctx context.Context, s *State)

	// PostSubtest is run after each contained subtest. Errors reported via s
	// are attributed to the subtest.
	PostSubtest func(ctx context.Context, s *State)

	// TearDown is run exactly once when execution leaves a scope whose SetUp
	// succeeded, including when the run is interrupted.
	TearDown func(ctx context.Context, s *FixtState)

	// SetUpTimeout is the timeout applied to SetUp.
	// Even if fixtures are nested, the timeout is applied only to this stage.
	// This timeout is by default 0, meaning the planner's default is used.
	SetUpTimeout time.Duration

	// ResetTimeout is the timeout applied to Reset.
	ResetTimeout time.Duration

	// PreSubtestTimeout is the timeout applied to PreSubtest.
	PreSubtestTimeout time.Duration

	// PostSubtestTimeout is the timeout applied to PostSubtest.
	PostSubtestTimeout time.Duration

	// TearDownTimeout is the timeout applied to TearDown.
	TearDownTimeout time.Duration
}

// FixtState is the state the framework passes to Fixture.SetUp and
// Fixture.TearDown.
type FixtState struct {
	*globalMixin
	*entityMixin

	root *EntityRoot

	mu  sync.Mutex // protects val
	val interface{}
}

// SetValue sets the value this fixture scope lends to the subtests and inner
// scopes it contains. It is typically called from SetUp.
func (s *FixtState) SetValue(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.val = v
}

// Value returns the value set via SetValue, or nil if none was set.
// In TearDown it returns the value set by the corresponding SetUp.
func (s *FixtState) Value() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val
}

// ParentValue returns the value exposed by the nearest enclosing fixture
// scope, or nil if there is none.
func (s *FixtState) ParentValue() interface{} {
	return s.root.cfg.FixtValue
}
