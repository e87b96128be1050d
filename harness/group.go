// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

// Group is passed to a dynamic group's generator. Each Subtest call runs the
// given body immediately as a subtest of the group and blocks until it ends.
type Group struct {
	runSub func(name string, fn SubtestFunc) bool
}

// NewGroup creates a Group dispatching each Subtest call to run. It is called
// by the planner; generators receive a Group and never construct one.
func NewGroup(run func(name string, fn SubtestFunc) bool) *Group {
	return &Group{runSub: run}
}

// Subtest runs fn immediately as a subtest named name and reports whether it
// passed. name is the full resolved subtest name; callers typically format it
// from the enumerated entity, e.g. fmt.Sprintf("props-%s", connector).
func (g *Group) Subtest(name string, fn SubtestFunc) bool {
	return g.runSub(name, fn)
}
