// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	// subtestNameRegexp validates static subtest and dynamic group names,
	// which should consist of lowercase words separated by dashes,
	// e.g. "invalid-properties".
	subtestNameRegexp = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

	// dynamicNameRegexp validates resolved names yielded by dynamic group
	// generators. Enumerated hardware names keep their case, so uppercase is
	// allowed, e.g. "pipe-A-HDMI-1".
	dynamicNameRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

	// fixtureNameRegexp validates fixture names, which should be camelCase
	// starting with a lowercase letter, e.g. "drmDevice".
	fixtureNameRegexp = regexp.MustCompile(`^[a-z][A-Za-z0-9]*$`)
)

// SubtestFunc is the code associated with a subtest.
type SubtestFunc func(ctx context.Context, s *State)

// GeneratorFunc enumerates the subtests of a dynamic group at run time.
// It calls g.Subtest once per enumerated variant; each call runs the variant
// immediately, before the generator resumes.
type GeneratorFunc func(ctx context.Context, g *Group)

// Entry is a single node in a suite's declaration tree: a fixture scope
// bracketing child entries, a static subtest, or a dynamic group. Exactly one
// of Fixture, Func and Gen is set. Entries are produced by a Builder and
// consumed by the planner; user code never constructs them directly.
type Entry struct {
	// Fixture and Children are set for a fixture scope.
	Fixture  *Fixture
	Children []*Entry

	// Name is the subtest or dynamic group name.
	Name string
	// Desc is the free-text description bound via Builder.Describe.
	Desc string

	// Func is set for a static subtest.
	Func SubtestFunc
	// Gen is set for a dynamic group.
	Gen GeneratorFunc
}

// Builder collects a suite's declarations. One Builder exists per fixture
// scope; Fixture hands the nested declarations a fresh Builder. Builders are
// only valid while the suite's declaration function runs.
type Builder struct {
	shared  *builderShared
	entries []*Entry
	pending string // description awaiting the next Subtest or Dynamic call
}

// builderShared is the state shared between the Builders of all nesting
// levels of one suite.
type builderShared struct {
	seen map[string]struct{} // subtest and group names declared so far
	errs []error
}

func (b *Builder) errorf(format string, args ...interface{}) {
	b.shared.errs = append(b.shared.errs, fmt.Errorf(format, args...))
}

// declareName checks that name has not been declared in this suite yet and
// records it.
func (b *Builder) declareName(name string) bool {
	if _, ok := b.shared.seen[name]; ok {
		b.errorf("subtest %q already declared", name)
		return false
	}
	b.shared.seen[name] = struct{}{}
	return true
}

// takePending consumes the description bound by the last Describe call.
func (b *Builder) takePending() string {
	d := b.pending
	b.pending = ""
	return d
}

// Describe attaches a free-text description to the next declared subtest or
// dynamic group. It must be directly followed by a Subtest or Dynamic call.
func (b *Builder) Describe(text string) {
	if text == "" {
		b.errorf("empty description declared")
		return
	}
	if b.pending != "" {
		b.errorf("description %q declared while %q is not attached to a subtest yet", text, b.pending)
		return
	}
	b.pending = text
}

// Fixture brackets the declarations made by body with f's setup and teardown.
// Scopes may be nested; subtests declared by body observe the values of all
// enclosing fixtures.
func (b *Builder) Fixture(f *Fixture, body func(b *Builder)) {
	if b.pending != "" {
		b.errorf("description %q is not attached to a subtest", b.takePending())
	}
	if f == nil {
		b.errorf("nil fixture declared")
		return
	}
	if !fixtureNameRegexp.MatchString(f.Name) {
		b.errorf("invalid fixture name %q (want camelCase)", f.Name)
		return
	}
	if f.SetUp == nil && f.TearDown == nil {
		b.errorf("fixture %q declares neither SetUp nor TearDown", f.Name)
		return
	}
	if body == nil {
		b.errorf("fixture %q has no body", f.Name)
		return
	}
	child := &Builder{shared: b.shared}
	body(child)
	if child.pending != "" {
		b.errorf("description %q is not attached to a subtest", child.pending)
	}
	b.entries = append(b.entries, &Entry{Fixture: f, Children: child.entries})
}

// Subtest declares a static subtest. Subtests run in declaration order.
func (b *Builder) Subtest(name string, fn SubtestFunc) {
	desc := b.takePending()
	if !subtestNameRegexp.MatchString(name) {
		b.errorf("invalid subtest name %q (want lowercase words separated by dashes)", name)
		return
	}
	if fn == nil {
		b.errorf("subtest %q has no function", name)
		return
	}
	if !b.declareName(name) {
		return
	}
	b.entries = append(b.entries, &Entry{Name: name, Desc: desc, Func: fn})
}

// Dynamic declares a dynamic group whose subtests are enumerated by gen when
// execution reaches the group. The resolved names yielded by gen are the full
// subtest names; name only identifies the group in reports if gen itself
// fails.
func (b *Builder) Dynamic(name string, gen GeneratorFunc) {
	desc := b.takePending()
	if !subtestNameRegexp.MatchString(name) {
		b.errorf("invalid dynamic group name %q (want lowercase words separated by dashes)", name)
		return
	}
	if gen == nil {
		b.errorf("dynamic group %q has no generator", name)
		return
	}
	if !b.declareName(name) {
		return
	}
	b.entries = append(b.entries, &Entry{Name: name, Desc: desc, Gen: gen})
}

// BuildEntries runs s.Func to construct the suite's declaration tree.
// The returned entries are in declaration order. BuildEntries is called by
// the planner once per suite run; user code never calls it.
func BuildEntries(s *Suite) ([]*Entry, error) {
	b := &Builder{shared: &builderShared{seen: make(map[string]struct{})}}
	s.Func(b)
	if b.pending != "" {
		b.errorf("description %q is not attached to a subtest", b.pending)
	}
	if len(b.shared.errs) > 0 {
		msgs := make([]string, len(b.shared.errs))
		for i, err := range b.shared.errs {
			msgs[i] = err.Error()
		}
		return nil, fmt.Errorf("bad declaration of suite %q: %s", s.Name, strings.Join(msgs, "; "))
	}
	return b.entries, nil
}

// ValidateDynamicName returns an error if name is not acceptable as a
// resolved name yielded by a dynamic group's generator.
func ValidateDynamicName(name string) error {
	if !dynamicNameRegexp.MatchString(name) {
		return fmt.Errorf("invalid dynamic subtest name %q", name)
	}
	return nil
}
