// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"context"
	"strings"
	gotesting "testing"
)

func noopSubtest(context.Context, *State) {}

func noopGen(context.Context, *Group) {}

func TestBuildEntries(t *gotesting.T) {
	suite := &Suite{
		Name: "kms_props",
		Func: func(b *Builder) {
			b.Subtest("basic", noopSubtest)
			b.Fixture(&Fixture{
				Name:  "drmDevice",
				SetUp: func(ctx context.Context, s *FixtState) error { return nil },
			}, func(b *Builder) {
				b.Describe("Validates plane properties on every pipe")
				b.Subtest("plane-properties", noopSubtest)
				b.Dynamic("connector-props", noopGen)
			})
			b.Subtest("invalid-properties", noopSubtest)
		},
	}

	entries, err := BuildEntries(suite)
	if err != nil {
		t.Fatalf("BuildEntries failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Got %d top-level entries; want 3", len(entries))
	}
	if entries[0].Name != "basic" || entries[0].Func == nil {
		t.Errorf("entries[0] = %+v; want static subtest \"basic\"", entries[0])
	}
	fix := entries[1]
	if fix.Fixture == nil || fix.Fixture.Name != "drmDevice" {
		t.Fatalf("entries[1] = %+v; want fixture scope \"drmDevice\"", fix)
	}
	if len(fix.Children) != 2 {
		t.Fatalf("Got %d entries in fixture scope; want 2", len(fix.Children))
	}
	if d := fix.Children[0].Desc; d != "Validates plane properties on every pipe" {
		t.Errorf("Description not bound to next subtest; got %q", d)
	}
	if fix.Children[1].Gen == nil || fix.Children[1].Name != "connector-props" {
		t.Errorf("fix.Children[1] = %+v; want dynamic group \"connector-props\"", fix.Children[1])
	}
	if entries[2].Name != "invalid-properties" {
		t.Errorf("entries[2].Name = %q; want \"invalid-properties\"", entries[2].Name)
	}
}

func TestBuildEntriesDuplicateName(t *gotesting.T) {
	suite := &Suite{
		Name: "kms_props",
		Func: func(b *Builder) {
			b.Subtest("basic", noopSubtest)
			b.Fixture(&Fixture{
				Name:  "drmDevice",
				SetUp: func(ctx context.Context, s *FixtState) error { return nil },
			}, func(b *Builder) {
				// Same name in a nested scope still collides: subtests are
				// reported as <suite>/<name> regardless of nesting.
				b.Subtest("basic", noopSubtest)
			})
		},
	}

	if _, err := BuildEntries(suite); err == nil {
		t.Error("BuildEntries unexpectedly succeeded with duplicate subtest names")
	} else if !strings.Contains(err.Error(), `"basic" already declared`) {
		t.Errorf("BuildEntries error = %q; want mention of duplicate name", err)
	}
}

func TestBuildEntriesBadDeclarations(t *gotesting.T) {
	for _, tc := range []struct {
		name string
		fn   SuiteFunc
	}{
		{"invalid subtest name", func(b *Builder) { b.Subtest("Bad_Name", noopSubtest) }},
		{"nil subtest func", func(b *Builder) { b.Subtest("basic", nil) }},
		{"nil fixture", func(b *Builder) { b.Fixture(nil, func(b *Builder) {}) }},
		{"invalid fixture name", func(b *Builder) {
			b.Fixture(&Fixture{Name: "DRMDevice", SetUp: func(ctx context.Context, s *FixtState) error { return nil }}, func(b *Builder) {})
		}},
		{"fixture without hooks", func(b *Builder) {
			b.Fixture(&Fixture{Name: "drmDevice"}, func(b *Builder) {})
		}},
		{"nil fixture body", func(b *Builder) {
			b.Fixture(&Fixture{Name: "drmDevice", SetUp: func(ctx context.Context, s *FixtState) error { return nil }}, nil)
		}},
		{"nil generator", func(b *Builder) { b.Dynamic("group", nil) }},
		{"empty description", func(b *Builder) { b.Describe(""); b.Subtest("basic", noopSubtest) }},
		{"orphan description at end", func(b *Builder) { b.Describe("text") }},
		{"orphan description before fixture", func(b *Builder) {
			b.Describe("text")
			b.Fixture(&Fixture{Name: "drmDevice", SetUp: func(ctx context.Context, s *FixtState) error { return nil }}, func(b *Builder) {})
		}},
		{"double description", func(b *Builder) {
			b.Describe("first")
			b.Describe("second")
			b.Subtest("basic", noopSubtest)
		}},
	} {
		if _, err := BuildEntries(&Suite{Name: "kms_props", Func: tc.fn}); err == nil {
			t.Errorf("%s: BuildEntries unexpectedly succeeded", tc.name)
		}
	}
}

func TestValidateDynamicName(t *gotesting.T) {
	for _, name := range []string{"pipe-A", "pipe-A-HDMI-1", "eDP-1", "plane.0", "a"} {
		if err := ValidateDynamicName(name); err != nil {
			t.Errorf("ValidateDynamicName(%q) failed: %v", name, err)
		}
	}
	for _, name := range []string{"", "-leading", "has space", "colon:name"} {
		if err := ValidateDynamicName(name); err == nil {
			t.Errorf("ValidateDynamicName(%q) unexpectedly succeeded", name)
		}
	}
}

func TestGroupSubtest(t *gotesting.T) {
	var gotName string
	g := NewGroup(func(name string, fn SubtestFunc) bool {
		gotName = name
		return true
	})
	if ok := g.Subtest("pipe-A", noopSubtest); !ok {
		t.Error("Subtest returned false; want true")
	}
	if gotName != "pipe-A" {
		t.Errorf("Group dispatched name %q; want \"pipe-A\"", gotName)
	}
}
