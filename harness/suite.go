// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package harness provides the public API for declaring hardware-validation
// test suites.
//
// A suite is registered once at process start from an init function:
//
//	func init() {
//		harness.AddSuite(&harness.Suite{
//			Name: "kms_props",
//			Desc: "Validates KMS object properties",
//			Func: Props,
//		})
//	}
//
// Suite.Func declares the suite's contents on a Builder: fixture scopes,
// static subtests and dynamic groups. Declaration order is execution order.
// The closures registered on the Builder are the units of work the planner
// later executes, each isolated so that a crash in one does not end the run.
package harness

import (
	"regexp"
	"time"
)

// suiteNameRegexp validates suite names, which should consist of lowercase
// words separated by underscores, e.g. "kms_props".
var suiteNameRegexp = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// SuiteFunc declares the contents of a suite. It is invoked once when the
// suite starts, must not perform hardware access itself, and must declare
// the same entries on every invocation.
type SuiteFunc func(b *Builder)

// Suite contains information about a test suite and its declaration function.
//
// While this struct can be marshaled to a JSON object, note that unmarshaling
// that object will not yield a runnable Suite struct; Func will not be
// present.
type Suite struct {
	// Name specifies the suite's name, consisting of lowercase words
	// separated by underscores, e.g. "kms_props". Subtests are reported
	// as "<suite name>/<subtest name>".
	Name string `json:"name"`

	// Func declares the suite's contents.
	Func SuiteFunc `json:"-"`

	// Desc is a short one-line description of the suite.
	Desc string `json:"desc"`

	// Contacts is a list of email addresses of persons and groups who are
	// familiar with the suite. At least one personal email address of an
	// active committer should be specified so that we can file bugs or ask
	// for code review.
	Contacts []string `json:"contacts"`

	// Attr contains freeform text attributes describing the suite,
	// e.g. "category:display".
	Attr []string `json:"attr"`

	// Timeout is the maximum duration granted to each unit of work in the
	// suite (a subtest body, a fixture hook or a dynamic group's generator).
	// 0 means no timeout unless the planner configures a default.
	Timeout time.Duration `json:"timeout"`
}

// clone returns a deep copy of s.
func (s *Suite) clone() *Suite {
	sc := *s
	sc.Contacts = append([]string(nil), s.Contacts...)
	sc.Attr = append([]string(nil), s.Attr...)
	return &sc
}
