// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Registry holds suites.
type Registry struct {
	allSuites  []*Suite
	suiteNames map[string]struct{} // names of registered suites
	errs       []error             // errors encountered while registering suites
}

// NewRegistry returns a new suite registry.
func NewRegistry() *Registry {
	return &Registry{
		suiteNames: make(map[string]struct{}),
	}
}

// AddSuite adds s to the registry. Since this method is called from init
// functions where errors cannot be handled, registration errors are recorded
// and returned later by Errors.
func (r *Registry) AddSuite(s *Suite) {
	if err := r.addSuite(s); err != nil {
		r.errs = append(r.errs, err)
	}
}

func (r *Registry) addSuite(s *Suite) error {
	if s.Name == "" {
		return fmt.Errorf("suite with no name registered")
	}
	if !suiteNameRegexp.MatchString(s.Name) {
		return fmt.Errorf("invalid suite name %q (want lowercase words separated by underscores)", s.Name)
	}
	if s.Func == nil {
		return fmt.Errorf("suite %q has no declaration function", s.Name)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("suite %q has negative timeout %v", s.Name, s.Timeout)
	}
	if _, ok := r.suiteNames[s.Name]; ok {
		return fmt.Errorf("suite %q already registered", s.Name)
	}
	r.allSuites = append(r.allSuites, s.clone())
	r.suiteNames[s.Name] = struct{}{}
	return nil
}

// Errors returns errors encountered while registering suites.
func (r *Registry) Errors() []error {
	return append([]error(nil), r.errs...)
}

// AllSuites returns copies of all registered suites in registration order.
func (r *Registry) AllSuites() []*Suite {
	ss := make([]*Suite, len(r.allSuites))
	for i, s := range r.allSuites {
		ss[i] = s.clone()
	}
	return ss
}

// suitesForPattern returns registered suites with names matched by p,
// a pattern that may contain '*' wildcards.
func (r *Registry) suitesForPattern(p string) ([]*Suite, error) {
	if err := validateSuitePattern(p); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %v", p, err)
	}
	p = strings.Replace(p, "*", ".*", -1)
	p = "^" + p + "$"
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %q: %v", p, err)
	}

	var suites []*Suite
	for _, s := range r.allSuites {
		if re.MatchString(s.Name) {
			suites = append(suites, s)
		}
	}
	return suites, nil
}

// validateSuitePattern returns an error if p contains one or more characters
// disallowed in suite wildcard patterns.
func validateSuitePattern(p string) error {
	for _, ch := range p {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' && ch != '*' {
			return fmt.Errorf("invalid character %v", ch)
		}
	}
	return nil
}

// SuitesForPatterns de-duplicates and returns copies of registered suites
// with names matched by any pattern in ps. If ps is empty all registered
// suites are returned.
func (r *Registry) SuitesForPatterns(ps []string) ([]*Suite, error) {
	if len(ps) == 0 {
		return r.AllSuites(), nil
	}
	var suites []*Suite
	seen := make(map[*Suite]struct{})
	for _, p := range ps {
		ss, err := r.suitesForPattern(p)
		if err != nil {
			return nil, err
		}

		// De-dupe results while preserving order.
		for _, s := range ss {
			if _, ok := seen[s]; ok {
				continue
			}
			suites = append(suites, s.clone())
			seen[s] = struct{}{}
		}
	}
	return suites, nil
}

var globalRegistry *Registry // singleton, initialized on first use

// GlobalRegistry returns a global registry containing suites registered by
// calls to AddSuite.
func GlobalRegistry() *Registry {
	if globalRegistry == nil {
		globalRegistry = NewRegistry()
	}
	return globalRegistry
}

// AddSuite adds suite s to the global registry. It is typically called from
// an init function in a suite package.
func AddSuite(s *Suite) {
	GlobalRegistry().AddSuite(s)
}

// RegistrationErrors returns errors encountered while registering suites in
// the global registry. Binaries must check this before running any suite and
// abort with a configuration error if it is non-empty.
func RegistrationErrors() []error {
	return GlobalRegistry().Errors()
}

// SetGlobalRegistryForTesting temporarily sets reg as the global registry.
// The caller must call the returned function later to restore the original
// registry. This is intended to be used by unit tests that need to register
// suites in the global registry but don't want to affect subsequent unit
// tests.
func SetGlobalRegistryForTesting(reg *Registry) (restore func()) {
	origReg := globalRegistry
	globalRegistry = reg
	return func() {
		globalRegistry = origReg
	}
}
