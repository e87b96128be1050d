// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package vars loads runtime variables for suites from YAML files.
// Variables carry host- or lab-specific values (device paths, credentials,
// expected hardware identifiers) that suites read via State.Var.
package vars

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// MergeMode specifies the behavior of Merge when it finds duplicated entries.
type MergeMode int

const (
	// SkipOnDuplicate skips duplicated entries.
	SkipOnDuplicate MergeMode = iota
	// ErrorOnDuplicate makes Merge return an error on duplicated entries.
	// Files the operator names explicitly must not silently shadow each
	// other, so explicit vars files are merged in this mode.
	ErrorOnDuplicate
)

// FindFiles returns a list of paths to vars files under dir. The returned
// paths are sorted in a stable order. If dir doesn't exist, empty paths is
// returned with no error.
func FindFiles(dir string) (paths []string, err error) {
	if err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if filepath.Ext(path) == ".yaml" {
			paths = append(paths, path)
		}
		return nil
	}); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("couldn't walk vars dir: %v", err)
	}
	return paths, nil
}

// ReadFile reads a YAML file at path containing key-value pairs.
func ReadFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]string)
	if err := yaml.Unmarshal(b, &vars); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %v", path, err)
	}
	return vars, nil
}

// Merge merges newVars into vars.
// Behavior on key duplication is specified by mode: if mode is
// SkipOnDuplicate, an entry in newVars is skipped when vars already contains
// it; if mode is ErrorOnDuplicate, an error is returned.
// This function overwrites the given vars. vars must not be nil. In the case
// of errors, the value of vars is unspecified.
func Merge(vars, newVars map[string]string, mode MergeMode) error {
	for k, v := range newVars {
		if _, ok := vars[k]; ok {
			if mode == SkipOnDuplicate {
				continue
			}
			return fmt.Errorf("duplicated key %q", k)
		}
		vars[k] = v
	}
	return nil
}

// ReadAndMerge reads a YAML file at path containing key-value pairs and
// merges it into vars. See ReadFile and Merge.
func ReadAndMerge(vars map[string]string, path string, mode MergeMode) error {
	newVars, err := ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read vars from %s: %v", path, err)
	}
	if err := Merge(vars, newVars, mode); err != nil {
		return fmt.Errorf("failed to merge vars from %s: %v", path, err)
	}
	return nil
}
