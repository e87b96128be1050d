// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/subcommands"
	"golang.org/x/exp/slices"

	"go.chromium.org/gart/harness"
	"go.chromium.org/gart/internal/logging"
)

// listCmd implements subcommands.Command to support listing suites.
type listCmd struct {
	json   bool      // marshal suites to JSON instead of just printing names
	stdout io.Writer // where to write suites
}

var _ = subcommands.Command(&listCmd{})

// newListCmd returns a new listCmd that will write suites to stdout.
func newListCmd(stdout io.Writer) *listCmd {
	return &listCmd{stdout: stdout}
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list suites" }
func (*listCmd) Usage() string {
	return `Usage: list [flag]... [pattern]...

Description:
    List suites matched by zero or more patterns. If no pattern is given,
    all registered suites are listed.

    Patterns are globs matching suite names:

        $ gart list 'kms_*'

Flag:
`
}

func (lc *listCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&lc.json, "json", false, "print full suite details as JSON")
}

func (lc *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if errs := harness.RegistrationErrors(); len(errs) > 0 {
		for _, err := range errs {
			logging.Info(ctx, "Registration error: ", err)
		}
		return subcommands.ExitUsageError
	}

	suites, err := harness.GlobalRegistry().SuitesForPatterns(f.Args())
	if err != nil {
		logging.Info(ctx, "Bad patterns: ", err)
		return subcommands.ExitUsageError
	}
	slices.SortFunc(suites, func(a, b *harness.Suite) int {
		return strings.Compare(a.Name, b.Name)
	})

	if err := lc.printSuites(suites); err != nil {
		logging.Info(ctx, "Failed to write suites: ", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// printSuites writes the supplied suites to lc.stdout.
func (lc *listCmd) printSuites(suites []*harness.Suite) error {
	if lc.json {
		enc := json.NewEncoder(lc.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(suites)
	}

	// If -json wasn't passed, just print suite names, one per line.
	for _, s := range suites {
		if _, err := fmt.Fprintln(lc.stdout, s.Name); err != nil {
			return err
		}
	}
	return nil
}
