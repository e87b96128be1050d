// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.chromium.org/gart/internal/outcome"
	"go.chromium.org/gart/internal/run/results"
)

// Status is the display form of an outcome in the text summary.
type Status string

const (
	// StatusPass marks a passed subtest.
	StatusPass Status = "PASS"
	// StatusFail marks a failed subtest.
	StatusFail Status = "FAIL"
	// StatusSkip marks a skipped subtest.
	StatusSkip Status = "SKIP"
	// StatusCrash marks a crashed subtest.
	StatusCrash Status = "CRASH"
	// StatusIncomplete marks a subtest that never finished because the run
	// was aborted while it was running.
	StatusIncomplete Status = "INCOMPLETE"
)

func statusOf(k outcome.Kind) Status {
	switch k {
	case outcome.Pass:
		return StatusPass
	case outcome.Fail:
		return StatusFail
	case outcome.Skip:
		return StatusSkip
	case outcome.Crash:
		return StatusCrash
	default:
		return StatusIncomplete
	}
}

// Display returns s decorated with an ANSI color when the output terminal
// supports it.
func (s Status) Display() string {
	if term, hasTerm := os.LookupEnv("TERM"); !hasTerm || term == "" {
		return string(s)
	}

	red := "\033[31m"
	blue := "\033[34m"
	green := "\033[32m"
	reset := "\033[0m"

	switch s {
	case StatusFail, StatusCrash, StatusIncomplete:
		return red + string(s) + reset
	case StatusSkip:
		return blue + string(s) + reset
	default:
		return green + string(s) + reset
	}
}

// WriteSummary writes a human-readable summary of records to w: one line per
// subtest followed by the overall counts. Run-level errors, e.g. broken
// fixtures, are listed after the table since they explain skipped scopes.
// complete should be false if the run was aborted before finishing.
func WriteSummary(w io.Writer, records []*results.Record, runErrors []results.Error, complete bool) error {
	ml := 0
	for _, rec := range records {
		if n := len(rec.FullName()); n > ml {
			ml = n
		}
	}

	sep := strings.Repeat("-", 80)
	fmt.Fprintln(w, sep)
	for _, rec := range records {
		pn := fmt.Sprintf("%-*s", ml, rec.FullName())
		st := statusOf(rec.Outcome)
		disp := "  [ " + st.Display() + " ] "
		// The display form may carry ANSI escapes, so continuation lines are
		// indented by the plain width.
		indent := ml + len("  [ "+string(st)+" ] ")
		switch rec.Outcome {
		case outcome.Pass:
			fmt.Fprintln(w, strings.TrimRight(pn+disp, " "))
		case outcome.Fail:
			// Print the first error on the status line and any further
			// errors on their own lines beneath it.
			fmt.Fprintln(w, pn+disp+rec.Reason)
			for i := 1; i < len(rec.Errors); i++ {
				fmt.Fprintln(w, strings.Repeat(" ", indent)+rec.Errors[i].Reason)
			}
		case outcome.Running:
			fmt.Fprintln(w, pn+disp+"subtest did not finish")
		default:
			fmt.Fprintln(w, pn+disp+rec.Reason)
		}
	}
	fmt.Fprintln(w, sep)

	c := results.Count(records)
	fmt.Fprintf(w, "%d subtests: %d passed, %d failed, %d skipped, %d crashed\n",
		c.Total, c.Passed, c.Failed, c.Skipped, c.Crashed)

	if len(runErrors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Run errors:")
		for _, e := range runErrors {
			fmt.Fprintln(w, "  "+e.Reason)
		}
	}
	if !complete {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Run did not finish; results are incomplete")
	}
	return nil
}
