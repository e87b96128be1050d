// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package reporting writes human- and CI-oriented reports from the records
// collected by a run.
package reporting

import (
	"encoding/xml"
	"fmt"
	"io"

	"go.chromium.org/gart/internal/outcome"
	"go.chromium.org/gart/internal/run/results"
)

// TestSuites is the top level XML element of a JUnit report.
type TestSuites struct {
	XMLName   xml.Name
	TestSuite []*TestSuite `xml:"testsuite"`
}

// TestSuite is an XML element in a JUnit report, holding the test cases of
// one suite. Some fields used in JUnit XML are not generated.
// Errors: failures and crashes are both reported as failures.
// Disabled: the harness has no way to disable subtests.
type TestSuite struct {
	Name     string      `xml:"name,attr"`
	TestCase []*TestCase `xml:"testcase"`

	Tests    int `xml:"tests,attr"`
	Failures int `xml:"failures,attr"`
	Skipped  int `xml:"skipped,attr"`
}

// TestCase is an element in a JUnit report, representing a single subtest.
type TestCase struct {
	Name      string `xml:"name,attr"`
	Status    string `xml:"status,attr"`         // run or notrun
	Result    string `xml:"result,attr"`         // more detailed result
	Timestamp string `xml:"timestamp,attr"`      // start time, in ISO8601
	Time      string `xml:"time,attr,omitempty"` // duration, in seconds (with a decimal point)

	Failure []*Failure `xml:"failure,omitempty"`
	Skipped *Skipped   `xml:"skipped,omitempty"`
}

// Failure is an element in a JUnit report, representing a subtest failure or
// crash.
type Failure struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Details string `xml:",cdata"`
}

// Skipped is an element in a JUnit report, representing a skipped subtest.
type Skipped struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
}

// toJUnit converts records into the JUnit document structure, grouping the
// test cases by suite in insertion order.
func toJUnit(records []*results.Record) *TestSuites {
	doc := &TestSuites{XMLName: xml.Name{Local: "testsuites"}}
	var suite *TestSuite
	for _, rec := range records {
		if suite == nil || suite.Name != rec.Suite {
			suite = &TestSuite{Name: rec.Suite}
			doc.TestSuite = append(doc.TestSuite, suite)
		}
		tc := &TestCase{
			Name:      rec.Name,
			Timestamp: rec.Start.UTC().Format("2006-01-02T15:04:05"),
		}
		if !rec.End.IsZero() {
			// The decimal point distinguishes seconds from nanoseconds
			// notation, e.g. "1.0" for one second.
			tc.Time = fmt.Sprintf("%.1f", rec.End.Sub(rec.Start).Seconds())
		}
		switch rec.Outcome {
		case outcome.Skip:
			tc.Status = "notrun"
			tc.Result = "skipped"
			tc.Skipped = &Skipped{Message: rec.Reason}
			suite.Skipped++
		case outcome.Fail, outcome.Crash:
			tc.Status = "run"
			tc.Result = "completed"
			var typ string
			if rec.Outcome == outcome.Crash {
				typ = "crash"
			}
			for _, e := range rec.Errors {
				tc.Failure = append(tc.Failure, &Failure{
					Message: e.Reason,
					Type:    typ,
					Details: fmt.Sprintf("%s:%d\n%s", e.File, e.Line, e.Stack),
				})
			}
			// A crash without recorded errors, e.g. an abandoned subtest,
			// still needs a failure element carrying the cause.
			if len(tc.Failure) == 0 {
				tc.Failure = append(tc.Failure, &Failure{Message: rec.Reason, Type: typ})
			}
			suite.Failures++
		case outcome.Running:
			// The run was aborted while this subtest was still running. It
			// must not render as a plain passing case.
			tc.Status = "run"
			tc.Result = "incomplete"
			tc.Failure = append(tc.Failure, &Failure{
				Message: "subtest did not finish: run was aborted",
				Type:    "incomplete",
			})
			suite.Failures++
		default:
			tc.Status = "run"
			tc.Result = "completed"
		}
		suite.TestCase = append(suite.TestCase, tc)
		suite.Tests++
	}
	return doc
}

// WriteJUnit writes records to w in JUnit XML format.
func WriteJUnit(w io.Writer, records []*results.Record) error {
	b, err := xml.MarshalIndent(toJUnit(records), "", "  ")
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}
