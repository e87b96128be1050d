// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package results_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/google/go-cmp/cmp"

	"go.chromium.org/gart/harness"
	"go.chromium.org/gart/internal/logging"
	"go.chromium.org/gart/internal/outcome"
	"go.chromium.org/gart/internal/planner"
	"go.chromium.org/gart/internal/run/results"
	"go.chromium.org/gart/internal/timing"
)

// testLogger is a logging.Logger collecting messages for assertions.
type testLogger struct {
	msgs []string
}

func (l *testLogger) Log(level logging.Level, ts time.Time, msg string) {
	l.msgs = append(l.msgs, msg)
}

var epoch = time.Unix(1600000000, 0)

func TestAggregatorRecords(t *testing.T) {
	fclk := fakeclock.NewFakeClock(epoch)
	a := results.NewAggregator(&results.Config{Clock: fclk})

	if err := a.SuiteStart(&harness.Suite{Name: "kms_basic"}); err != nil {
		t.Fatal("SuiteStart failed: ", err)
	}
	if err := a.SubtestStart("sanity", "Checks device sanity"); err != nil {
		t.Fatal("SubtestStart failed: ", err)
	}
	fclk.Increment(100 * time.Millisecond)
	if err := a.SubtestEnd("sanity", outcome.Passed(), nil); err != nil {
		t.Fatal("SubtestEnd failed: ", err)
	}
	if err := a.SubtestStart("props", ""); err != nil {
		t.Fatal("SubtestStart failed: ", err)
	}
	fclk.Increment(50 * time.Millisecond)
	if err := a.SubtestError("props", &harness.Error{Reason: "bad value", File: "/src/props.go", Line: 42}); err != nil {
		t.Fatal("SubtestError failed: ", err)
	}
	if err := a.SubtestEnd("props", outcome.Failed("bad value"), nil); err != nil {
		t.Fatal("SubtestEnd failed: ", err)
	}
	if err := a.SubtestStart("hotplug", ""); err != nil {
		t.Fatal("SubtestStart failed: ", err)
	}
	if err := a.SubtestEnd("hotplug", outcome.Skipped("no display connected"), nil); err != nil {
		t.Fatal("SubtestEnd failed: ", err)
	}
	if err := a.SubtestStart("flip", ""); err != nil {
		t.Fatal("SubtestStart failed: ", err)
	}
	if err := a.SubtestEnd("flip", outcome.Crashed("Panic: boom"), nil); err != nil {
		t.Fatal("SubtestEnd failed: ", err)
	}
	if err := a.SuiteEnd("kms_basic"); err != nil {
		t.Fatal("SuiteEnd failed: ", err)
	}

	want := []*results.Record{
		{
			Suite:   "kms_basic",
			Name:    "sanity",
			Desc:    "Checks device sanity",
			Outcome: outcome.Pass,
			Start:   epoch,
			End:     epoch.Add(100 * time.Millisecond),
		},
		{
			Suite:   "kms_basic",
			Name:    "props",
			Outcome: outcome.Fail,
			Reason:  "bad value",
			Errors: []results.Error{
				{Time: epoch.Add(150 * time.Millisecond), Reason: "bad value", File: "/src/props.go", Line: 42},
			},
			Start: epoch.Add(100 * time.Millisecond),
			End:   epoch.Add(150 * time.Millisecond),
		},
		{
			Suite:   "kms_basic",
			Name:    "hotplug",
			Outcome: outcome.Skip,
			Reason:  "no display connected",
			Start:   epoch.Add(150 * time.Millisecond),
			End:     epoch.Add(150 * time.Millisecond),
		},
		{
			Suite:   "kms_basic",
			Name:    "flip",
			Outcome: outcome.Crash,
			Reason:  "Panic: boom",
			Start:   epoch.Add(150 * time.Millisecond),
			End:     epoch.Add(150 * time.Millisecond),
		},
	}
	if diff := cmp.Diff(want, a.Records()); diff != "" {
		t.Errorf("Records mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(results.Counts{Total: 4, Passed: 1, Failed: 1, Skipped: 1, Crashed: 1}, a.Counts()); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
	if code := a.ExitCode(); code != 1 {
		t.Errorf("ExitCode() = %d; want 1", code)
	}
}

func TestAggregatorExitCodeIgnoresSkips(t *testing.T) {
	a := results.NewAggregator(&results.Config{})
	if err := a.SuiteStart(&harness.Suite{Name: "kms_basic"}); err != nil {
		t.Fatal("SuiteStart failed: ", err)
	}
	if err := a.SubtestStart("sanity", ""); err != nil {
		t.Fatal("SubtestStart failed: ", err)
	}
	if err := a.SubtestEnd("sanity", outcome.Passed(), nil); err != nil {
		t.Fatal("SubtestEnd failed: ", err)
	}
	if err := a.SubtestStart("hotplug", ""); err != nil {
		t.Fatal("SubtestStart failed: ", err)
	}
	if err := a.SubtestEnd("hotplug", outcome.Skipped("no display connected"), nil); err != nil {
		t.Fatal("SubtestEnd failed: ", err)
	}
	if code := a.ExitCode(); code != 0 {
		t.Errorf("ExitCode() = %d; want 0", code)
	}
}

func TestAggregatorDuplicateName(t *testing.T) {
	a := results.NewAggregator(&results.Config{})
	if err := a.SuiteStart(&harness.Suite{Name: "kms_flip"}); err != nil {
		t.Fatal("SuiteStart failed: ", err)
	}
	if err := a.SubtestStart("pipe-A", ""); err != nil {
		t.Fatal("SubtestStart failed: ", err)
	}
	if err := a.SubtestEnd("pipe-A", outcome.Passed(), nil); err != nil {
		t.Fatal("SubtestEnd failed: ", err)
	}

	err := a.SubtestStart("pipe-A", "")
	if err == nil {
		t.Fatal("SubtestStart unexpectedly succeeded for a duplicate name")
	}
	if !planner.IsConfigError(err) {
		t.Error("SubtestStart error is not a config error: ", err)
	}
	if want := `subtest "kms_flip/pipe-A" already recorded`; !strings.Contains(err.Error(), want) {
		t.Errorf("SubtestStart error = %q; want substring %q", err, want)
	}
}

func TestAggregatorSameNameAcrossSuites(t *testing.T) {
	a := results.NewAggregator(&results.Config{})
	for _, suite := range []string{"kms_basic", "gem_basic"} {
		if err := a.SuiteStart(&harness.Suite{Name: suite}); err != nil {
			t.Fatal("SuiteStart failed: ", err)
		}
		if err := a.SubtestStart("sanity", ""); err != nil {
			t.Fatalf("SubtestStart for %s/sanity failed: %v", suite, err)
		}
		if err := a.SubtestEnd("sanity", outcome.Passed(), nil); err != nil {
			t.Fatal("SubtestEnd failed: ", err)
		}
		if err := a.SuiteEnd(suite); err != nil {
			t.Fatal("SuiteEnd failed: ", err)
		}
	}
	if n := len(a.Records()); n != 2 {
		t.Errorf("got %d records; want 2", n)
	}
}

func TestAggregatorSequenceViolations(t *testing.T) {
	a := results.NewAggregator(&results.Config{})

	if err := a.SubtestStart("early", ""); err == nil {
		t.Error("SubtestStart before SuiteStart unexpectedly succeeded")
	}
	if err := a.SuiteStart(&harness.Suite{Name: "kms_basic"}); err != nil {
		t.Fatal("SuiteStart failed: ", err)
	}
	if err := a.SubtestLog("ghost", "msg"); err == nil {
		t.Error("SubtestLog for an unstarted subtest unexpectedly succeeded")
	}
	if err := a.SubtestEnd("ghost", outcome.Passed(), nil); err == nil {
		t.Error("SubtestEnd for an unstarted subtest unexpectedly succeeded")
	}
	if err := a.SubtestStart("sanity", ""); err != nil {
		t.Fatal("SubtestStart failed: ", err)
	}
	if err := a.SubtestStart("other", ""); err == nil {
		t.Error("SubtestStart while another subtest is running unexpectedly succeeded")
	}
	if err := a.SuiteEnd("kms_basic"); err == nil {
		t.Error("SuiteEnd with a running subtest unexpectedly succeeded")
	}
	if err := a.SubtestEnd("sanity", outcome.Outcome{}, nil); err == nil {
		t.Error("SubtestEnd without a terminal outcome unexpectedly succeeded")
	}
	if err := a.SubtestEnd("sanity", outcome.Passed(), nil); err != nil {
		t.Fatal("SubtestEnd failed: ", err)
	}
	if err := a.SubtestEnd("sanity", outcome.Passed(), nil); err == nil {
		t.Error("second SubtestEnd unexpectedly succeeded")
	}
}

func TestAggregatorRunErrors(t *testing.T) {
	fclk := fakeclock.NewFakeClock(epoch)
	a := results.NewAggregator(&results.Config{Clock: fclk})
	if err := a.RunError(&harness.Error{Reason: "[Fixture failure] drmDevice: device node not found", File: "/src/fixt.go", Line: 12}); err != nil {
		t.Fatal("RunError failed: ", err)
	}

	want := []results.Error{
		{Time: epoch, Reason: "[Fixture failure] drmDevice: device node not found", File: "/src/fixt.go", Line: 12},
	}
	if diff := cmp.Diff(want, a.RunErrors()); diff != "" {
		t.Errorf("RunErrors mismatch (-want +got):\n%s", diff)
	}
	// Run errors make surrounding subtests skip; only recorded outcomes
	// decide the exit code.
	if code := a.ExitCode(); code != 0 {
		t.Errorf("ExitCode() = %d; want 0", code)
	}
}

func TestAggregatorTimingLog(t *testing.T) {
	tl := timing.NewLog()
	a := results.NewAggregator(&results.Config{TimingLog: tl})
	if err := a.SuiteStart(&harness.Suite{Name: "kms_basic"}); err != nil {
		t.Fatal("SuiteStart failed: ", err)
	}
	if err := a.SubtestStart("sanity", ""); err != nil {
		t.Fatal("SubtestStart failed: ", err)
	}

	sub := timing.NewLog()
	sub.StartTop("enumerate").End()
	if err := a.SubtestEnd("sanity", outcome.Passed(), sub); err != nil {
		t.Fatal("SubtestEnd failed: ", err)
	}
	if err := a.SuiteEnd("kms_basic"); err != nil {
		t.Fatal("SuiteEnd failed: ", err)
	}

	var names []string
	for _, suite := range tl.Root.Children {
		names = append(names, suite.Name)
		for _, subtest := range suite.Children {
			names = append(names, suite.Name+"/"+subtest.Name)
			for _, stage := range subtest.Children {
				names = append(names, suite.Name+"/"+subtest.Name+"/"+stage.Name)
			}
		}
	}
	want := []string{"kms_basic", "kms_basic/sanity", "kms_basic/sanity/enumerate"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Timing stages mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregatorLiveLog(t *testing.T) {
	fclk := fakeclock.NewFakeClock(epoch)
	logger := &testLogger{}
	a := results.NewAggregator(&results.Config{Clock: fclk, Logger: logger})

	if err := a.SuiteStart(&harness.Suite{Name: "kms_basic"}); err != nil {
		t.Fatal("SuiteStart failed: ", err)
	}
	if err := a.SubtestStart("sanity", ""); err != nil {
		t.Fatal("SubtestStart failed: ", err)
	}
	if err := a.SubtestLog("sanity", "opened /dev/dri/card0"); err != nil {
		t.Fatal("SubtestLog failed: ", err)
	}
	fclk.Increment(100 * time.Millisecond)
	if err := a.SubtestEnd("sanity", outcome.Passed(), nil); err != nil {
		t.Fatal("SubtestEnd failed: ", err)
	}
	if err := a.SubtestStart("hotplug", ""); err != nil {
		t.Fatal("SubtestStart failed: ", err)
	}
	if err := a.SubtestEnd("hotplug", outcome.Skipped("no display connected"), nil); err != nil {
		t.Fatal("SubtestEnd failed: ", err)
	}
	if err := a.SuiteEnd("kms_basic"); err != nil {
		t.Fatal("SuiteEnd failed: ", err)
	}

	want := []string{
		"Started suite kms_basic",
		"Started subtest sanity",
		"opened /dev/dri/card0",
		"Completed subtest sanity in 100ms with 0 error(s)",
		"Started subtest hotplug",
		"Skipped subtest hotplug: no display connected",
		"Completed suite kms_basic in 100ms",
	}
	if diff := cmp.Diff(want, logger.msgs); diff != "" {
		t.Errorf("Log messages mismatch (-want +got):\n%s", diff)
	}
}

func TestWrite(t *testing.T) {
	start := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	records := []*results.Record{
		{
			Suite:   "kms_basic",
			Name:    "sanity",
			Outcome: outcome.Pass,
			Start:   start,
			End:     start.Add(time.Second),
		},
		{
			Suite:   "kms_basic",
			Name:    "props",
			Outcome: outcome.Fail,
			Reason:  "bad value",
			Errors: []results.Error{
				{Time: start.Add(2 * time.Second), Reason: "bad value", File: "/src/props.go", Line: 42},
			},
			Start: start.Add(time.Second),
			End:   start.Add(2 * time.Second),
		},
	}

	var b bytes.Buffer
	if err := results.Write(&b, records); err != nil {
		t.Fatal("Write failed: ", err)
	}

	const want = `[
  {
    "suite": "kms_basic",
    "name": "sanity",
    "outcome": "pass",
    "errors": null,
    "start": "2023-05-01T12:00:00Z",
    "end": "2023-05-01T12:00:01Z"
  },
  {
    "suite": "kms_basic",
    "name": "props",
    "outcome": "fail",
    "reason": "bad value",
    "errors": [
      {
        "time": "2023-05-01T12:00:02Z",
        "reason": "bad value",
        "file": "/src/props.go",
        "line": 42,
        "stack": ""
      }
    ],
    "start": "2023-05-01T12:00:01Z",
    "end": "2023-05-01T12:00:02Z"
  }
]
`
	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("Write output mismatch (-want +got):\n%s", diff)
	}
}

// TestAggregatorWithPlanner drives the real planner against the aggregator to
// check that a whole run is recorded the way the report expects.
func TestAggregatorWithPlanner(t *testing.T) {
	s := &harness.Suite{
		Name: "kms_pipes",
		Func: func(b *harness.Builder) {
			b.Fixture(&harness.Fixture{
				Name: "drmDevice",
				SetUp: func(ctx context.Context, s *harness.FixtState) error {
					s.SetValue("card0")
					return nil
				},
				TearDown: func(ctx context.Context, s *harness.FixtState) {},
			}, func(b *harness.Builder) {
				b.Subtest("sanity", func(ctx context.Context, s *harness.State) {})
				b.Subtest("props", func(ctx context.Context, s *harness.State) {
					s.Error("bad value")
				})
				b.Dynamic("pipes", func(ctx context.Context, g *harness.Group) {
					for _, pipe := range []string{"pipe-A", "pipe-B"} {
						g.Subtest(pipe, func(ctx context.Context, s *harness.State) {})
					}
				})
			})
		},
	}

	a := results.NewAggregator(&results.Config{})
	if err := planner.RunSuites(context.Background(), []*harness.Suite{s}, a, &planner.Config{}); err != nil {
		t.Fatal("RunSuites failed: ", err)
	}

	var got []string
	for _, rec := range a.Records() {
		got = append(got, fmt.Sprintf("%s %s", rec.FullName(), rec.Outcome))
	}
	want := []string{
		"kms_pipes/sanity pass",
		"kms_pipes/props fail",
		"kms_pipes/pipe-A pass",
		"kms_pipes/pipe-B pass",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Recorded outcomes mismatch (-want +got):\n%s", diff)
	}
	if reason := a.Records()[1].Reason; reason != "bad value" {
		t.Errorf("props reason = %q; want %q", reason, "bad value")
	}
}

// TestAggregatorWithPlannerDuplicateDynamicName checks that a dynamic name
// collision is surfaced through the planner as a config error aborting the
// run.
func TestAggregatorWithPlannerDuplicateDynamicName(t *testing.T) {
	s := &harness.Suite{
		Name: "kms_pipes",
		Func: func(b *harness.Builder) {
			b.Dynamic("pipes", func(ctx context.Context, g *harness.Group) {
				g.Subtest("pipe-A", func(ctx context.Context, s *harness.State) {})
				g.Subtest("pipe-A", func(ctx context.Context, s *harness.State) {})
			})
		},
	}

	a := results.NewAggregator(&results.Config{})
	err := planner.RunSuites(context.Background(), []*harness.Suite{s}, a, &planner.Config{})
	if err == nil {
		t.Fatal("RunSuites unexpectedly succeeded")
	}
	if !planner.IsConfigError(err) {
		t.Error("RunSuites error is not a config error: ", err)
	}
	if want := `subtest "kms_pipes/pipe-A" already recorded`; !strings.Contains(err.Error(), want) {
		t.Errorf("RunSuites error = %q; want substring %q", err, want)
	}
}
