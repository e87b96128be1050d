// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package hostinfo contains suites validating the host's hardware inventory.
// They run against any Linux host and double as living examples of the
// harness API: fixtures bracketing subtests, requirements that skip instead
// of fail, and dynamic groups enumerating hardware at run time.
package hostinfo

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"go.chromium.org/gart/errors"
	"go.chromium.org/gart/harness"
)

func init() {
	harness.AddSuite(&harness.Suite{
		Name:     "cpu",
		Desc:     "Validates CPU enumeration and per-core time accounting",
		Contacts: []string{"gart-dev@chromium.org"},
		Attr:     []string{"category:host", "feature:cpu"},
		Timeout:  30 * time.Second,
		Func:     CPU,
	})
}

// CPU declares the cpu suite. The fixture enumerates the logical CPUs once;
// the dynamic group yields one subtest per logical CPU.
func CPU(b *harness.Builder) {
	var logical int
	fixt := &harness.Fixture{
		Name: "cpuInfo",
		Desc: "Counts the logical CPUs of the host",
		SetUp: func(ctx context.Context, s *harness.FixtState) error {
			n, err := cpu.CountsWithContext(ctx, true)
			if err != nil {
				return errors.Wrap(err, "failed to count logical CPUs")
			}
			if n <= 0 {
				return errors.Errorf("host reports %d logical CPUs", n)
			}
			logical = n
			s.SetValue(n)
			s.Logf("Found %d logical CPUs", n)
			return nil
		},
		TearDown: func(ctx context.Context, s *harness.FixtState) {
			logical = 0
		},
	}

	b.Fixture(fixt, func(b *harness.Builder) {
		b.Describe("Checks that the physical core count does not exceed the logical CPU count")
		b.Subtest("counts", func(ctx context.Context, s *harness.State) {
			physical, err := cpu.CountsWithContext(ctx, false)
			if err != nil {
				s.Fatal("Failed to count physical cores: ", err)
			}
			if physical <= 0 {
				s.Skip("Physical core topology not exposed on this host")
			}
			if physical > logical {
				s.Errorf("Physical cores (%d) exceed logical CPUs (%d)", physical, logical)
			}
		})

		b.Describe("Validates the time accounting reported for each logical CPU")
		b.Dynamic("core", func(ctx context.Context, g *harness.Group) {
			times, err := cpu.TimesWithContext(ctx, true)
			if err != nil {
				g.Subtest("core-enumerate", func(ctx context.Context, s *harness.State) {
					s.Fatal("Failed to read per-CPU times: ", err)
				})
				return
			}
			if len(times) != logical {
				g.Subtest("core-count", func(ctx context.Context, s *harness.State) {
					s.Errorf("Got times for %d CPUs; want %d", len(times), logical)
				})
			}
			for _, ts := range times {
				ts := ts
				g.Subtest(fmt.Sprintf("core-%s", ts.CPU), func(ctx context.Context, s *harness.State) {
					for field, v := range map[string]float64{
						"user":   ts.User,
						"system": ts.System,
						"idle":   ts.Idle,
						"iowait": ts.Iowait,
					} {
						if v < 0 {
							s.Errorf("Negative %s time %v", field, v)
						}
					}
					if total := ts.Total(); total <= 0 {
						s.Errorf("Total accounted time %v is not positive", total)
					}
				})
			}
		})
	})
}
