// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command_test

import (
	"flag"
	"fmt"
	"io/ioutil"
	"strconv"
	"testing"
	"time"

	"go.chromium.org/gart/internal/command"
)

func TestDurationFlag(t *testing.T) {
	for _, tc := range []struct {
		units time.Duration // units for flag
		args  []string      // args to parse
		def   time.Duration // default value for flag
		exp   time.Duration // expected value
	}{
		{time.Second, []string{}, 0, 0},
		{time.Second, []string{}, 10 * time.Second, 10 * time.Second},
		{time.Second, []string{"-flag=5"}, 0, 5 * time.Second},
		{time.Minute, []string{"-flag=2"}, 0, 2 * time.Minute},
		{time.Millisecond, []string{"-flag=200"}, 0, 200 * time.Millisecond},
	} {
		var d time.Duration
		fs := flag.NewFlagSet("", flag.ContinueOnError)
		fs.SetOutput(ioutil.Discard)
		fs.Var(command.NewDurationFlag(tc.units, &d, tc.def), "flag", "usage")

		if err := fs.Parse(tc.args); err != nil {
			t.Errorf("%v produced error: %v", tc.args, err)
		} else if d != tc.exp {
			t.Errorf("%v resulted in %v; want %v", tc.args, d, tc.exp)
		}
	}
}

func ExampleRepeatedFlag() {
	var dest []int
	rf := command.RepeatedFlag(func(v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		dest = append(dest, i)
		return nil
	})
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.Var(&rf, "flag", "usage")

	// When the flag isn't supplied, the slice is unchanged.
	flags.Parse([]string{})
	fmt.Println("no flag:", dest)

	// The function is called each time the flag is provided.
	flags.Parse([]string{"-flag=1", "-flag=2"})
	fmt.Println("flag:", dest)

	// Output:
	// no flag: []
	// flag: [1 2]
}
