// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package command provides support code shared by the gart executable's
// subcommands.
package command

import (
	"strconv"
	"time"
)

// DurationFlag implements flag.Value to store an integer duration supplied
// on the command line in predefined units, e.g. "-timeout=30" for 30 seconds.
type DurationFlag struct {
	units time.Duration  // units the user-supplied value is interpreted in
	dst   *time.Duration // destination the parsed duration is assigned to
}

// NewDurationFlag returns a DurationFlag that parses a command-line value
// in the supplied units into dst. def is assigned to dst immediately, to be
// used when the flag is unspecified.
func NewDurationFlag(units time.Duration, dst *time.Duration, def time.Duration) *DurationFlag {
	*dst = def
	return &DurationFlag{units, dst}
}

// String returns the current flag value formatted in the flag's units.
func (f *DurationFlag) String() string {
	return strconv.FormatInt(int64(*f.dst / f.units), 10)
}

// Set parses v and updates the destination.
func (f *DurationFlag) Set(v string) error {
	num, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	*f.dst = time.Duration(num) * f.units
	return nil
}

// RepeatedFlag implements flag.Value around an underlying function that is
// invoked each time the flag is supplied, letting a flag be repeated on the
// command line.
type RepeatedFlag func(v string) error

// String returns an empty string; repeated flags have no single value.
func (f *RepeatedFlag) String() string { return "" }

// Set invokes the underlying function with the supplied value.
func (f *RepeatedFlag) Set(v string) error { return (*f)(v) }
