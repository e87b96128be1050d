// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package outcome defines the terminal states a unit of work can reach and
// the transition rules between them.
package outcome

import (
	"encoding/json"
	"fmt"
)

// Kind is the classification of a finished unit of work.
type Kind int

const (
	// Running means no terminal state has been reached yet.
	Running Kind = iota
	// Pass means the body returned normally with no errors recorded.
	Pass
	// Fail means an assertion failure was recorded.
	Fail
	// Skip means a prerequisite was unmet and the body was not evaluated
	// in full. Skips never count toward failure.
	Skip
	// Crash means the body terminated abnormally (panic, fault, timeout)
	// and was contained by the isolation boundary.
	Crash
)

// String returns the report spelling of k.
func (k Kind) String() string {
	switch k {
	case Running:
		return "running"
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Skip:
		return "skip"
	case Crash:
		return "crash"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MarshalJSON marshals k as its report spelling so that result files carry
// "pass" rather than a bare integer.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Terminal reports whether k is a final state.
func (k Kind) Terminal() bool {
	return k != Running
}

// Failed reports whether k makes the whole run fail.
func (k Kind) Failed() bool {
	return k == Fail || k == Crash
}

// An Outcome is the terminal state of one unit of work plus the reason it
// got there. Reason is empty for Pass.
type Outcome struct {
	Kind   Kind
	Reason string
}

// Passed returns a Pass outcome.
func Passed() Outcome {
	return Outcome{Kind: Pass}
}

// Failed returns a Fail outcome with the given reason.
func Failed(reason string) Outcome {
	return Outcome{Kind: Fail, Reason: reason}
}

// Skipped returns a Skip outcome with the given reason.
func Skipped(reason string) Outcome {
	return Outcome{Kind: Skip, Reason: reason}
}

// Crashed returns a Crash outcome with the given cause.
func Crashed(cause string) Outcome {
	return Outcome{Kind: Crash, Reason: cause}
}

// String returns the report spelling of o, with the reason appended when
// present.
func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Kind.String()
	}
	return fmt.Sprintf("%s (%s)", o.Kind, o.Reason)
}
