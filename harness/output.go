// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

// OutputStream is an interface to report streamed outputs of a single entity
// (a subtest or a fixture stage).
// Note that planner.OutputStream is for a whole run in contrast.
type OutputStream interface {
	// Log reports an informational log message from an entity.
	Log(msg string) error

	// Error reports an error from an entity. An entity that reported one or
	// more errors should be considered failed.
	Error(e *Error) error
}

// Error describes an error reported by a subtest or a fixture stage.
type Error struct {
	Reason string `json:"reason"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Stack  string `json:"stack"`
}
