// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging_test

import (
	"bytes"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.chromium.org/gart/internal/logging"
)

// memorySink is a Sink that accumulates logs to an in-memory buffer.
type memorySink struct {
	mu   sync.Mutex
	msgs []string
}

func (ms *memorySink) Log(msg string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.msgs = append(ms.msgs, msg)
}

func (ms *memorySink) Get() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.msgs...)
}

func TestSinkLogger(t *testing.T) {
	var sink memorySink
	logger := logging.NewSinkLogger(logging.LevelInfo, false, &sink)
	logger.Log(logging.LevelInfo, time.Time{}, "foo")
	logger.Log(logging.LevelInfo, time.Time{}, "bar\nbaz\n")

	want := []string{"foo", "bar\nbaz\n"}
	if diff := cmp.Diff(sink.Get(), want); diff != "" {
		t.Errorf("Messages mismatch (-got +want):\n%s", diff)
	}
}

func TestSinkLoggerLevel(t *testing.T) {
	var sink memorySink
	logger := logging.NewSinkLogger(logging.LevelInfo, false, &sink)
	logger.Log(logging.LevelInfo, time.Time{}, "foo")
	logger.Log(logging.LevelDebug, time.Time{}, "bar")

	want := []string{"foo"}
	if diff := cmp.Diff(sink.Get(), want); diff != "" {
		t.Errorf("Messages mismatch (-got +want):\n%s", diff)
	}
}

func TestSinkLoggerTimestamp(t *testing.T) {
	var sink memorySink
	logger := logging.NewSinkLogger(logging.LevelInfo, true, &sink)
	logger.Log(logging.LevelInfo, time.Time{}, "foo")

	msgs := sink.Get()
	if len(msgs) != 1 {
		t.Fatalf("Unexpected number of messages: got %d, want 1", len(msgs))
	}

	pattern := regexp.MustCompile(`^\d\d\d\d-\d\d-\d\dT\d\d:\d\d:\d\d.\d\d\d\d\d\dZ foo$`)
	if !pattern.MatchString(msgs[0]) {
		t.Fatalf("Message mismatch: got %q, want match with regexp %q", msgs[0], pattern.String())
	}
}

func TestSinkLoggerFuncSink(t *testing.T) {
	var got []string
	sink := logging.NewFuncSink(func(msg string) {
		got = append(got, msg)
	})
	logger := logging.NewSinkLogger(logging.LevelInfo, false, sink)
	logger.Log(logging.LevelInfo, time.Time{}, "foo")
	logger.Log(logging.LevelInfo, time.Time{}, "bar\nbaz\n")

	want := []string{"foo", "bar\nbaz\n"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Fatalf("Messages mismatch (-got +want):\n%s", diff)
	}
}

func TestSinkLoggerWriterSink(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewSinkLogger(logging.LevelInfo, false, logging.NewWriterSink(&buf))
	logger.Log(logging.LevelInfo, time.Time{}, "foo")
	logger.Log(logging.LevelInfo, time.Time{}, "bar\nbaz\n")

	const want = "foo\nbar\nbaz\n\n"
	if got := buf.String(); got != want {
		t.Fatalf("Messages mismatch: got %q, want %q", got, want)
	}
}
