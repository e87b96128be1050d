// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"os"
	"os/signal"
	gotesting "testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestSignalHelper(t *gotesting.T) {
	// Subscribe before starting the helper so the signals are observable here.
	sigCh := make(chan os.Signal, 100)
	signal.Notify(sigCh, unix.SIGUSR1)
	defer signal.Stop(sigCh)

	h := StartSignalHelper(time.Nanosecond)

	// Receive at least 3 signals.
	for i := 0; i < 3; i++ {
		select {
		case <-sigCh:
		case <-time.After(10 * time.Second):
			t.Fatal("Timed out waiting for SIGUSR1")
		}
	}

	h.Stop()
	h.Stop() // stopping twice is fine
}
