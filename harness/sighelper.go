// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package harness

import (
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// defaultSignalInterval is the period between signals sent by a SignalHelper
// when no explicit interval is given.
const defaultSignalInterval = 10 * time.Millisecond

// SignalHelper repeatedly sends SIGUSR1 to the current process. Subtests use
// it to exercise interrupted-call handling in the driver under test: with the
// helper running, a slow control-plane call is likely to be interrupted by a
// signal, and the kernel side must restart it correctly.
type SignalHelper struct {
	sigCh  chan os.Signal
	mu     sync.Mutex
	closed bool
	fin    chan struct{} // sending a message to this channel stops the background goroutine
}

// StartSignalHelper starts a goroutine that sends SIGUSR1 to the current
// process every d, until Stop is called. If d is non-positive a default
// interval is used. One signal is sent immediately on start.
//
// StartSignalHelper installs a handler for SIGUSR1; an installed handler is
// what makes signal delivery interrupt in-flight calls. Stop removes the
// handler again.
func StartSignalHelper(d time.Duration) *SignalHelper {
	if d <= 0 {
		d = defaultSignalInterval
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGUSR1)

	fin := make(chan struct{})

	go func() {
		defer close(fin)

		tick := time.NewTicker(d)
		defer tick.Stop()

		pid := unix.Getpid()
		unix.Kill(pid, unix.SIGUSR1)
		for {
			select {
			case <-tick.C:
				unix.Kill(pid, unix.SIGUSR1)
			case <-fin:
				return
			}
		}
	}()

	return &SignalHelper{sigCh: sigCh, fin: fin}
}

// Stop stops the background goroutine and removes the SIGUSR1 handler.
// Once this method returns, no further signals are sent. It is safe to call
// Stop multiple times.
func (h *SignalHelper) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	// Since the channel capacity is 0, the background goroutine will never
	// send further signals once this send finishes.
	h.fin <- struct{}{}
	h.closed = true
	signal.Stop(h.sigCh)
}
