// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

var selfName = filepath.Base(os.Args[0])

// InstallSignalHandler installs a handler for SIGINT and SIGTERM that calls
// callback and runs common logic. out is the output stream to write messages
// to (typically stderr).
//
// callback is expected to cancel the run context; the run loop then finishes
// tearing down any open fixture scopes before the process exits, so the
// process does not exit on the first SIGINT. A second SIGINT exits
// immediately. SIGTERM is treated as a hard deadline: goroutines are dumped,
// child processes are terminated and the process exits.
func InstallSignalHandler(out io.Writer, callback func(sig os.Signal)) {
	ch := make(chan os.Signal, 2)
	go func() {
		sig := <-ch
		fmt.Fprintf(out, "\n%s: Caught %v signal; tearing down (send again to exit now)\n", selfName, sig)
		callback(sig)
		if sig == unix.SIGTERM {
			handleSIGTERM(out)
			os.Exit(1)
		}
		sig = <-ch
		fmt.Fprintf(out, "\n%s: Caught second %v signal; exiting\n", selfName, sig)
		os.Exit(1)
	}()
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
}

func handleSIGTERM(out io.Writer) {
	// SIGTERM is often sent by a CI scheduler on timeout. Print stack traces
	// to help debug what the run was blocked on.
	fmt.Fprintf(out, "\n%s: Dumping all goroutines...\n\n", selfName)
	if p := pprof.Lookup("goroutine"); p != nil {
		p.WriteTo(out, 2)
	}
	fmt.Fprintf(out, "\n%s: Finished dumping goroutines\n", selfName)

	// Also terminate all child processes with SIGTERM. A subtest may have
	// left a helper process behind; this can recursively print stack traces.
	procs, err := process.Processes()
	if err != nil {
		fmt.Fprintf(out, "Failed to terminate subprocesses: %v\n", err)
		return
	}

	selfPid := int32(os.Getpid())

	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil {
			continue
		}
		if ppid == selfPid {
			proc.Terminate()
		}
	}
}
