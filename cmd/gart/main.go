// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements the gart executable, used to run hardware-validation
// suites against a device driver's control-plane API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"go.chromium.org/gart/internal/command"
	"go.chromium.org/gart/internal/logging"

	// Register the in-repo suites.
	_ "go.chromium.org/gart/suites/hostinfo"
)

// Version is the version info of this command. It is filled in during emerge.
var Version = "<unknown>"

// doMain implements the main body of the program. It's a separate function so
// that its deferred functions will run before os.Exit makes the program exit
// immediately.
func doMain() int {
	// The run command appends a per-run log file to this logger, so every
	// subcommand logs through it.
	logger := logging.NewMultiLogger()

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(newListCmd(os.Stdout), "")
	subcommands.Register(newRunCmd(os.Stdout, logger), "")

	version := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "use verbose logging")
	logTime := flag.Bool("logtime", true, "include date/time headers in logs")
	flag.Parse()

	if *version {
		fmt.Printf("gart version %s\n", Version)
		return 0
	}

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	logger.AddLogger(logging.NewSinkLogger(level, *logTime, logging.NewWriterSink(os.Stderr)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.AttachLogger(ctx, logger)

	// On SIGINT the run context is canceled so the planner stops starting
	// subtests and tears down open fixture scopes before the process exits.
	command.InstallSignalHandler(os.Stderr, func(sig os.Signal) { cancel() })

	return int(subcommands.Execute(ctx))
}

func main() {
	os.Exit(doMain())
}
