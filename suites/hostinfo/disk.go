// Copyright 2023 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package hostinfo

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"go.chromium.org/gart/errors"
	"go.chromium.org/gart/harness"
)

// pseudoFilesystems lists filesystem types that don't account real storage.
// Subtests over them are skipped, not failed: a host without them is fine,
// and their usage numbers mean nothing.
var pseudoFilesystems = map[string]struct{}{
	"tmpfs":      {},
	"devtmpfs":   {},
	"proc":       {},
	"sysfs":      {},
	"cgroup2":    {},
	"overlay":    {},
	"squashfs":   {},
	"ramfs":      {},
	"efivarfs":   {},
	"securityfs": {},
}

func init() {
	harness.AddSuite(&harness.Suite{
		Name:     "disk",
		Desc:     "Validates space accounting of mounted filesystems",
		Contacts: []string{"gart-dev@chromium.org"},
		Attr:     []string{"category:host", "feature:storage"},
		Timeout:  30 * time.Second,
		Func:     Disk,
	})
}

// Disk declares the disk suite: one dynamic subtest per mounted filesystem.
func Disk(b *harness.Builder) {
	b.Describe("Checks that every mounted filesystem reports consistent usage numbers")
	b.Dynamic("fs", func(ctx context.Context, g *harness.Group) {
		parts, err := disk.PartitionsWithContext(ctx, false)
		if err != nil {
			g.Subtest("fs-enumerate", func(ctx context.Context, s *harness.State) {
				s.Fatal("Failed to enumerate mounted filesystems: ", err)
			})
			return
		}

		seen := make(map[string]struct{}) // bind mounts repeat mountpoints
		for _, p := range parts {
			p := p
			name := "fs-" + mountName(p.Mountpoint)
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}

			g.Subtest(name, func(ctx context.Context, s *harness.State) {
				s.Require(requireRealFS(p.Fstype))

				usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
				if err != nil {
					s.Fatal("Failed to read usage: ", err)
				}
				if usage.Total == 0 {
					s.Skip("Filesystem reports no capacity")
				}
				if usage.Used > usage.Total {
					s.Errorf("Used bytes (%d) exceed capacity (%d)", usage.Used, usage.Total)
				}
				if usage.UsedPercent < 0 || usage.UsedPercent > 100 {
					s.Errorf("Usage percentage %v outside [0, 100]", usage.UsedPercent)
				}
				s.Logf("%s (%s): %d of %d bytes used (%.1f%%)",
					p.Mountpoint, p.Fstype, usage.Used, usage.Total, usage.UsedPercent)
			})
		}
	})
}

// requireRealFS returns a non-nil error if fstype identifies a pseudo
// filesystem, to be passed to State.Require.
func requireRealFS(fstype string) error {
	if _, ok := pseudoFilesystems[fstype]; ok {
		return errors.Errorf("pseudo filesystem %q", fstype)
	}
	return nil
}

// mountName derives a dynamic subtest name component from a mountpoint,
// e.g. "/home/user" becomes "home-user" and "/" becomes "root". Characters
// not allowed in dynamic subtest names are replaced with underscores.
func mountName(mountpoint string) string {
	name := strings.Trim(strings.ReplaceAll(mountpoint, "/", "-"), "-")
	if name == "" {
		return "root"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
