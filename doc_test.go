// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vftdc

import (
	"runtime/debug"
	"testing"
)

func TestVersionOf(t *testing.T) {
	const root = "github.com/go-lpc/vftdc"
	for _, tc := range []struct {
		name    string
		info    *debug.BuildInfo
		version string
		sum     string
	}{
		{"nil", nil, "", ""},
		{
			name: "no-dep",
			info: &debug.BuildInfo{Deps: []*debug.Module{{Path: "example.org/x", Version: "v1.0.0"}}},
		},
		{
			name:    "dep",
			info:    &debug.BuildInfo{Deps: []*debug.Module{{Path: root, Version: "v0.3.0", Sum: "h1:xyz"}}},
			version: "v0.3.0",
			sum:     "h1:xyz",
		},
		{
			name: "replace-path-version",
			info: &debug.BuildInfo{Deps: []*debug.Module{{
				Path: root, Version: "v0.3.0",
				Replace: &debug.Module{Path: "example.org/vftdc", Version: "v0.4.0", Sum: "h1:abc"},
			}}},
			version: "example.org/vftdc v0.4.0",
			sum:     "h1:abc",
		},
		{
			name: "replace-version",
			info: &debug.BuildInfo{Deps: []*debug.Module{{
				Path: root, Version: "v0.3.0",
				Replace: &debug.Module{Version: "v0.4.0", Sum: "h1:abc"},
			}}},
			version: "v0.4.0",
			sum:     "h1:abc",
		},
		{
			name: "replace-path",
			info: &debug.BuildInfo{Deps: []*debug.Module{{
				Path: root, Version: "v0.3.0",
				Replace: &debug.Module{Path: "../vftdc"},
			}}},
			version: "../vftdc",
		},
		{
			name: "replace-empty",
			info: &debug.BuildInfo{Deps: []*debug.Module{{
				Path: root, Version: "v0.3.0",
				Replace: &debug.Module{},
			}}},
			version: "v0.3.0*",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			version, sum := versionOf(tc.info)
			if version != tc.version || sum != tc.sum {
				t.Fatalf("invalid version: got=(%q, %q), want=(%q, %q)", version, sum, tc.version, tc.sum)
			}
		})
	}
}
