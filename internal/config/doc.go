// Package config loads the installer configuration.
//
// # Overview
//
// The effective Config is assembled once per run, in three layers:
//
//  1. Defaults derived from the detected platform (Defaults).
//  2. An optional Lua file, overlaid key by key (Parser.ParseFile).
//  3. Command line flags, applied by the caller.
//
// Only the final result is validated (Config.Validate), so a flag can
// correct a value the file got wrong.
//
// # Lua files
//
// A config file assigns a global installer table:
//
//	installer = {
//	  project = "cfschilham/kryer",
//	  install_path = platform.is_windows and [[C:\Tools\kryer.exe]] or "/opt/kryer/bin/kryer",
//	  checksum = "required",
//	  retries = 2,
//	}
//
// Keys not present keep their default. Unknown keys and values of the wrong
// type are rejected with a *ParseError. Path values may start with "~/".
//
// Scripts run in gopher-lua with os, io, debug and every code loading
// function removed. The platform package injects a read-only platform table
// (os, arch, is_linux, is_macos, is_windows, distro, when).
//
// ParseFile also scans the raw file for credentials and logs a warning for
// each hit; tokens belong in GITHUB_TOKEN or KRYER_GITHUB_TOKEN.
//
// # Generation
//
// Generator renders a Config back to Lua. kryer-install uses it to print the
// effective configuration.
package config
