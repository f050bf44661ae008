//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for zeromonos using Mage.
//
// Usage:
//
//	mage build            Compile the zeromonos binary to bin/
//	mage install          Install zeromonos to GOPATH/bin
//	mage clean            Remove build artifacts
//	mage lint             Run golangci-lint
//	mage test:all         Run every test
//	mage test:race        Run every test with the race detector
//	mage test:cover       Run every test and write coverage.out
//	mage test:postgres    Run the backend tests against a throwaway PostgreSQL
//	mage postgres:up      Start the PostgreSQL container
//	mage postgres:down    Remove the PostgreSQL container
//	mage stats            Print Go line counts per package
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "zeromonos"
	binaryDir  = "bin"
	cmdDir     = "./cmd/zeromonos"
	modulePath = "github.com/mesh-intelligence/zeromonos"
)

// ldflags stamps the version reported by "zeromonos version": the
// ZEROMONOS_VERSION environment variable, else git describe, else dev.
func ldflags() string {
	version := os.Getenv("ZEROMONOS_VERSION")
	if version == "" {
		if out, err := sh.Output("git", "describe", "--tags", "--always", "--dirty"); err == nil {
			version = strings.TrimSpace(out)
		}
	}
	if version == "" {
		version = "dev"
	}
	return "-X " + modulePath + "/internal/cli.version=" + version
}

// Build compiles the zeromonos binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags(), "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	_ = os.Remove(coverProfile)
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	if err := sh.Copy(dst, src); err != nil {
		return err
	}
	return os.Chmod(dst, 0o755)
}
