//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const coverProfile = "coverage.out"

// Test groups test targets.
type Test mg.Namespace

// All runs every test. The PostgreSQL tests skip unless
// ZEROMONOS_TEST_POSTGRES_DSN is set.
func (Test) All() error {
	return sh.RunV(binGo, "test", "./...")
}

// Race runs every test with the race detector.
func (Test) Race() error {
	return sh.RunV(binGo, "test", "-race", "-count=1", "./...")
}

// Cover runs every test and writes a coverage profile.
func (Test) Cover() error {
	if err := sh.RunV(binGo, "test", "-coverprofile="+coverProfile, "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func="+coverProfile)
}

// Postgres starts the PostgreSQL container and runs the backend tests
// against it.
func (Test) Postgres() error {
	mg.Deps(Postgres.Up)
	env := map[string]string{"ZEROMONOS_TEST_POSTGRES_DSN": postgresDSN()}
	fmt.Fprintln(os.Stderr, "Running backend tests against", postgresDSN())
	return sh.RunWithV(env, binGo, "test", "-count=1", "-run", "Postgres", "./internal/sqlite/...")
}
