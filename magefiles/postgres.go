//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// PostgreSQL container constants.
const (
	postgresContainer = "zeromonos-postgres"
	postgresImage     = "docker.io/library/postgres:16-alpine"
	postgresPort      = "55432"
	postgresUser      = "zeromonos"
	postgresPassword  = "zeromonos"
	postgresDB        = "zeromonos"
	postgresWait      = 30 * time.Second
)

// Postgres groups the targets that manage the development database.
type Postgres mg.Namespace

func postgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@127.0.0.1:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, postgresPort, postgresDB)
}

// containerRuntime returns "podman" or "docker" if a working runtime
// is available, or "" if neither is usable. It checks both that the
// binary exists on PATH and that it can connect to its daemon/machine.
func containerRuntime() string {
	for _, name := range []string{"podman", "docker"} {
		if _, err := exec.LookPath(name); err != nil {
			continue
		}
		if exec.Command(name, "info").Run() != nil {
			fmt.Fprintf(os.Stderr, "WARNING: %s found on PATH but not usable (is the daemon/machine running?)\n", name)
			continue
		}
		return name
	}
	return ""
}

// containerRunning reports whether the named container exists and is up.
func containerRunning(rt, name string) bool {
	out, err := sh.Output(rt, "inspect", "-f", "{{.State.Running}}", name)
	return err == nil && out == "true"
}

// Up starts the PostgreSQL container and waits until it accepts
// connections. It is a no-op when the container already runs.
func (Postgres) Up() error {
	rt := containerRuntime()
	if rt == "" {
		return fmt.Errorf("no container runtime found (tried podman, docker)")
	}
	if containerRunning(rt, postgresContainer) {
		return nil
	}

	_ = exec.Command(rt, "rm", "-f", postgresContainer).Run()
	fmt.Fprintln(os.Stderr, "Starting PostgreSQL container...")
	err := sh.RunV(rt, "run", "-d",
		"--name", postgresContainer,
		"-e", "POSTGRES_USER="+postgresUser,
		"-e", "POSTGRES_PASSWORD="+postgresPassword,
		"-e", "POSTGRES_DB="+postgresDB,
		"-p", "127.0.0.1:"+postgresPort+":5432",
		postgresImage)
	if err != nil {
		return fmt.Errorf("starting %s: %w", postgresContainer, err)
	}

	deadline := time.Now().Add(postgresWait)
	for time.Now().Before(deadline) {
		if exec.Command(rt, "exec", postgresContainer, "pg_isready", "-U", postgresUser, "-d", postgresDB).Run() == nil {
			fmt.Fprintln(os.Stderr, "PostgreSQL ready at", postgresDSN())
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("%s not ready after %s", postgresContainer, postgresWait)
}

// Down removes the PostgreSQL container and its data.
func (Postgres) Down() error {
	rt := containerRuntime()
	if rt == "" {
		return fmt.Errorf("no container runtime found (tried podman, docker)")
	}
	return exec.Command(rt, "rm", "-f", "-v", postgresContainer).Run()
}
