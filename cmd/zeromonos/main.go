// Command zeromonos manages residue collection requests: it initializes
// storage, serves the HTTP API, and runs one-off residue and request
// commands against the configured backend.
package main

import (
	"os"

	"github.com/mesh-intelligence/zeromonos/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
