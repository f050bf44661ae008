// Package cli implements the zeromonos command-line interface: storage
// initialization, the HTTP server, and direct residue and request commands
// against the configured depot.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/zeromonos/internal/paths"
	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

// app carries the state of one CLI invocation.
type app struct {
	flags     rootFlags
	configDir string
	settings  settings
}

// NewRootCmd creates the top-level "zeromonos" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "zeromonos",
		Short: "Residue collection requests and their lifecycle",
		Long: "zeromonos tracks residues (recyclable or waste material batches) and\n" +
			"requests for their collection, from received to completed or canceled.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load()
		},
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %s", errUsage, err)
	})

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.zeromonos-db)")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newResidueCmd(a))
	root.AddCommand(newRequestCmd(a))

	return root
}

// load resolves the config directory and reads config.yaml.
func (a *app) load() error {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	a.configDir = configDir
	a.settings = settingsFrom(v)
	return nil
}

// resolveDataDir applies --data-dir > config.yaml data_dir >
// ZEROMONOS_DATA_DIR > $(CWD)/.zeromonos-db.
func (a *app) resolveDataDir() (string, error) {
	return paths.ResolveDataDir(a.flags.dataDir, a.settings.DataDir)
}

// Execute runs the root command with os.Args and returns the process exit
// code. Errors are printed to stderr.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "zeromonos:", err)
		return exitCodeFor(err)
	}
	return exitSuccess
}

// exitCodeFor classifies err: problems with the caller's input are user
// errors, everything else is a system error.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrConflict),
		errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, errUsage):
		return exitUserError
	default:
		return exitSysError
	}
}
