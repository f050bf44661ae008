package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize zeromonos storage",
		Long: "Create the configuration and data directories, then initialize the storage\n" +
			"backend. A --data-dir given here is recorded in config.yaml unless the file\n" +
			"already names one.",
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.flags.dataDir != "" && a.settings.DataDir == "" {
				abs, err := filepath.Abs(a.flags.dataDir)
				if err != nil {
					return fmt.Errorf("resolve data dir: %w", err)
				}
				path := filepath.Join(a.configDir, configFileExt)
				if err := setConfigValue(path, cfgKeyDataDir, abs); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
			}

			depot, err := a.attachDepot()
			if err != nil {
				return fmt.Errorf("initialize storage: %w", err)
			}
			if err := depot.Detach(); err != nil {
				return fmt.Errorf("finalize storage: %w", err)
			}

			where := a.settings.DSN
			if a.settings.Backend != types.BackendPostgres {
				if where, err = a.resolveDataDir(); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "zeromonos initialized (%s: %s)\n", a.settings.Backend, where)
			return nil
		},
	}
}

// setConfigValue sets a top-level key in the YAML file at path, keeping
// the file's comments and the order of its other keys.
func setConfigValue(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("parse %s: top level is not a mapping", path)
	}

	valueNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	replaced := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			root.Content[i+1] = valueNode
			replaced = true
			break
		}
	}
	if !replaced {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			valueNode,
		)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
