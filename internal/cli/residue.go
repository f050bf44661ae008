package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/zeromonos/internal/lifecycle"
	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

func newResidueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "residue",
		Short: "Manage residues",
	}
	cmd.AddCommand(
		newResidueCreateCmd(a),
		newResidueListCmd(a),
		newResidueSearchCmd(a),
		newResidueGetCmd(a),
		newResidueDeleteCmd(a),
	)
	return cmd
}

func newResidueCreateCmd(a *app) *cobra.Command {
	var n types.NewResidue
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a residue",
		Example: `  zeromonos residue create --name Glass --desc "green bottles" --weight 12.5 --volume 40`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *lifecycle.Engine) error {
				r, err := e.CreateResidue(cmd.Context(), n)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), r)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created residue %d: %s\n", r.ID, r.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&n.Name, "name", "", "residue name (required)")
	cmd.Flags().StringVar(&n.Description, "desc", "", "description")
	cmd.Flags().Float64Var(&n.Weight, "weight", 0, "weight")
	cmd.Flags().Float64Var(&n.Volume, "volume", 0, "volume")
	return cmd
}

func newResidueListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all residues",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *lifecycle.Engine) error {
				rs, err := e.ListResidues(cmd.Context())
				if err != nil {
					return err
				}
				return a.printResidues(cmd.OutOrStdout(), rs)
			})
		},
	}
}

func newResidueSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find residues by name or description",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(e *lifecycle.Engine) error {
				rs, err := e.SearchResidues(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printResidues(cmd.OutOrStdout(), rs)
			})
		},
	}
}

func newResidueGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one residue",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseResidueID(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(e *lifecycle.Engine) error {
				r, err := e.GetResidue(cmd.Context(), id)
				if err != nil {
					return err
				}
				if a.flags.jsonMode {
					return printJSON(cmd.OutOrStdout(), r)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:          %d\n", r.ID)
				fmt.Fprintf(out, "Name:        %s\n", r.Name)
				fmt.Fprintf(out, "Description: %s\n", r.Description)
				fmt.Fprintf(out, "Weight:      %g\n", r.Weight)
				fmt.Fprintf(out, "Volume:      %g\n", r.Volume)
				fmt.Fprintf(out, "Request:     %s\n", claimedBy(r))
				return nil
			})
		},
	}
}

func newResidueDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an unclaimed residue",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseResidueID(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd, func(e *lifecycle.Engine) error {
				if err := e.DeleteResidue(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted residue %d\n", id)
				return nil
			})
		},
	}
}

func parseResidueID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid residue id %q", types.ErrValidation, s)
	}
	return id, nil
}

func claimedBy(r *types.Residue) string {
	if r.RequestToken == nil {
		return "-"
	}
	return *r.RequestToken
}

func (a *app) printResidues(out io.Writer, rs []*types.Residue) error {
	if a.flags.jsonMode {
		return printJSON(out, rs)
	}
	if len(rs) == 0 {
		fmt.Fprintln(out, "No residues found.")
		return nil
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tWEIGHT\tVOLUME\tREQUEST")
	fmt.Fprintln(w, "--\t----\t------\t------\t-------")
	for _, r := range rs {
		req := "-"
		if r.RequestToken != nil {
			req = shortToken(*r.RequestToken)
		}
		fmt.Fprintf(w, "%d\t%s\t%g\t%g\t%s\n", r.ID, truncate(r.Name, 30), r.Weight, r.Volume, req)
	}
	w.Flush()
	printLines(out, sb.String())
	fmt.Fprintf(out, "Total: %d residue(s)\n", len(rs))
	return nil
}
