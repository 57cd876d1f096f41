package main

import (
	"fmt"
	"slices"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	auth "github.com/goliatone/go-auth-issuer"
)

// NewTTLCmd creates the ttl subcommand.
func NewTTLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ttl [role...]",
		Short: "Print the token lifetime each role resolves to",
		RunE:  runTTL,
	}
}

func runTTL(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	roles := args
	if len(roles) == 0 {
		roles = append(roles, auth.GetAllRoles()...)
		for role := range cfg.Token.RoleOverrides {
			if !slices.Contains(roles, role) {
				roles = append(roles, role)
			}
		}
		sort.Strings(roles[len(auth.GetAllRoles()):])
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tMINUTES\tNEVER EXPIRES\tEXP CLAIM")
	for _, role := range roles {
		d := auth.ResolveTTL(role, cfg.Token.TTL())
		exp := "yes"
		if d.NeverExpires && d.Minutes == 0 {
			exp = "no"
		}
		fmt.Fprintf(w, "%s\t%d\t%t\t%s\n", role, d.Minutes, d.NeverExpires, exp)
	}
	return w.Flush()
}
