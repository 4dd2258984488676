package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/pkg/mapping"
)

func newMappingsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mappings",
		Short: "Show the loaded JSON mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := a.loadModel()
			if err != nil {
				return err
			}
			registry, err := a.loadRegistry(model)
			if err != nil {
				return err
			}

			var mappings []mapping.EntityMapping
			for _, name := range registry.Entities() {
				m, _ := registry.Lookup(name)
				mappings = append(mappings, m)
			}

			out := cmd.OutOrStdout()
			if a.flags.jsonMode {
				return printJSON(out, map[string]any{
					"key_style": registry.KeyStyle(),
					"mappings":  mappings,
				})
			}
			fmt.Fprintf(out, "key style: %s\n", registry.KeyStyle())
			for _, m := range mappings {
				fmt.Fprintln(out, m.Entity)
				if m.Identifier != nil {
					fmt.Fprintf(out, "  identifier  %s <- %s\n", m.Identifier.Attribute, m.Identifier.Key)
				}
				if m.OrderKey != "" {
					fmt.Fprintf(out, "  order key   %s\n", m.OrderKey)
				}
				for _, r := range m.Rules {
					fmt.Fprintf(out, "  %-11s <- %s%s\n", r.Attribute, r.Key, ruleDetail(r))
				}
			}
			return nil
		},
	}
}

func ruleDetail(r mapping.Rule) string {
	var parts []string
	if r.Kind != "" {
		parts = append(parts, "kind="+string(r.Kind))
	}
	if r.Layout != "" {
		parts = append(parts, "layout="+r.Layout)
	}
	if r.Transform != "" {
		parts = append(parts, "transform="+r.Transform)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
