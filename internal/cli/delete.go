package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete objects by ID",
		Long: `Delete removes the objects with the given IDs and the relationships that
point at them, in a single save.

Example:
  larder delete 0192c4a1-7d2e-7b3c-9f00-5a1e2b3c4d5e`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			c := sess.stack.MainContext()
			for _, id := range args {
				obj, err := findObject(cmd, sess, id)
				if err != nil {
					return err
				}
				if err := c.Delete(obj); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
			}
			if err := c.Save(cmd.Context()); err != nil {
				return fmt.Errorf("save: %w", err)
			}

			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": args})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d object(s)\n", len(args))
			return nil
		},
	}
}
