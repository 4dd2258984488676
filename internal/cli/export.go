package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/pkg/types"
)

func newExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <entity>",
		Short: "Export objects of an entity as JSONL",
		Long: `Export writes one JSON object per line for every object of the entity,
in creation order.

Example:
  larder export Note > notes.jsonl
  larder export Note --output notes.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			objs, err := sess.stack.MainContext().Fetch(cmd.Context(), types.FetchRequest{Entity: args[0]})
			if err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				w = f
			}

			enc := json.NewEncoder(w)
			for _, o := range objs {
				if err := enc.Encode(viewOf(o)); err != nil {
					return fmt.Errorf("encode %s: %w", o.ID(), err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write instead of stdout")
	return cmd
}
