package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/pkg/store"
	"github.com/mesh-intelligence/larder/pkg/types"
)

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get an object by ID",
		Long: `Get prints the object with the given ID.

Example:
  larder get 0192c4a1-7d2e-7b3c-9f00-5a1e2b3c4d5e
  larder get --json 0192c4a1-7d2e-7b3c-9f00-5a1e2b3c4d5e`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			obj, err := findObject(cmd, sess, args[0])
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), viewOf(obj))
			}
			return printObjects(cmd.OutOrStdout(), false, []*store.Object{obj})
		},
	}
}

func findObject(cmd *cobra.Command, sess *session, id string) (*store.Object, error) {
	obj, err := sess.stack.MainContext().Object(cmd.Context(), id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("object %q: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}
