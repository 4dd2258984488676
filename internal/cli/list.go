package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/pkg/types"
)

type listFlags struct {
	where  []string
	sortBy string
	desc   bool
	limit  int
	offset int
}

func newListCmd(a *app) *cobra.Command {
	var f listFlags
	cmd := &cobra.Command{
		Use:   "list <entity>",
		Short: "List objects of an entity",
		Long: `List prints the objects of an entity, optionally filtered by attribute
equality. Filters are key=value pairs and are ANDed together. Values are
parsed as JSON when possible, otherwise used as strings, and converted to
the attribute's type.

Example:
  larder list Note
  larder list Note --where title=Groceries
  larder list Article --sort publishedAt --desc --limit 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(args[0])
			if err != nil {
				return err
			}

			sess, err := a.openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			objs, err := sess.stack.MainContext().Fetch(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], err)
			}
			return printObjects(cmd.OutOrStdout(), a.flags.jsonMode, objs)
		},
	}
	cmd.Flags().StringArrayVarP(&f.where, "where", "w", nil, "attribute=value filter (repeatable)")
	cmd.Flags().StringVarP(&f.sortBy, "sort", "s", "", "attribute to sort by (default: creation order)")
	cmd.Flags().BoolVar(&f.desc, "desc", false, "sort in descending order")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "maximum number of objects (0: no limit)")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "number of objects to skip")
	return cmd
}

func (f listFlags) request(entity string) (types.FetchRequest, error) {
	if f.limit < 0 || f.offset < 0 {
		return types.FetchRequest{}, fmt.Errorf("%w: --limit and --offset must not be negative", errUsage)
	}
	req := types.FetchRequest{
		Entity:     entity,
		SortBy:     f.sortBy,
		Descending: f.desc,
		Limit:      f.limit,
		Offset:     f.offset,
	}
	for _, arg := range f.where {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return types.FetchRequest{}, fmt.Errorf("%w: invalid filter %q (expected key=value)", errUsage, arg)
		}
		req = req.Where(key, parseFilterValue(value))
	}
	return req, nil
}

// parseFilterValue decodes one JSON value and falls back to the raw string.
// Numbers stay json.Number so large identifiers and decimal text survive.
func parseFilterValue(value string) any {
	dec := json.NewDecoder(strings.NewReader(value))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return value
	}
	if _, err := dec.Token(); err != io.EOF {
		return value
	}
	return parsed
}
