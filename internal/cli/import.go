package cli

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/larder/pkg/mapping"
)

type importFlags struct {
	entity string
	update bool
	jobs   int
}

func newImportCmd(a *app) *cobra.Command {
	var f importFlags
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Upsert JSON files into the store",
		Long: `Import maps each JSON file (an object or an array of objects) onto
objects of the given entity and saves them. Existing objects are found by
the identifier rule of the entity's mapping.

Each file is imported and saved in its own background context. With
--jobs above 1 files are imported concurrently; objects referenced from
several files may then be inserted once per file.

Example:
  larder import --entity Note notes.json
  larder import --entity Article --jobs 4 feed-*.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImport(cmd, f, args)
		},
	}
	cmd.Flags().StringVarP(&f.entity, "entity", "e", "", "entity the top-level JSON values map to (required)")
	cmd.Flags().BoolVar(&f.update, "update", true, "map JSON onto objects that already exist")
	cmd.Flags().IntVarP(&f.jobs, "jobs", "j", 1, "number of files imported concurrently")
	_ = cmd.MarkFlagRequired("entity")
	return cmd
}

func (a *app) runImport(cmd *cobra.Command, f importFlags, files []string) error {
	if f.jobs < 1 {
		return fmt.Errorf("%w: --jobs must be at least 1", errUsage)
	}
	sess, err := a.openSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	// Fail before reading any file when the entity cannot be mapped.
	if _, err := mapping.NewManager(sess.stack.MainContext(), f.entity, sess.registry); err != nil {
		return err
	}

	var total atomic.Int64
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(f.jobs)
	for _, file := range files {
		file := file
		g.Go(func() error {
			n, err := a.importFile(ctx, sess, f, file)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			total.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if a.flags.jsonMode {
		return printJSON(out, map[string]any{"files": len(files), "objects": total.Load()})
	}
	fmt.Fprintf(out, "Imported %d %s object(s) from %d file(s)\n", total.Load(), f.entity, len(files))
	return nil
}

// importFile upserts one file in a fresh background context and saves it.
func (a *app) importFile(ctx context.Context, sess *session, f importFlags, file string) (int, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, err
	}

	bg := sess.stack.NewBackgroundContext()
	defer bg.Close()

	mgr, err := mapping.NewManager(bg, f.entity, sess.registry,
		mapping.WithLogger(a.logger), mapping.WithUpdateExisting(f.update))
	if err != nil {
		return 0, err
	}

	var n int
	err = bg.PerformAndWait(ctx, func(ctx context.Context) error {
		objs, err := mgr.UpsertJSON(ctx, data)
		if err != nil {
			bg.Rollback()
			return err
		}
		n = len(objs)
		return bg.Save(ctx)
	})
	if err != nil {
		return 0, err
	}
	a.logger.Debug("imported file", zap.String("file", file), zap.Int("objects", n))
	return n, nil
}
