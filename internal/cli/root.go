// Package cli implements the larder command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/larder/pkg/mapping"
	"github.com/mesh-intelligence/larder/pkg/types"
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
	verbose   bool
}

// app carries the state shared by one invocation of the root command.
type app struct {
	flags     rootFlags
	configDir string
	settings  settings
	logger    *zap.Logger
}

// NewRootCmd creates the top-level "larder" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "larder",
		Short: "Import JSON into an object-graph store",
		Long: "Larder maps JSON documents onto the entities of a YAML model and\n" +
			"persists them in a local SQLite store mirrored to JSONL files.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			// Sync fails on terminals; the error carries no information.
			_ = a.logger.Sync()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $(CWD)/.larder or the platform config dir)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.larder-db)")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVarP(&a.flags.verbose, "verbose", "v", false, "log store and mapping traces to stderr")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newImportCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newDeleteCmd(a),
		newExportCmd(a),
		newMappingsCmd(a),
	)
	return root
}

// setup builds the logger and loads configuration for the invocation.
func (a *app) setup() error {
	logger, err := newLogger(a.flags.verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.logger = logger

	configDir, err := resolveConfigDir(a.flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	a.configDir = configDir

	s, err := loadSettings(configDir)
	if err != nil {
		return err
	}
	a.settings = s
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(run(NewRootCmd(), os.Args[1:], os.Stderr))
}

func run(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "larder:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// exitCode distinguishes bad input from failures of the store or the host.
func exitCode(err error) int {
	for _, target := range []error{
		errUsage,
		types.ErrNotFound,
		types.ErrEntityNotFound,
		types.ErrAttributeNotFound,
		types.ErrTypeMismatch,
		types.ErrInvalidModel,
		types.ErrInvalidID,
		types.ErrRelationshipNotFound,
		types.ErrCardinality,
		types.ErrBackendEmpty,
		types.ErrBackendUnknown,
		types.ErrSyncStrategyUnknown,
		types.ErrBatchSizeInvalid,
		types.ErrBatchIntervalInvalid,
		mapping.ErrMalformedJSON,
		mapping.ErrNoMapping,
		mapping.ErrDuplicateMapping,
		mapping.ErrInvalidRule,
	} {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

// errUsage marks errors caused by command-line input.
var errUsage = errors.New("invalid usage")
