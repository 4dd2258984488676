package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/internal/paths"
)

// starterModel and starterMappings are written by init when the configured
// files do not exist yet.
const starterModel = `# Entities persisted by larder.
entities:
  - name: Note
    attributes:
      - {name: noteID, type: integer}
      - {name: title, type: string}
      - {name: body, type: string, optional: true}
      - {name: createdAt, type: date, optional: true}
      - {name: position, type: integer, optional: true}
`

const starterMappings = `# How JSON keys map onto model attributes.
mappings:
  - entity: Note
    identifier: {attribute: noteID, key: id}
    order_key: position
    rules:
      - {attribute: title}
      - {attribute: body}
      - {attribute: createdAt}
`

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize larder configuration and storage",
		Long: "Create the configuration directory with config.yaml, a starter model and\n" +
			"mappings when missing, then initialize the data directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd)
		},
	}
}

func (a *app) runInit(cmd *cobra.Command) error {
	if err := os.MkdirAll(a.configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	dataDir := ""
	if a.flags.dataDir != "" {
		abs, err := filepath.Abs(a.flags.dataDir)
		if err != nil {
			return err
		}
		dataDir = abs
	}
	created, err := writeConfigIfMissing(a.configDir, dataDir)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if created {
		if a.settings, err = loadSettings(a.configDir); err != nil {
			return err
		}
	}

	for _, f := range []struct{ name, content string }{
		{a.settings.ModelFile, starterModel},
		{a.settings.MappingsFile, starterMappings},
	} {
		path, err := paths.ResolveFile(a.configDir, f.name)
		if err != nil {
			return err
		}
		if err := writeFileIfMissing(path, f.content); err != nil {
			return err
		}
	}

	sess, err := a.openSession()
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	if err := sess.Close(); err != nil {
		return fmt.Errorf("finalize storage: %w", err)
	}

	cfg, err := a.storeConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Larder initialized successfully")
	fmt.Fprintln(out, "  config:", a.configDir)
	fmt.Fprintln(out, "  data:  ", cfg.DataDir)
	return nil
}

func writeFileIfMissing(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
