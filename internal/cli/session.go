package cli

import (
	"fmt"
	"os"

	"github.com/mesh-intelligence/larder/internal/paths"
	"github.com/mesh-intelligence/larder/pkg/mapping"
	"github.com/mesh-intelligence/larder/pkg/store"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// session is an open stack plus the mapping registry loaded for it. The
// caller must Close it.
type session struct {
	stack    *store.Stack
	registry *mapping.Registry
}

func (s *session) Close() error {
	return s.stack.Close()
}

// openSession loads the model and mappings named in config.yaml and opens
// the store.
func (a *app) openSession() (*session, error) {
	model, err := a.loadModel()
	if err != nil {
		return nil, err
	}
	registry, err := a.loadRegistry(model)
	if err != nil {
		return nil, err
	}
	cfg, err := a.storeConfig()
	if err != nil {
		return nil, err
	}
	stack, err := store.Open(cfg, model, store.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return &session{stack: stack, registry: registry}, nil
}

func (a *app) loadModel() (*types.Model, error) {
	path, err := paths.ResolveFile(a.configDir, a.settings.ModelFile)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: model file %s not found (run larder init)", errUsage, path)
		}
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	model, err := types.LoadModel(f)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return model, nil
}

// loadRegistry reads the mappings file. A missing mappings file yields an
// empty registry so that get, list and export work without one.
func (a *app) loadRegistry(model *types.Model) (*mapping.Registry, error) {
	style, err := mapping.ParseKeyStyle(a.settings.KeyStyle)
	if err != nil {
		return nil, err
	}
	registry := mapping.NewRegistry(mapping.WithKeyStyle(style))

	path, err := paths.ResolveFile(a.configDir, a.settings.MappingsFile)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return registry, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open mappings: %w", err)
	}
	defer f.Close()

	if err := registry.LoadYAML(f); err != nil {
		return nil, fmt.Errorf("load mappings %s: %w", path, err)
	}
	if err := registry.Validate(model); err != nil {
		return nil, fmt.Errorf("mappings %s: %w", path, err)
	}
	return registry, nil
}
