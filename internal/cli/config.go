package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/larder/internal/paths"
	"github.com/mesh-intelligence/larder/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	envPrefix = "LARDER"

	cfgKeyBackend       = "backend"
	cfgKeyDataDir       = "data_dir"
	cfgKeyModelFile     = "model_file"
	cfgKeyMappingsFile  = "mappings_file"
	cfgKeyKeyStyle      = "key_style"
	cfgKeySyncStrategy  = "sync_strategy"
	cfgKeyBatchSize     = "batch_size"
	cfgKeyBatchInterval = "batch_interval"

	defaultModelFile    = "model.yaml"
	defaultMappingsFile = "mappings.yaml"
)

// configFile is the structure written to config.yaml by init.
type configFile struct {
	Backend       string `yaml:"backend"`
	DataDir       string `yaml:"data_dir,omitempty"`
	ModelFile     string `yaml:"model_file"`
	MappingsFile  string `yaml:"mappings_file"`
	KeyStyle      string `yaml:"key_style"`
	SyncStrategy  string `yaml:"sync_strategy"`
	BatchSize     int    `yaml:"batch_size,omitempty"`
	BatchInterval int    `yaml:"batch_interval,omitempty"`
}

// settings is the resolved configuration for one invocation.
type settings struct {
	Backend       string
	DataDir       string
	ModelFile     string
	MappingsFile  string
	KeyStyle      string
	SyncStrategy  string
	BatchSize     int
	BatchInterval int
}

func resolveConfigDir(flag string) (string, error) {
	return paths.ResolveConfigDir(flag)
}

// loadSettings reads config.yaml from configDir using Viper. Values may be
// overridden by LARDER_* environment variables, which may also come from a
// .env file in the working directory. A missing config.yaml is not an error.
func loadSettings(configDir string) (settings, error) {
	// A missing .env is the common case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return settings{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyModelFile, defaultModelFile)
	v.SetDefault(cfgKeyMappingsFile, defaultMappingsFile)
	v.SetDefault(cfgKeyKeyStyle, "snake")
	v.SetDefault(cfgKeySyncStrategy, types.SyncImmediate)
	v.SetEnvPrefix(envPrefix)
	// LARDER_DATA_DIR ranks below config.yaml and is resolved by paths.
	for _, key := range []string{
		cfgKeyBackend, cfgKeyModelFile, cfgKeyMappingsFile, cfgKeyKeyStyle,
		cfgKeySyncStrategy, cfgKeyBatchSize, cfgKeyBatchInterval,
	} {
		if err := v.BindEnv(key); err != nil {
			return settings{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	return settings{
		Backend:       v.GetString(cfgKeyBackend),
		DataDir:       v.GetString(cfgKeyDataDir),
		ModelFile:     v.GetString(cfgKeyModelFile),
		MappingsFile:  v.GetString(cfgKeyMappingsFile),
		KeyStyle:      v.GetString(cfgKeyKeyStyle),
		SyncStrategy:  v.GetString(cfgKeySyncStrategy),
		BatchSize:     v.GetInt(cfgKeyBatchSize),
		BatchInterval: v.GetInt(cfgKeyBatchInterval),
	}, nil
}

// storeConfig turns the settings into the backend configuration.
func (a *app) storeConfig() (types.Config, error) {
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, a.settings.DataDir, a.configDir)
	if err != nil {
		return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg := types.Config{
		Backend: a.settings.Backend,
		DataDir: dataDir,
		SQLiteConfig: types.SQLiteConfig{
			SyncStrategy:  a.settings.SyncStrategy,
			BatchSize:     a.settings.BatchSize,
			BatchInterval: a.settings.BatchInterval,
		},
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("%w: config.yaml: %w", errUsage, err)
	}
	return cfg, nil
}

// writeConfigIfMissing creates config.yaml with default values. An existing
// file is left untouched.
func writeConfigIfMissing(configDir, dataDir string) (bool, error) {
	path := filepath.Join(configDir, configFileExt)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config file: %w", err)
	}

	cfg := configFile{
		Backend:      types.BackendSQLite,
		DataDir:      dataDir,
		ModelFile:    defaultModelFile,
		MappingsFile: defaultMappingsFile,
		KeyStyle:     "snake",
		SyncStrategy: types.SyncImmediate,
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	return true, os.WriteFile(path, data, 0o644)
}
