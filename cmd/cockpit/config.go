package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"cockpit/internal/config"
)

const envPrefix = "COCKPIT"

// Legacy variables read by the notebooks themselves.
var legacyPathEnv = map[string]string{
	"AVU_SOURCE_PATH": "paths.source_dir",
	"AVU_OUTPUT_PATH": "paths.output_dir",
}

// loadDotEnv loads <workspace>/.env without overriding variables already
// set in the environment.
func loadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadConfig layers defaults, the config file and COCKPIT_* variables
// through v. Relative paths are resolved against workspace.
func loadConfig(v *viper.Viper, workspace, file string) (*config.Config, error) {
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewBufferString(config.GenerateDefault())); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	// Keys absent from the template still need registering for env lookup.
	v.SetDefault("paths.locked_dir", "")
	v.SetDefault("auth.issuer", "")
	if file == "" {
		file = config.Path(workspace)
	}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("invalid config yaml %s: %w", file, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for env, key := range legacyPathEnv {
		if val := strings.TrimSpace(os.Getenv(env)); val != "" && os.Getenv(envKey(key)) == "" {
			v.Set(key, val)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	resolvePaths(&cfg, workspace)
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func resolvePaths(cfg *config.Config, workspace string) {
	if workspace == "" || workspace == "." {
		return
	}
	for _, p := range []*string{
		&cfg.Paths.SourceDir,
		&cfg.Paths.OutputDir,
		&cfg.Paths.NotebooksDir,
		&cfg.Paths.LockedDir,
		&cfg.Paths.DataDir,
		&cfg.Paths.CampaignHistoryCSV,
		&cfg.Paths.LogDir,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(workspace, *p)
		}
	}
}
