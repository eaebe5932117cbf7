package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. FDKIT_TOOLS_APKSIGNER.
const EnvPrefix = "FDKIT"

// Load resolves the configuration using Viper's merge semantics:
// FDKIT_* environment > localPath (project) > ~/.fdkit/config.toml (global)
// > built-in defaults. An empty localPath means ./fdkit.toml.
func Load(localPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	if localPath == "" {
		localPath = FileName
	}
	return load(filepath.Join(home, ".fdkit", "config.toml"), localPath)
}

// load is the internal implementation that accepts explicit paths,
// making it testable without touching the real home directory.
func load(globalPath, localPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Lowest file priority: global config. Missing is fine.
	if _, err := os.Stat(globalPath); err == nil {
		v.SetConfigFile(globalPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", globalPath, err)
		}
	}

	if _, err := os.Stat(localPath); err == nil {
		v.SetConfigFile(localPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", localPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal, even when no file mentions it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("paths.build", d.Paths.Build)
	v.SetDefault("paths.srclib", d.Paths.Srclib)
	v.SetDefault("paths.srclibs", d.Paths.Srclibs)
	v.SetDefault("paths.metadata", d.Paths.Metadata)
	v.SetDefault("paths.tmp", d.Paths.Tmp)
	v.SetDefault("paths.log", d.Paths.Log)

	v.SetDefault("tools.apksigner", d.Tools.Apksigner)
	v.SetDefault("tools.jarsigner", d.Tools.Jarsigner)
	v.SetDefault("tools.diffoscope", d.Tools.Diffoscope)
	v.SetDefault("tools.apktool", d.Tools.Apktool)
	v.SetDefault("tools.meld", d.Tools.Meld)

	v.SetDefault("sdk.path", d.SDK.Path)
	v.SetDefault("sdk.ndk", d.SDK.NDK)
	v.SetDefault("sdk.mvn3", d.SDK.Mvn3)

	v.SetDefault("verify.disabled_algorithms", d.Verify.DisabledAlgorithms)
	v.SetDefault("verify.verbose", d.Verify.Verbose)
}
