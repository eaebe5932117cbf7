package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the project-local configuration filename. The global
// configuration uses the same format at ~/.fdkit/config.toml.
const FileName = "fdkit.toml"

// DefaultDisabledAlgorithms relaxes the JDK policy just enough to accept
// archived APKs signed with MD5 or SHA1.
const DefaultDisabledAlgorithms = "MD2, RSA keySize < 1024"

// Config is the explicit tool and path context shared by the runner, the
// VCS handles and the signature engine. It is built once per invocation.
type Config struct {
	Paths  PathsConfig  `toml:"paths" mapstructure:"paths"`
	Tools  ToolsConfig  `toml:"tools" mapstructure:"tools"`
	SDK    SDKConfig    `toml:"sdk" mapstructure:"sdk"`
	Verify VerifyConfig `toml:"verify" mapstructure:"verify"`
}

type PathsConfig struct {
	Build    string `toml:"build" mapstructure:"build"`
	Srclib   string `toml:"srclib" mapstructure:"srclib"`
	Srclibs  string `toml:"srclibs" mapstructure:"srclibs"` // registry of *.yml srclib definitions
	Metadata string `toml:"metadata" mapstructure:"metadata"`
	Tmp      string `toml:"tmp" mapstructure:"tmp"`
	Log      string `toml:"log,omitempty" mapstructure:"log"`
}

// ToolsConfig pins external tools to explicit paths. Empty entries are
// searched for in the SDK build-tools and on PATH.
type ToolsConfig struct {
	Apksigner  string `toml:"apksigner,omitempty" mapstructure:"apksigner"`
	Jarsigner  string `toml:"jarsigner,omitempty" mapstructure:"jarsigner"`
	Diffoscope string `toml:"diffoscope,omitempty" mapstructure:"diffoscope"`
	Apktool    string `toml:"apktool,omitempty" mapstructure:"apktool"`
	Meld       string `toml:"meld,omitempty" mapstructure:"meld"`
}

type SDKConfig struct {
	Path      string            `toml:"path,omitempty" mapstructure:"path"`
	NDK       string            `toml:"ndk,omitempty" mapstructure:"ndk"`
	Mvn3      string            `toml:"mvn3,omitempty" mapstructure:"mvn3"`
	JavaHomes map[string]string `toml:"java_homes,omitempty" mapstructure:"java_homes"`
}

type VerifyConfig struct {
	// DisabledAlgorithms is written to the scoped java.security override
	// used when verifying archived APKs.
	DisabledAlgorithms string `toml:"disabled_algorithms" mapstructure:"disabled_algorithms"`
	Verbose            bool   `toml:"verbose,omitempty" mapstructure:"verbose"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Build:    "build",
			Srclib:   filepath.Join("build", "srclib"),
			Srclibs:  "srclibs",
			Metadata: "metadata",
			Tmp:      "tmp",
		},
		Tools: ToolsConfig{},
		SDK: SDKConfig{
			Mvn3: "mvn",
		},
		Verify: VerifyConfig{
			DisabledAlgorithms: DefaultDisabledAlgorithms,
		},
	}
}

// ToolPaths returns the explicitly configured tool paths keyed by tool name.
func (c *Config) ToolPaths() map[string]string {
	paths := map[string]string{}
	for name, p := range map[string]string{
		"apksigner":  c.Tools.Apksigner,
		"jarsigner":  c.Tools.Jarsigner,
		"diffoscope": c.Tools.Diffoscope,
		"apktool":    c.Tools.Apktool,
		"meld":       c.Tools.Meld,
	} {
		if p != "" {
			paths[name] = p
		}
	}
	return paths
}

func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// SaveFile writes cfg to path. It refuses to overwrite an existing file.
func SaveFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
