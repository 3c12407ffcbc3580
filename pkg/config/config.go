// Package config loads the debugger settings from $HOME/.srcdbg.yaml, the
// SRCDBG_* environment and command line flags.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configName = ".srcdbg"
	envPrefix  = "SRCDBG"
)

// Keys understood by the debugger.
const (
	KeyEntryFunction = "entry.function"
	KeyEntryFile     = "entry.file"
	KeyEntryStop     = "entry.stop"

	KeyDenyPrefixes  = "symbols.deny-prefixes"
	KeyLineCacheSize = "symbols.line-cache-size"

	KeyLog       = "log.enabled"
	KeyLogOutput = "log.output"
	KeyLogDest   = "log.dest"

	KeyPrompt       = "shell.prompt"
	KeyDisassSyntax = "disass.syntax"
	KeyDisassCount  = "disass.count"
	KeyListRange    = "list.range"
)

// Config debugger settings
type Config struct {
	EntryFunction string   // function the entry breakpoint is planted at
	EntryFile     string   // overrides the source file considered as user code
	StopOnEntry   bool     // stop once the entry breakpoint fires
	DenyPrefixes  []string // extra symbol prefixes hidden from variable listings
	LineCacheSize int      // address to line lookups kept in memory

	Log       bool
	LogOutput string
	LogDest   string

	Prompt       string
	DisassSyntax string
	DisassCount  int
	ListRange    int
}

// New returns a viper instance preloaded with defaults.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyEntryFunction, "main.main")
	v.SetDefault(KeyEntryFile, "")
	v.SetDefault(KeyEntryStop, true)
	v.SetDefault(KeyDenyPrefixes, []string{})
	v.SetDefault(KeyLineCacheSize, 4096)
	v.SetDefault(KeyLog, false)
	v.SetDefault(KeyLogOutput, "")
	v.SetDefault(KeyLogDest, "")
	v.SetDefault(KeyPrompt, "srcdbg> ")
	v.SetDefault(KeyDisassSyntax, "gnu")
	v.SetDefault(KeyDisassCount, 10)
	v.SetDefault(KeyListRange, 5)
}

// BindFlags binds the persistent flags of the root command to their keys.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	binds := map[string]string{
		"log":         KeyLog,
		"log-output":  KeyLogOutput,
		"log-dest":    KeyLogDest,
		"entry":       KeyEntryFunction,
		"entry-file":  KeyEntryFile,
		"stop":        KeyEntryStop,
		"line-cache":  KeyLineCacheSize,
		"deny-prefix": KeyDenyPrefixes,
	}
	for name, key := range binds {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s error: %v", name, err)
		}
	}
	return nil
}

// Load reads cfgFile, or $HOME/.srcdbg.yaml when cfgFile is empty. A missing
// default config file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("find home directory error: %v", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("read config error: %v", err)
		}
	}
	return FromViper(v)
}

// FromViper extracts a Config from already loaded settings.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		EntryFunction: v.GetString(KeyEntryFunction),
		EntryFile:     v.GetString(KeyEntryFile),
		StopOnEntry:   v.GetBool(KeyEntryStop),
		DenyPrefixes:  v.GetStringSlice(KeyDenyPrefixes),
		LineCacheSize: v.GetInt(KeyLineCacheSize),
		Log:           v.GetBool(KeyLog),
		LogOutput:     v.GetString(KeyLogOutput),
		LogDest:       v.GetString(KeyLogDest),
		Prompt:        v.GetString(KeyPrompt),
		DisassSyntax:  v.GetString(KeyDisassSyntax),
		DisassCount:   v.GetInt(KeyDisassCount),
		ListRange:     v.GetInt(KeyListRange),
	}

	if cfg.LineCacheSize <= 0 {
		return nil, fmt.Errorf("invalid %s: %d", KeyLineCacheSize, cfg.LineCacheSize)
	}
	switch cfg.DisassSyntax {
	case "go", "gnu", "intel":
	default:
		return nil, fmt.Errorf("invalid %s: %s", KeyDisassSyntax, cfg.DisassSyntax)
	}
	if cfg.EntryFile != "" {
		if f, err := homedir.Expand(cfg.EntryFile); err == nil {
			cfg.EntryFile = filepath.Clean(f)
		}
	}
	return cfg, nil
}

// EntryFunctions returns the candidate entry function names, the configured
// one first and the C style "main" as fallback.
func (c *Config) EntryFunctions() []string {
	names := []string{c.EntryFunction}
	if c.EntryFunction != "main" {
		names = append(names, "main")
	}
	return names
}
