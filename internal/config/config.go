// Package config layers flags, APPGEN_* environment variables and an
// optional config file through Viper.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"appgen/internal/client"
	"appgen/internal/dirs"
)

// Keys read by the CLI.
const (
	KeyAPIURL   = "api_url"
	KeyOutDir   = "out_dir"
	KeyLogLevel = "log_level"
	KeyOpener   = "opener"
	KeyVerbose  = "verbose"
)

// flagKeys maps root persistent flags onto Viper keys.
var flagKeys = map[string]string{
	"api-url":   KeyAPIURL,
	"out-dir":   KeyOutDir,
	"log-level": KeyLogLevel,
	"opener":    KeyOpener,
	"verbose":   KeyVerbose,
}

// Init wires v with config paths, env, defaults, and flag bindings.
// It is non-fatal: a missing config file is not an error.
func Init(v *viper.Viper, root *cobra.Command) error {
	// Ensure base directories exist
	_ = dirs.EnsureAll()

	if cfgDir, err := dirs.ConfigDir(); err == nil {
		v.AddConfigPath(cfgDir)
	}
	v.SetConfigName("config") // supports config.{yaml|yml|json|toml}

	// Environment variables: APPGEN_*
	v.SetEnvPrefix("APPGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyAPIURL, client.DefaultBaseURL)
	v.SetDefault(KeyOutDir, ".")

	for name, key := range flagKeys {
		if f := root.PersistentFlags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return err
		}
	}
	return nil
}
