// Package conf holds the process-level settings of the restreamer: ports,
// filesystem paths, KDF cost and log level. These are distinct from
// state.Settings, which is part of the persisted State tree; conf.Settings
// never round-trips through Export/Import.
//
// Defaults come from an embedded default config file rather than
// SetDefault literals; Load overlays an optional user config file and then
// EPHYR_RESTREAMER_* environment variables. CLI flag overrides are applied
// afterwards by cmd/restreamer, not here.
package conf

import (
	"bytes"
	"embed"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/mrecords121/ephyr/internal/state"
)

//go:embed config.yaml
var defaultConfigFS embed.FS

const envPrefix = "EPHYR_RESTREAMER"

// Settings is the full set of runtime-fixed knobs this process needs.
type Settings struct {
	HTTPAddr     string        `mapstructure:"http_addr"`
	StatePath    string        `mapstructure:"state_path"`
	FFmpegPath   string        `mapstructure:"ffmpeg_path"`
	SRSBinPath   string        `mapstructure:"srs_bin_path"`
	SRSConfPath  string        `mapstructure:"srs_conf_path"`
	SRSHTTPDir   string        `mapstructure:"srs_http_dir"`
	SRSHost      string        `mapstructure:"srs_host"`
	SRSHTTPAddr  string        `mapstructure:"srs_http_addr"`
	CallbackURL  string        `mapstructure:"callback_url"`
	CallbackSecret string      `mapstructure:"callback_secret"`
	LogLevel     string        `mapstructure:"log_level"`
	LogFormat    string        `mapstructure:"log_format"`
	KDFCost      state.KDFCost `mapstructure:"-"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// Load builds Settings from, in increasing priority order: the embedded
// default config.yaml, a user config file at configPath (if non-empty and
// present), and EPHYR_RESTREAMER_* environment variables.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaultBytes, err := defaultConfigFS.ReadFile("config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaultBytes)); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	s.KDFCost = state.Moderate
	return &s, nil
}
