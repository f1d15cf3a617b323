// Package config loads and validates process configuration for both the
// deskstream server and client, grounded on the teacher's
// internal/config/config.go viper-based loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"

	"github.com/spf13/viper"

	"github.com/breeze-rmm/deskstream/internal/logging"
)

var log = logging.L("config")

// Config holds every tunable for a deskstream process. Server-only and
// client-only fields are zero-valued on the side that doesn't use them.
type Config struct {
	// Identity / brand, stamped into the self-signed server certificate.
	Brand string `mapstructure:"brand"`

	// Server settings.
	ListenAddr  string `mapstructure:"listen_addr"`
	DataDir     string `mapstructure:"data_dir"`
	VideoCodec  string `mapstructure:"video_codec"`
	AudioCodec  string `mapstructure:"audio_codec"`
	MaxWidth    int    `mapstructure:"max_width"`
	MaxHeight   int    `mapstructure:"max_height"`
	MaxFPSNum   int64  `mapstructure:"max_fps_num"`
	MaxFPSDen   int64  `mapstructure:"max_fps_den"`
	BitrateBps  int    `mapstructure:"bitrate_bps"`
	QualityAuto bool   `mapstructure:"quality_auto"`

	// Client settings.
	ConfigDir string `mapstructure:"client_config_dir"`

	// Logging.
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Metrics.
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
}

// Default returns the baseline configuration before any file or
// environment overrides are applied.
func Default() *Config {
	return &Config{
		Brand:      "deskstream",
		ListenAddr: "0.0.0.0:6495",
		DataDir:    GetDataDir(),
		VideoCodec: "h264",
		AudioCodec: "opus",
		MaxWidth:   3840,
		MaxHeight:  2160,
		MaxFPSNum:  60,
		MaxFPSDen:  1,
		BitrateBps: 20_000_000,
		QualityAuto: true,

		ConfigDir: configDir(),

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  20,
		LogMaxBackups: 5,

		MetricsEnabled: false,
		MetricsAddr:    "127.0.0.1:9495",
	}
}

// Load reads configuration from cfgFile (or the platform default config
// path/name if empty), overlays environment variables prefixed
// DESKSTREAM_, and runs tiered validation: warnings are logged and
// startup continues, fatals abort it.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("deskstream")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DESKSTREAM")
	// Unmarshal only sees keys viper already knows, so bind every key's
	// env var explicitly; otherwise an override for a key the config file
	// does not set would be ignored.
	ct := reflect.TypeOf(*cfg)
	for i := 0; i < ct.NumField(); i++ {
		if key := ct.Field(i).Tag.Get("mapstructure"); key != "" {
			_ = v.BindEnv(key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// Save writes cfg to the default config path for this platform.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes cfg as TOML to cfgFile, or the platform default path if
// cfgFile is empty.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("brand", cfg.Brand)
	v.Set("listen_addr", cfg.ListenAddr)
	v.Set("data_dir", cfg.DataDir)
	v.Set("video_codec", cfg.VideoCodec)
	v.Set("audio_codec", cfg.AudioCodec)
	v.Set("max_width", cfg.MaxWidth)
	v.Set("max_height", cfg.MaxHeight)
	v.Set("max_fps_num", cfg.MaxFPSNum)
	v.Set("max_fps_den", cfg.MaxFPSDen)
	v.Set("bitrate_bps", cfg.BitrateBps)
	v.Set("quality_auto", cfg.QualityAuto)
	v.Set("client_config_dir", cfg.ConfigDir)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	v.Set("log_max_backups", cfg.LogMaxBackups)
	v.Set("metrics_enabled", cfg.MetricsEnabled)
	v.Set("metrics_addr", cfg.MetricsAddr)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "deskstream.toml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific directory for persistent
// server state: identity keypair/cert and the known-clients list.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "deskstream", "data")
	case "darwin":
		return "/Library/Application Support/deskstream/data"
	default:
		return "/var/lib/deskstream"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "deskstream")
	case "darwin":
		return "/Library/Application Support/deskstream"
	default:
		return "/etc/deskstream"
	}
}
