// videocursor/config/config.go
package config

import (
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	FFBin             string        `mapstructure:"FF_BIN"`
	FFprobeBin        string        `mapstructure:"FFPROBE_BIN"`
	FFTimeout         time.Duration `mapstructure:"FF_TIMEOUT"`
	FFExtraArgs       string        `mapstructure:"FF_EXTRA_ARGS"`
	MaxUploadSize     int64         `mapstructure:"MAX_UPLOAD_SIZE"`
	MaxConcurrency    int           `mapstructure:"MAX_CONCURRENCY"`
	ThrottleCPU       float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem   int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk  int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable        bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey           string        `mapstructure:"AUTH_KEY"`
	Port              string        `mapstructure:"PORT"`
	BaseURL           string        `mapstructure:"BASE"`
	DataDir           string        `mapstructure:"DATA_DIR"`
	ClassifierURL     string        `mapstructure:"CLASSIFIER_URL"`
	ClassifierKey     string        `mapstructure:"CLASSIFIER_KEY"`
	ClassifierModel   string        `mapstructure:"CLASSIFIER_MODEL"`
	ClassifierTimeout time.Duration `mapstructure:"CLASSIFIER_TIMEOUT"`
}

// UploadDir is where root assets (user uploads) live.
func (c *Config) UploadDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// OutputDir is where derived assets (job outputs) live.
func (c *Config) OutputDir() string {
	return filepath.Join(c.DataDir, "outputs")
}

// IndexPath is the sqlite file backing the asset index.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "assets.db")
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_TIMEOUT", "10m")
	vp.SetDefault("FF_EXTRA_ARGS", "")
	vp.SetDefault("MAX_UPLOAD_SIZE", "500MB")
	vp.SetDefault("MAX_CONCURRENCY", 2)
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("DATA_DIR", "data")
	vp.SetDefault("CLASSIFIER_URL", "https://api.cohere.com/v2/chat")
	vp.SetDefault("CLASSIFIER_KEY", "")
	vp.SetDefault("CLASSIFIER_MODEL", "command-r-plus")
	vp.SetDefault("CLASSIFIER_TIMEOUT", "30s")

	// Load from config file
	vp.SetConfigName("videocursor_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/videocursor/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("VIDEOCURSOR")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
