package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const EnvPrefix = "FIELDSUITE"

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Client  ClientConfig  `mapstructure:"client"`
	Pad     PadConfig     `mapstructure:"pad"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type APIConfig struct {
	Addr           string `mapstructure:"addr"`
	Store          string `mapstructure:"store"`
	DBPath         string `mapstructure:"db_path"`
	PublicBaseURL  string `mapstructure:"public_base_url"`
	TokenHash      string `mapstructure:"token_hash"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PadConfig struct {
	Height            float64 `mapstructure:"height"`
	MinWidth          float64 `mapstructure:"min_width"`
	LineWidth         float64 `mapstructure:"line_width"`
	RequireActivation bool    `mapstructure:"require_activation"`
	ScrollLock        string  `mapstructure:"scroll_lock"`
	Quality           float64 `mapstructure:"quality"`
}

type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.store", "sqlite")
	v.SetDefault("api.db_path", "data/evidence.db")
	v.SetDefault("api.public_base_url", "http://localhost:8080")
	v.SetDefault("api.token_hash", "")
	v.SetDefault("api.max_upload_bytes", 10<<20)

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.token", "")
	v.SetDefault("client.timeout", "15s")

	v.SetDefault("pad.height", 200)
	v.SetDefault("pad.min_width", 280)
	v.SetDefault("pad.line_width", 2)
	v.SetDefault("pad.require_activation", false)
	v.SetDefault("pad.scroll_lock", "auto")
	v.SetDefault("pad.quality", 0.92)

	v.SetDefault("logging.directory", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 7)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.console", true)
}

// Loader reads configuration from defaults, an optional YAML file and
// FIELDSUITE_* environment variables, in increasing priority.
type Loader struct {
	v  *viper.Viper
	mu sync.Mutex
}

// NewLoader uses path as the config file when set, otherwise it looks for
// config.yaml in the working directory and ./config.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && l.v.ConfigFileUsed() != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Watch reloads the file on change and hands the new config to fn.
func (l *Loader) Watch(log *zap.Logger, fn func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("configuration file changed, reloading", zap.String("file", e.Name))
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		if err != nil {
			log.Error("reload configuration", zap.Error(err))
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
}
