package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
		RefreshSeconds   int    `mapstructure:"refresh_seconds"`
	} `mapstructure:"listener"`

	// Redis is optional; an empty Addr disables the message cache.
	Redis struct {
		Addr       string `mapstructure:"addr"`
		Password   string `mapstructure:"password"`
		DB         int    `mapstructure:"db"`
		TTLSeconds int    `mapstructure:"ttl_seconds"`
	} `mapstructure:"redis"`

	Render struct {
		PreviewPath      string `mapstructure:"preview_path"`
		EditPath         string `mapstructure:"edit_path"`
		FallbackLanguage string `mapstructure:"fallback_language"`
		DefaultDebug     bool   `mapstructure:"default_debug"`
	} `mapstructure:"render"`
}

// Load reads configs/application.yaml when present, then APP_* env vars.
func Load() Config {
	cfg, err := LoadFile("")
	if err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	return cfg
}

// LoadFile is Load with an explicit config file. An empty path falls back to
// configs/application.yaml, which may be absent.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("application")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		_ = v.ReadInConfig() // optional; env can fully configure
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	validate(&cfg)
	return cfg, nil
}

// AutomaticEnv only applies to keys viper already knows about.
func bindEnv(v *viper.Viper) {
	for _, k := range []string{
		"server.addr", "server.log_level",
		"postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.db_name", "postgres.ssl_mode",
		"postgres.max_open_conns", "postgres.max_idle_conns",
		"listener.channel", "listener.reconnect_seconds", "listener.refresh_seconds",
		"redis.addr", "redis.password", "redis.db", "redis.ttl_seconds",
		"render.preview_path", "render.edit_path", "render.fallback_language", "render.default_debug",
	} {
		_ = v.BindEnv(k)
	}
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 10 }
	if c.Listener.Channel == "" { c.Listener.Channel = "cn_data_change" }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Listener.RefreshSeconds <= 0 { c.Listener.RefreshSeconds = 60 }
	if c.Redis.TTLSeconds <= 0 { c.Redis.TTLSeconds = 300 }
	if c.Render.PreviewPath == "" { c.Render.PreviewPath = "/v1/banners/preview" }
	if c.Render.EditPath == "" { c.Render.EditPath = "/v1/banners" }
	if c.Render.FallbackLanguage == "" { c.Render.FallbackLanguage = "en" }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Listener.RefreshSeconds) * time.Second
}

func (c Config) RedisTTL() time.Duration { return time.Duration(c.Redis.TTLSeconds) * time.Second }
