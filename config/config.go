package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Address  string `mapstructure:"address"`
		HTTPPort string `mapstructure:"http_port"`
	} `mapstructure:"server"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   string `mapstructure:"file"`
	} `mapstructure:"logging"`

	Database struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Webhook struct {
		Secret          string `mapstructure:"secret"`
		SignatureHeader string `mapstructure:"signature_header"`
	} `mapstructure:"webhook"`

	TLink struct {
		BaseURL        string `mapstructure:"base_url"`
		SensorDataPath string `mapstructure:"sensor_data_path"`
		HTTPMethod     string `mapstructure:"http_method"`
		AccountNumber  int64  `mapstructure:"account_number"`
		AppID          string `mapstructure:"app_id"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`

		OAuth struct {
			TokenURL      string `mapstructure:"token_url"`
			ClientID      string `mapstructure:"client_id"`
			ClientSecret  string `mapstructure:"client_secret"`
			Username      string `mapstructure:"username"`
			Password      string `mapstructure:"password"`
			Scope         string `mapstructure:"scope"`
			RefreshBuffer int    `mapstructure:"refresh_buffer_seconds"`
		} `mapstructure:"oauth"`

		SyncEnabled         bool `mapstructure:"sync_enabled"`
		SyncIntervalSeconds int  `mapstructure:"sync_interval_seconds"`
		SyncPageSize        int  `mapstructure:"sync_page_size"`
	} `mapstructure:"tlink"`

	SyncLog struct {
		Dir           string `mapstructure:"dir"`
		RetentionDays int    `mapstructure:"retention_days"`
	} `mapstructure:"sync_log"`

	API struct {
		DefaultPageSize int `mapstructure:"default_page_size"`
		MaxPageSize     int `mapstructure:"max_page_size"`
		HistoryLimit    int `mapstructure:"history_limit"`
	} `mapstructure:"api"`

	Export struct {
		Enabled           bool    `mapstructure:"enabled"`
		Endpoint          string  `mapstructure:"endpoint"`
		TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
		SensorIDs         []int64 `mapstructure:"sensor_ids"`
		ConnectTTLSeconds int     `mapstructure:"connect_ttl_seconds"`
	} `mapstructure:"export"`
}

// Load читает config.yaml из path (и переменные окружения TLSYNC_*).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("TLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// файл не обязателен: дефолты + окружение
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.TLink.BaseURL = strings.TrimRight(cfg.TLink.BaseURL, "/")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "tlsync.db")

	v.SetDefault("webhook.signature_header", "X-TLink-Signature")

	v.SetDefault("tlink.base_url", "https://app.dtuip.com")
	v.SetDefault("tlink.sensor_data_path", "/api/device/getDeviceSensorDatas")
	v.SetDefault("tlink.http_method", "GET")
	v.SetDefault("tlink.timeout_seconds", 30)
	v.SetDefault("tlink.oauth.token_url", "https://app.dtuip.com/oauth/token")
	v.SetDefault("tlink.oauth.refresh_buffer_seconds", 60)
	v.SetDefault("tlink.sync_enabled", true)
	v.SetDefault("tlink.sync_interval_seconds", 60)
	v.SetDefault("tlink.sync_page_size", 10)

	v.SetDefault("sync_log.dir", "logs")
	v.SetDefault("sync_log.retention_days", 90)

	v.SetDefault("api.default_page_size", 25)
	v.SetDefault("api.max_page_size", 100)
	v.SetDefault("api.history_limit", 50)

	v.SetDefault("export.enabled", false)
	v.SetDefault("export.timeout_seconds", 10)
	v.SetDefault("export.connect_ttl_seconds", 900)
}
