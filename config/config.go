package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Search    SearchConfig
	Telegram  TelegramConfig
	Monitor   MonitorConfig
	Scheduler SchedulerConfig
	Log       LogConfig
	NATS      NATSConfig
	Proxy     ProxyConfig

	MetricsAddr string
	CatalogPath string
	Catalog     *Catalog
}

type DatabaseConfig struct {
	Driver    string // postgres or memory
	URL       string
	OpsDBPath string
}

type SearchConfig struct {
	APIURL   string
	Timeout  time.Duration
	MaxPages int
}

type TelegramConfig struct {
	BotToken      string
	APIURL        string
	MediaInterval time.Duration
}

type MonitorConfig struct {
	Workers int
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

type ProxyConfig struct {
	URL string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Driver:    getEnv("DB_DRIVER", "postgres"),
			URL:       os.Getenv("DATABASE_URL"),
			OpsDBPath: getEnv("OPS_DB_PATH", "monitor.db"),
		},
		Search: SearchConfig{
			APIURL:   getEnv("OLX_API_URL", "https://www.olx.ua/apigateway/graphql"),
			Timeout:  getEnvDuration("SEARCH_TIMEOUT", 30*time.Second),
			MaxPages: getEnvInt("SEARCH_MAX_PAGES", 100),
		},
		Telegram: TelegramConfig{
			BotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
			APIURL:        getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			MediaInterval: getEnvDuration("TELEGRAM_MEDIA_INTERVAL", 2*time.Second),
		},
		Monitor: MonitorConfig{
			Workers: getEnvInt("MONITOR_WORKERS", 1),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("MONITOR_CRON"),
			Interval: getEnvDuration("MONITOR_INTERVAL", 0),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", "monitor.log"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 2),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 1),
		},
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "olx.listing"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("HTTP_PROXY_URL"),
		},
		MetricsAddr: getEnv("METRICS_ADDR", ":9102"),
		CatalogPath: getEnv("CATALOG_PATH", "config/catalog.yaml"),
	}

	catalog, err := LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	cfg.Catalog = catalog

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
