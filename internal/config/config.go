package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix префикс переменных окружения: GOPHCOLLAB_SERVER_ADDRESS и т.д.
const EnvPrefix = "GOPHCOLLAB"

// Server конфигурация сервера координации
type Server struct {
	Log       Log           `mapstructure:"log"`
	Storage   Storage       `mapstructure:"storage"`
	JWT       JWT           `mapstructure:"jwt"`
	Address   string        `mapstructure:"address"`
	PublicURL string        `mapstructure:"public_url"` // PublicURL базовый адрес для ссылок на документы
	RateLimit RateLimit     `mapstructure:"rate_limit"`
	Grouping  Grouping      `mapstructure:"grouping"`
	Shutdown  time.Duration `mapstructure:"shutdown_timeout"`
}

// Log настройки логирования
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // Format "json" или "text"
}

// Storage настройки хранилища
type Storage struct {
	Driver     string `mapstructure:"driver"` // Driver "sqlite" или "redis"
	SQLitePath string `mapstructure:"sqlite_path"`
	RedisURL   string `mapstructure:"redis_url"`
}

// JWT настройки токенов сессий документов
type JWT struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Grouping настройки формирования групп
type Grouping struct {
	BatchSize int `mapstructure:"batch_size"`
}

// RateLimit ограничение частоты запросов на IP
type RateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Client конфигурация процесса участника
type Client struct {
	Log           Log           `mapstructure:"log"`
	ServerURL     string        `mapstructure:"server_url"`
	DBPath        string        `mapstructure:"db_path"`
	TaskFile      string        `mapstructure:"task_file"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	FallbackDelay time.Duration `mapstructure:"fallback_delay"`
}

// LoadServer читает конфигурацию сервера: значения по умолчанию,
// затем файл (если задан или найден), затем .env и переменные окружения.
func LoadServer(path string) (Server, error) {
	v := newViper(path, "server")

	v.SetDefault("address", ":8080")
	v.SetDefault("public_url", "http://localhost:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "gophcollab.db")
	v.SetDefault("storage.redis_url", "redis://localhost:6379/0")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.token_ttl", 12*time.Hour)
	v.SetDefault("grouping.batch_size", 3)
	v.SetDefault("rate_limit.rps", 20.0)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("shutdown_timeout", 10*time.Second)

	if err := readConfig(v, path); err != nil {
		return Server{}, err
	}

	var c Server
	if err := v.Unmarshal(&c); err != nil {
		return Server{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.JWT.Secret == "" {
		return Server{}, fmt.Errorf("jwt.secret is required (set %s_JWT_SECRET)", EnvPrefix)
	}
	if c.Grouping.BatchSize < 1 {
		return Server{}, fmt.Errorf("grouping.batch_size must be positive, got %d", c.Grouping.BatchSize)
	}
	return c, nil
}

// LoadClient читает конфигурацию клиента.
func LoadClient(path string) (Client, error) {
	v := newViper(path, "client")

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("db_path", "gophcollab-client.db")
	v.SetDefault("task_file", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("poll_interval", time.Second)
	v.SetDefault("fallback_delay", 5*time.Second)

	if err := readConfig(v, path); err != nil {
		return Client{}, err
	}

	var c Client
	if err := v.Unmarshal(&c); err != nil {
		return Client{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

func newViper(path, name string) *viper.Viper {
	// .env не обязателен
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(name)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func readConfig(v *viper.Viper, path string) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	// Явно указанный файл обязателен, найденный по имени - нет
	if path == "" {
		return nil
	}
	return fmt.Errorf("read config %s: %w", path, err)
}
