// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек сервиса синхронизации.
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	PanelConnection         `yaml:"panel"`
	SyncSchedule            `yaml:"sync"`
	RabbitMQ                `yaml:"rabbitmq"`
	Pricing                 `yaml:"pricing"`
}

// HTTPServer структура для настройки сервера статусной поверхности.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// PanelConnection — доступ к удалённой панели провижининга.
// APIKey обязателен: без него проход синхронизации не запускается.
type PanelConnection struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key" env:"PANEL_API_KEY"`
	IsLocal           bool          `yaml:"is_local"`
	PageSize          int           `yaml:"page_size" env-default:"250"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env-default:"30s"`
	RequestsPerSecond int           `yaml:"requests_per_second" env-default:"10"`
}

// SyncSchedule — расписание фоновой синхронизации, времена в UTC ("HH:MM").
type SyncSchedule struct {
	Enabled      bool     `yaml:"enabled" env-default:"true"`
	Times        []string `yaml:"times" env-default:"04:30,16:30"`
	RunOnStartup bool     `yaml:"run_on_startup"`
}

// RabbitMQ — необязательное подключение для событий синхронизации.
// Пустой URL отключает публикацию.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"rabbitmq_url"`
	RabbitMQMaxRetries int           `yaml:"rabbitmq_max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"rabbitmq_retry_delay" env-default:"3s"`
}

// Pricing — цены тарифа и докупаемых опций, в копейках.
type Pricing struct {
	BaseMonthlyKopeks    int `yaml:"base_monthly_kopeks" env-default:"100000"`
	PerSquadKopeks       int `yaml:"per_squad_kopeks" env-default:"100000"`
	PerTrafficTierKopeks int `yaml:"per_traffic_tier_kopeks" env-default:"50000"`
	PerDeviceKopeks      int `yaml:"per_device_kopeks" env-default:"30000"`
	PromoOfferPercent    int `yaml:"promo_offer_percent" env-default:"0"`
}

// MustLoad загружает конфиг по пути из CONFIG_PATH, падает при ошибке.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}
