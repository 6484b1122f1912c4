package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Notifier names accepted in NOTIFIERS
const (
	NotifierAMQP   = "amqp"
	NotifierKafka  = "kafka"
	NotifierMQTT   = "mqtt"
	NotifierLark   = "lark"
	NotifierMemory = "memory"
)

type Config struct {
	// 服务器配置
	Port        string
	Environment string
	LogLevel    string

	// 存储配置
	StoreBackend string
	DatabaseURL  string

	// Redis配置 (empty URL keeps fan-out in process)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// 文本生成配置
	GenerationAPIURL  string
	GenerationAPIKey  string
	GenerationModel   string
	GenerationTimeout time.Duration

	// 通知配置
	Notifiers    []string
	AMQPURL      string
	AMQPExchange string
	KafkaBrokers []string
	KafkaTopic   string
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	LarkWebhook  string

	// 其他配置
	// CORSAllowedOrigins lists the operator console origins. Empty disables
	// cross-origin access to the API.
	CORSAllowedOrigins []string
	OperatorRateLimit  string
	FeedBacklog       int
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StoreBackend: storeBackend(),
		DatabaseURL:  getEnv("DATABASE_URL", "postgres://localhost:5432/livefeed?sslmode=disable"),

		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GenerationAPIURL:  getEnv("GENERATION_API_URL", "https://generativelanguage.googleapis.com"),
		GenerationAPIKey:  getEnv("GENERATION_API_KEY", ""),
		GenerationModel:   getEnv("GENERATION_MODEL", "gemini-1.5-flash"),
		GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 20*time.Second),

		Notifiers:    getEnvList("NOTIFIERS"),
		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "live.events"),
		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "live-events"),
		MQTTBroker:   getEnv("MQTT_BROKER", ""),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		LarkWebhook:  getEnv("LARK_WEBHOOK", ""),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		OperatorRateLimit:  getEnv("OPERATOR_RATE_LIMIT", "60-M"),
		FeedBacklog:        getEnvInt("FEED_BACKLOG", 50),
	}
}

// HasNotifier reports whether name was listed in NOTIFIERS.
func (c *Config) HasNotifier(name string) bool {
	for _, n := range c.Notifiers {
		if n == name {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil || result < 0 {
		return defaultValue
	}
	return result
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// getEnvList splits a comma list, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func storeBackend() string {
	if strings.EqualFold(getEnv("STORE_BACKEND", StoreBackendPostgres), StoreBackendMemory) {
		return StoreBackendMemory
	}
	return StoreBackendPostgres
}
