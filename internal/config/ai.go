package config

import (
	"os"
	"time"
)

// AIConfig configures the text generation backend and its response cache.
type AIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // empty means the client default
	APIVersion string
	Timeout    time.Duration
	CacheTTL   time.Duration
}

func LoadAIConfig() AIConfig {
	return AIConfig{
		APIKey:     os.Getenv("GOOGLE_API_KEY"),
		Model:      envStr("GOOGLE_MODEL_NAME", "gemini-2.5-flash"),
		BaseURL:    os.Getenv("GOOGLE_API_BASE_URL"),
		APIVersion: envStr("GOOGLE_API_VERSION", "v1beta"),
		Timeout:    envDur("AI_TIMEOUT", 30*time.Second),
		CacheTTL:   envDur("AI_CACHE_TTL", time.Hour),
	}
}

// QueueConfig configures the RabbitMQ connection used for generation events.
type QueueConfig struct {
	URL             string
	ConsumerEnabled bool
	LogDir          string
}

func LoadQueueConfig() QueueConfig {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		url = os.Getenv("AMQP_URL")
	}
	return QueueConfig{
		URL:             url,
		ConsumerEnabled: envBool("QUEUE_CONSUMER_ENABLED", false),
		LogDir:          envStr("QUEUE_LOG_DIR", "logs"),
	}
}
