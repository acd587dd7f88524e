// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"speech-tone-service/internal/service/session"
	"speech-tone-service/internal/tone"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	Tone          ToneConfig
	Kafka         KafkaConfig
	Sessions      SessionConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal string
	GRPCPort  string
	HTTPAddr  string
}

// ToneConfig selects the rewrite mode and rule tables.
type ToneConfig struct {
	Mode      tone.Mode
	RulesFile string // empty = embedded defaults
}

// KafkaConfig holds Kafka consumer and publisher settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicInput   string
	TopicPreview string
	TopicFinal   string
	GroupID      string
}

// SessionConfig holds session store limits.
type SessionConfig struct {
	MaxFragments    int
	MaxAge          time.Duration // 0 disables eviction
	JanitorInterval time.Duration
}

// Limits converts the settings into store limits.
func (c SessionConfig) Limits() session.Limits {
	return session.Limits{
		MaxFragments: c.MaxFragments,
		MaxAge:       c.MaxAge,
	}
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Load reads the configuration from environment variables.
func Load() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal: envOrDefault("SERVICE_PRINCIPAL", "svc-speech-tone"),
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
			HTTPAddr:  envOrDefault("HTTP_ADDR", ":8080"),
		},
		Tone: ToneConfig{
			Mode:      modeOrNeutral(os.Getenv("TONE_MODE")),
			RulesFile: os.Getenv("TONE_RULES_FILE"),
		},
		Kafka: KafkaConfig{
			Enabled:      envBoolOrDefault("KAFKA_ENABLED", false),
			Brokers:      envListOrDefault("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicInput:   envOrDefault("KAFKA_TOPIC_INPUT", "speech.grammar"),
			TopicPreview: envOrDefault("KAFKA_TOPIC_PREVIEW", "speech.tone.preview"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "speech.tone.final"),
			GroupID:      envOrDefault("KAFKA_GROUP_ID", "speech-tone-service"),
		},
		Sessions: SessionConfig{
			MaxFragments:    envIntOrDefault("SESSION_MAX_FRAGMENTS", 500),
			MaxAge:          envDurationOrDefault("SESSION_MAX_AGE", 0),
			JanitorInterval: envDurationOrDefault("SESSION_JANITOR_INTERVAL", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

// modeOrNeutral resolves the configured mode. Unrecognized values fall back
// to neutral here so the core only ever sees a valid mode.
func modeOrNeutral(value string) tone.Mode {
	if strings.TrimSpace(value) == "" {
		return tone.ModeNeutral
	}
	mode, err := tone.ParseMode(value)
	if err != nil {
		log.Warn().
			Err(err).
			Str("key", "TONE_MODE").
			Str("value", value).
			Msg("Unrecognized tone mode, falling back to neutral")
		return tone.ModeNeutral
	}
	return mode
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Str("value", v).Int("default", def).Msg("Invalid integer, using default")
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Str("value", v).Bool("default", def).Msg("Invalid boolean, using default")
		return def
	}
	return b
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Str("value", v).Dur("default", def).Msg("Invalid duration, using default")
		return def
	}
	return d
}

func envListOrDefault(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
