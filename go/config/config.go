// Package config defines the option structs parsed by every service binary.
// Options bind to flags and environment variables through go-flags tags; the
// defaults match the compose topology used in development.
package config

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// BaseConfig holds options common to every service.
type BaseConfig struct {
	ServiceName           string `long:"service-name" env:"SERVICE_NAME" description:"Name reported in logs and metrics (defaults to the binary's role)"`
	LogLevel              string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"Logging level (debug, info, warn, error)"`
	HTTPAddress           string `long:"http-address" env:"HTTP_ADDRESS" default:":8080" description:"Bind address of the service HTTP listener"`
	KafkaBootstrapServers string `long:"kafka-bootstrap-servers" env:"KAFKA_BOOTSTRAP_SERVERS" default:"kafka:9092" description:"Comma-separated Kafka broker addresses"`
	RedisURL              string `long:"redis-url" env:"REDIS_URL" default:"redis://redis:6379/0" description:"Redis connection URL"`
	PostgresDSN           string `long:"postgres-dsn" env:"POSTGRES_DSN" required:"true" description:"Postgres connection string"`
	APIKey                string `long:"api-key" env:"API_KEY" required:"true" description:"Static API key accepted on protected endpoints"`
	OrchestratorURL       string `long:"orchestrator-url" env:"ORCHESTRATOR_URL" default:"http://orchestrator:8001" description:"Base URL of the orchestrator service"`
	ProviderURL           string `long:"provider-url" env:"PROVIDER_URL" default:"http://provider-adapter:8003" description:"Base URL of the provider adapter"`
	OTLPEndpoint          string `long:"otel-exporter-otlp-endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"http://otel-collector:4318/v1/traces" description:"OTLP trace collector endpoint (reserved for the tracing sidecar)"`
}

// RiskConfig holds the thresholds of the risk decision engine.
type RiskConfig struct {
	VelocityPerHour        int64 `long:"risk-velocity-per-hour" env:"RISK_VELOCITY_PER_HOUR" default:"20" description:"Hourly request count above which payments go to review"`
	ReviewAmountCents      int64 `long:"risk-review-amount-cents" env:"RISK_REVIEW_AMOUNT_CENTS" default:"100000" description:"Amount above which payments go to manual review"`
	DenyFrequencyThreshold int64 `long:"risk-deny-frequency-threshold" env:"RISK_DENY_FREQUENCY_THRESHOLD" default:"50" description:"Hourly request count above which payments are denied outright"`
}

// GatewayConfig holds gateway-only limits.
type GatewayConfig struct {
	RateLimitPerMinute    int   `long:"rate-limit-per-minute" env:"RATE_LIMIT_PER_MINUTE" default:"30" description:"Token bucket capacity per customer per minute"`
	IdempotencyTTLSeconds int64 `long:"idempotency-ttl-seconds" env:"IDEMPOTENCY_TTL_SECONDS" default:"86400" description:"TTL of cached idempotent responses"`
}

// Brokers splits the bootstrap-servers option into broker addresses.
func (c *BaseConfig) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBootstrapServers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// InitLogging configures logrus from the configured level.
func (c *BaseConfig) InitLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.JSONFormatter{})
}

// LogStartup records the effective non-secret configuration at boot.
func (c *BaseConfig) LogStartup() {
	log.WithFields(log.Fields{
		"service":                 c.ServiceName,
		"http_address":            c.HTTPAddress,
		"kafka_bootstrap_servers": c.KafkaBootstrapServers,
		"redis_url":               c.RedisURL,
		"orchestrator_url":        c.OrchestratorURL,
		"provider_url":            c.ProviderURL,
		"log_level":               c.LogLevel,
	}).Info("starting service")
}
