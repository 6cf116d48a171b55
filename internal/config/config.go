package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Gateway holds every knob the asset gateway reads. All of it is
// read-only after load; the gateway keeps no other process-wide state.
type Gateway struct {
	BindAddr string

	// GraphEndpoint is the base URL of the remote store node. It may be
	// empty or local at load time; the remote-source guard rejects such
	// values per request with a 400, which is the contract callers see.
	GraphEndpoint string
	QueryTimeout  time.Duration

	DefaultLimit int
	MaxLimit     int

	PaymentScheme      string
	PaymentNetwork     string
	PaymentAsset       string
	FacilitatorURL     string
	FacilitatorTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	CacheCapacity int

	KafkaBrokers []string
	KafkaTopic   string
}

// LoadGateway builds the gateway config from environment variables.
func LoadGateway() (*Gateway, error) {
	c := &Gateway{
		BindAddr:      getEnv("GATEWAY_BIND_ADDR", "0.0.0.0:8080"),
		GraphEndpoint: strings.TrimSpace(os.Getenv("GRAPH_ENDPOINT")),
		QueryTimeout:  getDuration("GRAPH_QUERY_TIMEOUT", "5s"),

		DefaultLimit: getInt("GATEWAY_PAGE_SIZE", 20),
		MaxLimit:     getInt("GATEWAY_MAX_PAGE_SIZE", 100),

		PaymentScheme:      getEnv("PAYMENT_SCHEME", "exact"),
		PaymentNetwork:     getEnv("PAYMENT_NETWORK", "base-sepolia"),
		PaymentAsset:       strings.TrimSpace(os.Getenv("PAYMENT_ASSET")),
		FacilitatorURL:     strings.TrimSpace(os.Getenv("FACILITATOR_URL")),
		FacilitatorTimeout: getDuration("FACILITATOR_TIMEOUT", "10s"),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASS"),
		RedisDB:       getInt("REDIS_DB", 0),
		CacheTTL:      getDuration("CACHE_TTL", "10m"),
		CacheCapacity: getInt("CACHE_CAPACITY", 1024),

		KafkaBrokers: splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "asset_access"),
	}

	if c.DefaultLimit <= 0 {
		return nil, fmt.Errorf("GATEWAY_PAGE_SIZE must be positive")
	}
	if c.MaxLimit <= 0 {
		return nil, fmt.Errorf("GATEWAY_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultLimit > c.MaxLimit {
		return nil, fmt.Errorf("GATEWAY_PAGE_SIZE cannot exceed GATEWAY_MAX_PAGE_SIZE")
	}
	if c.QueryTimeout <= 0 {
		return nil, fmt.Errorf("GRAPH_QUERY_TIMEOUT must be positive")
	}
	if c.FacilitatorTimeout <= 0 {
		return nil, fmt.Errorf("FACILITATOR_TIMEOUT must be positive")
	}
	if c.CacheCapacity <= 0 {
		return nil, fmt.Errorf("CACHE_CAPACITY must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
