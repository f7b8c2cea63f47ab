package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env  string
	Port int

	DBURL      string
	DBMaxConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// FunctionName and FunctionIdentifier locate the runtime configuration
	// namespace, see StackName.
	FunctionName       string
	FunctionIdentifier string

	OTelEndpoint string
	JWTSecret    string
	TokenTTL     time.Duration

	RateLimit  int
	RateWindow time.Duration

	// WorkerID names this process's consumer in the inbound group. It must
	// stay the same across restarts so pending messages keep their owner.
	WorkerID string

	InboundStream     string
	CollectInterval   time.Duration
	PollRounds        int
	MaxMessages       int
	SubmitConcurrency int
	EventConcurrency  int
	MaxBatchBytes     int64

	PublishTimeout  time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration

	ConfigSeedFile string
}

func Load() Config {
	// a missing .env is the normal case outside local dev
	_ = godotenv.Load()

	return Config{
		Env:                getEnv("APP_ENV", "dev"),
		Port:               getEnvInt("PORT", 8080),
		DBURL:              buildDBURL(),
		DBMaxConns:         getEnvInt("DB_MAX_CONNS", 10),
		RedisAddr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		FunctionName:       getEnv("FUNCTION_NAME", "task-integrator"),
		FunctionIdentifier: getEnv("FUNCTION_IDENTIFIER", "MTurkImporterFunction"),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", ""),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
		TokenTTL:           getEnvDuration("TOKEN_TTL", 24*time.Hour),
		RateLimit:          getEnvInt("RATE_LIMIT", 120),
		RateWindow:         getEnvDuration("RATE_WINDOW", time.Minute),
		InboundStream:      getEnv("INBOUND_STREAM", "taskintegrator:inbound"),
		WorkerID:           getEnv("WORKER_ID", hostname()),
		CollectInterval:    getEnvDuration("COLLECT_INTERVAL", time.Minute),
		PollRounds:         getEnvInt("POLL_ROUNDS", 10),
		MaxMessages:        getEnvInt("MAX_MESSAGES", 10),
		SubmitConcurrency:  getEnvInt("SUBMIT_CONCURRENCY", 1),
		EventConcurrency:   getEnvInt("EVENT_CONCURRENCY", 4),
		MaxBatchBytes:      int64(getEnvInt("MAX_BATCH_BYTES", 5<<20)),
		PublishTimeout:     getEnvDuration("PUBLISH_TIMEOUT", 3*time.Second),
		BreakerFailures:    getEnvInt("BREAKER_FAILURES", 5),
		BreakerCooldown:    getEnvDuration("BREAKER_COOLDOWN", 15*time.Second),
		ConfigSeedFile:     getEnv("CONFIG_SEED_FILE", ""),
	}
}

// StackName strips the "-<identifier>" suffix a deployment appends to the
// stack name when naming each function. Without an identifier, or when the
// suffix is absent, the function name is the stack name.
func StackName(functionName, identifier string) string {
	if identifier == "" {
		return functionName
	}
	i := strings.Index(functionName, "-"+identifier)
	if i < 0 {
		return functionName
	}
	return functionName[:i]
}

// ConfigNamespace is the key the runtime configuration is stored under.
func (c Config) ConfigNamespace() string {
	return StackName(c.FunctionName, c.FunctionIdentifier) + "-config"
}

func (c Config) Stack() string {
	return StackName(c.FunctionName, c.FunctionIdentifier)
}

func buildDBURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "taskintegrator")
	pass := getEnv("DB_PASSWORD", "taskintegrator")
	name := getEnv("DB_NAME", "taskintegrator")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "collector-1"
	}
	return h
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %s=%q is not an integer, using %d\n", key, v, fallback)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %s=%q is not a duration, using %s\n", key, v, fallback)
			return fallback
		}
		return d
	}
	return fallback
}
