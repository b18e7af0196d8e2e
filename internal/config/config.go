package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	// StoreDriver is "memory" or "postgres".
	StoreDriver string
	SeedFile    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration
	LockTimeout   time.Duration

	KafkaBrokers     []string
	KafkaViewTopic   string
	KafkaTicketTopic string
	// KafkaRelayGroupPrefix plus ReplicaID names this replica's view consumer
	// group.
	KafkaRelayGroupPrefix string
	ReplicaID             string

	MaxRequeueAttempts  int
	ConflictRetries     int
	ResetAttemptsOnCall bool
	AutoRequeueAfter    time.Duration
	StreamHeartbeat     time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int

	BranchRateLimitPerMinute int
	BranchRateLimitBurst     int

	LogLevel    string
	LogEncoding string
}

// Load reads the environment after merging an optional .env file; variables
// already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	driver := strings.ToLower(os.Getenv("STORE_DRIVER"))
	if driver == "" {
		driver = "memory"
		if os.Getenv("DB_DSN") != "" {
			driver = "postgres"
		}
	}

	replicaID := os.Getenv("REPLICA_ID")
	if replicaID == "" {
		replicaID, _ = os.Hostname()
	}

	return Config{
		Port:                port,
		DatabaseURL:         os.Getenv("DB_DSN"),
		StoreDriver:         driver,
		SeedFile:            os.Getenv("SEED_FILE"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             readInt("REDIS_DB", 0),
		LockTTL:             readDurationSeconds("LOCK_TTL_SECONDS", 10),
		LockTimeout:         readDurationSeconds("LOCK_TIMEOUT_SECONDS", 5),
		KafkaBrokers:        readList("KAFKA_BROKERS"),
		KafkaViewTopic:      readString("KAFKA_VIEW_TOPIC", "queue.window.views"),
		KafkaTicketTopic:    readString("KAFKA_TICKET_TOPIC", "queue.ticket.events"),
		MaxRequeueAttempts:  readInt("MAX_REQUEUE_ATTEMPTS", 3),
		ConflictRetries:     readInt("CONFLICT_RETRIES", 3),
		ResetAttemptsOnCall: readBool("RESET_ATTEMPTS_ON_CALL", false),
		AutoRequeueAfter:    readDurationSeconds("AUTO_REQUEUE_SECONDS", 15),
		StreamHeartbeat:     readDurationSeconds("STREAM_HEARTBEAT_SECONDS", 20),
		RateLimitPerMinute:  readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:      readInt("RATE_LIMIT_BURST", 30),
		LogLevel:            readString("LOG_LEVEL", "info"),
		LogEncoding:         readString("LOG_ENCODING", "json"),

		BranchRateLimitPerMinute: readInt("BRANCH_RATE_LIMIT_PER_MIN", 600),
		BranchRateLimitBurst:     readInt("BRANCH_RATE_LIMIT_BURST", 100),

		KafkaRelayGroupPrefix: readString("KAFKA_RELAY_GROUP_PREFIX", "queue-service-views-"),
		ReplicaID:             replicaID,
	}
}

func readString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func readList(key string) []string {
	var values []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
