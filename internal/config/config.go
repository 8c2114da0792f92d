package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"iotc-agent/internal/pipe"
)

const (
	defaultConfigPath        = "./iotc-config.json"
	defaultTelemetryInterval = 10 * time.Second
	defaultCommandQueue      = 16
	defaultMonitorAddr       = ":8080"
)

// Config holds all process settings plus the loaded device configuration.
type Config struct {
	ConfigPath string
	Device     *DeviceConfig

	PipeEndpoint      string
	TelemetryInterval time.Duration
	GateAttributes    bool
	CommandQueueSize  int
	LogLevel          string

	// Local monitor and live feed
	MonitorAddr     string
	LocalFeedSecret string

	// Kafka telemetry mirror (disabled when no broker is set)
	KafkaBrokers []string
	KafkaTopic   string
	KafkaCACert  string
	KafkaCert    string // optional client cert
	KafkaKey     string // optional client key

	// Postgres command journal (disabled when empty)
	JournalDBURL string
}

// LoadConfig reads the environment (after loading any .env files) and the
// device configuration it points to.
func LoadConfig(envFiles ...string) (*Config, error) {
	// .env is optional, fall back to the process environment
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		ConfigPath:      getenv("IOTC_CONFIG", defaultConfigPath),
		PipeEndpoint:    getenv("IOTC_PIPE", pipe.DefaultEndpoint),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		MonitorAddr:     getenv("IOTC_MONITOR_ADDR", defaultMonitorAddr),
		LocalFeedSecret: os.Getenv("IOTC_LOCAL_FEED_SECRET"),

		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKER")),
		KafkaTopic:   os.Getenv("KAFKA_TOPIC"),
		KafkaCACert:  os.Getenv("KAFKA_CA_CERT"),
		KafkaCert:    os.Getenv("KAFKA_CLIENT_CERT"),
		KafkaKey:     os.Getenv("KAFKA_CLIENT_KEY"),

		JournalDBURL: os.Getenv("IOTC_JOURNAL_DB_URL"),
	}

	var err error
	if cfg.TelemetryInterval, err = durationEnv("IOTC_TELEMETRY_INTERVAL", defaultTelemetryInterval); err != nil {
		return nil, err
	}
	if cfg.GateAttributes, err = boolEnv("IOTC_GATE_ATTRIBUTES", false); err != nil {
		return nil, err
	}
	if cfg.CommandQueueSize, err = intEnv("IOTC_COMMAND_QUEUE", defaultCommandQueue); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Device, err = LoadDeviceConfig(cfg.ConfigPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TelemetryInterval <= 0 {
		return fmt.Errorf("IOTC_TELEMETRY_INTERVAL must be positive, got %s", c.TelemetryInterval)
	}
	if c.CommandQueueSize <= 0 {
		return fmt.Errorf("IOTC_COMMAND_QUEUE must be positive, got %d", c.CommandQueueSize)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKER is set")
	}
	return nil
}

// KafkaEnabled reports whether the telemetry mirror is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
