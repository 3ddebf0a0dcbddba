package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"labwatch/internal/models"
)

// Roles select which loops a process runs. Sampler and notifier may live in separate processes
// sharing one database.
const (
	RoleAll      = "all"
	RoleSampler  = "sampler"
	RoleNotifier = "notifier"
)

type Config struct {
	Addr      string
	Role      string
	LogLevel  string
	DataDir   string
	DBDriver  string
	DBDSN     string
	Inventory string

	SampleInterval time.Duration
	DrainInterval  time.Duration
	Lease          time.Duration
	MaxAttempts    int
	RetentionDays  int

	Sink             string
	SlackBotToken    string
	TelegramBotToken string
	KafkaBrokers     []string
	KafkaTopic       string

	DiskPath     string
	PingAddr     string
	PingAttempts int
	Simulate     map[models.ComponentKind]float64
}

func Load() Config {
	dataDir := getenv("APP_DATA_DIR", "./data")
	driver := getenv("APP_DB_DRIVER", "sqlite3")
	dsn := getenv("APP_DB_DSN", "")
	if dsn == "" && strings.HasPrefix(strings.ToLower(driver), "sqlite") {
		dsn = getenv("APP_DB_PATH", dataDir+"/labwatch.db")
	}
	return Config{
		Addr:             getenv("APP_ADDR", ":8080"),
		Role:             strings.ToLower(getenv("APP_ROLE", RoleAll)),
		LogLevel:         getenv("APP_LOG_LEVEL", "info"),
		DataDir:          dataDir,
		DBDriver:         driver,
		DBDSN:            dsn,
		Inventory:        getenv("APP_INVENTORY", "./inventory.yaml"),
		SampleInterval:   getenvDuration("APP_SAMPLE_INTERVAL", 30*time.Second),
		DrainInterval:    getenvDuration("APP_DRAIN_INTERVAL", 3*time.Second),
		Lease:            getenvDuration("APP_CLAIM_LEASE", time.Minute),
		MaxAttempts:      getenvInt("APP_MAX_ATTEMPTS", 0),
		RetentionDays:    getenvInt("APP_CAPTURE_RETENTION_DAYS", 0),
		Sink:             strings.ToLower(getenv("APP_SINK", "slack")),
		SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		KafkaBrokers:     getenvList("KAFKA_BROKERS"),
		KafkaTopic:       getenv("KAFKA_TOPIC", "labwatch.alerts"),
		DiskPath:         getenv("APP_DISK_PATH", "/"),
		PingAddr:         getenv("APP_PING_ADDR", "8.8.8.8:53"),
		PingAttempts:     getenvInt("APP_PING_ATTEMPTS", 10),
		Simulate:         getenvSamples("APP_SIMULATE"),
	}
}

// Validate reports settings that would keep the process from doing useful work.
func (c Config) Validate() error {
	switch c.Role {
	case RoleAll, RoleSampler, RoleNotifier:
	default:
		return fmt.Errorf("APP_ROLE: unknown role %q", c.Role)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("APP_DB_DSN is required for driver %q", c.DBDriver)
	}
	if c.SampleInterval <= 0 || c.DrainInterval <= 0 {
		return fmt.Errorf("loop intervals must be positive")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("APP_MAX_ATTEMPTS must not be negative")
	}
	switch c.Sink {
	case "slack", "telegram":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for the kafka sink")
		}
	default:
		return fmt.Errorf("APP_SINK: unknown sink %q", c.Sink)
	}
	return nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}

func getenvList(k string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(k), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getenvSamples parses "cpu=97,memory=3.2" into fixed readings per component kind.
// Unknown kinds and unparsable values are ignored. An empty result disables simulation.
func getenvSamples(k string) map[models.ComponentKind]float64 {
	out := map[models.ComponentKind]float64{}
	for _, pair := range getenvList(k) {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		kind := parseKind(name)
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if !kind.Valid() || err != nil {
			continue
		}
		out[kind] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseKind(s string) models.ComponentKind {
	for _, k := range []models.ComponentKind{models.KindCPU, models.KindMemory, models.KindDisk, models.KindPing} {
		if strings.EqualFold(strings.TrimSpace(s), string(k)) {
			return k
		}
	}
	return ""
}
