package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Booking  BookingConfig  `yaml:"booking"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
	Games    []GameConfig   `yaml:"games"`
}

type HTTPConfig struct {
	Address       string `yaml:"address"`
	SwaggerDir    string `yaml:"swagger_dir"`
	RatePerMinute int    `yaml:"rate_per_minute"`
	Burst         int    `yaml:"burst"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	// MaxConns sizes the pool. Live feeds use one connection outside it.
	MaxConns    int `yaml:"max_conns"`
	MaxWatchers int `yaml:"max_watchers"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	BookingEventsTopic string   `yaml:"booking_events_topic"`
	GroupID            string   `yaml:"group_id"`
	PublishAttempts    int      `yaml:"publish_attempts"`
}

type BookingConfig struct {
	Timezone                  string `yaml:"timezone"`
	CancellationBufferMinutes int    `yaml:"cancellation_buffer_minutes"`
	StoreRetryAttempts        int    `yaml:"store_retry_attempts"`
	StoreRetryBackoffMs       int    `yaml:"store_retry_backoff_ms"`
	SlotsCacheTTL             int    `yaml:"slots_cache_ttl_seconds"`
}

func (b BookingConfig) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", b.Timezone, err)
	}
	return loc, nil
}

func (b BookingConfig) CancellationBuffer() time.Duration {
	return time.Duration(b.CancellationBufferMinutes) * time.Minute
}

func (b BookingConfig) RetryBackoff() time.Duration {
	return time.Duration(b.StoreRetryBackoffMs) * time.Millisecond
}

func (b BookingConfig) CacheTTL() time.Duration {
	return time.Duration(b.SlotsCacheTTL) * time.Second
}

// ScheduleConfig describes the daily slot grid used when a day has no persisted slots.
type ScheduleConfig struct {
	Open        string `yaml:"open"`
	Close       string `yaml:"close"`
	SlotMinutes int    `yaml:"slot_minutes"`
}

type WorkerConfig struct {
	CompletionSweepCron string `yaml:"completion_sweep_cron"`
}

// GameConfig seeds a game at startup. Existing games with the same id are overwritten.
type GameConfig struct {
	ID                string `yaml:"id"`
	CourtID           string `yaml:"court_id"`
	Name              string `yaml:"name"`
	PricePerHourCents int64  `yaml:"price_per_hour_cents"`
	Available         *bool  `yaml:"available"`
}

func (g GameConfig) IsAvailable() bool {
	return g.Available == nil || *g.Available
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if _, err := cfg.Booking.Location(); err != nil {
		return nil, err
	}
	for i, g := range cfg.Games {
		if g.ID == "" || g.CourtID == "" {
			return nil, fmt.Errorf("games[%d]: id and court_id are required", i)
		}
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.RatePerMinute == 0 {
		c.HTTP.RatePerMinute = 600
	}
	if c.HTTP.Burst == 0 {
		c.HTTP.Burst = 50
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = ":9090"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 20
	}
	if c.Database.MaxWatchers == 0 {
		c.Database.MaxWatchers = 256
	}
	if c.Kafka.BookingEventsTopic == "" {
		c.Kafka.BookingEventsTopic = "booking_events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "courtbooking-worker"
	}
	if c.Kafka.PublishAttempts == 0 {
		c.Kafka.PublishAttempts = 3
	}
	if c.Booking.CancellationBufferMinutes == 0 {
		c.Booking.CancellationBufferMinutes = 30
	}
	if c.Booking.StoreRetryAttempts == 0 {
		c.Booking.StoreRetryAttempts = 3
	}
	if c.Booking.StoreRetryBackoffMs == 0 {
		c.Booking.StoreRetryBackoffMs = 100
	}
	if c.Booking.SlotsCacheTTL == 0 {
		c.Booking.SlotsCacheTTL = 30
	}
	if c.Schedule.Open == "" {
		c.Schedule.Open = "06:00"
	}
	if c.Schedule.Close == "" {
		c.Schedule.Close = "23:00"
	}
	if c.Schedule.SlotMinutes == 0 {
		c.Schedule.SlotMinutes = 60
	}
	if c.Worker.CompletionSweepCron == "" {
		c.Worker.CompletionSweepCron = "@every 5m"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
