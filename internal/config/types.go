package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server   ServerConfig `json:"server"`
	Media    MediaConfig  `json:"media"`
	Database Database     `json:"database"`
	Redis    RedisConfig  `json:"redis"`
	Batch    BatchConfig  `json:"batch"`
	Sentry   SentryConfig `json:"sentry"`
}

type ServerConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// MediaConfig points at the library's upload tree. Converted variants
// are written to {format}-converted subdirectories inside it.
type MediaConfig struct {
	BaseDir string `json:"base_dir"`
}

type Database struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	Password            string        `json:"password"`
	DatabaseID          int           `json:"database_id"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	DialTimeout         time.Duration `json:"dial_timeout"`
	ReadTimeout         time.Duration `json:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout"`
	PoolSize            int           `json:"pool_size"`
	Nodes               []RedisNode   `json:"nodes"`
}

type RedisNode struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (n RedisNode) Addr() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

// BatchConfig holds process-level batch tuning. Per-batch settings
// (qualities, batch size, savings policy) live in the database.
type BatchConfig struct {
	TickInterval time.Duration `json:"tick_interval"` // seconds between ticks
}

type SentryConfig struct {
	SentryDSN   string `json:"sentry_dsn"`
	Environment string `json:"environment"`
}
