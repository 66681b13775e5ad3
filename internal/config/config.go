// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int
	Host           string
	MetricsEnabled bool
	RequestTimeout time.Duration
	SendBuffer     int
}

// DatabaseConfig holds database configuration settings
type DatabaseConfig struct {
	Type             string // "mongo" or "postgres"
	URI              string
	Name             string
	OperationTimeout time.Duration
}

// AuthConfig holds token settings
type AuthConfig struct {
	JWTSecret   string
	TokenTTL    time.Duration
	RequireAuth bool
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Auth           *AuthConfig
	Log            *LogConfig
	AllowedOrigins []string
}

// environment is the flat view of the process environment.
type environment struct {
	Host           string        `env:"HOST,default=0.0.0.0" validate:"required"`
	Port           int           `env:"PORT,default=5000" validate:"min=1,max=65535"`
	MetricsEnabled bool          `env:"METRICS_ENABLED,default=true"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=5s" validate:"min=100ms"`
	SendBuffer     int           `env:"SEND_BUFFER,default=256" validate:"min=1"`

	DBType         string        `env:"DB_TYPE,default=mongo" validate:"oneof=mongo postgres"`
	MongoURI       string        `env:"MONGO_URI"`
	MongoDatabase  string        `env:"MONGO_DATABASE,default=gator_chat"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT,default=5s" validate:"min=10ms"`
	JWTSecret      string        `env:"JWT_SECRET" validate:"required,min=16"`
	JWTTTL         time.Duration `env:"JWT_TTL,default=4h" validate:"min=1m"`
	RequireAuth    bool          `env:"REQUIRE_AUTH,default=false"`
	LogLevel       string        `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat      string        `env:"LOG_FORMAT,default=text" validate:"oneof=text json"`
	AllowedOrigins string        `env:"ALLOWED_ORIGINS,default=*"`
}

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:           5000,
		Host:           "0.0.0.0",
		MetricsEnabled: true,
		RequestTimeout: 5 * time.Second,
		SendBuffer:     256,
	}
}

// LoadConfig loads configuration from a .env file (if any) and the process environment
func LoadConfig() (*Config, error) {
	// Try to load .env file from multiple possible locations
	envLocations := []string{
		".env",       // Current directory
		"../../.env", // Project root when running from cmd/engine
		filepath.Join(os.Getenv("GOPATH"), "src/gator-chat/.env"),
	}

	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			break
		}
	}

	set, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return LoadFromEnvSet(set)
}

// LoadFromEnvSet builds and validates a Config from an explicit variable set.
func LoadFromEnvSet(set env.EnvSet) (*Config, error) {
	var e environment
	if err := env.Unmarshal(set, &e); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := validator.New().Struct(&e); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &DatabaseConfig{
		Type:             e.DBType,
		Name:             e.MongoDatabase,
		OperationTimeout: e.StoreTimeout,
	}

	switch dbConfig.Type {
	case "mongo":
		if e.MongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI environment variable is required when DB_TYPE is mongo")
		}
		dbConfig.URI = e.MongoURI
	case "postgres":
		if e.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required when DB_TYPE is postgres")
		}
		dbConfig.URI = e.DatabaseURL
	}

	return &Config{
		Server: &ServerConfig{
			Port:           e.Port,
			Host:           e.Host,
			MetricsEnabled: e.MetricsEnabled,
			RequestTimeout: e.RequestTimeout,
			SendBuffer:     e.SendBuffer,
		},
		Database: dbConfig,
		Auth: &AuthConfig{
			JWTSecret:   e.JWTSecret,
			TokenTTL:    e.JWTTTL,
			RequireAuth: e.RequireAuth,
		},
		Log: &LogConfig{
			Level:  e.LogLevel,
			Format: e.LogFormat,
		},
		AllowedOrigins: splitOrigins(e.AllowedOrigins),
	}, nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
