package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	DBSource    string
	AmqpURL     string
	MetricsPort string
	Workers     int
	Env         string
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	amqpURL := os.Getenv("AMQP_URL")
	if amqpURL == "" {
		return nil, fmt.Errorf("AMQP_URL environment variable is required")
	}

	port := os.Getenv("METRICS_PORT")
	if port == "" {
		port = "8080"
	}

	workers := 4
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("WORKERS must be a positive integer, got %q", v)
		}
		workers = n
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &Config{
		DBSource:    dbSource,
		AmqpURL:     amqpURL,
		MetricsPort: port,
		Workers:     workers,
		Env:         env,
	}, nil
}
