package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// Profile represents tunable configuration for one breaker class
type Profile struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// RedisProfile returns the Redis breaker profile from environment variables
func RedisProfile() Profile {
	return Profile{
		MaxRequests:      getEnvUint32("CB_REDIS_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_REDIS_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_REDIS_TIMEOUT", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_REDIS_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_REDIS_SUCCESS_THRESHOLD", 2),
	}
}

// DatabaseProfile returns the PostgreSQL breaker profile from environment variables
func DatabaseProfile() Profile {
	return Profile{
		MaxRequests:      getEnvUint32("CB_DB_MAX_REQUESTS", 3),
		Interval:         getEnvDuration("CB_DB_INTERVAL", 60*time.Second),
		Timeout:          getEnvDuration("CB_DB_TIMEOUT", 30*time.Second),
		FailureThreshold: getEnvUint32("CB_DB_FAILURE_THRESHOLD", 5),
		SuccessThreshold: getEnvUint32("CB_DB_SUCCESS_THRESHOLD", 2),
	}
}

// HTTPProfile returns the outbound HTTP breaker profile from environment variables
func HTTPProfile() Profile {
	return Profile{
		MaxRequests:      getEnvUint32("CB_HTTP_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_HTTP_INTERVAL", 30*time.Second),
		Timeout:          getEnvDuration("CB_HTTP_TIMEOUT", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_HTTP_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_HTTP_SUCCESS_THRESHOLD", 2),
	}
}

// ToConfig converts a Profile to a breaker Config
func (p Profile) ToConfig() Config {
	return Config{
		MaxRequests:      p.MaxRequests,
		Interval:         p.Interval,
		Timeout:          p.Timeout,
		FailureThreshold: p.FailureThreshold,
		SuccessThreshold: p.SuccessThreshold,
		OnStateChange:    nil, // Will be set by wrapper
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
