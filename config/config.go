package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults for every tunable knob. All can be overridden via environment
// variables.
const (
	DefaultMaxBodyBytes           = 65536
	DefaultRateLimitMax           = 60
	DefaultRateLimitWindow        = 60 * time.Second
	DefaultNonceTTL               = 120 * time.Second
	DefaultBiometricMaxAge        = 5 * time.Minute
	DefaultBiometricMinConfidence = 0.7
	DefaultSweepInterval          = time.Hour
	DefaultListenAddr             = ":9000"
)

// Config carries every deployment knob of the service
type Config struct {
	// APISecret is the shared deployment secret. Empty disables the
	// shared-secret check (explicit opt-out).
	APISecret string

	// BasePath is the mount prefix included in signed canonical messages
	BasePath string

	MaxBodyBytes    int
	RateLimitMax    int
	RateLimitWindow time.Duration
	NonceTTL        time.Duration

	BiometricMaxAge        time.Duration
	BiometricMinConfidence float64

	// SessionKeysEnabled gates issuance globally (default off)
	SessionKeysEnabled bool

	// AttestationSecret signs the HS256 session-key attestation tokens
	AttestationSecret string

	SweepInterval time.Duration

	RedisURL   string
	ListenAddr string
}

// Load builds a Config from environment variables, falling back to defaults
func Load() Config {
	return Config{
		APISecret:              os.Getenv("WALLETHUB_API_SECRET"),
		BasePath:               os.Getenv("WALLETHUB_BASE_PATH"),
		MaxBodyBytes:           getEnvInt("WALLETHUB_MAX_BODY_BYTES", DefaultMaxBodyBytes),
		RateLimitMax:           getEnvInt("WALLETHUB_RATE_LIMIT_MAX", DefaultRateLimitMax),
		RateLimitWindow:        getEnvMillis("WALLETHUB_RATE_LIMIT_WINDOW_MS", DefaultRateLimitWindow),
		NonceTTL:               getEnvMillis("WALLETHUB_NONCE_TTL_MS", DefaultNonceTTL),
		BiometricMaxAge:        getEnvMillis("WALLETHUB_BIOMETRIC_MAX_AGE_MS", DefaultBiometricMaxAge),
		BiometricMinConfidence: getEnvFloat("WALLETHUB_BIOMETRIC_MIN_CONFIDENCE", DefaultBiometricMinConfidence),
		SessionKeysEnabled:     getEnvBool("WALLETHUB_SESSION_KEYS_ENABLED", false),
		AttestationSecret:      getEnv("WALLETHUB_ATTESTATION_SECRET", "insecure-dev-attestation-secret"),
		SweepInterval:          getEnvMillis("WALLETHUB_SWEEP_INTERVAL_MS", DefaultSweepInterval),
		RedisURL:               os.Getenv("REDIS_URL"),
		ListenAddr:             getEnv("WALLETHUB_LISTEN_ADDR", DefaultListenAddr),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvMillis(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return defaultVal
}
