package config

import (
	"fmt"
	"os"
	"strconv"
)

// Email provider selection values.
const (
	ProviderLog     = "log"
	ProviderEmailJS = "emailjs"
	ProviderSES     = "ses"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (trigger run lease); optional
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Email provider
	EmailProvider string

	// EmailJS-compatible delivery API
	EmailJSAPIURL     string
	EmailJSServiceID  string
	EmailJSTemplateID string
	EmailJSPublicKey  string

	// AWS SES
	AWSRegion    string
	SESFromEmail string

	// Reminder windows
	ImminentWindowMinutes int
	Timezone              string

	// Dispatcher tuning
	DispatchBatchSize   int
	DispatchConcurrency int
	SendTimeoutSeconds  int
	ClaimExpiryMinutes  int
	DispatchPollSeconds int

	// Internal trigger cadence; 0 means an external cron fires the
	// trigger endpoints instead.
	TriggerPollSeconds int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "lectern",
		DBPassword: "",
		DBName:     "lectern",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		EmailProvider: ProviderLog,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@lectern.local",

		ImminentWindowMinutes: 60,
		Timezone:              "UTC",

		DispatchBatchSize:   50,
		DispatchConcurrency: 4,
		SendTimeoutSeconds:  15,
		ClaimExpiryMinutes:  5,
		DispatchPollSeconds: 30,
		TriggerPollSeconds:  0,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if provider := os.Getenv("EMAIL_PROVIDER"); provider != "" {
		switch provider {
		case ProviderLog, ProviderEmailJS, ProviderSES:
			cfg.EmailProvider = provider
		default:
			return nil, fmt.Errorf("invalid EMAIL_PROVIDER: %s (must be log, emailjs, or ses)", provider)
		}
	}

	if url := os.Getenv("EMAILJS_API_URL"); url != "" {
		cfg.EmailJSAPIURL = url
	}

	if id := os.Getenv("EMAILJS_SERVICE_ID"); id != "" {
		cfg.EmailJSServiceID = id
	}

	if id := os.Getenv("EMAILJS_TEMPLATE_ID"); id != "" {
		cfg.EmailJSTemplateID = id
	}

	if key := os.Getenv("EMAILJS_PUBLIC_KEY"); key != "" {
		cfg.EmailJSPublicKey = key
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if minutes := os.Getenv("IMMINENT_WINDOW_MINUTES"); minutes != "" {
		m, err := strconv.Atoi(minutes)
		if err != nil || m <= 0 {
			return nil, fmt.Errorf("invalid IMMINENT_WINDOW_MINUTES: %s", minutes)
		}
		cfg.ImminentWindowMinutes = m
	}

	if tz := os.Getenv("TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}

	if size := os.Getenv("DISPATCH_BATCH_SIZE"); size != "" {
		s, err := strconv.Atoi(size)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_BATCH_SIZE: %s", size)
		}
		cfg.DispatchBatchSize = s
	}

	if conc := os.Getenv("DISPATCH_CONCURRENCY"); conc != "" {
		c, err := strconv.Atoi(conc)
		if err != nil || c <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_CONCURRENCY: %s", conc)
		}
		cfg.DispatchConcurrency = c
	}

	if timeout := os.Getenv("SEND_TIMEOUT_SECONDS"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil || t <= 0 {
			return nil, fmt.Errorf("invalid SEND_TIMEOUT_SECONDS: %s", timeout)
		}
		cfg.SendTimeoutSeconds = t
	}

	if expiry := os.Getenv("CLAIM_EXPIRY_MINUTES"); expiry != "" {
		e, err := strconv.Atoi(expiry)
		if err != nil || e <= 0 {
			return nil, fmt.Errorf("invalid CLAIM_EXPIRY_MINUTES: %s", expiry)
		}
		cfg.ClaimExpiryMinutes = e
	}

	if poll := os.Getenv("DISPATCH_POLL_SECONDS"); poll != "" {
		p, err := strconv.Atoi(poll)
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("invalid DISPATCH_POLL_SECONDS: %s", poll)
		}
		cfg.DispatchPollSeconds = p
	}

	if poll := os.Getenv("TRIGGER_POLL_SECONDS"); poll != "" {
		p, err := strconv.Atoi(poll)
		if err != nil || p < 0 {
			return nil, fmt.Errorf("invalid TRIGGER_POLL_SECONDS: %s", poll)
		}
		cfg.TriggerPollSeconds = p
	}

	return cfg, nil
}
