package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration required by the API process.
// Values come from the environment (optionally seeded from a .env file by
// cmd/api). No business logic should read raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	LiveKit   LiveKitConfig
	Calls     CallsConfig
	Signaling SignalingConfig
}

type AppConfig struct {
	Env  string `env:"APP_ENV"`
	Port int    `env:"APP_PORT" env-default:"8080"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" env-default:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `env:"DB_SSLMODE"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT" env-default:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type AuthConfig struct {
	JWTSecret       string        `env:"JWT_SECRET"`
	JWTIssuer       string        `env:"JWT_ISSUER"`
	JWTAudience     string        `env:"JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TTL"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TTL"`
}

type LiveKitConfig struct {
	ServerURL string        `env:"LIVEKIT_URL"`
	APIKey    string        `env:"LIVEKIT_API_KEY"`
	APISecret string        `env:"LIVEKIT_API_SECRET"`
	TokenTTL  time.Duration `env:"LIVEKIT_TOKEN_TTL" env-default:"1h"`
}

type CallsConfig struct {
	RingTimeout   time.Duration `env:"CALL_RING_TIMEOUT" env-default:"60s"`
	MaxDuration   time.Duration `env:"CALL_MAX_DURATION" env-default:"4h"`
	StaleRinging  time.Duration `env:"CALL_STALE_RINGING" env-default:"2m"`
	SweepInterval time.Duration `env:"CALL_SWEEP_INTERVAL" env-default:"5m"`
	TimerWorkers  int           `env:"CALL_TIMER_WORKERS" env-default:"10"`
	InitiateRate  int           `env:"CALL_INITIATE_RATE" env-default:"10"`
	InitiateBurst int           `env:"CALL_INITIATE_BURST" env-default:"3"`
	// local or redis
	LockBackend string `env:"CALL_LOCK_BACKEND" env-default:"local"`
}

type SignalingConfig struct {
	// local or redis
	Fanout       string `env:"SIGNALING_FANOUT" env-default:"local"`
	RedisChannel string `env:"SIGNALING_REDIS_CHANNEL" env-default:"calls:signaling"`
	SendBuffer   int    `env:"SIGNALING_SEND_BUFFER" env-default:"32"`
}

func Load() (Config, error) {
	var c Config
	if err := cleanenv.ReadEnv(&c); err != nil {
		return Config{}, err
	}
	trim(&c)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func trim(c *Config) {
	for _, s := range []*string{
		&c.App.Env, &c.DB.Host, &c.DB.User, &c.DB.Name, &c.DB.SSLMode, &c.Redis.Host,
		&c.Auth.JWTIssuer, &c.Auth.JWTAudience, &c.LiveKit.ServerURL, &c.LiveKit.APIKey,
		&c.Calls.LockBackend, &c.Signaling.Fanout,
	} {
		*s = strings.TrimSpace(*s)
	}
}

// Validate reports every problem at once and fills environment-dependent
// defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.NeedsRedis() {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when CALL_LOCK_BACKEND or SIGNALING_FANOUT is redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.LiveKit.ServerURL == "" {
		errs = append(errs, errors.New("LIVEKIT_URL is required"))
	}
	if c.LiveKit.APIKey == "" {
		errs = append(errs, errors.New("LIVEKIT_API_KEY is required"))
	}
	if len(c.LiveKit.APISecret) < 32 {
		errs = append(errs, errors.New("LIVEKIT_API_SECRET must be at least 32 characters"))
	}

	if c.Calls.RingTimeout <= 0 {
		errs = append(errs, errors.New("CALL_RING_TIMEOUT must be positive"))
	}
	if c.Calls.StaleRinging < c.Calls.RingTimeout {
		// a sweep must never beat the ring timer
		c.Calls.StaleRinging = 2 * c.Calls.RingTimeout
	}
	if c.Calls.MaxDuration <= 0 {
		c.Calls.MaxDuration = 4 * time.Hour
	}
	if c.Calls.SweepInterval <= 0 {
		c.Calls.SweepInterval = 5 * time.Minute
	}
	if c.Calls.TimerWorkers <= 0 {
		c.Calls.TimerWorkers = 10
	}
	if c.Calls.InitiateRate <= 0 {
		errs = append(errs, fmt.Errorf("CALL_INITIATE_RATE must be positive, got %d", c.Calls.InitiateRate))
	}
	if c.Calls.InitiateBurst <= 0 {
		c.Calls.InitiateBurst = 1
	}
	if !isBackend(c.Calls.LockBackend) {
		errs = append(errs, fmt.Errorf("CALL_LOCK_BACKEND must be local or redis, got %q", c.Calls.LockBackend))
	}
	if !isBackend(c.Signaling.Fanout) {
		errs = append(errs, fmt.Errorf("SIGNALING_FANOUT must be local or redis, got %q", c.Signaling.Fanout))
	}
	if c.Signaling.SendBuffer <= 0 {
		c.Signaling.SendBuffer = 32
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsDevelopment gates development-only endpoints such as token issuance.
func (c Config) IsDevelopment() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) NeedsRedis() bool {
	return c.Calls.LockBackend == "redis" || c.Signaling.Fanout == "redis"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isBackend(v string) bool {
	return v == "local" || v == "redis"
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
