package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Server    ServerConfig
	Session   SessionConfig
	Auth      AuthConfig
	TwoFactor TwoFactorConfig
	MagicLink MagicLinkConfig
	Breach    BreachConfig
	Email     EmailConfig
	OAuth     OAuthConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	// StatementTimeout bounds every statement server side; zero disables it
	StatementTimeout time.Duration
	AutoMigrate      bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds dial, read and write of every Redis command
	Timeout time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	BaseURL        string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type SessionConfig struct {
	CookieName  string
	IdleTTL     time.Duration
	RememberTTL time.Duration
	Secure      bool
}

// AuthConfig holds the throttling policy for credential checks.
type AuthConfig struct {
	RateLimitBackend        string // "redis" or "postgres"
	BcryptCost              int
	LoginMaxAttempts        int
	LoginDecay              time.Duration
	SecondFactorMaxAttempts int
	SecondFactorDecay       time.Duration
	VerificationMaxAttempts int
	VerificationDecay       time.Duration
	VerificationTokenTTL    time.Duration
	ResetMaxAttempts        int
	ResetDecay              time.Duration
	ResetTokenTTL           time.Duration
	RequestsPerMinutePerIP  int
	CleanupInterval         time.Duration
	TimingDelayBaseMs       int
	TimingDelayRandomMs     int
	SecurityEventRetention  time.Duration
}

type TwoFactorConfig struct {
	Issuer        string
	EncryptionKey []byte
	ChallengeTTL  time.Duration
}

type MagicLinkConfig struct {
	TTL time.Duration
}

type BreachConfig struct {
	Enabled   bool
	BaseURL   string
	Timeout   time.Duration
	Threshold int
}

type EmailConfig struct {
	Driver      string // "ses" or "log"
	FromAddress string
	AWSRegion   string
}

type OAuthConfig struct {
	StateSecret string
	StateTTL    time.Duration
	Timeout     time.Duration
	Providers   map[string]OAuthProviderConfig
}

type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// SupportedProviders lists the providers that can be configured through
// OAUTH_<NAME>_CLIENT_ID style variables.
var SupportedProviders = []string{"google", "github", "facebook", "vkontakte", "yandex", "mailru"}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	encryptionKey, err := parseEncryptionKey(getEnv("TWO_FACTOR_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	stateSecret := getEnv("OAUTH_STATE_SECRET", "")
	if stateSecret == "" {
		return nil, fmt.Errorf("OAUTH_STATE_SECRET is required")
	}

	baseURL := strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8080"), "/")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ConnectTimeout:    getEnvAsDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
			StatementTimeout:  getEnvAsDuration("DB_STATEMENT_TIMEOUT", 5*time.Second),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Timeout:  getEnvAsDuration("REDIS_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			BaseURL:        baseURL,
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Session: SessionConfig{
			CookieName:  getEnv("SESSION_COOKIE_NAME", "warden_session"),
			IdleTTL:     getEnvAsDuration("SESSION_IDLE_TTL", 2*time.Hour),
			RememberTTL: getEnvAsDuration("SESSION_REMEMBER_TTL", 30*24*time.Hour),
			Secure:      env == "production",
		},
		Auth: AuthConfig{
			RateLimitBackend:        getEnv("RATE_LIMIT_BACKEND", "redis"),
			BcryptCost:              getEnvAsInt("BCRYPT_COST", 14),
			LoginMaxAttempts:        getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
			LoginDecay:              getEnvAsDuration("LOGIN_DECAY", time.Minute),
			SecondFactorMaxAttempts: getEnvAsInt("TWO_FACTOR_MAX_ATTEMPTS", 5),
			SecondFactorDecay:       getEnvAsDuration("TWO_FACTOR_DECAY", time.Minute),
			VerificationMaxAttempts: getEnvAsInt("VERIFICATION_MAX_ATTEMPTS", 2),
			VerificationDecay:       getEnvAsDuration("VERIFICATION_DECAY", time.Minute),
			VerificationTokenTTL:    getEnvAsDuration("VERIFICATION_TOKEN_TTL", 24*time.Hour),
			ResetMaxAttempts:        getEnvAsInt("PASSWORD_RESET_MAX_ATTEMPTS", 3),
			ResetDecay:              getEnvAsDuration("PASSWORD_RESET_DECAY", 15*time.Minute),
			ResetTokenTTL:           getEnvAsDuration("PASSWORD_RESET_TOKEN_TTL", time.Hour),
			RequestsPerMinutePerIP:  getEnvAsInt("REQUESTS_PER_MINUTE_PER_IP", 60),
			CleanupInterval:         getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			TimingDelayBaseMs:       getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs:     getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50),
			SecurityEventRetention:  getEnvAsDuration("SECURITY_EVENT_RETENTION", 90*24*time.Hour),
		},
		TwoFactor: TwoFactorConfig{
			Issuer:        getEnv("TWO_FACTOR_ISSUER", "Warden"),
			EncryptionKey: encryptionKey,
			ChallengeTTL:  getEnvAsDuration("TWO_FACTOR_CHALLENGE_TTL", 10*time.Minute),
		},
		MagicLink: MagicLinkConfig{
			TTL: getEnvAsDuration("MAGIC_LINK_TTL", 30*time.Minute),
		},
		Breach: BreachConfig{
			Enabled:   getEnvAsBool("BREACH_CHECK_ENABLED", true),
			BaseURL:   getEnv("BREACH_CHECK_URL", "https://api.pwnedpasswords.com"),
			Timeout:   getEnvAsDuration("BREACH_CHECK_TIMEOUT", 3*time.Second),
			Threshold: getEnvAsInt("BREACH_CHECK_THRESHOLD", 1),
		},
		Email: EmailConfig{
			Driver:      getEnv("EMAIL_DRIVER", "log"),
			FromAddress: getEnv("EMAIL_FROM", "no-reply@localhost"),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
		},
		OAuth: OAuthConfig{
			StateSecret: stateSecret,
			StateTTL:    getEnvAsDuration("OAUTH_STATE_TTL", 10*time.Minute),
			Timeout:     getEnvAsDuration("OAUTH_TIMEOUT", 5*time.Second),
			Providers:   loadOAuthProviders(baseURL),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Database.StatementTimeout < 0 || cfg.Database.ConnectTimeout <= 0 {
		return nil, fmt.Errorf("DB_CONNECT_TIMEOUT must be positive and DB_STATEMENT_TIMEOUT must not be negative")
	}

	if err := validateStateSecret(stateSecret, env); err != nil {
		return nil, err
	}

	switch cfg.Auth.RateLimitBackend {
	case "redis", "postgres":
	default:
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be redis or postgres (got %q)", cfg.Auth.RateLimitBackend)
	}

	return cfg, nil
}

// parseEncryptionKey decodes the AES-256 key used to seal second factor
// secrets and provider tokens.
func parseEncryptionKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("TWO_FACTOR_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("TWO_FACTOR_ENCRYPTION_KEY must be base64 encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TWO_FACTOR_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

// validateStateSecret enforces minimum security standards for the OAuth state signing key
func validateStateSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("OAUTH_STATE_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("OAUTH_STATE_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// loadOAuthProviders enables every provider whose client id and secret are set.
func loadOAuthProviders(baseURL string) map[string]OAuthProviderConfig {
	providers := make(map[string]OAuthProviderConfig)
	for _, name := range SupportedProviders {
		prefix := "OAUTH_" + strings.ToUpper(name) + "_"
		clientID := getEnv(prefix+"CLIENT_ID", "")
		clientSecret := getEnv(prefix+"CLIENT_SECRET", "")
		if clientID == "" || clientSecret == "" {
			continue
		}
		providers[name] = OAuthProviderConfig{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  getEnv(prefix+"REDIRECT_URL", baseURL+"/auth/oauth/"+name+"/callback"),
		}
	}
	return providers
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RuntimeParams returns the session settings applied to every pooled
// connection. Postgres takes statement_timeout in milliseconds.
func (c *DatabaseConfig) RuntimeParams() map[string]string {
	params := map[string]string{"application_name": "warden"}
	if c.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10)
	}
	return params
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(value string) []string {
	if value == "" {
		return []string{}
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return parseList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
