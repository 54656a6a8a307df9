package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Session   SessionConfig
	Telephony TelephonyConfig
	ML        MLConfig
}

type AppConfig struct {
	Env  string
	Port int

	// BaseURL is the publicly reachable base used to build answer and
	// webhook URLs handed to the telephony provider. Must not end with "/".
	BaseURL string

	// GreetingAudioURL is optional; when set the connect-human document
	// plays it instead of the synthesized greeting.
	GreetingAudioURL string

	// MaxActiveCallsPerUser caps concurrent outbound calls per user.
	MaxActiveCallsPerUser int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type SessionConfig struct {
	// AuthServiceURL is the base URL of the external auth service used for
	// session-cookie introspection.
	AuthServiceURL string

	// JWTSecret enables local verification of session tokens minted by the
	// auth service. When empty, every request is introspected remotely.
	JWTSecret string
}

type TelephonyConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

type MLConfig struct {
	// ServiceURL may be given with an http(s) or ws(s) scheme; REST and
	// stream base URLs are derived by protocol substitution.
	ServiceURL string
	APIKey     string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_BASE_URL")), "/")
	if c.App.BaseURL == "" {
		// Legacy deployments exported the app base under the auth service name.
		c.App.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("AUTH_URL")), "/")
	}
	c.App.GreetingAudioURL = strings.TrimSpace(os.Getenv("GREETING_AUDIO_URL"))
	c.App.MaxActiveCallsPerUser = optionalInt("MAX_ACTIVE_CALLS_PER_USER", 3)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Session.AuthServiceURL = strings.TrimRight(strings.TrimSpace(os.Getenv("AUTH_SERVICE_URL")), "/")
	c.Session.JWTSecret = os.Getenv("SESSION_JWT_SECRET")

	c.Telephony.AccountSID = strings.TrimSpace(os.Getenv("TELEPHONY_ACCOUNT_SID"))
	c.Telephony.AuthToken = os.Getenv("TELEPHONY_AUTH_TOKEN")
	c.Telephony.PhoneNumber = strings.TrimSpace(os.Getenv("TELEPHONY_PHONE_NUMBER"))

	c.ML.ServiceURL = strings.TrimSpace(os.Getenv("ML_SERVICE_URL"))
	c.ML.APIKey = os.Getenv("ML_SERVICE_API_KEY")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

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
	if c.App.BaseURL == "" {
		errs = append(errs, errors.New("APP_BASE_URL is required"))
	}
	if c.App.MaxActiveCallsPerUser <= 0 {
		errs = append(errs, fmt.Errorf("MAX_ACTIVE_CALLS_PER_USER must be > 0, got %d", c.App.MaxActiveCallsPerUser))
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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Session.AuthServiceURL == "" && c.Session.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_SERVICE_URL or SESSION_JWT_SECRET is required"))
	}

	if c.Telephony.AccountSID == "" {
		errs = append(errs, errors.New("TELEPHONY_ACCOUNT_SID is required"))
	}
	if c.Telephony.AuthToken == "" {
		errs = append(errs, errors.New("TELEPHONY_AUTH_TOKEN is required"))
	}
	// TELEPHONY_PHONE_NUMBER and ML_SERVICE_URL are checked at the point of
	// use: a misconfigured originator fails the dial request, and a missing
	// ML base simply disables the ml strategy via fallback.

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
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

// MLRestBase returns the ML service base URL with an http(s) scheme.
// ws:// maps to http://, wss:// to https://; a bare host gets https://.
func (c Config) MLRestBase() string {
	return RestBaseURL(c.ML.ServiceURL)
}

// MLStreamBase returns the ML service base URL with a ws(s) scheme.
func (c Config) MLStreamBase() string {
	return StreamBaseURL(c.ML.ServiceURL)
}

// RestBaseURL normalizes a service URL for REST use by protocol substitution.
func RestBaseURL(raw string) string {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	if s == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(s, "wss://"):
		return "https://" + strings.TrimPrefix(s, "wss://")
	case strings.HasPrefix(s, "ws://"):
		return "http://" + strings.TrimPrefix(s, "ws://")
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return s
	default:
		return "https://" + s
	}
}

// StreamBaseURL normalizes a service URL for WebSocket use.
func StreamBaseURL(raw string) string {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	if s == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(s, "ws://"), strings.HasPrefix(s, "wss://"):
		return s
	case strings.HasPrefix(s, "https://"):
		return "wss://" + strings.TrimPrefix(s, "https://")
	case strings.HasPrefix(s, "http://"):
		return "ws://" + strings.TrimPrefix(s, "http://")
	default:
		return "wss://" + s
	}
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
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
