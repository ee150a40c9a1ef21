package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"time"
)

// Config holds all runtime configuration values. Each field corresponds to an
// environment variable. Access and refresh tokens are signed with independent
// secrets so that leaking one does not compromise the other token class.
type Config struct {
	Env    string // application environment (e.g. "dev", "prod")
	Port   string // HTTP port to listen on
	Domain string // public base URL used when building email links

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	AccessSecret  string        // secret used to sign access tokens
	RefreshSecret string        // secret used to sign refresh tokens
	AccessTTL     time.Duration // access token lifetime; cookie lifetime matches
	RefreshTTL    time.Duration // refresh token lifetime
	OneTimeTTL    time.Duration // email verification / password reset token lifetime
	BcryptCost    int           // bcrypt cost for password hashing

	// Policy flags. Both default to off: the looser behavior is what the
	// product has shipped with, the stricter one is opt-in per deployment.
	RequireVerifiedLogin bool // reject credential login until the email is verified
	UniqueUsername       bool // enforce username uniqueness at signup

	SMTPHost string // outbound mail relay host
	SMTPPort string // outbound mail relay port
	SMTPUser string // relay username (optional)
	SMTPPass string // relay password (optional)
	MailFrom string // From address on verification/reset mail
}

// Load reads configuration values from environment variables and returns a
// Config. Required variables are enforced by must() and missing values cause
// the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:    must("APP_ENV"),
		Port:   must("APP_PORT"),
		Domain: envStr("APP_DOMAIN", "http://localhost:8080"),

		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),

		AccessSecret:  must("TOKEN_SECRET"),
		RefreshSecret: must("REFRESH_TOKEN_SECRET"),
		AccessTTL:     envDur("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTTL:    envDur("REFRESH_TOKEN_TTL", 5*24*time.Hour),
		OneTimeTTL:    envDur("ONE_TIME_TOKEN_TTL", 10*time.Minute),
		BcryptCost:    envInt("BCRYPT_COST", 10),

		RequireVerifiedLogin: envBool("REQUIRE_VERIFIED_LOGIN", false),
		UniqueUsername:       envBool("UNIQUE_USERNAME", false),

		SMTPHost: envStr("SMTP_HOST", "sandbox.smtp.mailtrap.io"),
		SMTPPort: envStr("SMTP_PORT", "2525"),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),
		MailFrom: envStr("MAIL_FROM", "no-reply@taskpilot.app"),
	}
}

// IsProd reports whether the app runs in production mode. Cookies carry the
// Secure attribute only in production.
func (c Config) IsProd() bool { return c.Env == "prod" || c.Env == "production" }

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// envStr, envBool, envInt and envDur live in ratelimit.go and are shared by
// every loader in this package.
