package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations
// and counts.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret string // secret used to verify JWTs issued by the member portal

	PaymentProvider      string // active gateway: "widgetpay" or "approvepay"
	PaymentClientKey     string // public key handed to the browser checkout widget
	PaymentSecretKey     string // secret key for server-to-server provider calls
	PaymentBaseURL       string // provider API base URL
	PaymentWebhookSecret string // shared secret for webhook signature checks
	PaymentTimeoutSec    int    // per-request timeout for provider calls in seconds
	PaymentMaxRetries    int    // retry budget for transient provider failures

	SuccessURL string // browser redirect target after an approved checkout
	FailURL    string // browser redirect target after a failed checkout

	RabbitURL string // AMQP connection string; empty disables notification events

	ReconcileIntervalSec int // how often the reconcile worker scans, in seconds
	PendingTimeoutSec    int // age after which a pending payment is reconciled, in seconds
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:  must("APP_ENV"),  // environment (dev/test/prod)
		Port: must("APP_PORT"), // port to bind the HTTP server

		DBUser: must("DB_USER"),      // database user
		DBPass: os.Getenv("DB_PASS"), // database password (empty allowed)
		DBHost: must("DB_HOST"),      // database host
		DBPort: must("DB_PORT"),      // database port
		DBName: must("DB_NAME"),      // database name

		JWTSecret: must("JWT_SECRET"), // secret used for verifying JWTs

		PaymentProvider:      must("PAYMENT_PROVIDER"),       // which gateway to wire
		PaymentClientKey:     must("PAYMENT_CLIENT_KEY"),     // widget client key
		PaymentSecretKey:     must("PAYMENT_SECRET_KEY"),     // provider API secret
		PaymentBaseURL:       must("PAYMENT_BASE_URL"),       // provider API base URL
		PaymentWebhookSecret: must("PAYMENT_WEBHOOK_SECRET"), // webhook HMAC secret
		PaymentTimeoutSec:    mustInt("PAYMENT_TIMEOUT_SEC"), // provider call timeout
		PaymentMaxRetries:    mustInt("PAYMENT_MAX_RETRIES"), // provider retry budget

		SuccessURL: must("CHECKOUT_SUCCESS_URL"), // checkout success redirect
		FailURL:    must("CHECKOUT_FAIL_URL"),    // checkout failure redirect

		RabbitURL: os.Getenv("RABBITMQ_URL"), // AMQP broker (optional)

		ReconcileIntervalSec: mustInt("RECONCILE_INTERVAL_SEC"), // worker scan period
		PendingTimeoutSec:    mustInt("PENDING_TIMEOUT_SEC"),    // pending payment age limit
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
