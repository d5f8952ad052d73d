package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Checkout     CheckoutConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Sendgrid     SendgridConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"OAKLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"OAKLINE_APP_PORT" required:"true"`
	PublicURL    string `envconfig:"OAKLINE_PUBLIC_URL" default:"http://localhost:3000"`
	LogLevel     string `envconfig:"OAKLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"OAKLINE_LOG_WARN_STACK" default:"false"`
	MetricsAddr  string `envconfig:"OAKLINE_METRICS_ADDR"`

	AdminToken      string        `envconfig:"OAKLINE_ADMIN_TOKEN"`
	CORSOrigins     []string      `envconfig:"OAKLINE_CORS_ORIGINS" default:"http://localhost:3000"`
	PublicRateLimit int           `envconfig:"OAKLINE_PUBLIC_RATE_LIMIT" default:"120"`
	PublicRateWin   time.Duration `envconfig:"OAKLINE_PUBLIC_RATE_WINDOW" default:"1m"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN    string `envconfig:"OAKLINE_DB_DSN"`
	Driver string `envconfig:"OAKLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"OAKLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"OAKLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"OAKLINE_DB_USER"`
	LegacyPassword string `envconfig:"OAKLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"OAKLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"OAKLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"OAKLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"OAKLINE_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"OAKLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"OAKLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"OAKLINE_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"OAKLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"OAKLINE_REDIS_ADDR"`
	Password     string        `envconfig:"OAKLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"OAKLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"OAKLINE_REDIS_POOL_SIZE" default:"5"`
	MinIdleConns int           `envconfig:"OAKLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"OAKLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"OAKLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"OAKLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"OAKLINE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"OAKLINE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"OAKLINE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

// CheckoutConfig controls reservation lifetime and the expiry sweep.
type CheckoutConfig struct {
	ReservationTTL      time.Duration `envconfig:"OAKLINE_CHECKOUT_RESERVATION_TTL" default:"30m"`
	ExpiryBatchSize     int           `envconfig:"OAKLINE_CHECKOUT_EXPIRY_BATCH_SIZE" default:"50"`
	RateLimitWindow     time.Duration `envconfig:"OAKLINE_CHECKOUT_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerUser    int           `envconfig:"OAKLINE_CHECKOUT_RATE_LIMIT_PER_USER" default:"5"`
	DefaultCurrency     string        `envconfig:"OAKLINE_CHECKOUT_CURRENCY" default:"usd"`
	CronIntervalSeconds int           `envconfig:"OAKLINE_CRON_INTERVAL_SECONDS" default:"60"`
}

type PubSubConfig struct {
	ProjectID   string `envconfig:"OAKLINE_GCP_PROJECT_ID"`
	DomainTopic string `envconfig:"OAKLINE_PUBSUB_DOMAIN_TOPIC" default:"oakline-domain-events"`
	DLQTopic    string `envconfig:"OAKLINE_PUBSUB_DLQ_TOPIC" default:"oakline-domain-events-dlq"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"OAKLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"OAKLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"OAKLINE_OUTBOX_MAX_ATTEMPTS" default:"5"`
	RetentionDays  int `envconfig:"OAKLINE_OUTBOX_RETENTION_DAYS" default:"30"`
	// NotifyChannel is the Postgres LISTEN channel the outbox insert trigger
	// signals. Empty disables listening and the publisher only polls.
	NotifyChannel string `envconfig:"OAKLINE_OUTBOX_NOTIFY_CHANNEL" default:"outbox_events"`
}

type StripeConfig struct {
	APIKey     string `envconfig:"OAKLINE_STRIPE_API_KEY"`
	Secret     string `envconfig:"OAKLINE_STRIPE_SECRET"`
	Env        string `envconfig:"OAKLINE_STRIPE_ENV" default:"test"`
	SuccessURL string `envconfig:"OAKLINE_STRIPE_SUCCESS_URL" default:"http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL  string `envconfig:"OAKLINE_STRIPE_CANCEL_URL" default:"http://localhost:3000/cart"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SendgridConfig struct {
	APIKey      string `envconfig:"OAKLINE_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"OAKLINE_SENDGRID_FROM_EMAIL" default:"orders@oakline.example"`
	FromName    string `envconfig:"OAKLINE_SENDGRID_FROM_NAME" default:"Oakline"`
}

// Enabled reports whether transactional email can be sent.
func (s SendgridConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.Driver = DriverSQLite
		db.DSN = DefaultSQLiteDSN
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
