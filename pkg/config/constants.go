package config

const (
	EnvPrefix = "OAKLINE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres   = "postgres"
	DriverSQLite     = "sqlite"
	DefaultSQLiteDSN = "file:oakline.db?cache=shared&_busy_timeout=5000"

	EnvAppEnv   = "OAKLINE_APP_ENV"
	EnvPort     = "OAKLINE_APP_PORT"
	EnvDBDSN    = "OAKLINE_DB_DSN"
	EnvDBHost   = "OAKLINE_DB_HOST"
	EnvDBUser   = "OAKLINE_DB_USER"
	EnvDBName   = "OAKLINE_DB_NAME"
	EnvRedisURL = "OAKLINE_REDIS_URL"
	EnvUseSQL   = "OAKLINE_USE_SQLITE"

	EnvStripeAPIKey = "OAKLINE_STRIPE_API_KEY"
	EnvStripeSecret = "OAKLINE_STRIPE_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
