package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv             = "KEYHAVEN_APP_ENV"
	EnvPort               = "KEYHAVEN_APP_PORT"
	EnvDBDSN              = "KEYHAVEN_DB_DSN"
	EnvDBHost             = "KEYHAVEN_DB_HOST"
	EnvDBUser             = "KEYHAVEN_DB_USER"
	EnvDBName             = "KEYHAVEN_DB_NAME"
	EnvRedisURL           = "KEYHAVEN_REDIS_URL"
	EnvJWTSecret          = "KEYHAVEN_JWT_SECRET"
	EnvJWTIssuer          = "KEYHAVEN_JWT_ISSUER"
	EnvJWTExpMins         = "KEYHAVEN_JWT_EXPIRATION_MINUTES"
	EnvGCPProjectID       = "KEYHAVEN_GCP_PROJECT_ID"
	EnvPubSubLicenseTopic = "KEYHAVEN_PUBSUB_LICENSE_TOPIC"
	EnvPubSubLicenseSub   = "KEYHAVEN_PUBSUB_LICENSE_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Licensing    LicensingConfig
	API          APIConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KEYHAVEN_APP_ENV" required:"true"`
	Port         string `envconfig:"KEYHAVEN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"KEYHAVEN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KEYHAVEN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"KEYHAVEN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KEYHAVEN_DB_DSN"`
	Driver string `envconfig:"KEYHAVEN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KEYHAVEN_DB_HOST"`
	LegacyPort     int    `envconfig:"KEYHAVEN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KEYHAVEN_DB_USER"`
	LegacyPassword string `envconfig:"KEYHAVEN_DB_PASSWORD"`
	LegacyName     string `envconfig:"KEYHAVEN_DB_NAME"`
	LegacySSLMode  string `envconfig:"KEYHAVEN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KEYHAVEN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KEYHAVEN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KEYHAVEN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KEYHAVEN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KEYHAVEN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KEYHAVEN_REDIS_ADDR"`
	Password     string        `envconfig:"KEYHAVEN_REDIS_PASSWORD"`
	DB           int           `envconfig:"KEYHAVEN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KEYHAVEN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KEYHAVEN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KEYHAVEN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KEYHAVEN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KEYHAVEN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"KEYHAVEN_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"KEYHAVEN_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"KEYHAVEN_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"KEYHAVEN_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"KEYHAVEN_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KEYHAVEN_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"KEYHAVEN_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"KEYHAVEN_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LicenseTopic             string `envconfig:"KEYHAVEN_PUBSUB_LICENSE_TOPIC" required:"true"`
	LicenseSubscription      string `envconfig:"KEYHAVEN_PUBSUB_LICENSE_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"KEYHAVEN_PUBSUB_NOTIFICATION_TOPIC" default:"kh-notification-events"`
	NotificationSubscription string `envconfig:"KEYHAVEN_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"KEYHAVEN_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"KEYHAVEN_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"KEYHAVEN_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval      time.Duration `envconfig:"KEYHAVEN_CRON_INTERVAL" default:"1m"`
	SweepBatch    int           `envconfig:"KEYHAVEN_CRON_SWEEP_BATCH" default:"200"`
	WarningWindow time.Duration `envconfig:"KEYHAVEN_CRON_WARNING_WINDOW" default:"168h"`

	OutboxRetentionDays int `envconfig:"KEYHAVEN_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

type APIConfig struct {
	CORSOrigins          []string      `envconfig:"KEYHAVEN_API_CORS_ORIGINS"`
	ValidateRateWindow   time.Duration `envconfig:"KEYHAVEN_API_VALIDATE_RATE_WINDOW" default:"1m"`
	ValidateRateIPLimit  int           `envconfig:"KEYHAVEN_API_VALIDATE_RATE_IP_LIMIT" default:"120"`
	ValidateRateKeyLimit int           `envconfig:"KEYHAVEN_API_VALIDATE_RATE_KEY_LIMIT" default:"60"`
}

type LicensingConfig struct {
	KeyInsertAttempts int `envconfig:"KEYHAVEN_LICENSE_KEY_INSERT_ATTEMPTS" default:"5"`
	WriteRetries      int `envconfig:"KEYHAVEN_LICENSE_WRITE_RETRIES" default:"3"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
