package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	GCP        GCPConfig
	GCS        GCSConfig
	PubSub     PubSubConfig
	BigQuery   BigQueryConfig
	OpenAI     OpenAIConfig
	Pipeline   PipelineConfig
	Escalation EscalationConfig
	Cron       CronConfig
	Outbox     OutboxConfig

	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"BRANDVAULT_APP_ENV" required:"true"`
	Port         string `envconfig:"BRANDVAULT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BRANDVAULT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BRANDVAULT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BRANDVAULT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BRANDVAULT_AUTO_MIGRATE" default:"false"`
	AutoRepair  bool `envconfig:"BRANDVAULT_FEATURE_AUTO_REPAIR" default:"true"`
}

type ServiceConfig struct {
	Kind string `envconfig:"BRANDVAULT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BRANDVAULT_DB_DSN"`
	Driver string `envconfig:"BRANDVAULT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BRANDVAULT_DB_HOST"`
	LegacyPort     int    `envconfig:"BRANDVAULT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BRANDVAULT_DB_USER"`
	LegacyPassword string `envconfig:"BRANDVAULT_DB_PASSWORD"`
	LegacyName     string `envconfig:"BRANDVAULT_DB_NAME"`
	LegacySSLMode  string `envconfig:"BRANDVAULT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BRANDVAULT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BRANDVAULT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BRANDVAULT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BRANDVAULT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BRANDVAULT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BRANDVAULT_REDIS_ADDR"`
	Password     string        `envconfig:"BRANDVAULT_REDIS_PASSWORD"`
	DB           int           `envconfig:"BRANDVAULT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BRANDVAULT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BRANDVAULT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BRANDVAULT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BRANDVAULT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BRANDVAULT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BRANDVAULT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BRANDVAULT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BRANDVAULT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BRANDVAULT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BRANDVAULT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BRANDVAULT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PipelineTopic        string `envconfig:"BRANDVAULT_PUBSUB_PIPELINE_TOPIC" required:"true"`
	PipelineSubscription string `envconfig:"BRANDVAULT_PUBSUB_PIPELINE_SUBSCRIPTION" required:"true"`
	TriageTopic          string `envconfig:"BRANDVAULT_PUBSUB_TRIAGE_TOPIC" required:"true"`
	TriageSubscription   string `envconfig:"BRANDVAULT_PUBSUB_TRIAGE_SUBSCRIPTION" required:"true"`
	DomainTopic          string `envconfig:"BRANDVAULT_PUBSUB_DOMAIN_TOPIC" required:"true"`
	DomainSubscription   string `envconfig:"BRANDVAULT_PUBSUB_DOMAIN_SUBSCRIPTION"`
}

type GCSConfig struct {
	BucketName string `envconfig:"BRANDVAULT_GCS_BUCKET"`
}

type BigQueryConfig struct {
	Dataset             string `envconfig:"BRANDVAULT_BIGQUERY_DATASET" default:"brandvault"`
	ActivityEventsTable string `envconfig:"BRANDVAULT_BIGQUERY_ACTIVITY_TABLE" default:"activity_events"`
}

type OpenAIConfig struct {
	APIKey string `envconfig:"BRANDVAULT_OPENAI_API_KEY"`
	Model  string `envconfig:"BRANDVAULT_OPENAI_MODEL" default:"gpt-4o-mini"`
}

type PipelineConfig struct {
	StuckAfter        time.Duration `envconfig:"BRANDVAULT_PIPELINE_STUCK_AFTER" default:"30m"`
	ReconcileLeaseTTL time.Duration `envconfig:"BRANDVAULT_PIPELINE_RECONCILE_LEASE_TTL" default:"30s"`
	TraceMaxChars     int           `envconfig:"BRANDVAULT_PIPELINE_TRACE_MAX_CHARS" default:"2000"`
}

type EscalationConfig struct {
	FailureThreshold int `envconfig:"BRANDVAULT_ESCALATION_FAILURE_THRESHOLD" default:"3"`
	TriageThreshold  int `envconfig:"BRANDVAULT_ESCALATION_TRIAGE_THRESHOLD" default:"2"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"BRANDVAULT_CRON_INTERVAL" default:"15m"`
	PendingRetentionDays  int           `envconfig:"BRANDVAULT_CRON_PENDING_RETENTION_DAYS" default:"7"`
	IncidentRetentionDays int           `envconfig:"BRANDVAULT_CRON_INCIDENT_RETENTION_DAYS" default:"30"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"BRANDVAULT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"BRANDVAULT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"BRANDVAULT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	IdempotencyTTL time.Duration `envconfig:"BRANDVAULT_OUTBOX_IDEMPOTENCY_TTL" default:"24h"`
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
