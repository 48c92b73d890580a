package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"clover-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"clover"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseReconnectRetryCount   int           `env:"DB_RECONNECT_RETRY_COUNT" env-default:"3"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis (token store + entity locks)
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	RedisTLS      bool   `env:"REDIS_TLS" env-default:"false"`

	// Bitrix24 portal
	BitrixPortalURL    string `env:"BITRIX_PORTAL_URL" env-default:""`
	BitrixClientID     string `env:"BITRIX_CLIENT_ID" env-default:""`
	BitrixClientSecret string `env:"BITRIX_CLIENT_SECRET" env-default:""`
	BitrixRedirectURI  string `env:"BITRIX_REDIRECT_URI" env-default:""`
	// Portal user the OAuth grant belongs to
	BitrixUserID int `env:"BITRIX_USER_ID" env-default:"1"`
	// 32-byte key for token encryption at rest
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY" env-default:""`

	// Webhook verification: "token1:domain1,token2:domain2"
	WebhookTokenDomains []string      `env:"WEBHOOK_TOKEN_DOMAINS" env-default:""`
	WebhookMaxAge       time.Duration `env:"WEBHOOK_MAX_AGE" env-default:"5m"`

	// Entity lock settings
	LockLease      time.Duration `env:"LOCK_LEASE" env-default:"30s"`
	LockMaxRetries int           `env:"LOCK_MAX_RETRIES" env-default:"5"`
	LockBaseDelay  time.Duration `env:"LOCK_BASE_DELAY" env-default:"100ms"`
	LockMaxDelay   time.Duration `env:"LOCK_MAX_DELAY" env-default:"2s"`

	// AMQP broker (price-request pipeline)
	BrokerHost        string        `env:"BROKER_HOST" env-default:"localhost"`
	BrokerPort        int           `env:"BROKER_PORT" env-default:"5672"`
	BrokerUser        string        `env:"BROKER_USER" env-default:"guest"`
	BrokerPassword    string        `env:"BROKER_PASSWORD" env-default:"guest"`
	BrokerVHost       string        `env:"BROKER_VHOST" env-default:"/"`
	BrokerExchange    string        `env:"BROKER_EXCHANGE" env-default:"price-requests"`
	BrokerQueue       string        `env:"BROKER_QUEUE" env-default:"price-requests"`
	BrokerRetryDelay  time.Duration `env:"BROKER_RETRY_DELAY" env-default:"30s"`
	BrokerMaxRetries  int           `env:"BROKER_MAX_RETRIES" env-default:"3"`
	ConsumerEnabled   bool          `env:"BROKER_CONSUMER_ENABLED" env-default:"true"`
	SiteRequestURL    string        `env:"SITE_REQUEST_URL" env-default:"http://localhost:3004/site-request"`

	// IMAP price-request mailbox
	IMAPHost         string        `env:"IMAP_HOST" env-default:""`
	IMAPPort         int           `env:"IMAP_PORT" env-default:"993"`
	IMAPUser         string        `env:"IMAP_USER" env-default:""`
	IMAPPassword     string        `env:"IMAP_PASSWORD" env-default:""`
	IMAPFolder       string        `env:"IMAP_FOLDER" env-default:"INBOX"`
	IMAPTargetSender string        `env:"IMAP_TARGET_SENDER" env-default:""`
	IMAPPollInterval time.Duration `env:"IMAP_POLL_INTERVAL" env-default:"1m"`
	IMAPMaxBackoff   time.Duration `env:"IMAP_MAX_BACKOFF" env-default:"5m"`
	MailerEnabled    bool          `env:"MAILER_ENABLED" env-default:"false"`

	// Kafka sync-event emitter
	KafkaBrokers        []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaSyncEventTopic string   `env:"KAFKA_SYNC_EVENT_TOPIC" env-default:"crm-sync-events"`
	KafkaEmitterEnabled bool     `env:"KAFKA_EMITTER_ENABLED" env-default:"true"`

	// Site-request routing
	// Managers eligible for new site requests, in tie-break order
	ManagerIDs []int `env:"MANAGER_IDS" env-default:""`
	// Service user recorded as author of programmatic changes
	ServiceUserID int `env:"SERVICE_USER_ID" env-default:"1"`

	// Test mode: webhooks for deals other than TestDealID are skipped
	TestMode   bool `env:"TEST_MODE" env-default:"false"`
	TestDealID int  `env:"TEST_DEAL_ID" env-default:"0"`

	// Tracing
	OTLPEnabled  bool   `env:"OTLP_ENABLED" env-default:"false"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool   `env:"OTLP_INSECURE" env-default:"true"`
}
