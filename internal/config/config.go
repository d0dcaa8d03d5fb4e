package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Env string `envconfig:"ENV" default:"development"`

	HTTP     HTTPConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Razorpay RazorpayConfig
	Mail     MailConfig
	Receipt  ReceiptConfig
	OTP      OTPConfig
	S3       S3Config
	Kafka    KafkaConfig
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`

	// browser origins allowed to call the API with credentials.
	AllowedOrigins []string `envconfig:"HTTP_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:3001"`
}

type DatabaseConfig struct {
	// postgreSQL connection string.
	DSN string `envconfig:"DATABASE_DSN" required:"true"`

	// where golang-migrate looks for SQL files.
	MigrationsPath string `envconfig:"DATABASE_MIGRATIONS_PATH" default:"file://migrations"`

	MaxConns int32 `envconfig:"DATABASE_MAX_CONNS" default:"20"`

	MinConns int32 `envconfig:"DATABASE_MIN_CONNS" default:"5"`

	MaxConnLifeTime time.Duration `envconfig:"DATABASE_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"DATABASE_MAX_CONN_IDLE" default:"30m"`
	HealthPeriod    time.Duration `envconfig:"DATABASE_HEALTH_PERIOD" default:"1m"`
}

type RedisConfig struct {
	// host:port, "localhost:6379" for dev, cluster endpoint for prod.
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`

	Namespace string `envconfig:"REDIS_NAMESPACE" default:"dynamic-app"`
}

type JWTConfig struct {
	Secret     string        `envconfig:"JWT_SECRET"`
	AccessTTL  time.Duration `envconfig:"JWT_ACCESS_TTL" default:"24h"`
	RefreshTTL time.Duration `envconfig:"JWT_REFRESH_TTL" default:"168h"`

	// lifetime of the authToken cookie, independent of the token inside it.
	CookieMaxAge time.Duration `envconfig:"JWT_COOKIE_MAX_AGE" default:"168h"`
}

type RazorpayConfig struct {
	KeyID     string `envconfig:"RAZORPAY_KEY_ID"`
	KeySecret string `envconfig:"RAZORPAY_KEY_SECRET"`
}

type MailConfig struct {
	Host     string `envconfig:"SMTP_HOST" default:"localhost"`
	Port     int    `envconfig:"SMTP_PORT" default:"587"`
	Username string `envconfig:"SMTP_USERNAME"`
	Password string `envconfig:"SMTP_PASSWORD"`

	From    string `envconfig:"MAIL_FROM" default:"no-reply@dynamicapp.local"`
	Support string `envconfig:"MAIL_SUPPORT" default:"support@dynamicapp.local"`

	LoginURL string `envconfig:"MAIL_LOGIN_URL" default:"http://localhost:3000/login"`

	Workers   int `envconfig:"MAIL_WORKERS" default:"4"`
	QueueSize int `envconfig:"MAIL_QUEUE_SIZE" default:"100"`
}

type ReceiptConfig struct {
	// base URL printed into receipt QR codes, must be reachable from a phone.
	PublicURL string `envconfig:"RECEIPT_PUBLIC_URL" default:"http://localhost:8080"`
}

type OTPConfig struct {
	TTL      time.Duration `envconfig:"OTP_TTL" default:"10m"`
	MaxSends int64         `envconfig:"OTP_MAX_SENDS" default:"5"`
	Window   time.Duration `envconfig:"OTP_SEND_WINDOW" default:"1h"`
}

// S3Config is optional, an empty bucket disables receipt archiving.
type S3Config struct {
	Bucket    string `envconfig:"S3_BUCKET"`
	Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	Endpoint  string `envconfig:"S3_ENDPOINT"`
	AccessKey string `envconfig:"S3_ACCESS_KEY"`
	SecretKey string `envconfig:"S3_SECRET_KEY"`
}

func (c S3Config) Enabled() bool { return c.Bucket != "" }

// KafkaConfig is optional, no brokers disables the outbox relay.
type KafkaConfig struct {
	Brokers      []string      `envconfig:"KAFKA_BROKERS"`
	Topic        string        `envconfig:"KAFKA_TOPIC_PAYMENTS" default:"dynamicapp.payments"`
	PollInterval time.Duration `envconfig:"KAFKA_OUTBOX_POLL_INTERVAL" default:"500ms"`
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse environment config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Razorpay.KeyID == "" || c.Razorpay.KeySecret == "" {
		errs = append(errs, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required"))
	}
	if c.Mail.Workers <= 0 {
		errs = append(errs, errors.New("MAIL_WORKERS must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProd() bool {
	return c.Env == "production"
}
