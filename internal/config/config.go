package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	DbURI string `env:"KUVERT_DB_URI" envDefault:"./kuvert.sqlite"` // postgres://... selects postgres, anything else is a sqlite path

	BatchSize              int           `env:"KUVERT_BATCH_SIZE" envDefault:"10"`
	MaxBatches             int           `env:"KUVERT_MAX_BATCHES" envDefault:"10"` // batches per tick
	MaxAttempts            int           `env:"KUVERT_MAX_ATTEMPTS" envDefault:"3"`
	BackoffStep            time.Duration `env:"KUVERT_BACKOFF_STEP" envDefault:"5m"`
	TickInterval           time.Duration `env:"KUVERT_TICK_INTERVAL" envDefault:"1m"`
	RetrySweepInterval     time.Duration `env:"KUVERT_RETRY_SWEEP_INTERVAL" envDefault:"5m"`
	StaleAfter             time.Duration `env:"KUVERT_STALE_AFTER" envDefault:"15m"`
	CampaignSweepInterval  time.Duration `env:"KUVERT_CAMPAIGN_SWEEP_INTERVAL" envDefault:"1m"`
	Retention              time.Duration `env:"KUVERT_RETENTION" envDefault:"720h"`
	RetentionSweepInterval time.Duration `env:"KUVERT_RETENTION_INTERVAL" envDefault:"24h"`

	Transport    string        `env:"KUVERT_TRANSPORT" envDefault:"smtp"` // smtp, log or none
	SMTPHost     string        `env:"KUVERT_SMTP_HOST"`
	SMTPPort     int           `env:"KUVERT_SMTP_PORT" envDefault:"587"`
	SMTPUser     string        `env:"KUVERT_SMTP_USER"`
	SMTPPassword string        `env:"KUVERT_SMTP_PASSWORD"`
	SMTPFrom     string        `env:"KUVERT_SMTP_FROM"`
	SMTPTimeout  time.Duration `env:"KUVERT_SMTP_TIMEOUT" envDefault:"30s"`

	AdminEmail string `env:"KUVERT_ADMIN_EMAIL"` // receives admin notifications about new registrations
	AdminName  string `env:"KUVERT_ADMIN_NAME" envDefault:"Registrations"`
	AdminURL   string `env:"KUVERT_ADMIN_URL"` // base url of the admin registration pages, linked from admin notifications

	Hostname         string        `env:"KUVERT_HOSTNAME"`
	APIPort          int           `env:"KUVERT_API_PORT" envDefault:"8080"`
	APIKeys          []string      `env:"KUVERT_API_KEYS" envSeparator:","`
	APIAutoTLS       bool          `env:"KUVERT_API_AUTO_TLS" envDefault:"false"` // use echo AutoTLSManager for getting a certificate for KUVERT_HOSTNAME
	APIAutoTLSCache  string        `env:"KUVERT_API_AUTO_TLS_CACHE" envDefault:"./autocert"`
	MetricsPush      string        `env:"KUVERT_METRICS_PUSH_URL"`
	MetricsPushEvery time.Duration `env:"KUVERT_METRICS_PUSH_INTERVAL" envDefault:"1m"`

	LogLevel string `env:"KUVERT_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"KUVERT_LOG_JSON" envDefault:"false"`
}

// Load reads an optional .env file and then the environment
func Load(dotenv ...string) (*Config, error) {
	err := godotenv.Load(dotenv...)
	if err != nil && len(dotenv) > 0 {
		return nil, fmt.Errorf("could not load env files %v, %w", dotenv, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("could not parse config from env, %w", err)
	}
	return cfg, nil
}

// Sanitize replaces values that would stall or break the processor with their defaults
func (c *Config) Sanitize(log *logrus.Logger) {
	fix := func(name string, cond bool, apply func()) {
		if cond {
			return
		}
		log.WithField("setting", name).Warn("invalid value, falling back to default")
		apply()
	}
	fix("KUVERT_BATCH_SIZE", c.BatchSize > 0, func() { c.BatchSize = 10 })
	fix("KUVERT_MAX_BATCHES", c.MaxBatches > 0, func() { c.MaxBatches = 10 })
	fix("KUVERT_MAX_ATTEMPTS", c.MaxAttempts > 0, func() { c.MaxAttempts = 3 })
	fix("KUVERT_BACKOFF_STEP", c.BackoffStep > 0, func() { c.BackoffStep = 5 * time.Minute })
	fix("KUVERT_TICK_INTERVAL", c.TickInterval > 0, func() { c.TickInterval = time.Minute })
	fix("KUVERT_RETRY_SWEEP_INTERVAL", c.RetrySweepInterval > 0, func() { c.RetrySweepInterval = 5 * time.Minute })
	fix("KUVERT_STALE_AFTER", c.StaleAfter > 0, func() { c.StaleAfter = 15 * time.Minute })
	fix("KUVERT_CAMPAIGN_SWEEP_INTERVAL", c.CampaignSweepInterval > 0, func() { c.CampaignSweepInterval = time.Minute })
	fix("KUVERT_RETENTION", c.Retention > 0, func() { c.Retention = 30 * 24 * time.Hour })
	fix("KUVERT_RETENTION_INTERVAL", c.RetentionSweepInterval > 0, func() { c.RetentionSweepInterval = 24 * time.Hour })
	fix("KUVERT_SMTP_TIMEOUT", c.SMTPTimeout > 0, func() { c.SMTPTimeout = 30 * time.Second })
}

func (c *Config) Validate() error {
	var err error
	switch c.Transport {
	case "smtp", "log", "none":
	default:
		err = errors.Join(err, fmt.Errorf("unknown transport %q, expected smtp, log or none", c.Transport))
	}
	if c.APIAutoTLS && len(c.Hostname) == 0 {
		err = errors.Join(err, errors.New("KUVERT_HOSTNAME is required when KUVERT_API_AUTO_TLS is set"))
	}
	return err
}
