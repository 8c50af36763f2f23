package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/joho/godotenv"
)

type Config struct {
	Env            string `env:"ENVIRONMENT" envDefault:"development"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`
	SentryDSN      string `env:"SENTRY_DSN"`
	DatabaseDSN    string `env:"DATABASE_DSN" envDefault:"reviewwatch.sqlite"`
	UserAgent      string `env:"USER_AGENT" envDefault:"reviewwatch/1.0 (+https://github.com/fiffu/reviewwatch)"`

	Scrape struct {
		Sources            []string      `env:"SOURCES" envSeparator:","`
		URLTemplate        string        `env:"SOURCE_URL_TEMPLATE" envDefault:"https://apps.shopify.com/%s/reviews"`
		Cooldown           time.Duration `env:"SCRAPE_COOLDOWN" envDefault:"6h"`
		FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
		FetchRetries       uint64        `env:"FETCH_RETRIES" envDefault:"2"`
		RetryInterval      time.Duration `env:"FETCH_RETRY_INTERVAL" envDefault:"500ms"`
		RecentReviewsLimit int           `env:"RECENT_REVIEWS_LIMIT" envDefault:"10"`
		DedupeSnapshots    bool          `env:"DEDUPE_SNAPSHOTS" envDefault:"false"`
		RunningWindow      time.Duration `env:"RUNNING_WINDOW" envDefault:"5m"`
	}

	Sweep struct {
		Interval                 time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
		BatchSize                int           `env:"SWEEP_BATCH_SIZE" envDefault:"10"`
		ActiveWindow             time.Duration `env:"SWEEP_ACTIVE_WINDOW" envDefault:"168h"`
		ItemDelay                time.Duration `env:"SWEEP_ITEM_DELAY" envDefault:"2s"`
		Concurrency              int           `env:"SWEEP_CONCURRENCY" envDefault:"1"`
		RetainSnapshotsPerSource int           `env:"RETAIN_SNAPSHOTS_PER_SOURCE" envDefault:"20"`
		ClientTTL                time.Duration `env:"CLIENT_TTL" envDefault:"720h"`
	}

	Health struct {
		Interval       time.Duration `env:"HEALTH_INTERVAL" envDefault:"1h"`
		StaleAfter     time.Duration `env:"HEALTH_STALE_AFTER" envDefault:"24h"`
		ActivityWindow time.Duration `env:"HEALTH_ACTIVITY_WINDOW" envDefault:"24h"`
		AlertRecipient string        `env:"HEALTH_ALERT_RECIPIENT"`
	}

	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		APIBase     string `env:"MAILGUN_API_BASE"`
		SenderFrom  string `env:"MAILGUN_SENDER" envDefault:"reviewwatch <noreply@reviewwatch.local>"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}

	creds   map[string]string
	catalog models.SourceCatalog
}

// NewConfig reads an optional .env file, then the environment.
func NewConfig() (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		return nil, err
	}
	cfg.creds = creds

	catalog, err := models.NewSourceCatalog(cfg.Scrape.Sources)
	if err != nil {
		return nil, fmt.Errorf("SOURCES: %w", err)
	}
	cfg.catalog = catalog

	return cfg, nil
}

func (cfg *Config) IsProduction() bool {
	return cfg.Env == "production"
}

// GetCreds returns the basic auth credentials guarding admin routes; empty disables auth.
func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) GetSourceCatalog() models.SourceCatalog {
	return cfg.catalog
}

func (cfg *Config) validate() error {
	var errs []error
	if cfg.Scrape.Cooldown <= 0 {
		errs = append(errs, errors.New("SCRAPE_COOLDOWN must be positive"))
	}
	if cfg.Scrape.FetchTimeout <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive"))
	}
	if strings.Count(cfg.Scrape.URLTemplate, "%s") != 1 {
		errs = append(errs, errors.New("SOURCE_URL_TEMPLATE must contain exactly one %s"))
	}
	if cfg.Sweep.BatchSize < 1 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be at least 1"))
	}
	if cfg.Sweep.Concurrency < 1 {
		errs = append(errs, errors.New("SWEEP_CONCURRENCY must be at least 1"))
	}
	if cfg.Sweep.RetainSnapshotsPerSource < 1 {
		errs = append(errs, errors.New("RETAIN_SNAPSHOTS_PER_SOURCE must be at least 1"))
	}
	if cfg.Sweep.Interval <= 0 || cfg.Health.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL and HEALTH_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, nil
	}

	result := make(map[string]string)
	for _, cred := range strings.Split(cfg.BasicAuthCreds, ",") {
		userPass := strings.SplitN(cred, ":", 2)
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := strings.Trim(userPass[0], " "), strings.Trim(userPass[1], " ")
		if user == "" || pass == "" {
			return nil, fmt.Errorf("failed to parse '%s', user and password must both be set", cred)
		}
		result[user] = pass
	}

	return result, nil
}
