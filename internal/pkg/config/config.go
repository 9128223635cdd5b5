package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/env"
)

const (
	DefaultAuthURL    = "https://marketplace.gohighlevel.com/oauth/chooselocation"
	DefaultTokenURL   = "https://services.leadconnectorhq.com/oauth/token"
	DefaultAPIBaseURL = "https://services.leadconnectorhq.com"
	DefaultAPIVersion = "2021-07-28"
)

// Config is the complete process configuration. Every field maps to exactly
// one environment variable.
type Config struct {
	AppHost       string `envconfig:"APP_HOST" default:"localhost"`
	AppPort       string `envconfig:"APP_PORT" default:"5000" validate:"required,numeric"`
	AppEnv        string `envconfig:"APP_ENV" default:"prod" validate:"oneof=dev prod test"`
	SessionSecret string `envconfig:"SESSION_SECRET"`

	GHLClientID     string `envconfig:"GHL_CLIENT_ID" validate:"required"`
	GHLClientSecret string `envconfig:"GHL_CLIENT_SECRET" validate:"required"`
	GHLRedirectURI  string `envconfig:"GHL_REDIRECT_URI" default:"http://localhost:5000/callback" validate:"required,url"`
	GHLAuthURL      string `envconfig:"GHL_AUTH_URL" validate:"required,url"`
	GHLTokenURL     string `envconfig:"GHL_TOKEN_URL" validate:"required,url"`
	GHLAPIBaseURL   string `envconfig:"GHL_API_BASE_URL" validate:"required,url"`
	GHLAPIVersion   string `envconfig:"GHL_API_VERSION" default:"2021-07-28" validate:"required"`

	DBDriver      string `envconfig:"DB_DRIVER" default:"postgres" validate:"oneof=postgres mysql sqlite"`
	DatabaseURL   string `envconfig:"DATABASE_URL" default:"postgres://localhost:5432/voxrelay?sslmode=disable" validate:"required"`
	DBAutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`

	CacheHost     string `envconfig:"CACHE_HOST" default:"localhost"`
	CachePort     string `envconfig:"CACHE_PORT" default:"6379" validate:"numeric"`
	CachePassword string `envconfig:"CACHE_PASSWORD"`

	OpenAIAPIKey          string        `envconfig:"OPENAI_API_KEY" validate:"required"`
	OpenAIBaseURL         string        `envconfig:"OPENAI_BASE_URL" validate:"omitempty,url"`
	TranscribeModel       string        `envconfig:"TRANSCRIBE_MODEL" default:"whisper-1" validate:"required"`
	TranscribeLanguage    string        `envconfig:"TRANSCRIBE_LANGUAGE"`
	TranscribeConcurrency int64         `envconfig:"TRANSCRIBE_CONCURRENCY" default:"2" validate:"min=1"`
	FFmpegPath            string        `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	FFmpegTimeout         time.Duration `envconfig:"FFMPEG_TIMEOUT" default:"2m"`

	AttachmentTimeout            time.Duration `envconfig:"ATTACHMENT_TIMEOUT" default:"30s"`
	MaxAttachmentBytes           int64         `envconfig:"MAX_ATTACHMENT_BYTES" default:"26214400" validate:"min=1"`
	DownloadRetries              int           `envconfig:"DOWNLOAD_RETRIES" default:"2" validate:"min=0,max=10"`
	AttachmentInsecureSkipVerify bool          `envconfig:"ATTACHMENT_INSECURE_SKIP_VERIFY" default:"false"`

	CRMTimeout      time.Duration `envconfig:"CRM_TIMEOUT" default:"15s"`
	CRMWriteRetries int           `envconfig:"CRM_WRITE_RETRIES" default:"2" validate:"min=0,max=10"`
	CRMRateLimit    float64       `envconfig:"CRM_RATE_LIMIT" default:"10" validate:"min=0"`
	OAuthTimeout    time.Duration `envconfig:"OAUTH_TIMEOUT" default:"20s"`

	CredentialSweepInterval time.Duration `envconfig:"CREDENTIAL_SWEEP_INTERVAL" default:"5m"`
	WebhookAsync            bool          `envconfig:"WEBHOOK_ASYNC" default:"false"`
	JobQueueWorkers         int           `envconfig:"JOBQUEUE_WORKERS" default:"3" validate:"min=1"`
	WebhookPublicKey        string        `envconfig:"WEBHOOK_PUBLIC_KEY"`

	MetricsUser     string `envconfig:"METRICS_USER" default:"admin"`
	MetricsPassword string `envconfig:"METRICS_PASSWORD"`
}

// ConfigError reports missing or invalid settings. It is fatal at startup.
type ConfigError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required environment variables: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid environment variables: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// Load reads the .env file (if any) and the process environment.
func Load() (*Config, error) {
	env.SetupEnvFile()
	return FromEnvironment()
}

// FromEnvironment builds the config from the process environment only.
func FromEnvironment() (*Config, error) {
	c := Config{
		GHLAuthURL:    DefaultAuthURL,
		GHLTokenURL:   DefaultTokenURL,
		GHLAPIBaseURL: DefaultAPIBaseURL,
	}
	if err := envconfig.Process("", &c); err != nil {
		var perr *envconfig.ParseError
		if errors.As(err, &perr) {
			return nil, errors.WithStack(&ConfigError{Invalid: []string{perr.KeyName}})
		}
		return nil, errors.Wrap(err, "process environment")
	}
	c.GHLAPIBaseURL = strings.TrimRight(c.GHLAPIBaseURL, "/")

	if err := c.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}
	return &c, nil
}

// Validate checks the struct tags and returns a *ConfigError naming the
// offending environment variables.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("envconfig")
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	cerr := &ConfigError{}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			cerr.Missing = append(cerr.Missing, fe.Field())
			continue
		}
		cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	sort.Strings(cerr.Missing)
	sort.Strings(cerr.Invalid)
	return cerr
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}

func (c *Config) CacheAddr() string {
	return fmt.Sprintf("%s:%s", c.CacheHost, c.CachePort)
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}
