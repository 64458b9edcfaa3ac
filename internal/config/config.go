// Package config loads service settings from the environment, an optional
// .env file and an optional YAML file named by AIRWATCH_CONFIG.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/database"
)

// DefaultAdminSigningKey is used when ADMIN_JWT_SIGNING_KEY is unset. It is
// only acceptable for local development.
const DefaultAdminSigningKey = "local-dev-admin-key-change-in-production"

// Imputation methods.
const (
	ImputationParametric = "parametric"
	ImputationEmpirical  = "empirical"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Alert publishers.
const (
	PublisherNone   = "none"
	PublisherPubSub = "pubsub"
	PublisherKafka  = "kafka"
)

// Config holds all service settings.
type Config struct {
	App       AppConfig
	Database  database.Config
	Ingest    IngestConfig
	Alert     AlertConfig
	Telemetry TelemetryConfig
	Breaker   BreakerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig

	// BreakpointsFile optionally overrides the built-in AQI tables.
	BreakpointsFile string
}

// AppConfig holds process settings.
type AppConfig struct {
	Port       string
	Env        string
	LogLevel   string
	LogFormat  string
	RequireTLS bool

	// StoreBackend is postgres or memory. The memory store loses all data
	// on exit.
	StoreBackend string

	// CityCacheTTL bounds how long a city deleted by another process can
	// still read as known.
	CityCacheTTL time.Duration
}

// IngestConfig holds validation and imputation settings.
type IngestConfig struct {
	DateFormat string

	ImputationEnabled bool
	ImputationMethod  string

	// ImputationSeed makes imputation deterministic when non-zero.
	ImputationSeed uint64

	ReferenceDataPath   string
	EmpiricalNoiseSigma float64

	Parametric ParametricConfig
}

// ParametricConfig parameterises the log-normal PM2.5/NO2 models and the
// clipped normal CO2 model.
type ParametricConfig struct {
	PM25Median float64
	PM25Sigma  float64
	NO2Median  float64
	NO2Sigma   float64
	CO2Mean    float64
	CO2Std     float64
	CO2Min     float64
}

// AlertConfig holds alert derivation and publishing settings.
type AlertConfig struct {
	Threshold int
	Mode      airquality.AlertMode

	Publisher       string
	PubSubProjectID string
	PubSubTopic     string
	KafkaBrokers    []string
	KafkaTopic      string
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string

	// Insecure disables TLS to the collector.
	Insecure bool

	// SampleRatio is the fraction of root traces kept, 0..1.
	SampleRatio float64

	MetricInterval time.Duration
}

// RateLimitConfig caps requests per client per Window for each route
// group. Admin limits apply per token subject.
type RateLimitConfig struct {
	Window   time.Duration
	Upload   int
	Standard int
	Admin    int
}

// BreakerConfig configures the store circuit breaker.
type BreakerConfig struct {
	Enabled bool

	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	// MaxFailures is the number of consecutive connection failures that
	// opens the breaker.
	MaxFailures uint32
}

// AuthConfig holds admin token settings.
type AuthConfig struct {
	AdminSigningKey string
	AdminTokenTTL   time.Duration
}

// UsesDefaultSigningKey reports whether the development signing key is in use.
func (c *Config) UsesDefaultSigningKey() bool {
	return c.Auth.AdminSigningKey == DefaultAdminSigningKey
}

var defaults = map[string]any{
	"app_port":    "8080",
	"app_env":     "development",
	"log_level":   "info",
	"log_format":  "json",
	"require_tls": false,

	"store_backend": StorePostgres,

	"db_host":              "localhost",
	"db_port":              5432,
	"db_user":              "airwatch",
	"db_password":          "localdev",
	"db_name":              "airwatch",
	"db_ssl_mode":          "disable",
	"db_max_open_conns":    10,
	"db_max_idle_conns":    2,
	"db_conn_max_lifetime": "5m",
	"db_connect_retries":   3,
	"db_connect_delay":     "3s",

	"date_format":           airquality.DefaultDateFormat,
	"imputation_enabled":    true,
	"imputation_method":     ImputationParametric,
	"imputation_seed":       0,
	"reference_data_path":   "",
	"empirical_noise_sigma": 0.05,
	"pm25_median":           15.0,
	"pm25_sigma":            0.8,
	"no2_median":            30.0,
	"no2_sigma":             0.7,
	"co2_mean":              420.0,
	"co2_std":               50.0,
	"co2_min":               350.0,

	"alert_threshold":   300,
	"alert_mode":        string(airquality.AlertModeMaterialized),
	"alert_publisher":   PublisherNone,
	"pubsub_project_id": "",
	"pubsub_topic":      "",
	"kafka_brokers":     "localhost:9092",
	"kafka_alert_topic": "airwatch.alerts",

	"aqi_breakpoints_file": "",
	"city_cache_ttl":       "30s",

	"otel_enabled":                false,
	"otel_exporter_otlp_endpoint": "localhost:4317",
	"otel_exporter_otlp_insecure": true,
	"otel_traces_sampler_ratio":   1.0,
	"otel_metric_export_interval": "15s",

	"rate_limit_window":   "1m",
	"rate_limit_upload":   30,
	"rate_limit_standard": 100,
	"rate_limit_admin":    10,

	"store_breaker_enabled":      true,
	"store_breaker_timeout":      "30s",
	"store_breaker_max_failures": 5,

	"admin_jwt_signing_key": DefaultAdminSigningKey,
	"admin_token_ttl":       "1h",
}

// Load reads configuration, applying defaults where unset. A .env file in
// the working directory is loaded first if present; real environment
// variables win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv("AIRWATCH_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Port:         v.GetString("app_port"),
			Env:          v.GetString("app_env"),
			LogLevel:     v.GetString("log_level"),
			LogFormat:    v.GetString("log_format"),
			RequireTLS:   v.GetBool("require_tls"),
			StoreBackend: strings.ToLower(v.GetString("store_backend")),
			CityCacheTTL: v.GetDuration("city_cache_ttl"),
		},
		Database: database.Config{
			Host:            v.GetString("db_host"),
			Port:            v.GetInt("db_port"),
			User:            v.GetString("db_user"),
			Password:        v.GetString("db_password"),
			Database:        v.GetString("db_name"),
			SSLMode:         v.GetString("db_ssl_mode"),
			MaxOpenConns:    v.GetInt("db_max_open_conns"),
			MaxIdleConns:    v.GetInt("db_max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("db_conn_max_lifetime"),
			ConnectRetries:  v.GetInt("db_connect_retries"),
			ConnectDelay:    v.GetDuration("db_connect_delay"),
		},
		Ingest: IngestConfig{
			DateFormat:          v.GetString("date_format"),
			ImputationEnabled:   v.GetBool("imputation_enabled"),
			ImputationMethod:    strings.ToLower(v.GetString("imputation_method")),
			ImputationSeed:      v.GetUint64("imputation_seed"),
			ReferenceDataPath:   v.GetString("reference_data_path"),
			EmpiricalNoiseSigma: v.GetFloat64("empirical_noise_sigma"),
			Parametric: ParametricConfig{
				PM25Median: v.GetFloat64("pm25_median"),
				PM25Sigma:  v.GetFloat64("pm25_sigma"),
				NO2Median:  v.GetFloat64("no2_median"),
				NO2Sigma:   v.GetFloat64("no2_sigma"),
				CO2Mean:    v.GetFloat64("co2_mean"),
				CO2Std:     v.GetFloat64("co2_std"),
				CO2Min:     v.GetFloat64("co2_min"),
			},
		},
		Alert: AlertConfig{
			Threshold:       v.GetInt("alert_threshold"),
			Mode:            airquality.AlertMode(strings.ToLower(v.GetString("alert_mode"))),
			Publisher:       strings.ToLower(v.GetString("alert_publisher")),
			PubSubProjectID: v.GetString("pubsub_project_id"),
			PubSubTopic:     v.GetString("pubsub_topic"),
			KafkaBrokers:    parseList(v.GetString("kafka_brokers")),
			KafkaTopic:      v.GetString("kafka_alert_topic"),
		},
		Telemetry: TelemetryConfig{
			Enabled:        v.GetBool("otel_enabled"),
			OTLPEndpoint:   v.GetString("otel_exporter_otlp_endpoint"),
			Insecure:       v.GetBool("otel_exporter_otlp_insecure"),
			SampleRatio:    v.GetFloat64("otel_traces_sampler_ratio"),
			MetricInterval: v.GetDuration("otel_metric_export_interval"),
		},
		RateLimit: RateLimitConfig{
			Window:   v.GetDuration("rate_limit_window"),
			Upload:   v.GetInt("rate_limit_upload"),
			Standard: v.GetInt("rate_limit_standard"),
			Admin:    v.GetInt("rate_limit_admin"),
		},
		Breaker: BreakerConfig{
			Enabled:     v.GetBool("store_breaker_enabled"),
			Timeout:     v.GetDuration("store_breaker_timeout"),
			MaxFailures: v.GetUint32("store_breaker_max_failures"),
		},
		Auth: AuthConfig{
			AdminSigningKey: v.GetString("admin_jwt_signing_key"),
			AdminTokenTTL:   v.GetDuration("admin_token_ttl"),
		},
		BreakpointsFile: v.GetString("aqi_breakpoints_file"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be fixed by a default.
func (c *Config) Validate() error {
	var errs []error

	if _, err := airquality.NewDateFormat(c.Ingest.DateFormat); err != nil {
		errs = append(errs, fmt.Errorf("DATE_FORMAT: %w", err))
	}

	switch c.Ingest.ImputationMethod {
	case ImputationParametric:
		p := c.Ingest.Parametric
		if p.PM25Median <= 0 || p.NO2Median <= 0 {
			errs = append(errs, errors.New("PM25_MEDIAN and NO2_MEDIAN must be positive"))
		}
		if p.PM25Sigma <= 0 || p.NO2Sigma <= 0 || p.CO2Std <= 0 {
			errs = append(errs, errors.New("PM25_SIGMA, NO2_SIGMA and CO2_STD must be positive"))
		}
		if p.CO2Min < 0 {
			errs = append(errs, errors.New("CO2_MIN must not be negative"))
		}
	case ImputationEmpirical:
		if c.Ingest.ImputationEnabled && c.Ingest.ReferenceDataPath == "" {
			errs = append(errs, errors.New("REFERENCE_DATA_PATH is required for empirical imputation"))
		}
		if c.Ingest.EmpiricalNoiseSigma < 0 {
			errs = append(errs, errors.New("EMPIRICAL_NOISE_SIGMA must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("IMPUTATION_METHOD %q is not parametric or empirical", c.Ingest.ImputationMethod))
	}

	if r := c.RateLimit; r.Window <= 0 || r.Upload <= 0 || r.Standard <= 0 || r.Admin <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW and the RATE_LIMIT_* request limits must be positive"))
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLER_RATIO %v is outside 0..1", c.Telemetry.SampleRatio))
	}
	if c.Telemetry.Enabled && c.Telemetry.MetricInterval <= 0 {
		errs = append(errs, errors.New("OTEL_METRIC_EXPORT_INTERVAL must be positive"))
	}

	if c.Alert.Threshold < 1 || c.Alert.Threshold > 500 {
		errs = append(errs, fmt.Errorf("ALERT_THRESHOLD %d is outside 1..500", c.Alert.Threshold))
	}
	if !c.Alert.Mode.Valid() {
		errs = append(errs, fmt.Errorf("ALERT_MODE %q is not materialized or on_demand", c.Alert.Mode))
	}

	switch c.Alert.Publisher {
	case PublisherNone:
	case PublisherPubSub:
		if c.Alert.PubSubProjectID == "" || c.Alert.PubSubTopic == "" {
			errs = append(errs, errors.New("PUBSUB_PROJECT_ID and PUBSUB_TOPIC are required for the pubsub publisher"))
		}
	case PublisherKafka:
		if len(c.Alert.KafkaBrokers) == 0 || c.Alert.KafkaTopic == "" {
			errs = append(errs, errors.New("KAFKA_BROKERS and KAFKA_ALERT_TOPIC are required for the kafka publisher"))
		}
	default:
		errs = append(errs, fmt.Errorf("ALERT_PUBLISHER %q is not none, pubsub or kafka", c.Alert.Publisher))
	}

	if c.App.StoreBackend != StorePostgres && c.App.StoreBackend != StoreMemory {
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not postgres or memory", c.App.StoreBackend))
	}
	if c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not json or console", c.App.LogFormat))
	}
	if c.App.CityCacheTTL <= 0 {
		errs = append(errs, errors.New("CITY_CACHE_TTL must be positive"))
	}
	if c.Database.ConnectRetries < 0 {
		errs = append(errs, errors.New("DB_CONNECT_RETRIES must not be negative"))
	}
	if c.Auth.AdminSigningKey == "" {
		errs = append(errs, errors.New("ADMIN_JWT_SIGNING_KEY must not be empty"))
	}

	return errors.Join(errs...)
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
