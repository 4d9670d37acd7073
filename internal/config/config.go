package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/vitals-risk-worker/internal/catalog"
	"github.com/septivank/vitals-risk-worker/internal/threshold"
)

// Config holds all application configuration. It is built once at startup
// and shared read-only afterwards.
type Config struct {
	ServiceName string
	ServicePort int
	Log         LogConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	Catalog     CatalogConfig
	Thresholds  ThresholdConfig
	Assignment  AssignmentConfig
	Hub         HubConfig
	Validation  ValidationConfig
	Dashboard   DashboardConfig
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL         string
	AutoMigrate bool
}

// RabbitMQConfig holds RabbitMQ connection, routing and queue settings
type RabbitMQConfig struct {
	URL               string
	Exchange          string
	VitalsRoute       Route
	RiskRoute         Route
	AlertsRoute       Route
	AssignmentsRoute  Route
	PersisterQueue    string
	RiskQueue         string
	FinalizerQueue    string
	LiveQueuePrefix   string
	AssignmentsPrefix string
	DLQQueue          string
	PrefetchCount     int
}

// RedisConfig holds the snapshot store settings
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	SnapshotTTL time.Duration
}

// MQTTConfig holds the device gateway settings. An empty BrokerURL disables it.
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	VitalsTopic string
	QoS         int
}

// CatalogConfig holds the configuration service settings. An empty URL skips it.
type CatalogConfig struct {
	URL         string
	Environment string
	Retries     int
	RetryDelay  time.Duration
}

// ThresholdConfig holds the resolved threshold table and where it came from
type ThresholdConfig struct {
	File   string
	Source string
	Table  threshold.Table
}

// AssignmentConfig holds resolver settings
type AssignmentConfig struct {
	APIURL        string
	CacheTTL      time.Duration
	LookupTimeout time.Duration
}

// HubConfig holds fan-out queue sizes
type HubConfig struct {
	AlertQueueSize  int
	VitalsQueueSize int
	SubmitQueueSize int
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	TimestampToleranceMinutes int
}

// DashboardConfig holds overview settings
type DashboardConfig struct {
	LowBatteryPercent float64
	RecentAlerts      int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "vitals-risk-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			AutoMigrate: getEnvAsBool("DATABASE_AUTO_MIGRATE", true),
		},
		RabbitMQ: RabbitMQConfig{
			URL:               getEnv("RABBITMQ_URL", ""),
			Exchange:          getEnv("RABBITMQ_EXCHANGE", "vitals.events.exchange"),
			VitalsRoute:       Route(getEnv("RABBITMQ_VITALS_ROUTE", "vitals.{device_id}")),
			RiskRoute:         Route(getEnv("RABBITMQ_RISK_ROUTE", "risk.{device_id}")),
			AlertsRoute:       Route(getEnv("RABBITMQ_ALERTS_ROUTE", "alerts.final")),
			AssignmentsRoute:  Route(getEnv("RABBITMQ_ASSIGNMENTS_ROUTE", "assignments.changed.{device_id}")),
			PersisterQueue:    getEnv("RABBITMQ_PERSISTER_QUEUE", "vitals-risk.persister.queue"),
			RiskQueue:         getEnv("RABBITMQ_RISK_QUEUE", "vitals-risk.risk.queue"),
			FinalizerQueue:    getEnv("RABBITMQ_FINALIZER_QUEUE", "vitals-risk.finalizer.queue"),
			LiveQueuePrefix:   getEnv("RABBITMQ_LIVE_QUEUE_PREFIX", "vitals-risk.live"),
			AssignmentsPrefix: getEnv("RABBITMQ_ASSIGNMENTS_QUEUE_PREFIX", "vitals-risk.assignments"),
			DLQQueue:          getEnv("RABBITMQ_DLQ_QUEUE", "vitals-risk.dlq"),
			PrefetchCount:     getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			SnapshotTTL: getEnvAsDuration("REDIS_SNAPSHOT_TTL", 24*time.Hour),
		},
		MQTT: MQTTConfig{
			BrokerURL:   getEnv("MQTT_BROKER_URL", ""),
			ClientID:    getEnv("MQTT_CLIENT_ID", "vitals-risk-gateway"),
			Username:    getEnv("MQTT_USERNAME", ""),
			Password:    getEnv("MQTT_PASSWORD", ""),
			VitalsTopic: getEnv("MQTT_VITALS_TOPIC", "wristbands/+/vitals"),
			QoS:         getEnvAsInt("MQTT_QOS", 1),
		},
		Catalog: CatalogConfig{
			URL:         getEnv("CATALOG_URL", ""),
			Environment: getEnv("CATALOG_ENVIRONMENT", ""),
			Retries:     getEnvAsInt("CATALOG_RETRIES", 5),
			RetryDelay:  getEnvAsDuration("CATALOG_RETRY_DELAY", 2*time.Second),
		},
		Thresholds: ThresholdConfig{
			File: getEnv("THRESHOLDS_FILE", ""),
		},
		Assignment: AssignmentConfig{
			APIURL:        getEnv("ASSIGNMENT_API_URL", ""),
			CacheTTL:      getEnvAsDuration("ASSIGNMENT_CACHE_TTL", 5*time.Minute),
			LookupTimeout: getEnvAsDuration("ASSIGNMENT_LOOKUP_TIMEOUT", 1500*time.Millisecond),
		},
		Hub: HubConfig{
			AlertQueueSize:  getEnvAsInt("HUB_ALERT_QUEUE_SIZE", 100),
			VitalsQueueSize: getEnvAsInt("HUB_VITALS_QUEUE_SIZE", 16),
			SubmitQueueSize: getEnvAsInt("HUB_SUBMIT_QUEUE_SIZE", 256),
		},
		Validation: ValidationConfig{
			TimestampToleranceMinutes: getEnvAsInt("VALIDATION_TIMESTAMP_TOLERANCE_MINUTES", 10080),
		},
		Dashboard: DashboardConfig{
			LowBatteryPercent: getEnvAsFloat("LOW_BATTERY_PERCENT", 20),
			RecentAlerts:      getEnvAsInt("DASHBOARD_RECENT_ALERTS", 10),
		},
	}

	if err := cfg.resolveThresholds(nil); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" && cfg.Catalog.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required when CATALOG_URL is not set")
	}

	return cfg, nil
}

// WithCatalog returns a copy of the configuration with the catalog document
// applied. Catalog values win over the environment.
func (c Config) WithCatalog(doc *catalog.Document) (*Config, error) {
	if doc == nil {
		return &c, nil
	}
	if doc.BrokerURL != "" {
		c.RabbitMQ.URL = doc.BrokerURL
	}
	if doc.Exchange != "" {
		c.RabbitMQ.Exchange = doc.Exchange
	}
	if doc.Routes.Vitals != "" {
		c.RabbitMQ.VitalsRoute = Route(doc.Routes.Vitals)
	}
	if doc.Routes.Risk != "" {
		c.RabbitMQ.RiskRoute = Route(doc.Routes.Risk)
	}
	if doc.Routes.Alerts != "" {
		c.RabbitMQ.AlertsRoute = Route(doc.Routes.Alerts)
	}
	if doc.Routes.Assignments != "" {
		c.RabbitMQ.AssignmentsRoute = Route(doc.Routes.Assignments)
	}
	if err := c.resolveThresholds(doc.Thresholds); err != nil {
		return nil, err
	}
	if c.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is not set and the catalog did not provide a broker URL")
	}
	return &c, nil
}

// resolveThresholds picks the table: catalog, then THRESHOLDS_FILE, then defaults
func (c *Config) resolveThresholds(fromCatalog threshold.Table) error {
	switch {
	case len(fromCatalog) > 0:
		c.Thresholds.Table = fromCatalog
		c.Thresholds.Source = "catalog"
	case c.Thresholds.File != "":
		table, err := threshold.LoadFile(c.Thresholds.File)
		if err != nil {
			return err
		}
		c.Thresholds.Table = table
		c.Thresholds.Source = c.Thresholds.File
	default:
		c.Thresholds.Table = threshold.DefaultTable()
		c.Thresholds.Source = "defaults"
	}
	return nil
}

// Route is a routing key template; {device_id} is the only placeholder
type Route string

const devicePlaceholder = "{device_id}"

// Key renders the routing key for one device
func (r Route) Key(deviceID int64) string {
	return strings.ReplaceAll(string(r), devicePlaceholder, strconv.FormatInt(deviceID, 10))
}

// Pattern renders the binding pattern matching every device
func (r Route) Pattern() string {
	return strings.ReplaceAll(string(r), devicePlaceholder, "*")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("1500ms") or plain seconds ("2")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	return defaultValue
}
