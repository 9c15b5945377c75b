package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Engine modes
const (
	EngineModeMemory = "memory"
	EngineModeAMQP   = "amqp"
)

// Database drivers
const (
	DriverNone     = "none"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Membership ledger backends
const (
	LedgerFile = "file"
	LedgerSQL  = "sql"
)

// Config represents the complete application configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Engine      EngineConfig      `yaml:"engine"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Database    DatabaseConfig    `yaml:"database"`
	Worker      WorkerConfig      `yaml:"worker"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Invoicing   InvoicingConfig   `yaml:"invoicing"`
	Scheduling  SchedulingConfig  `yaml:"scheduling"`
	Membership  MembershipConfig  `yaml:"membership"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Eligibility EligibilityConfig `yaml:"eligibility"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// ServerConfig holds the status server configuration
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EngineConfig selects the engine connection
type EngineConfig struct {
	// Mode is memory (simulated, in-process) or amqp
	Mode         string        `yaml:"mode"`
	ConsumerTag  string        `yaml:"consumer_tag"`
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// DatabaseConfig holds the idempotency store and SQL ledger database
type DatabaseConfig struct {
	// Driver is none (in-memory store), postgres or sqlite
	Driver          string        `yaml:"driver"`
	SQLitePath      string        `yaml:"sqlite_path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ConnectRetries  int           `yaml:"connect_retries"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ReportTimeout   time.Duration `yaml:"report_timeout"`
	PublishTimeout  time.Duration `yaml:"publish_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CorrelationConfig holds message publish retry settings
type CorrelationConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxInterval       time.Duration `yaml:"max_interval"`
}

// InvoicingConfig holds the invoicing provider settings
type InvoicingConfig struct {
	TestMode        bool          `yaml:"test_mode"`
	StripeSecretKey string        `yaml:"stripe_secret_key"`
	APIURL          string        `yaml:"api_url"`
	Currency        string        `yaml:"currency"`
	DaysUntilDue    int           `yaml:"days_until_due"`
	Timeout         time.Duration `yaml:"timeout"`
}

// SchedulingConfig holds booking link settings
type SchedulingConfig struct {
	BookingURL          string        `yaml:"booking_url"`
	SlotLength          time.Duration `yaml:"slot_length"`
	EstimatedTowArrival string        `yaml:"estimated_tow_arrival"`
}

// MembershipConfig holds the membership ledger settings
type MembershipConfig struct {
	// Backend is file (CSV) or sql
	Backend             string `yaml:"backend"`
	FilePath            string `yaml:"file_path"`
	InvalidNumberPolicy string `yaml:"invalid_number_policy"`
}

// PricingConfig holds the shop's price rules
type PricingConfig struct {
	Deposit               float64 `yaml:"deposit"`
	MemberDiscountPercent float64 `yaml:"member_discount_percent"`
	DefaultRepairCost     float64 `yaml:"default_repair_cost"`
}

// EligibilityConfig holds the trip age rules
type EligibilityConfig struct {
	MinTripAge int `yaml:"min_trip_age"`
	AdultAge   int `yaml:"adult_age"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides secrets and deployment paths from environment variables
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("STRIPE_SECRET_KEY"); v != "" {
		c.Invoicing.StripeSecretKey = v
	}
	if v := getenv("STRIPE_USE_TEST_MODE"); v != "" {
		testMode, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid STRIPE_USE_TEST_MODE %q: %w", v, err)
		}
		c.Invoicing.TestMode = testMode
	}
	if v := getenv("MEMBERSHIP_FILE_PATH"); v != "" {
		c.Membership.FilePath = v
	}
	if v := getenv("CALENDLY_BOOKING_URL"); v != "" {
		c.Scheduling.BookingURL = v
	}
	if v := getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Enabled && (c.Server.Port < MinPort || c.Server.Port > MaxPort) {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}

	if c.Correlation.RetryAttempts < 0 {
		return fmt.Errorf("correlation retry_attempts must not be negative")
	}

	if !c.Invoicing.TestMode && c.Invoicing.StripeSecretKey == "" {
		return fmt.Errorf("invoicing stripe_secret_key is required unless test_mode is enabled")
	}

	switch strings.ToLower(c.Membership.Backend) {
	case LedgerFile, "":
		if c.Membership.FilePath == "" {
			return fmt.Errorf("membership file_path is required for the file backend")
		}
	case LedgerSQL:
		if c.Database.Driver == DriverNone || c.Database.Driver == "" {
			return fmt.Errorf("membership sql backend requires a database driver")
		}
	default:
		return fmt.Errorf("invalid membership backend: %q (must be %s or %s)", c.Membership.Backend, LedgerFile, LedgerSQL)
	}

	switch strings.ToLower(c.Membership.InvalidNumberPolicy) {
	case "", "proceed", "reject":
	default:
		return fmt.Errorf("invalid membership invalid_number_policy: %q (must be proceed or reject)", c.Membership.InvalidNumberPolicy)
	}

	if c.Pricing.Deposit < 0 || c.Pricing.DefaultRepairCost < 0 {
		return fmt.Errorf("pricing amounts must not be negative")
	}
	if c.Pricing.MemberDiscountPercent < 0 || c.Pricing.MemberDiscountPercent > 100 {
		return fmt.Errorf("pricing member_discount_percent must be between 0 and 100")
	}

	if c.Eligibility.MinTripAge < 0 || c.Eligibility.AdultAge < 0 {
		return fmt.Errorf("eligibility ages must not be negative")
	}

	return nil
}

func (c *Config) validateEngine() error {
	switch c.Engine.Mode {
	case EngineModeMemory:
		return nil
	case EngineModeAMQP:
	default:
		return fmt.Errorf("invalid engine mode: %q (must be %s or %s)", c.Engine.Mode, EngineModeMemory, EngineModeAMQP)
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverNone, "":
		return nil
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database sqlite_path is required")
		}
		return nil
	case DriverPostgres:
	default:
		return fmt.Errorf("invalid database driver: %q", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ReportTimeout <= 0 {
		return fmt.Errorf("worker report_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}
