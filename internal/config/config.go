package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	DBDriver   string `yaml:"db_driver"` // sqlite or postgres
	DBPath     string `yaml:"db_path"`
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBSSLMode  string `yaml:"db_sslmode"`

	Automation AutomationConfig `yaml:"automation"`
	Mail       MailConfig       `yaml:"mail"`

	RedisAddr string `yaml:"redis_addr"`
}

// AutomationConfig holds deferred-task poller settings.
type AutomationConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ClaimLease   time.Duration `yaml:"claim_lease"`
	Enabled      bool          `yaml:"enabled"`
}

// MailConfig holds the process-wide outbound mail defaults. Tenants can
// override them on their client record.
type MailConfig struct {
	Transport    string `yaml:"transport"` // smtp or ses
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	FromEmail    string `yaml:"from_email"`
	FromName     string `yaml:"from_name"`
	AWSRegion    string `yaml:"aws_region"`
	AWSAccessKey string `yaml:"aws_access_key"`
	AWSSecretKey string `yaml:"aws_secret_key"`
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Error loading .env file")
	}

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			log.Printf("Warning: could not read config file %s: %v", path, err)
		}
	}
	cfg.applyEnv()
	return cfg
}

func defaults() *Config {
	return &Config{
		Port:      "8080",
		LogLevel:  "info",
		DBDriver:  "sqlite",
		DBPath:    "./landflow.db",
		DBHost:    "localhost",
		DBPort:    "5432",
		DBUser:    "postgres",
		DBName:    "landflow",
		DBSSLMode: "disable",
		Automation: AutomationConfig{
			PollInterval: time.Minute,
			ClaimLease:   15 * time.Minute,
			Enabled:      true,
		},
		Mail: MailConfig{
			Transport: "smtp",
			SMTPHost:  "localhost",
			SMTPPort:  587,
			FromName:  "LandFlow",
			AWSRegion: "us-east-1",
		},
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.DBDriver = getEnv("DB_DRIVER", c.DBDriver)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.DBHost = getEnv("DB_HOST", c.DBHost)
	c.DBPort = getEnv("DB_PORT", c.DBPort)
	c.DBUser = getEnv("DB_USER", c.DBUser)
	c.DBPassword = getEnv("DB_PASSWORD", c.DBPassword)
	c.DBName = getEnv("DB_NAME", c.DBName)
	c.DBSSLMode = getEnv("DB_SSLMODE", c.DBSSLMode)

	c.Automation.PollInterval = getEnvDuration("POLL_INTERVAL", c.Automation.PollInterval)
	c.Automation.ClaimLease = getEnvDuration("CLAIM_LEASE", c.Automation.ClaimLease)
	c.Automation.Enabled = getEnvBool("AUTOMATION_ENABLED", c.Automation.Enabled)

	c.Mail.Transport = getEnv("MAIL_TRANSPORT", c.Mail.Transport)
	c.Mail.SMTPHost = getEnv("SMTP_HOST", c.Mail.SMTPHost)
	c.Mail.SMTPPort = getEnvInt("SMTP_PORT", c.Mail.SMTPPort)
	c.Mail.SMTPUser = getEnv("SMTP_USER", c.Mail.SMTPUser)
	c.Mail.SMTPPassword = getEnv("SMTP_PASSWORD", c.Mail.SMTPPassword)
	c.Mail.FromEmail = getEnv("MAIL_FROM", c.Mail.FromEmail)
	c.Mail.FromName = getEnv("MAIL_FROM_NAME", c.Mail.FromName)
	c.Mail.AWSRegion = getEnv("AWS_REGION", c.Mail.AWSRegion)
	c.Mail.AWSAccessKey = getEnv("AWS_ACCESS_KEY_ID", c.Mail.AWSAccessKey)
	c.Mail.AWSSecretKey = getEnv("AWS_SECRET_ACCESS_KEY", c.Mail.AWSSecretKey)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Warning: invalid integer for %s: %q", key, value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Printf("Warning: invalid boolean for %s: %q", key, value)
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Printf("Warning: invalid duration for %s: %q", key, value)
	return fallback
}
