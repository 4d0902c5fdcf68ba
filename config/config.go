package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"github.com/surau/korban-ledger/ledger"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Log       LogConfig
	Program   ProgramConfig
	Scheduler SchedulerConfig
	SMTP      SMTPConfig
	HTTP      HTTPConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds the SQLite location
type DatabaseConfig struct {
	Path string // file path, or ":memory:"
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// ProgramConfig describes one collection cycle
type ProgramConfig struct {
	Name    string
	Months  []string          // eight ascending "YYYY-MM"
	Tariffs map[string]string // sacrifice type -> monthly amount
}

// SchedulerConfig holds the background job settings
type SchedulerConfig struct {
	Enabled            bool
	IntegrityCron      string
	ReminderCron       string
	RemindersEnabled   bool
	ReminderMinOverdue int
	JobTimeout         time.Duration
}

// SMTPConfig holds outgoing mail settings for reminders
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with KORBAN_ prefix (e.g., KORBAN_DATABASE_PATH)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/korban")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("KORBAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans cannot be defaulted after the fact: false is a real value.
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.reminders_enabled", false)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Program: ProgramConfig{
			Name:    v.GetString("program.name"),
			Months:  v.GetStringSlice("program.months"),
			Tariffs: make(map[string]string),
		},
		Scheduler: SchedulerConfig{
			Enabled:            v.GetBool("scheduler.enabled"),
			IntegrityCron:      v.GetString("scheduler.integrity_cron"),
			ReminderCron:       v.GetString("scheduler.reminder_cron"),
			RemindersEnabled:   v.GetBool("scheduler.reminders_enabled"),
			ReminderMinOverdue: v.GetInt("scheduler.reminder_min_overdue"),
			JobTimeout:         v.GetDuration("scheduler.job_timeout"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
	}

	// Read per type so KORBAN_PROGRAM_TARIFFS_<TYPE> overrides work.
	for _, st := range ledger.SacrificeTypes {
		if amount := v.GetString("program.tariffs." + string(st)); amount != "" {
			cfg.Program.Tariffs[string(st)] = amount
		}
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "korban-ledger"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/korban.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Program.Name == "" {
		cfg.Program.Name = "Korban Programme"
	}
	if len(cfg.Program.Months) == 0 {
		cfg.Program.Months = append([]string(nil), ledger.DefaultScheduleMonths...)
	}
	for st, amount := range ledger.DefaultTariffs() {
		if _, ok := cfg.Program.Tariffs[string(st)]; !ok {
			cfg.Program.Tariffs[string(st)] = amount.String()
		}
	}
	if cfg.Scheduler.IntegrityCron == "" {
		cfg.Scheduler.IntegrityCron = "0 6 * * *"
	}
	if cfg.Scheduler.ReminderCron == "" {
		cfg.Scheduler.ReminderCron = "0 9 * * 1"
	}
	if cfg.Scheduler.ReminderMinOverdue == 0 {
		cfg.Scheduler.ReminderMinOverdue = 1
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 5 * time.Minute
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 {
		cfg.HTTP.CORSAllowOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if _, err := c.Ledger(); err != nil {
		return fmt.Errorf("program: %w", err)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(c.Scheduler.IntegrityCron); err != nil {
		return fmt.Errorf("scheduler.integrity_cron %q: %w", c.Scheduler.IntegrityCron, err)
	}
	if _, err := parser.Parse(c.Scheduler.ReminderCron); err != nil {
		return fmt.Errorf("scheduler.reminder_cron %q: %w", c.Scheduler.ReminderCron, err)
	}
	if c.Scheduler.ReminderMinOverdue < 1 {
		return fmt.Errorf("scheduler.reminder_min_overdue must be at least 1")
	}

	if c.Scheduler.RemindersEnabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host is required when reminders are enabled")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("smtp.from is required when reminders are enabled")
		}
	}

	if c.App.Env == "production" {
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Database.Path == ":memory:" {
			return fmt.Errorf("database.path cannot be ':memory:' in production")
		}
	}

	return nil
}

// Ledger builds the explicit engine configuration for the program cycle.
// The clock is left at its default; callers override Now for tests.
func (c *Config) Ledger() (ledger.Config, error) {
	schedule, err := ledger.NewSchedule(c.Program.Months...)
	if err != nil {
		return ledger.Config{}, err
	}

	tariffs := make(ledger.TariffTable, len(c.Program.Tariffs))
	for raw, amount := range c.Program.Tariffs {
		st := ledger.SacrificeType(raw)
		if !st.Valid() {
			return ledger.Config{}, fmt.Errorf("%w: %q", ledger.ErrUnknownSacrificeType, raw)
		}
		m, err := ledger.NewMoneyFromString(amount)
		if err != nil {
			return ledger.Config{}, fmt.Errorf("tariff for %s: %w", raw, err)
		}
		if !m.IsPositive() {
			return ledger.Config{}, fmt.Errorf("tariff for %s: %w", raw, ledger.ErrInvalidAmount)
		}
		tariffs[st] = m
	}

	cfg := ledger.DefaultConfig()
	cfg.Schedule = schedule
	cfg.Tariffs = tariffs
	return cfg, nil
}
