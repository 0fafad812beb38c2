package config

import (
	"errors"
	"fmt"
	"os"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"DiceSentinel/internal/session"
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Accounts struct {
		File string `yaml:"file"`
	} `yaml:"accounts"`
	Supervisor struct {
		GracePeriod time.Duration `yaml:"grace_period"`
		EventBuffer int           `yaml:"event_buffer"`
	} `yaml:"supervisor"`
	Session struct {
		Driver      string            `yaml:"driver"`
		RewardsURL  string            `yaml:"rewards_url"`
		Headless    *bool             `yaml:"headless"`
		BrowserBin  string            `yaml:"browser_bin"`
		StepTimeout time.Duration     `yaml:"step_timeout"`
		SettleDelay time.Duration     `yaml:"settle_delay"`
		Selectors   session.Selectors `yaml:"selectors"`
	} `yaml:"session"`
	Schedule struct {
		DailyCron  string `yaml:"daily_cron"`
		ReportCron string `yaml:"report_cron"`
	} `yaml:"schedule"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Report struct {
		XLSXPath string `yaml:"xlsx_path"`
		Terminal bool   `yaml:"terminal"`
	} `yaml:"report"`
	Proxy string `yaml:"proxy"`
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. A missing file is not an error; existing variables win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("ACCOUNTS_FILE"); v != "" {
		cfg.Accounts.File = v
	}
	if v := os.Getenv("SESSION_DRIVER"); v != "" {
		cfg.Session.Driver = v
	}
	if v := os.Getenv("BROWSER_BIN"); v != "" {
		cfg.Session.BrowserBin = v
	}
	if v := os.Getenv("HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Session.Headless = &b
		} else {
			log.Printf("[WARN] ignoring HEADLESS=%q: %v", v, err)
		}
	}
	if v := os.Getenv("GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Supervisor.GracePeriod = d
		} else {
			log.Printf("[WARN] ignoring GRACE_PERIOD=%q: %v", v, err)
		}
	}
	if v := os.Getenv("CRON_DAILY"); v != "" {
		cfg.Schedule.DailyCron = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("REPORT_XLSX"); v != "" {
		cfg.Report.XLSXPath = v
	}

	// Defaults
	if cfg.Accounts.File == "" {
		cfg.Accounts.File = "data/accounts.json"
	}
	if cfg.Supervisor.GracePeriod == 0 {
		cfg.Supervisor.GracePeriod = time.Second
	}
	if cfg.Supervisor.EventBuffer == 0 {
		cfg.Supervisor.EventBuffer = 16
	}
	if cfg.Session.Driver == "" {
		cfg.Session.Driver = "browser"
	}
	if cfg.Session.RewardsURL == "" {
		cfg.Session.RewardsURL = session.DefaultRewardsURL
	}
	if cfg.Session.Headless == nil {
		headless := true
		cfg.Session.Headless = &headless
	}
	if cfg.Session.StepTimeout == 0 {
		cfg.Session.StepTimeout = 10 * time.Second
	}
	if cfg.Session.SettleDelay == 0 {
		cfg.Session.SettleDelay = 2 * time.Second
	}
	if cfg.Schedule.DailyCron == "" {
		cfg.Schedule.DailyCron = "0 0 9 * * *"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/dice_sentinel.db"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	return cfg, nil
}

// HistoryEnabled reports whether run history is persisted. Setting
// database.sqlite_path (or SQLITE_PATH) to "off" disables it.
func (c *Config) HistoryEnabled() bool {
	return c.Database.SQLitePath != "" && !strings.EqualFold(c.Database.SQLitePath, "off")
}

// TelegramEnabled reports whether both Telegram credentials are set.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// SessionOptions maps the session section onto runner options.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		RewardsURL:  c.Session.RewardsURL,
		Selectors:   c.Session.Selectors,
		StepTimeout: c.Session.StepTimeout,
		SettleDelay: c.Session.SettleDelay,
		Headless:    c.Session.Headless == nil || *c.Session.Headless,
		BrowserBin:  c.Session.BrowserBin,
		Proxy:       c.Proxy,
	}
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	if c.Accounts.File == "" {
		return fmt.Errorf("accounts.file is required")
	}
	switch c.Session.Driver {
	case "browser", "http", "mock":
	default:
		return fmt.Errorf("session.driver must be browser, http or mock, got %q", c.Session.Driver)
	}
	if c.Supervisor.GracePeriod <= 0 {
		return fmt.Errorf("supervisor.grace_period must be positive")
	}
	if c.Supervisor.EventBuffer < 0 {
		return fmt.Errorf("supervisor.event_buffer must not be negative")
	}
	if c.Session.StepTimeout <= 0 {
		return fmt.Errorf("session.step_timeout must be positive")
	}
	if _, err := cronParser.Parse(c.Schedule.DailyCron); err != nil {
		return fmt.Errorf("schedule.daily_cron: %w", err)
	}
	if c.Schedule.ReportCron != "" {
		if _, err := cronParser.Parse(c.Schedule.ReportCron); err != nil {
			return fmt.Errorf("schedule.report_cron: %w", err)
		}
	}
	return nil
}
