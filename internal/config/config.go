package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults applied when a field is absent from the config file.
const (
	DefaultListen      = "127.0.0.1:8484"
	DefaultDaysToSync  = 7
	DefaultRefreshCron = "*/15 * * * *"

	MinDaysToSync = 1
	MaxDaysToSync = 30
)

// Account holds the connection settings for one CalDAV account. Each account
// gets its own sync engine; accounts never share session state.
type Account struct {
	Name        string `json:"name"`                   // Label used in logs and API routes
	URL         string `json:"url"`                    // CalDAV server URL (e.g. "https://caldav.icloud.com")
	Username    string `json:"username"`               // Account username
	Password    string `json:"password"`               // App-specific password
	DaysToSync  int    `json:"days_to_sync,omitempty"` // Forward sync window in days [1,30], default 7
	AutoRefresh *bool  `json:"auto_refresh,omitempty"` // Periodic refresh enabled, default true
}

// AutoRefreshEnabled reports whether the account participates in the
// periodic refresh schedule. Unset means enabled.
func (a *Account) AutoRefreshEnabled() bool {
	return a.AutoRefresh == nil || *a.AutoRefresh
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // zap level name (default "info")
	Format string `json:"format,omitempty"` // "json" or "console"
}

// Config holds the configuration for the calendar agenda service.
type Config struct {
	Listen      string    `json:"listen,omitempty"`       // HTTP listen address
	Timezone    string    `json:"timezone,omitempty"`     // IANA zone used as the local zone for normalization
	RefreshCron string    `json:"refresh_cron,omitempty"` // Cron schedule for automatic refresh
	Log         LogConfig `json:"log,omitempty"`
	Accounts    []Account `json:"accounts"`
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if any required value is missing or out of range.
func LoadConfig(configFile, listenFlag, timezoneFlag string) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	if listen := os.Getenv("CALAGENDA_LISTEN"); listen != "" {
		config.Listen = listen
	}
	if tz := os.Getenv("CALAGENDA_TIMEZONE"); tz != "" {
		config.Timezone = tz
	}
	if cronSpec := os.Getenv("CALAGENDA_REFRESH_CRON"); cronSpec != "" {
		config.RefreshCron = cronSpec
	}
	if level := os.Getenv("CALAGENDA_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}

	// A single account can be supplied entirely through the environment,
	// which is the common shape for container deployments.
	if url := os.Getenv("CALDAV_URL"); url != "" {
		account := Account{
			Name:     os.Getenv("CALDAV_ACCOUNT_NAME"),
			URL:      url,
			Username: os.Getenv("CALDAV_USERNAME"),
			Password: os.Getenv("CALDAV_PASSWORD"),
		}
		if account.Name == "" {
			account.Name = "default"
		}
		if days := os.Getenv("CALDAV_DAYS_TO_SYNC"); days != "" {
			n, err := strconv.Atoi(days)
			if err != nil {
				return nil, fmt.Errorf("invalid CALDAV_DAYS_TO_SYNC value: %w", err)
			}
			account.DaysToSync = n
		}
		config.Accounts = append(config.Accounts, account)
	}

	// Step 3: Override with command-line flags (highest priority)
	if listenFlag != "" {
		config.Listen = listenFlag
	}
	if timezoneFlag != "" {
		config.Timezone = timezoneFlag
	}

	// Step 4: Apply defaults and validate required fields
	if config.Listen == "" {
		config.Listen = DefaultListen
	}
	if config.RefreshCron == "" {
		config.RefreshCron = DefaultRefreshCron
	}

	if len(config.Accounts) == 0 {
		return nil, fmt.Errorf("at least one account must be provided via the config file or CALDAV_URL environment variable")
	}

	names := make(map[string]bool, len(config.Accounts))
	for i := range config.Accounts {
		account := &config.Accounts[i]

		if account.Name == "" {
			account.Name = fmt.Sprintf("account-%d", i+1)
		}
		if names[account.Name] {
			return nil, fmt.Errorf("account[%d]: duplicate account name %q", i, account.Name)
		}
		names[account.Name] = true

		if account.URL == "" {
			return nil, fmt.Errorf("account[%d] (name: %s): url must be provided", i, account.Name)
		}
		if account.Username == "" {
			return nil, fmt.Errorf("account[%d] (name: %s): username must be provided", i, account.Name)
		}
		if account.Password == "" {
			return nil, fmt.Errorf("account[%d] (name: %s): password must be provided", i, account.Name)
		}

		if account.DaysToSync == 0 {
			account.DaysToSync = DefaultDaysToSync
		}
		if account.DaysToSync < MinDaysToSync || account.DaysToSync > MaxDaysToSync {
			return nil, fmt.Errorf("account[%d] (name: %s): days_to_sync must be between %d and %d, got %d",
				i, account.Name, MinDaysToSync, MaxDaysToSync, account.DaysToSync)
		}
	}

	return &config, nil
}

// Location resolves the configured timezone, falling back to the system
// local zone when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
