package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultBroadcastInterval      = 500 * time.Millisecond
	defaultMessagesPerSecond      = 30
	defaultGroupMessagesPerMinute = 20
)

// BotConfig is the per-bot configuration, one JSON file per bot in the config directory.
type BotConfig struct {
	ID              string  `json:"id"`
	TelegramToken   string  `json:"telegram_token"` // falls back to TELEGRAM_TOKEN_<ID>
	OwnerTelegramID int64   `json:"owner_telegram_id"`
	AdminIDs        []int64 `json:"admin_ids"` // operators allowed to use /stats and /broadcast
	Active          bool    `json:"active"`

	SpamWords      []string `json:"spam_words"`
	ExtraSpamWords []string `json:"extra_spam_words"`

	PendingTimeout    string `json:"pending_timeout"`    // e.g. "30m"; empty keeps dialogs open
	BroadcastInterval string `json:"broadcast_interval"` // pause between broadcast forwards

	MessagesPerSecond      int `json:"messages_per_second"`
	GroupMessagesPerMinute int `json:"group_messages_per_minute"`
}

func loadConfig(filename string) (BotConfig, error) {
	var config BotConfig
	file, err := os.Open(filename)
	if err != nil {
		return config, fmt.Errorf("failed to open config file %s: %w", filename, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return config, fmt.Errorf("failed to decode JSON from %s: %w", filename, err)
	}

	if config.TelegramToken == "" && config.ID != "" {
		config.TelegramToken = os.Getenv(envTokenKey(config.ID))
	}
	return config, nil
}

// envTokenKey returns the environment variable holding the token of bot id.
func envTokenKey(id string) string {
	key := strings.ToUpper(id)
	key = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, key)
	return "TELEGRAM_TOKEN_" + key
}

// validateConfigPath resolves filename inside configDir and rejects anything
// that is not a .json file below it.
func validateConfigPath(configDir, filename string) (string, error) {
	absDir, err := filepath.Abs(configDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}

	fullPath := filepath.Clean(filepath.Join(absDir, filename))
	if filepath.Ext(fullPath) != ".json" {
		return "", fmt.Errorf("invalid config file extension: %s", filename)
	}

	rel, err := filepath.Rel(absDir, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("config file %s is outside of %s", filename, configDir)
	}
	return fullPath, nil
}

// validateConfig checks required fields and records id and token in ids and tokens.
func validateConfig(config *BotConfig, ids, tokens map[string]bool) error {
	if config.ID == "" {
		return fmt.Errorf("missing 'id' field")
	}
	if ids[config.ID] {
		return fmt.Errorf("duplicate bot id: %s", config.ID)
	}
	if config.TelegramToken == "" {
		return fmt.Errorf("missing 'telegram_token' field for bot %s", config.ID)
	}
	if tokens[config.TelegramToken] {
		return fmt.Errorf("duplicate telegram_token for bot %s", config.ID)
	}
	if _, err := parseOptionalDuration(config.PendingTimeout); err != nil {
		return fmt.Errorf("invalid 'pending_timeout' for bot %s: %w", config.ID, err)
	}
	if _, err := parseOptionalDuration(config.BroadcastInterval); err != nil {
		return fmt.Errorf("invalid 'broadcast_interval' for bot %s: %w", config.ID, err)
	}
	if config.MessagesPerSecond < 0 || config.GroupMessagesPerMinute < 0 {
		return fmt.Errorf("negative message rate for bot %s", config.ID)
	}

	ids[config.ID] = true
	tokens[config.TelegramToken] = true
	return nil
}

// loadAllConfigs loads every active, valid bot configuration in configDir.
// Invalid files are logged and skipped.
func loadAllConfigs(configDir string) ([]BotConfig, error) {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory %s: %w", configDir, err)
	}

	var configs []BotConfig
	ids := make(map[string]bool)
	tokens := make(map[string]bool)

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path, err := validateConfigPath(configDir, entry.Name())
		if err != nil {
			ErrorLogger.Printf("Skipping config %s: %v", entry.Name(), err)
			continue
		}

		config, err := loadConfig(path)
		if err != nil {
			ErrorLogger.Printf("Skipping config %s: %v", entry.Name(), err)
			continue
		}

		if !config.Active {
			InfoLogger.Printf("Skipping inactive bot %s", config.ID)
			continue
		}

		if err := validateConfig(&config, ids, tokens); err != nil {
			ErrorLogger.Printf("Skipping config %s: %v", entry.Name(), err)
			continue
		}

		configs = append(configs, config)
		InfoLogger.Printf("Loaded configuration for bot %s", config.ID)
	}

	return configs, nil
}

// Reload re-reads the configuration of this bot from configDir/filename.
func (c *BotConfig) Reload(configDir, filename string) error {
	path, err := validateConfigPath(configDir, filename)
	if err != nil {
		return err
	}
	config, err := loadConfig(path)
	if err != nil {
		return err
	}
	*c = config
	return nil
}

func parseOptionalDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", value)
	}
	return d, nil
}

func (c BotConfig) pendingTimeout() time.Duration {
	d, _ := parseOptionalDuration(c.PendingTimeout)
	return d
}

func (c BotConfig) broadcastInterval() time.Duration {
	d, err := parseOptionalDuration(c.BroadcastInterval)
	if err != nil || d == 0 {
		return defaultBroadcastInterval
	}
	return d
}

// isOperator reports whether userID may use the operator commands.
func (c BotConfig) isOperator(userID int64) bool {
	if c.OwnerTelegramID != 0 && userID == c.OwnerTelegramID {
		return true
	}
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
