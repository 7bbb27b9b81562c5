package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Mailing  MailingConfig  `json:"mailing"`
	Events   *EventsConfig  `json:"events,omitempty"`

	// AdminIDs are operators allowed to use the privileged interval floor.
	AdminIDs []int64 `json:"admin_ids,omitempty"`
}

type TelegramConfig struct {
	// BotToken is the Bot API token of the primary bot. It is used only to
	// materialize media stored as Bot API file ids before re-delivery.
	BotToken string `json:"bot_token"`

	// APIID/APIHash identify the MTProto application used for per-user
	// delivery sessions.
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	storage: { driver: sqlite, path: ./relaybot.db }
//	storage: { driver: postgres, dsn: "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`         // sqlite
	DSN         string `json:"dsn,omitempty"`          // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MailingConfig controls scheduling floors and delivery pacing.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
//
// Defaults (when fields are omitted/zero):
//   - min_interval: "5m"
//   - privileged_min_interval: "10s"
//   - default_interval: "1h"
//   - max_destinations: 50
//   - max_strikes: 1, strike_on_all_skipped: false
//   - pace_short: "1s".."3s", pace_long: "5s".."15s"
//   - history_limit: 10, topic_history_limit: 20
//   - rate_per_sec: 1
type MailingConfig struct {
	MinInterval           string `json:"min_interval,omitempty"`
	PrivilegedMinInterval string `json:"privileged_min_interval,omitempty"`
	DefaultInterval       string `json:"default_interval,omitempty"`

	MaxDestinations int `json:"max_destinations,omitempty"`

	// MaxStrikes is the number of consecutive zero-success runs after which
	// a task is deactivated.
	MaxStrikes int `json:"max_strikes,omitempty"`

	// StrikeOnAllSkipped makes a run where the skip heuristic suppressed
	// every destination count as a zero-success strike.
	StrikeOnAllSkipped bool `json:"strike_on_all_skipped,omitempty"`

	PaceShortMin string `json:"pace_short_min,omitempty"`
	PaceShortMax string `json:"pace_short_max,omitempty"`
	PaceLongMin  string `json:"pace_long_min,omitempty"`
	PaceLongMax  string `json:"pace_long_max,omitempty"`

	HistoryLimit      int `json:"history_limit,omitempty"`
	TopicHistoryLimit int `json:"topic_history_limit,omitempty"`

	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// EventsConfig controls the optional AMQP run-report publisher.
type EventsConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		return errors.New("telegram.bot_token is required")
	}
	if c.Telegram.APIID <= 0 {
		return errors.New("telegram.api_id is required")
	}
	if strings.TrimSpace(c.Telegram.APIHash) == "" {
		return errors.New("telegram.api_hash is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.New("storage.path is required for sqlite")
		}
	case "postgres", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	for _, raw := range []struct{ path, v string }{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"mailing.min_interval", c.Mailing.MinInterval},
		{"mailing.privileged_min_interval", c.Mailing.PrivilegedMinInterval},
		{"mailing.default_interval", c.Mailing.DefaultInterval},
		{"mailing.pace_short_min", c.Mailing.PaceShortMin},
		{"mailing.pace_short_max", c.Mailing.PaceShortMax},
		{"mailing.pace_long_min", c.Mailing.PaceLongMin},
		{"mailing.pace_long_max", c.Mailing.PaceLongMax},
	} {
		if _, err := ParseDurationField(raw.path, raw.v); err != nil {
			return err
		}
	}
	if c.Events != nil && c.Events.Enabled && strings.TrimSpace(c.Events.URL) == "" {
		return errors.New("events.url is required when events are enabled")
	}
	return nil
}

func (c *Config) IsAdmin(id int64) bool {
	for _, a := range c.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}
