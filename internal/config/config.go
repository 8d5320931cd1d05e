package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	fmtErrRange   = "%s must be in the range %v-%v"
	fmtErrInvalid = "%s is invalid: %q"
)

type Position string

const (
	TopRight    Position = "Top Right"
	TopLeft     Position = "Top Left"
	BottomRight Position = "Bottom Right"
	BottomLeft  Position = "Bottom Left"
)

func (p Position) Valid() bool {
	switch p {
	case TopRight, TopLeft, BottomRight, BottomLeft:
		return true
	}
	return false
}

// Settings are the user-facing keys the monitor consumes. Display keys are
// passed through to the presentation layer untouched.
type Settings struct {
	Enabled             bool     `yaml:"enabled" json:"enabled"`
	Opacity             int      `yaml:"opacity" json:"opacity"`
	Scale               float64  `yaml:"scale" json:"scale"`
	Position            Position `yaml:"position" json:"position"`
	Padding             float64  `yaml:"padding" json:"padding"`
	RefreshRate         float64  `yaml:"refresh_rate" json:"refresh_rate"` // seconds, <= 0 means default
	Notification        bool     `yaml:"notification" json:"notification"`
	ManualInternetCheck bool     `yaml:"manual_internet_check" json:"manual_internet_check"`
	InternetURL         string   `yaml:"internet_url" json:"internet_url"`
	DisableInSession    bool     `yaml:"disable_in_session" json:"disable_in_session"`
}

// Targets are the addresses of the built-in checks.
type Targets struct {
	PlatformURL         string `yaml:"platform_url"`
	PlatformBody        string `yaml:"platform_body"`
	SDKURL              string `yaml:"sdk_url"`
	AuthURL             string `yaml:"auth_url"`
	ReachabilityAddress string `yaml:"reachability_address"` // dialed when manual_internet_check is on
}

type Config struct {
	Settings `yaml:",inline"`

	Targets        Targets `yaml:"targets"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`

	Addr         string `yaml:"addr"`     // host API bind address
	DataDir      string `yaml:"data_dir"` // empty means in-memory stores
	LogDir       string `yaml:"log_dir"`
	LogLevel     string `yaml:"log_level"`
	SlackWebhook string `yaml:"slack_webhook"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:     true,
		Opacity:     255,
		Scale:       1,
		Position:    TopRight,
		RefreshRate: 30,
		InternetURL: "https://www.google.com",
	}
}

func DefaultConfig() Config {
	return Config{
		Settings: DefaultSettings(),
		Targets: Targets{
			PlatformURL:         "http://www.boomlings.com/database/getGJLevels21.php",
			PlatformBody:        "type=2&secret=Wmfd2893gb7",
			SDKURL:              "https://api.geode-sdk.org",
			AuthURL:             "https://argon.globed.dev/",
			ReachabilityAddress: "1.1.1.1:53",
		},
		TimeoutSeconds: 5,
		Addr:           "127.0.0.1:8080",
		DataDir:        "data",
		LogDir:         "logs",
		LogLevel:       "info",
	}
}

// Load reads a YAML file over the defaults. A missing file yields defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// FromEnv overrides host-only keys from the environment.
func FromEnv(cfg Config) Config {
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("STATUS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SLACK_WEBHOOK"); v != "" {
		cfg.SlackWebhook = v
	}
	if v := os.Getenv("REFRESH_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RefreshRate = f
		}
	}
	return cfg
}

func (c Config) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf(fmtErrRange, "timeout_seconds", 0, "inf")
	}
	for name, u := range map[string]string{
		"targets.platform_url": c.Targets.PlatformURL,
		"targets.sdk_url":      c.Targets.SDKURL,
		"targets.auth_url":     c.Targets.AuthURL,
	} {
		if !httpURL(u) {
			return fmt.Errorf(fmtErrInvalid, name, u)
		}
	}
	return nil
}

func (s Settings) Validate() error {
	if s.Opacity < 0 || s.Opacity > 255 {
		return fmt.Errorf(fmtErrRange, "opacity", 0, 255)
	}
	if s.Scale <= 0 {
		return fmt.Errorf(fmtErrInvalid, "scale", strconv.FormatFloat(s.Scale, 'g', -1, 64))
	}
	if !s.Position.Valid() {
		return fmt.Errorf(fmtErrInvalid, "position", string(s.Position))
	}
	if !s.ManualInternetCheck && !httpURL(s.InternetURL) {
		return fmt.Errorf(fmtErrInvalid, "internet_url", s.InternetURL)
	}
	return nil
}

func httpURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
