// Package config holds the settings of a run, read from an optional
// atsumare.json5 with credentials taken from the environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"atsumare/internal/components/configutil"
	"atsumare/internal/components/restyutil"
	"atsumare/internal/components/telemetry"
	"atsumare/internal/history"
	"atsumare/internal/scraper"

	"github.com/adrg/xdg"
)

const (
	AppName  = "atsumare"
	FileName = "atsumare.json5"
)

const (
	EnvNoIntroUser = "ATSUMARE_DOM_USER"
	EnvNoIntroPass = "ATSUMARE_DOM_PASS"
	EnvRedumpUser  = "ATSUMARE_REDUMP_USER"
	EnvRedumpPass  = "ATSUMARE_REDUMP_PASS"
)

type Account struct {
	Username        string  `json:"username"`
	Password        string  `json:"password"`
	ThrottleSeconds float64 `json:"throttle_seconds"`
}

// Credentials is nil unless a username was configured.
func (a Account) Credentials() *scraper.Credentials {
	if a.Username == "" {
		return nil
	}
	return &scraper.Credentials{Username: a.Username, Password: a.Password}
}

func (a Account) Throttle() time.Duration {
	return seconds(a.ThrottleSeconds)
}

type Tosec struct {
	Url string `json:"url"`
}

type Http struct {
	TimeoutSeconds    float64 `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	UserAgent         string  `json:"user_agent"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`
}

func (h Http) Options() restyutil.Options {
	return restyutil.Options{
		Timeout:           seconds(h.TimeoutSeconds),
		RequestsPerSecond: h.RequestsPerSecond,
		UserAgent:         h.UserAgent,
		CloudflareBypass:  h.CloudflareBypass,
	}
}

type Config struct {
	Output    string           `json:"output"`
	NoIntro   Account          `json:"nointro"`
	Redump    Account          `json:"redump"`
	Tosec     Tosec            `json:"tosec"`
	Http      Http             `json:"http"`
	History   history.Config   `json:"history"`
	Telemetry telemetry.Config `json:"telemetry"`
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// ConfigDir is the per-user config directory, ~/.config/atsumare on Linux.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Load reads path. When path is empty it looks for FileName from the working
// directory upwards, then in ConfigDir, and falls back to the zero Config if
// there is none. Credentials from the environment replace the configured
// ones.
func Load(path string, lookupEnv func(string) (string, bool)) (Config, error) {
	var cfg Config
	var err error
	if path != "" {
		cfg, err = configutil.ReadConfig[Config](path)
	} else {
		cfg, err = configutil.ReadRecursively[Config](FileName)
		if errors.Is(err, fs.ErrNotExist) {
			cfg, err = configutil.ReadConfig[Config](filepath.Join(ConfigDir(), FileName))
		}
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
	}
	if err != nil {
		return Config{}, err
	}

	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	applyEnv(&cfg.NoIntro, lookupEnv, EnvNoIntroUser, EnvNoIntroPass)
	applyEnv(&cfg.Redump, lookupEnv, EnvRedumpUser, EnvRedumpPass)

	return cfg, nil
}

// applyEnv only takes the pair when both halves are set.
func applyEnv(account *Account, lookupEnv func(string) (string, bool), userKey, passKey string) {
	username, ok := lookupEnv(userKey)
	if !ok {
		return
	}
	password, ok := lookupEnv(passKey)
	if !ok {
		return
	}
	account.Username = username
	account.Password = password
}
