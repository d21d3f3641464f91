// Package config reads and writes the global and per-profile TOML files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Global represents the global ~/.bubbled/config.toml.
type Global struct {
	DefaultProfile string `toml:"default_profile"`
}

// Profile is one profile's bubbled.toml.
type Profile struct {
	Server Server `toml:"server"`
	Sync   Sync   `toml:"sync"`
	Media  Media  `toml:"media"`
}

type Server struct {
	URL            string `toml:"url"`
	Password       string `toml:"password"`
	APIMethod      string `toml:"api_method"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type Sync struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	ChatPage            int `toml:"chat_page"`
	MessagesPerChat     int `toml:"messages_per_chat"`
	ChatRefreshEvery    int `toml:"chat_refresh_every"` // 0 = default, negative disables
}

type Media struct {
	MemoryEntries int `toml:"memory_entries"`
}

// Defaults applied to zero fields.
const (
	DefaultAPIMethod        = "applescript"
	DefaultTimeoutSeconds   = 15
	DefaultPollSeconds      = 3
	DefaultChatPage         = 50
	DefaultMessagesPerChat  = 5
	DefaultChatRefreshEvery = 10
	DefaultMemoryEntries    = 512
)

// ChatRefreshDisabled turns off the periodic chat list refresh.
const ChatRefreshDisabled = -1

// ApplyDefaults fills unset fields.
func (p *Profile) ApplyDefaults() {
	if p.Server.APIMethod == "" {
		p.Server.APIMethod = DefaultAPIMethod
	}
	if p.Server.TimeoutSeconds <= 0 {
		p.Server.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if p.Sync.PollIntervalSeconds <= 0 {
		p.Sync.PollIntervalSeconds = DefaultPollSeconds
	}
	if p.Sync.ChatPage <= 0 {
		p.Sync.ChatPage = DefaultChatPage
	}
	if p.Sync.MessagesPerChat <= 0 {
		p.Sync.MessagesPerChat = DefaultMessagesPerChat
	}
	if p.Sync.ChatRefreshEvery == 0 {
		p.Sync.ChatRefreshEvery = DefaultChatRefreshEvery
	}
	if p.Media.MemoryEntries <= 0 {
		p.Media.MemoryEntries = DefaultMemoryEntries
	}
}

// Validate checks the fields a daemon cannot start without.
func (p *Profile) Validate() error {
	var errs []error
	if p.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if u, err := url.Parse(p.Server.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("server.url %q must be an http(s) URL", p.Server.URL))
	}
	if p.Server.Password == "" {
		errs = append(errs, errors.New("server.password is required"))
	}
	switch p.Server.APIMethod {
	case "", "applescript", "private":
	default:
		errs = append(errs, fmt.Errorf("server.api_method %q must be applescript or private", p.Server.APIMethod))
	}
	return errors.Join(errs...)
}

// ChatRefreshSweeps returns how many sweeps pass between chat list
// refreshes, 0 when the refresh is disabled.
func (p *Profile) ChatRefreshSweeps() int {
	return max(p.Sync.ChatRefreshEvery, 0)
}

// PollInterval returns the configured sleep between sweeps.
func (p *Profile) PollInterval() time.Duration {
	return time.Duration(p.Sync.PollIntervalSeconds) * time.Second
}

// Timeout returns the configured per-request timeout.
func (p *Profile) Timeout() time.Duration {
	return time.Duration(p.Server.TimeoutSeconds) * time.Second
}

// LoadGlobal reads the global config. Returns error if the file is missing.
func LoadGlobal(path string) (*Global, error) {
	var cfg Global
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads a profile file and applies defaults. It does not validate.
func LoadProfile(path string) (*Profile, error) {
	var cfg Profile
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Save writes cfg to the given path, creating parent dirs as needed.
func Save(path string, cfg any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
