// Package config loads the seeding run configuration from a YAML (or JSON)
// file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// MinUsers is the smallest user pool a run can work with: the admin plus two
// recipients for a group conversation.
const MinUsers = 3

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the on-disk run configuration. Discovery of the actual user pool
// happens at run time, so validation only rejects what can never work.
type Config struct {
	Domain        string        `yaml:"domain"`
	ClientID      string        `yaml:"clientId"`
	ClientSecret  string        `yaml:"clientSecret"`
	Admin         Admin         `yaml:"admin"`
	NrUsers       int           `yaml:"nrUsers"`
	ExcludeEmails []string      `yaml:"excludeEmails"`
	FilesPath     string        `yaml:"filesPath"`
	ContentPath   string        `yaml:"contentPath"`
	LogLevel      string        `yaml:"logLevel"`
	SDKLogLevel   string        `yaml:"sdkLogLevel"`
	Conversations Conversations `yaml:"conversations"`
	Concurrency   int           `yaml:"concurrency"`
	RPS           int           `yaml:"rps"`
	Ledger        string        `yaml:"ledger"`
}

type Admin struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type Conversations struct {
	Open    int     `yaml:"open"`
	Group   int     `yaml:"group"`
	Posts   Range   `yaml:"posts"`
	Replies Range   `yaml:"replies"`
	Likes   float64 `yaml:"likes"`
	Flags   float64 `yaml:"flags"`
}

// Range is an inclusive [Min, Max] count.
type Range struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		NrUsers:     10,
		LogLevel:    "info",
		SDKLogLevel: "warn",
		Conversations: Conversations{
			Open:    2,
			Group:   3,
			Posts:   Range{Min: 2, Max: 4},
			Replies: Range{Min: 1, Max: 3},
			Likes:   0.3,
			Flags:   0.1,
		},
		Concurrency: 16,
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Domain = envString("CONVSEED_DOMAIN", c.Domain)
	c.ClientID = envString("CONVSEED_CLIENT_ID", c.ClientID)
	c.ClientSecret = envString("CONVSEED_CLIENT_SECRET", c.ClientSecret)
	c.Admin.Email = envString("CONVSEED_ADMIN_EMAIL", c.Admin.Email)
	c.Admin.Password = envString("CONVSEED_ADMIN_PASSWORD", c.Admin.Password)
	c.FilesPath = envString("CONVSEED_FILES_PATH", c.FilesPath)
	c.Ledger = envString("CONVSEED_LEDGER", c.Ledger)
	c.NrUsers = envInt("CONVSEED_NR_USERS", c.NrUsers)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	add := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Domain) == "" {
		add("domain is required")
	}
	if strings.TrimSpace(c.Admin.Email) == "" {
		add("admin.email is required")
	}
	if c.Admin.Password == "" {
		add("admin.password is required")
	}
	if c.ClientID == "" {
		add("clientId is required")
	}
	if c.NrUsers < MinUsers {
		add("nrUsers must be at least %d, got %d", MinUsers, c.NrUsers)
	}

	conv := c.Conversations
	if conv.Open < 0 {
		add("conversations.open must not be negative")
	}
	if conv.Group < 0 {
		add("conversations.group must not be negative")
	}
	checkRange := func(name string, r Range) {
		if r.Min < 0 || r.Max < 0 {
			add("conversations.%s must not be negative", name)
		}
		if r.Min > r.Max {
			add("conversations.%s.min (%d) exceeds max (%d)", name, r.Min, r.Max)
		}
	}
	checkRange("posts", conv.Posts)
	checkRange("replies", conv.Replies)
	if conv.Likes < 0 || conv.Likes > 1 {
		add("conversations.likes must be within [0,1], got %v", conv.Likes)
	}
	if conv.Flags < 0 || conv.Flags > 1 {
		add("conversations.flags must be within [0,1], got %v", conv.Flags)
	}
	if c.Concurrency < 0 {
		add("concurrency must not be negative")
	}
	if c.RPS < 0 {
		add("rps must not be negative")
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Excluded reports whether email is in the exclusion list, ignoring case.
func (c *Config) Excluded(email string) bool {
	return IsExcluded(c.ExcludeEmails, email)
}

// IsExcluded reports whether email is in list, ignoring case and surrounding space.
func IsExcluded(list []string, email string) bool {
	for _, ex := range list {
		if strings.EqualFold(strings.TrimSpace(ex), strings.TrimSpace(email)) {
			return true
		}
	}
	return false
}

func envString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
