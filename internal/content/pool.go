// Package content supplies the text pool seeded posts are built from and the
// random choices made over it.
package content

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pool holds the fixed text variants. Rich is sent as rich text markup.
type Pool struct {
	Text struct {
		Short   string `yaml:"short" json:"short"`
		Long    string `yaml:"long" json:"long"`
		Rich    string `yaml:"rich" json:"rich"`
		Subject string `yaml:"subject" json:"subject"`
	} `yaml:"text" json:"text"`
}

// DefaultPool is used when no content file is configured.
func DefaultPool() Pool {
	var p Pool
	p.Text.Short = "Hello everyone, quick update from the team."
	p.Text.Long = "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod " +
		"tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis " +
		"nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis " +
		"aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat " +
		"nulla pariatur."
	p.Text.Rich = "<b>Release notes</b><br>Please review the <i>draft</i> before Friday:" +
		"<ul><li>Search improvements</li><li>Faster uploads</li><li>Bug fixes</li></ul>"
	p.Text.Subject = "Weekly sync"
	return p
}

// Load reads a YAML (or JSON) content pool. An empty path returns DefaultPool.
func Load(path string) (Pool, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPool(), nil
	}
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return Pool{}, fmt.Errorf("read content pool: %w", err)
	}
	var p Pool
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Pool{}, fmt.Errorf("parse content pool: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Pool{}, err
	}
	return p, nil
}

// Validate requires every body variant; the subject may be empty.
func (p Pool) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Text.Short) == "" {
		missing = append(missing, "text.short")
	}
	if strings.TrimSpace(p.Text.Long) == "" {
		missing = append(missing, "text.long")
	}
	if strings.TrimSpace(p.Text.Rich) == "" {
		missing = append(missing, "text.rich")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompletePool, strings.Join(missing, ", "))
	}
	return nil
}

// Variants returns the body variants in short, long, rich order.
func (p Pool) Variants() []string {
	return []string{p.Text.Short, p.Text.Long, p.Text.Rich}
}

var ErrIncompletePool = errors.New("content pool incomplete")
