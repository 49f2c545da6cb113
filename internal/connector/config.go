package connector

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/braidhq/braid/internal/repo"
)

// DefaultPollInterval applies when a connector block omits poll_interval.
const DefaultPollInterval = 60 * time.Second

// Config is one connector block from connectors.toml.
type Config struct {
	ID        string         `toml:"id"`
	Type      Type           `toml:"type"`
	Direction repo.Direction `toml:"direction"`

	// PollInterval is how often the sync manager polls this connector.
	PollInterval duration `toml:"poll_interval"`

	// Settings carries type-specific keys (the file connector reads
	// "dir", a SaaS connector would read "token").
	Settings map[string]string `toml:"settings"`
}

// Validate checks the block is complete enough to construct from.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("connector id is required")
	}
	if c.Type == "" {
		return fmt.Errorf("connector %s: type is required", c.ID)
	}
	switch c.Direction {
	case repo.DirectionInbound, repo.DirectionOutbound, repo.DirectionBidirectional:
	case "":
		return fmt.Errorf("connector %s: direction is required", c.ID)
	default:
		return fmt.Errorf("connector %s: unknown direction %q", c.ID, c.Direction)
	}
	return nil
}

// Poll returns the effective poll interval.
func (c *Config) Poll() time.Duration {
	if c.PollInterval.Duration <= 0 {
		return DefaultPollInterval
	}
	return c.PollInterval.Duration
}

// File is the top-level shape of connectors.toml.
type File struct {
	Connectors []Config `toml:"connectors"`
}

// LoadFile parses connectors.toml at path. A missing file yields an empty
// configuration, not an error, so a fresh install syncs nothing.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Connectors))
	for i := range f.Connectors {
		c := &f.Connectors[i]
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%s: duplicate connector id %q", path, c.ID)
		}
		seen[c.ID] = true
	}
	return &f, nil
}

// duration wraps time.Duration with TOML string parsing ("30s", "5m").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}
