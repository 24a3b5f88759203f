package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks the configuration for completeness and sane values.
// It returns the first error found.
func (c *Config) Validate() error {
	if c.MSP == nil {
		return errors.New("missing required msp block")
	}
	if strings.TrimSpace(c.MSP.Domain) == "" {
		return errors.New("msp.domain is required")
	}
	if strings.TrimSpace(c.MSP.AccessToken) == "" {
		return errors.New("msp.access_token is required")
	}
	if len(strings.TrimSpace(c.MSP.AccessToken)) < 10 {
		return errors.New("msp.access_token looks too short to be a valid token")
	}
	if strings.TrimSpace(c.MSP.BoxGID) == "" {
		return errors.New("msp.box_gid is required")
	}

	if c.Poll != nil {
		if err := validateDuration("poll.interval", c.Poll.Interval); err != nil {
			return err
		}
		if err := validateDuration("poll.timeout", c.Poll.Timeout); err != nil {
			return err
		}
		if err := validateDuration("poll.jitter", c.Poll.Jitter); err != nil {
			return err
		}
		if c.Poll.PollInterval() < MinPollInterval {
			return fmt.Errorf("poll.interval %s is below the %s floor", c.Poll.Interval, MinPollInterval)
		}
	}

	if c.Log != nil && c.Log.Level != "" {
		switch c.Log.Level {
		case "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
		}
	}

	if c.History != nil && c.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must not be negative")
	}

	return nil
}

func validateDuration(name, s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("%s: invalid duration %q", name, s)
	}
	return nil
}
