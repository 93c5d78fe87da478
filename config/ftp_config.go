package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// LoginConfig holds what it takes to open and authenticate one control
// connection. Background jobs use it to log in on their own.
type LoginConfig struct {
	Address  string // Example: "ftp.gnu.org:21"
	Username string
	Password string
	Timeout  time.Duration
}

// Validate checks the address is host:port and a user is set.
func (c LoginConfig) Validate() error {
	if c.Address == "" {
		return errors.New("login: address is required")
	}
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("login: invalid address %q: %w", c.Address, err)
	}
	if c.Username == "" {
		return errors.New("login: username is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("login: negative timeout %v", c.Timeout)
	}
	return nil
}
