package transfer

import (
	"fmt"
	"strings"
)

// Mode selects how the data connection is established.
type Mode int

const (
	// Passive: the client dials the address the server advertises with 227.
	Passive Mode = iota
	// Active: the client listens and the server connects back after PORT.
	Active
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "PASV"
	case Active:
		return "PORT"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the names the shell and the config file use.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pasv", "passive", "":
		return Passive, nil
	case "port", "active":
		return Active, nil
	default:
		return Passive, fmt.Errorf("unknown transfer mode %q (use pasv or port)", s)
	}
}
