package tcppeer

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort          = 9999
	DefaultBindHost      = "0.0.0.0"
	DefaultAcceptTimeout = 5 * time.Second
	DefaultDialTimeout   = 10 * time.Second
	DefaultRetryDelay    = 3 * time.Second
	DefaultProbeInterval = 5 * time.Second
	DefaultReadTimeout   = time.Second
	DefaultWriteTimeout  = 5 * time.Second
)

// Role selects which side of the link this process plays.
type Role int

const (
	// RoleListener binds a port and waits for the peer to connect.
	RoleListener Role = iota
	// RoleDialer connects to a known peer address.
	RoleDialer
)

func (r Role) String() string {
	switch r {
	case RoleListener:
		return "listener"
	case RoleDialer:
		return "dialer"
	default:
		return "role(" + strconv.Itoa(int(r)) + ")"
	}
}

// ParseRole accepts "listener"/"listen"/"server" and "dialer"/"connect"/"client".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "listener", "listen", "server", "passive":
		return RoleListener, nil
	case "dialer", "dial", "connect", "client", "active":
		return RoleDialer, nil
	default:
		return 0, fmt.Errorf("unknown role %q (want listener|dialer)", s)
	}
}

// Config describes the link. It is copied by New and never changes after.
type Config struct {
	Role Role
	// Host is the bind address for a listener or the peer host for a dialer.
	Host string
	Port int

	AcceptTimeout time.Duration // bound on one Accept call
	DialTimeout   time.Duration // bound on one dial attempt
	RetryDelay    time.Duration // pause after a failed bind/dial
	ProbeInterval time.Duration // liveness probe period
	ReadTimeout   time.Duration // bound on one socket read
	WriteTimeout  time.Duration // write deadline for frames and probes

	// IdleTimeout drops the link when nothing has been read for this long.
	// 0 disables it; peers that never send probes would otherwise be cut.
	IdleTimeout time.Duration

	// MaxAttempts gives up after this many consecutive failed binds or
	// dials. 0 retries forever.
	MaxAttempts int
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.Host == "" && c.Role == RoleListener {
		c.Host = DefaultBindHost
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = DefaultAcceptTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Validate reports configuration that can never work.
func (c Config) Validate() error {
	switch c.Role {
	case RoleListener:
		if c.Port < 0 || c.Port > 65535 {
			return fmt.Errorf("port %d out of range", c.Port)
		}
	case RoleDialer:
		if c.Host == "" {
			return errors.New("dialer needs a peer host")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("port %d out of range", c.Port)
		}
	default:
		return fmt.Errorf("unknown role %v", c.Role)
	}
	if c.MaxAttempts < 0 {
		return errors.New("max attempts must not be negative")
	}
	if c.IdleTimeout < 0 {
		return errors.New("idle timeout must not be negative")
	}
	return nil
}
