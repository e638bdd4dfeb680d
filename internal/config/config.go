package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment prefix, e.g. WEBXTERM_LISTEN_ADDR.
const Prefix = "WEBXTERM"

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8080"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	// StaticDir holds the built browser terminal. Empty serves the API only.
	StaticDir string `envconfig:"STATIC_DIR" default:""`

	// Transport settings
	SSHTimeout        time.Duration `envconfig:"SSH_TIMEOUT" default:"10s"`
	TelnetTimeout     time.Duration `envconfig:"TELNET_TIMEOUT" default:"10s"`
	RelayCapacity     int           `envconfig:"RELAY_CAPACITY" default:"256"`
	LocalLoginProgram string        `envconfig:"LOCAL_LOGIN_PROGRAM" default:"/usr/bin/login"`
	DefaultEncoding   string        `envconfig:"DEFAULT_ENCODING" default:"auto"`

	// Session housekeeping
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"60m"`
	IdleSweepSchedule  string        `envconfig:"IDLE_SWEEP_SCHEDULE" default:"@every 1m"`

	// AllowedOrigins lists WebSocket origins accepted besides same-origin.
	// "*" disables the origin check.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:""`
}

// Load reads Settings from the environment and fills paths derived from
// DataPath.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.DataPath, "webxterm.db")
	}
	if s.LogPath == "" {
		s.LogPath = filepath.Join(s.DataPath, "webxterm.log")
	}
	if s.RelayCapacity <= 0 {
		return nil, fmt.Errorf("load config: RELAY_CAPACITY must be positive, got %d", s.RelayCapacity)
	}
	return &s, nil
}
