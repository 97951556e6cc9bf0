package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8886"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/webterm.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/webterm.log"`
	Debug        bool   `envconfig:"DEBUG" default:"false"`

	// AdminToken guards /api/v1. Empty disables those endpoints.
	AdminToken string `envconfig:"ADMIN_TOKEN"`

	// Remote session settings
	SSHTimeout     time.Duration `envconfig:"SSH_TIMEOUT" default:"6s"`
	TelnetTimeout  time.Duration `envconfig:"TELNET_TIMEOUT" default:"10s"`
	Term           string        `envconfig:"TERM" default:"xterm"`
	KnownHostsPath string        `envconfig:"KNOWN_HOSTS_PATH" default:"/app/data/known_hosts"`
	ReadBufferSize int           `envconfig:"READ_BUFFER_SIZE" default:"4096"`

	// Bridge settings
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"10ms"`
	PendingTimeout time.Duration `envconfig:"PENDING_TIMEOUT" default:"2m"`
	WSReadLimit    int64         `envconfig:"WS_READ_LIMIT" default:"1048576"`

	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
}

var Cfg Settings

// Load reads WEBTERM_* environment variables into Cfg.
func Load() error {
	if err := envconfig.Process("WEBTERM", &Cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if Cfg.ReadBufferSize <= 0 {
		return fmt.Errorf("load config: WEBTERM_READ_BUFFER_SIZE must be positive, got %d", Cfg.ReadBufferSize)
	}
	if Cfg.PollInterval <= 0 {
		return fmt.Errorf("load config: WEBTERM_POLL_INTERVAL must be positive, got %s", Cfg.PollInterval)
	}
	return nil
}
