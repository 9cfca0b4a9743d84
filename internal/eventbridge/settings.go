package eventbridge

import (
	"net"
	"strconv"
	"time"

	"github.com/kingrea/shipyard/internal/config"
)

// Server-side HTTP timeouts. They are not user configurable.
const (
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 15 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
)

// DefaultPageSize caps how many events one /events response carries.
const DefaultPageSize = config.DefaultBridgePageSize

// Settings is the runtime form of the feed's bridge config.
type Settings struct {
	Enabled      bool
	Host         string
	Port         int
	PageSize     int
	PollInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SettingsFromConfig maps the resolved bridge section of cfg. Defaults and
// environment overrides are already applied by config.NewConfig; a nil cfg
// yields the defaults.
func SettingsFromConfig(cfg *config.Config) Settings {
	bridge := config.DefaultBridge()
	if cfg != nil {
		bridge = cfg.Project.EventBridge
	}
	return Settings{
		Enabled:      bridge.IsEnabled(),
		Host:         bridge.Host,
		Port:         bridge.Port,
		PageSize:     bridge.PageSize,
		PollInterval: bridge.PollInterval,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}
