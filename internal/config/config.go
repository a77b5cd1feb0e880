// Package config loads the vpnfleet server settings from the environment and
// command line, and the fleet profile definitions from a YAML file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// TLS modes for the ops API listener.
const (
	TLSModeOff    = "off"
	TLSModeStatic = "static"
	TLSModeAuto   = "auto"
)

// Server holds all control-plane daemon settings. Environment variables are
// the base layer; flags override them.
type Server struct {
	Listen       string `env:"VPNFLEET_LISTEN" envDefault:":9190"`
	DBPath       string `env:"VPNFLEET_DB_PATH" envDefault:"./vpnfleet.db"`
	ProfilesPath string `env:"VPNFLEET_PROFILES" envDefault:"./profiles.yaml"`
	MgmtHost     string `env:"VPNFLEET_MGMT_HOST" envDefault:"127.0.0.1"`
	APIKeyPepper string `env:"VPNFLEET_API_KEY_PEPPER"`
	LogLevel     string `env:"VPNFLEET_LOG_LEVEL" envDefault:"info"`
	PprofAddr    string `env:"VPNFLEET_PPROF_ADDR"`

	TLSMode      string   `env:"VPNFLEET_TLS_MODE" envDefault:"off"`
	TLSCertFile  string   `env:"VPNFLEET_TLS_CERT_FILE"`
	TLSKeyFile   string   `env:"VPNFLEET_TLS_KEY_FILE"`
	TLSHosts     []string `env:"VPNFLEET_TLS_HOSTS"`
	CertCacheDir string   `env:"VPNFLEET_CERT_CACHE_DIR" envDefault:"./cert"`

	EndpointTimeout time.Duration `env:"VPNFLEET_ENDPOINT_TIMEOUT" envDefault:"5s"`
	FanoutLimit     int           `env:"VPNFLEET_FANOUT_LIMIT" envDefault:"16"`
	Retention       time.Duration `env:"VPNFLEET_RETENTION" envDefault:"2160h"`
	CleanupInterval time.Duration `env:"VPNFLEET_CLEANUP_INTERVAL" envDefault:"1h"`
}

// ParseServerFlags builds a [Server] from the environment, applies flag
// overrides, and validates the result.
func ParseServerFlags(args []string) (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "Ops API listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.ProfilesPath, "profiles", cfg.ProfilesPath, "Fleet profiles YAML file")
	fs.StringVar(&cfg.MgmtHost, "mgmt-host", cfg.MgmtHost, "Host the termination process management ports live on")
	fs.StringVar(&cfg.APIKeyPepper, "api-key-pepper", cfg.APIKeyPepper, "API key hash pepper override")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.PprofAddr, "pprof-addr", cfg.PprofAddr, "Optional pprof listen address (empty = disabled)")
	fs.StringVar(&cfg.TLSMode, "tls-mode", cfg.TLSMode, "TLS mode: off|static|auto")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert-file", cfg.TLSCertFile, "Static TLS cert PEM file")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key-file", cfg.TLSKeyFile, "Static TLS key PEM file")
	fs.DurationVar(&cfg.EndpointTimeout, "endpoint-timeout", cfg.EndpointTimeout, "Per-endpoint management call timeout")
	fs.IntVar(&cfg.FanoutLimit, "fanout-limit", cfg.FanoutLimit, "Max concurrent endpoint dispatches")
	fs.DurationVar(&cfg.Retention, "retention", cfg.Retention, "How long closed ledger records are kept")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.TLSMode = strings.ToLower(strings.TrimSpace(cfg.TLSMode))
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSModeOff
	}
	switch cfg.TLSMode {
	case TLSModeOff, TLSModeStatic, TLSModeAuto:
	default:
		return cfg, errors.New("tls mode must be one of: off, static, auto")
	}
	if cfg.TLSMode == TLSModeStatic && (cfg.TLSCertFile == "" || cfg.TLSKeyFile == "") {
		return cfg, errors.New("static tls mode requires --tls-cert-file and --tls-key-file")
	}
	if cfg.TLSMode == TLSModeAuto && len(cfg.TLSHosts) == 0 {
		return cfg, errors.New("auto tls mode requires VPNFLEET_TLS_HOSTS")
	}
	if strings.TrimSpace(cfg.MgmtHost) == "" {
		return cfg, errors.New("management host must not be empty")
	}
	if cfg.EndpointTimeout <= 0 {
		return cfg, errors.New("endpoint timeout must be > 0")
	}
	if cfg.FanoutLimit <= 0 {
		return cfg, errors.New("fanout limit must be > 0")
	}
	if cfg.Retention <= 0 {
		return cfg, errors.New("retention must be > 0")
	}
	if cfg.CleanupInterval <= 0 {
		return cfg, errors.New("cleanup interval must be > 0")
	}

	return cfg, nil
}
