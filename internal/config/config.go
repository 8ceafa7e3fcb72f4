// Package config holds the daemon's runtime settings.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
)

const (
	DefaultDatabaseURL    = "sqlite://terminus.db"
	DefaultRPCListenAddr  = "127.0.0.1:11054"
	DefaultListenLocation = "ws://127.0.0.1:11058"
	DefaultRetryInterval  = 5 * time.Second
	DefaultPruneInterval  = 3 * time.Second
	DefaultMaxBeacons     = 3
	defaultSQLiteFile     = "terminus.db"
	defaultJWTIssuer      = "terminus"
	directoryMode         = 0o755
)

// Driver names a persistence backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverFile     Driver = "file"
)

var (
	errListenAddrRequired = errors.New("rpc listen addr is required")
	errLocationsRequired  = errors.New("at least one listen location is required")
	errJWTWithoutHTTP     = errors.New("jwt secret set but http listen addr is empty")
)

// Config aggregates runtime settings for terminusd.
type Config struct {
	DatabaseURL     string
	RPCListenAddr   string
	HTTPListenAddr  string
	AllowedOrigins  []string
	JWTSecret       string
	JWTIssuer       string
	ListenLocations []string
	LNDAddress      string
	LNDCertHex      string
	LNDMacaroonHex  string
	RetryInterval   time.Duration
	PruneInterval   time.Duration
	MaxBeacons      int
	LogDevelopment  bool
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, DefaultDatabaseURL)
	cfg.RPCListenAddr = defaultIfEmpty(cfg.RPCListenAddr, DefaultRPCListenAddr)
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	if len(cfg.ListenLocations) == 0 {
		cfg.ListenLocations = []string{DefaultListenLocation}
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.MaxBeacons <= 0 {
		cfg.MaxBeacons = DefaultMaxBeacons
	}
	if strings.TrimSpace(cfg.RPCListenAddr) == "" {
		return fmt.Errorf("%w: %w", ledger.ErrInvalidServiceConfig, errListenAddrRequired)
	}
	if cfg.JWTSecret != "" && strings.TrimSpace(cfg.HTTPListenAddr) == "" {
		return fmt.Errorf("%w: %w", ledger.ErrInvalidServiceConfig, errJWTWithoutHTTP)
	}
	if _, err := cfg.Locations(); err != nil {
		return err
	}
	if _, err := ResolveDatabase(cfg.DatabaseURL); err != nil {
		return err
	}
	return nil
}

// Locations parses the listen locations advertised in incoming beacons.
func (cfg *Config) Locations() ([]ledger.Location, error) {
	if len(cfg.ListenLocations) == 0 {
		return nil, fmt.Errorf("%w: %w", ledger.ErrInvalidServiceConfig, errLocationsRequired)
	}
	locations := make([]ledger.Location, 0, len(cfg.ListenLocations))
	for _, raw := range cfg.ListenLocations {
		location, err := ledger.NewWebSocketLocation(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: listen location %q: %w", ledger.ErrInvalidServiceConfig, raw, err)
		}
		locations = append(locations, location)
	}
	return locations, nil
}

// HTTPEnabled reports whether the read API should be served.
func (cfg *Config) HTTPEnabled() bool {
	return strings.TrimSpace(cfg.HTTPListenAddr) != ""
}

// LightningEnabled reports whether an lnd node is configured.
func (cfg *Config) LightningEnabled() bool {
	return strings.TrimSpace(cfg.LNDAddress) != ""
}

// Database is a resolved database URL.
type Database struct {
	Driver Driver
	// DSN is the postgres URL, the sqlite file path or the record directory.
	DSN string
}

// ResolveDatabase picks the backend for a database URL. postgres:// URLs go
// to postgres, file:// URLs to the JSON record directory and everything else
// is a sqlite path.
func ResolveDatabase(raw string) (Database, error) {
	dsn := strings.TrimSpace(raw)
	if dsn == "" {
		return Database{}, fmt.Errorf("%w: database url is empty", ledger.ErrInvalidServiceConfig)
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Database{Driver: DriverPostgres, DSN: dsn}, nil
	}
	if strings.HasPrefix(dsn, "file://") {
		directory := strings.TrimPrefix(dsn, "file://")
		if strings.TrimSpace(directory) == "" {
			return Database{}, fmt.Errorf("%w: file url has no directory", ledger.ErrInvalidServiceConfig)
		}
		return Database{Driver: DriverFile, DSN: directory}, nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return Database{}, fmt.Errorf("%w: parse sqlite url: %w", ledger.ErrInvalidServiceConfig, err)
		}
		path := parsed.Host + parsed.Path
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		return Database{Driver: DriverSQLite, DSN: path}, nil
	}
	return Database{Driver: DriverSQLite, DSN: dsn}, nil
}

// PrepareSQLitePath creates the parent directory of a sqlite file.
func PrepareSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), directoryMode); err != nil {
		return "", err
	}
	return path, nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseList splits comma-delimited values into a slice.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
