// Package config provides Viper-based configuration loading for the session
// tools and the lobby server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend kinds accepted in backend.kind.
const (
	BackendLAN   = "NULL"
	BackendLobby = "lobby"
	BackendSteam = "Steam"
)

// Lobby store kinds accepted in lobby.store.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// SessionConfig holds the fixed parameters of the one session a process manages.
type SessionConfig struct {
	// Name is the local session name.
	Name string `mapstructure:"name"`
	// HostMap is the map path opened as a listen server after create.
	HostMap string `mapstructure:"host_map"`
	// UserIndex is the local player index passed to the backend.
	UserIndex int `mapstructure:"user_index"`
	// MaxSearchResults caps discovery results.
	MaxSearchResults int `mapstructure:"max_search_results"`
	// OwnerName is the player name advertised when hosting.
	OwnerName string `mapstructure:"owner_name"`
}

// LANConfig holds settings for the LAN backend.
type LANConfig struct {
	// BeaconAddr is the UDP address a hosted session answers queries on.
	BeaconAddr string `mapstructure:"beacon_addr"`
	// DiscoveryAddr is the UDP address queries are sent to.
	DiscoveryAddr string `mapstructure:"discovery_addr"`
	// SearchTimeout bounds how long a search collects replies.
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
}

// LobbyClientConfig holds settings for the presence backend's connection to the lobby.
type LobbyClientConfig struct {
	// Addr is the lobby server gRPC address.
	Addr string `mapstructure:"addr"`
	// RequestTimeout bounds each lobby RPC.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BackendConfig selects and configures the session backend.
type BackendConfig struct {
	// Kind is the provider name: "NULL" for LAN, "lobby" or "Steam" for presence.
	Kind string `mapstructure:"kind"`
	// GameAddr is the connect address advertised when hosting.
	GameAddr string            `mapstructure:"game_addr"`
	LAN      LANConfig         `mapstructure:"lan"`
	Lobby    LobbyClientConfig `mapstructure:"lobby"`
}

// TravelConfig configures what happens when the coordinator travels.
type TravelConfig struct {
	// Command, when set, is executed with the travel URL as its final argument.
	Command []string `mapstructure:"command"`
}

// LobbyServerConfig holds lobby server settings.
type LobbyServerConfig struct {
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
	// Store is the session store: "memory", "postgres" or "redis".
	Store string `mapstructure:"store"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (l LobbyServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.GRPCHost, l.GRPCPort)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Session  SessionConfig     `mapstructure:"session"`
	Backend  BackendConfig     `mapstructure:"backend"`
	Travel   TravelConfig      `mapstructure:"travel"`
	Lobby    LobbyServerConfig `mapstructure:"lobby"`
	Database DatabaseConfig    `mapstructure:"database"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Logging  LoggingConfig     `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateSession(c.Session),
		validateBackend(c.Backend),
		validateLobby(c.Lobby),
		validateLogging(c.Logging),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	// Store connection settings only matter when the lobby uses them.
	switch c.Lobby.Store {
	case StorePostgres:
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	case StoreRedis:
		if err := validateRedis(c.Redis); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "session.name must not be empty")
	}
	if s.HostMap == "" {
		errs = append(errs, "session.host_map must not be empty")
	}
	if s.UserIndex < 0 {
		errs = append(errs, fmt.Sprintf("session.user_index must be >= 0, got %d", s.UserIndex))
	}
	if s.MaxSearchResults < 1 || s.MaxSearchResults > 10000 {
		errs = append(errs, fmt.Sprintf("session.max_search_results must be 1-10000, got %d", s.MaxSearchResults))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBackend(b BackendConfig) error {
	var errs []string
	switch b.Kind {
	case BackendLAN:
		if b.LAN.BeaconAddr == "" {
			errs = append(errs, "backend.lan.beacon_addr must not be empty")
		}
		if b.LAN.DiscoveryAddr == "" {
			errs = append(errs, "backend.lan.discovery_addr must not be empty")
		}
		if b.LAN.SearchTimeout <= 0 {
			errs = append(errs, "backend.lan.search_timeout must be positive")
		}
	case BackendLobby, BackendSteam:
		if b.Lobby.Addr == "" {
			errs = append(errs, "backend.lobby.addr must not be empty")
		}
		if b.Lobby.RequestTimeout <= 0 {
			errs = append(errs, "backend.lobby.request_timeout must be positive")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend.kind must be one of [NULL, lobby, Steam], got %q", b.Kind))
	}
	if b.GameAddr == "" {
		errs = append(errs, "backend.game_addr must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLobby(l LobbyServerConfig) error {
	var errs []string
	if l.GRPCHost == "" {
		errs = append(errs, "lobby.grpc_host must not be empty")
	}
	if l.GRPCPort < 1 || l.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("lobby.grpc_port must be 1-65535, got %d", l.GRPCPort))
	}
	validStores := map[string]bool{StoreMemory: true, StorePostgres: true, StoreRedis: true}
	if !validStores[l.Store] {
		errs = append(errs, fmt.Sprintf("lobby.store must be one of [memory, postgres, redis], got %q", l.Store))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRedis(r RedisConfig) error {
	if r.Addr == "" {
		return errors.New("redis.addr must not be empty")
	}
	if r.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0, got %d", r.DB)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with MANSION_ prefix
	v.SetEnvPrefix("MANSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("session.name", "My Game")
	v.SetDefault("session.host_map", "/Game/TopDown/Maps/Mansion")
	v.SetDefault("session.user_index", 0)
	v.SetDefault("session.max_search_results", 10000)
	v.SetDefault("session.owner_name", "player")

	v.SetDefault("backend.kind", BackendLAN)
	v.SetDefault("backend.game_addr", "127.0.0.1:7777")
	v.SetDefault("backend.lan.beacon_addr", "0.0.0.0:14001")
	v.SetDefault("backend.lan.discovery_addr", "255.255.255.255:14001")
	v.SetDefault("backend.lan.search_timeout", "2s")
	v.SetDefault("backend.lobby.addr", "127.0.0.1:50061")
	v.SetDefault("backend.lobby.request_timeout", "5s")

	v.SetDefault("lobby.grpc_host", "0.0.0.0")
	v.SetDefault("lobby.grpc_port", 50061)
	v.SetDefault("lobby.store", StoreMemory)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "mansion")
	v.SetDefault("database.password", "mansion")
	v.SetDefault("database.name", "mansion")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "mansion:lobby:")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
