package config

import (
	"time"

	"github.com/vovakirdan/songhub-server/internal/proto"
)

const (
	MinTickrate = 5
	MaxTickrate = 150
)

// Config holds server configuration values.
type Config struct {
	Server       ServerConfig     `mapstructure:"server" yaml:"server"`
	Access       AccessConfig     `mapstructure:"access" yaml:"access"`
	Tournament   TournamentConfig `mapstructure:"tournament" yaml:"tournament"`
	Admin        AdminConfig      `mapstructure:"admin" yaml:"admin"`
	Log          LogConfig        `mapstructure:"log" yaml:"log"`
	DatabasePath string           `mapstructure:"database_path" yaml:"database_path"`
}

type ServerConfig struct {
	Name               string        `mapstructure:"name" yaml:"name"`
	TCPAddr            string        `mapstructure:"tcp_addr" yaml:"tcp_addr"`
	HTTPAddr           string        `mapstructure:"http_addr" yaml:"http_addr"`
	Tickrate           int           `mapstructure:"tickrate" yaml:"tickrate"`
	AllowEventMessages bool          `mapstructure:"allow_event_messages" yaml:"allow_event_messages"`
	EnableTCP          bool          `mapstructure:"enable_tcp" yaml:"enable_tcp"`
	EnableWS           bool          `mapstructure:"enable_ws" yaml:"enable_ws"`
	EnableRoomMirror   bool          `mapstructure:"enable_room_mirror" yaml:"enable_room_mirror"`
	EventQueueSize     int           `mapstructure:"event_queue_size" yaml:"event_queue_size"`
	ReadHeaderTimeout  time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	ApprovalTimeout    time.Duration `mapstructure:"approval_timeout" yaml:"approval_timeout"`
}

// AccessConfig seeds the persisted access lists on startup.
type AccessConfig struct {
	WhitelistEnabled bool     `mapstructure:"whitelist_enabled" yaml:"whitelist_enabled"`
	Blacklist        []string `mapstructure:"blacklist" yaml:"blacklist"`
	Whitelist        []string `mapstructure:"whitelist" yaml:"whitelist"`
}

type TournamentConfig struct {
	Enabled      bool             `mapstructure:"enabled" yaml:"enabled"`
	Rooms        int              `mapstructure:"rooms" yaml:"rooms"`
	NameTemplate string           `mapstructure:"name_template" yaml:"name_template"`
	Password     string           `mapstructure:"password" yaml:"password"`
	Songs        []proto.SongInfo `mapstructure:"songs" yaml:"songs"`
}

type AdminConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	PasswordHash string        `mapstructure:"password_hash" yaml:"password_hash"`
	JWTSecret    string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Issuer       string        `mapstructure:"issuer" yaml:"issuer"`
	Audience     string        `mapstructure:"audience" yaml:"audience"`
	TokenTTL     time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Name:              "songhub",
			TCPAddr:           ":3700",
			HTTPAddr:          ":3701",
			Tickrate:          30,
			EnableTCP:         true,
			EnableWS:          true,
			EnableRoomMirror:  true,
			EventQueueSize:    4096,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			ApprovalTimeout:   5 * time.Second,
		},
		Tournament: TournamentConfig{
			NameTemplate: "Tournament Room %d",
		},
		Admin: AdminConfig{
			Issuer:   "songhub",
			Audience: "songhub-admin",
			TokenTTL: 12 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		DatabasePath: "songhub.db",
	}
}

// Validate clamps out of range values and reports the ones it changed.
func (c *Config) Validate() []string {
	var fixed []string
	if c.Server.Tickrate < MinTickrate || c.Server.Tickrate > MaxTickrate {
		fixed = append(fixed, "server.tickrate")
		c.Server.Tickrate = ClampTickrate(c.Server.Tickrate)
	}
	if c.Server.EventQueueSize <= 0 {
		fixed = append(fixed, "server.event_queue_size")
		c.Server.EventQueueSize = Default().Server.EventQueueSize
	}
	if c.Server.ApprovalTimeout <= 0 {
		fixed = append(fixed, "server.approval_timeout")
		c.Server.ApprovalTimeout = Default().Server.ApprovalTimeout
	}
	if c.Tournament.Rooms < 0 {
		fixed = append(fixed, "tournament.rooms")
		c.Tournament.Rooms = 0
	}
	if c.Admin.TokenTTL <= 0 {
		fixed = append(fixed, "admin.token_ttl")
		c.Admin.TokenTTL = Default().Admin.TokenTTL
	}
	return fixed
}

// ClampTickrate limits a tick rate to MinTickrate..MaxTickrate.
func ClampTickrate(rate int) int {
	return min(max(rate, MinTickrate), MaxTickrate)
}

// TickInterval is the tick period for the configured rate.
func (c ServerConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(ClampTickrate(c.Tickrate))
}
