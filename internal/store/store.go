package store

import (
	"context"
	"errors"
	"time"

	"github.com/vovakirdan/songhub-server/internal/proto"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// AccessList names one of the two access lists.
type AccessList string

const (
	AccessBlacklist AccessList = "blacklist"
	AccessWhitelist AccessList = "whitelist"
)

// Valid reports whether l names a known list.
func (l AccessList) Valid() bool {
	return l == AccessBlacklist || l == AccessWhitelist
}

// Setting keys.
const (
	SettingWhitelistEnabled = "whitelist_enabled"
)

// RoomPreset is a named set of room settings.
type RoomPreset struct {
	Name      string
	Settings  proto.RoomSettings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccessStore persists access list entries and server settings.
type AccessStore interface {
	ListAccessEntries(ctx context.Context, list AccessList) ([]string, error)
	// AddAccessEntry returns false when the entry already exists.
	AddAccessEntry(ctx context.Context, list AccessList, entry string) (bool, error)
	// RemoveAccessEntry returns false when the entry did not exist.
	RemoveAccessEntry(ctx context.Context, list AccessList, entry string) (bool, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// PresetStore persists room presets.
type PresetStore interface {
	SavePreset(ctx context.Context, name string, settings proto.RoomSettings) error
	GetPreset(ctx context.Context, name string) (*RoomPreset, error)
	ListPresets(ctx context.Context) ([]*RoomPreset, error)
	DeletePreset(ctx context.Context, name string) (bool, error)
}

// Store combines all store interfaces.
type Store interface {
	AccessStore
	PresetStore
	Close() error
}
