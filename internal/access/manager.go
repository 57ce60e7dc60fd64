package access

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/songhub-server/internal/proto"
	"github.com/vovakirdan/songhub-server/internal/store"
)

var ErrUnknownList = errors.New("access: unknown list")

// Snapshot is the current state of both lists.
type Snapshot struct {
	WhitelistEnabled bool     `json:"whitelistEnabled"`
	Blacklist        []string `json:"blacklist"`
	Whitelist        []string `json:"whitelist"`
}

// Manager keeps the persisted lists in memory and answers admission checks.
type Manager struct {
	store store.AccessStore
	log   *zerolog.Logger

	mu               sync.RWMutex
	blacklist        *List
	whitelist        *List
	whitelistEnabled bool
}

// NewManager creates a manager with empty lists. Call Load to read the store.
func NewManager(st store.AccessStore, whitelistEnabled bool, logger *zerolog.Logger) *Manager {
	l := logger.With().Str("component", "access").Logger()
	return &Manager{
		store:            st,
		log:              &l,
		blacklist:        &List{},
		whitelist:        &List{},
		whitelistEnabled: whitelistEnabled,
	}
}

// Seed adds entries that are not yet stored. Existing entries are kept.
func (m *Manager) Seed(ctx context.Context, list store.AccessList, entries []string) error {
	for _, e := range entries {
		parsed, err := ParseEntry(e)
		if err != nil {
			continue
		}
		if _, err := m.store.AddAccessEntry(ctx, list, parsed.Raw); err != nil {
			return fmt.Errorf("seed %s: %w", list, err)
		}
	}
	return nil
}

// Load reads both lists and the allowlist switch from the store. A stored
// switch overrides the value given to NewManager.
func (m *Manager) Load(ctx context.Context) error {
	black, err := m.store.ListAccessEntries(ctx, store.AccessBlacklist)
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}
	white, err := m.store.ListAccessEntries(ctx, store.AccessWhitelist)
	if err != nil {
		return fmt.Errorf("load whitelist: %w", err)
	}
	enabled := m.WhitelistEnabled()
	if v, err := m.store.GetSetting(ctx, store.SettingWhitelistEnabled); err == nil {
		if b, perr := strconv.ParseBool(v); perr == nil {
			enabled = b
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load whitelist switch: %w", err)
	}

	m.mu.Lock()
	m.blacklist = NewList(black)
	m.whitelist = NewList(white)
	m.whitelistEnabled = enabled
	m.mu.Unlock()

	m.log.Info().
		Int("blacklist", len(black)).
		Int("whitelist", len(white)).
		Bool("whitelist_enabled", enabled).
		Msg("access lists loaded")
	return nil
}

func (m *Manager) IsBlacklisted(addr netip.Addr, info proto.PlayerInfo) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blacklist.Match(addr, info)
}

func (m *Manager) IsWhitelisted(addr netip.Addr, info proto.PlayerInfo) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.whitelist.Match(addr, info)
}

func (m *Manager) WhitelistEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.whitelistEnabled
}

// SetWhitelistEnabled switches the allowlist and persists the choice.
func (m *Manager) SetWhitelistEnabled(ctx context.Context, enabled bool) error {
	if err := m.store.SetSetting(ctx, store.SettingWhitelistEnabled, strconv.FormatBool(enabled)); err != nil {
		return err
	}
	m.mu.Lock()
	m.whitelistEnabled = enabled
	m.mu.Unlock()
	m.log.Info().Bool("enabled", enabled).Msg("whitelist switched")
	return nil
}

// Add stores an entry and reloads the list. It reports false when the entry
// was already present.
func (m *Manager) Add(ctx context.Context, list store.AccessList, raw string) (bool, error) {
	if !list.Valid() {
		return false, ErrUnknownList
	}
	e, err := ParseEntry(raw)
	if err != nil {
		return false, err
	}
	added, err := m.store.AddAccessEntry(ctx, list, e.Raw)
	if err != nil {
		return false, err
	}
	if added {
		m.log.Info().Str("list", string(list)).Str("entry", e.String()).Msg("access entry added")
	}
	return added, m.reload(ctx, list)
}

// Remove deletes an entry and reloads the list.
func (m *Manager) Remove(ctx context.Context, list store.AccessList, raw string) (bool, error) {
	if !list.Valid() {
		return false, ErrUnknownList
	}
	e, err := ParseEntry(raw)
	if err != nil {
		return false, err
	}
	removed, err := m.store.RemoveAccessEntry(ctx, list, e.Raw)
	if err != nil {
		return false, err
	}
	if removed {
		m.log.Info().Str("list", string(list)).Str("entry", e.String()).Msg("access entry removed")
	}
	return removed, m.reload(ctx, list)
}

func (m *Manager) reload(ctx context.Context, list store.AccessList) error {
	raw, err := m.store.ListAccessEntries(ctx, list)
	if err != nil {
		return fmt.Errorf("reload %s: %w", list, err)
	}
	l := NewList(raw)
	m.mu.Lock()
	defer m.mu.Unlock()
	if list == store.AccessBlacklist {
		m.blacklist = l
	} else {
		m.whitelist = l
	}
	return nil
}

// Snapshot returns copies of both lists.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		WhitelistEnabled: m.whitelistEnabled,
		Blacklist:        lo.Uniq(m.blacklist.Raw()),
		Whitelist:        lo.Uniq(m.whitelist.Raw()),
	}
}
