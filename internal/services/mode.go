package services

import (
	"context"

	"kharcha/internal/store"
)

// Mode selects which store is authoritative for a mutation.
type Mode string

const (
	ModeGuest         Mode = "guest"
	ModeAuthenticated Mode = "authenticated"
)

// ModeSource reports the active mode. The gateway asks again on every
// mutation rather than caching, so a flag flipped mid-session never leaves
// an operation running against the wrong store.
type ModeSource interface {
	Mode(ctx context.Context) Mode
}

// SettingsMode reads the guest flag from device settings: guest only when
// the flag is present and enabled, authenticated otherwise.
type SettingsMode struct {
	Settings store.Settings
}

func (s SettingsMode) Mode(ctx context.Context) Mode {
	v, ok, err := s.Settings.Get(ctx, store.KeyGuestMode)
	if err == nil && ok && v == store.GuestModeEnabled {
		return ModeGuest
	}
	return ModeAuthenticated
}

// FixedMode pins the mode, for deployments that only ever run one way.
type FixedMode Mode

func (m FixedMode) Mode(context.Context) Mode { return Mode(m) }
