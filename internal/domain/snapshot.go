package domain

import "time"

// AssetSnapshot is the per (bot, asset) tracker consulted by the protection
// rules.
type AssetSnapshot struct {
	BotID           int64
	Asset           Asset
	InitialPrice    float64 // written once
	LastPrice       float64 // change baseline, moved only on initialise and swap
	UnitsHeld       float64
	MaxUnitsReached float64 // high-water mark, never decreases
	WasEverHeld     bool
	EquivalentValue float64 // reference-equivalent value at last update
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RaiseHighWater lifts the high-water mark to units if larger.
func (s *AssetSnapshot) RaiseHighWater(units float64) {
	if units > s.MaxUnitsReached {
		s.MaxUnitsReached = units
	}
}

// Hold marks the snapshot as holding units.
func (s *AssetSnapshot) Hold(units float64) {
	s.UnitsHeld = units
	s.WasEverHeld = true
	s.RaiseHighWater(units)
}
