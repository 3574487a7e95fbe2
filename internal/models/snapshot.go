// Package models defines the core domain entities: market snapshots,
// condition kinds, and alert state.
package models

import (
	"errors"
	"time"
)

// MarketSnapshot is the normalized view of one market at one point in time.
// Instances are produced by the normalize package; YesPrice is guaranteed to
// be within [0, 1] and MarketID non-empty.
type MarketSnapshot struct {
	MarketID  string    `json:"market_id"`
	Question  string    `json:"question,omitempty"`
	Slug      string    `json:"slug,omitempty"`
	URL       string    `json:"url,omitempty"`
	YesPrice  float64   `json:"yes_price"`
	Liquidity float64   `json:"liquidity"`
	Volume24h float64   `json:"volume_24h"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Validate checks snapshot field constraints.
func (s *MarketSnapshot) Validate() error {
	if s.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	if s.YesPrice < 0.0 || s.YesPrice > 1.0 {
		return errors.New("yes price must be between 0.0 and 1.0")
	}
	if s.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	if s.Volume24h < 0 {
		return errors.New("volume 24h must not be negative")
	}
	if s.FetchedAt.IsZero() {
		return errors.New("fetched at must be set")
	}
	return nil
}
