package models

import "time"

// ConditionKind names a market condition the engine tracks. The set is open:
// the engine and store treat kinds as opaque keys, only the ruleset knows
// their meaning.
type ConditionKind string

const (
	ExtremeLow  ConditionKind = "extreme_low"
	ExtremeHigh ConditionKind = "extreme_high"
)

// AlertRecord is the persisted dedup state for one (market, kind) pair.
// Active means an alert was sent and the condition has not cleared since.
// Records are never deleted automatically; cleared records stay around as
// anti-spam history across restarts.
type AlertRecord struct {
	MarketID      string        `json:"market_id"`
	Kind          ConditionKind `json:"kind"`
	Active        bool          `json:"active"`
	LastAlertedAt time.Time     `json:"last_alerted_at"`
	LastValue     float64       `json:"last_value"`
}

// AlertEvent is one row of the persisted alert history, kept for audit and
// operator inspection independent of the dedup state.
type AlertEvent struct {
	ID        string        `json:"id"`
	MarketID  string        `json:"market_id"`
	Kind      ConditionKind `json:"kind"`
	Value     float64       `json:"value"`
	Recovery  bool          `json:"recovery"`
	Delivered bool          `json:"delivered"`
	SentAt    time.Time     `json:"sent_at"`
}

// AlertMessage is what the engine hands to a notification dispatcher.
// Recovery marks a clear notice for a previously alerted condition.
type AlertMessage struct {
	MarketID  string
	Question  string
	URL       string
	Kind      ConditionKind
	YesPrice  float64
	Liquidity float64
	Volume24h float64
	At        time.Time
	Recovery  bool
}
