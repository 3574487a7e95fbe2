// Package normalize turns raw upstream market records into canonical
// MarketSnapshot values. The upstream API is inconsistent about field names
// and types, so normalization tries a fixed sequence of explicit record
// variants rather than probing fields ad hoc.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tailwatch/tailwatch/internal/models"
)

// Reason classifies why a record could not be normalized.
type Reason string

const (
	ReasonBadRecord  Reason = "bad_record"
	ReasonMissingID  Reason = "missing_id"
	ReasonNoPrice    Reason = "no_price"
	ReasonOutOfRange Reason = "out_of_range"
)

// Error is a per-record normalization failure. The record is dropped from the
// cycle; processing of other records continues.
type Error struct {
	Reason   Reason
	MarketID string
	Detail   string
}

func (e *Error) Error() string {
	if e.MarketID != "" {
		return fmt.Sprintf("normalize %s: %s: %s", e.MarketID, e.Reason, e.Detail)
	}
	return fmt.Sprintf("normalize: %s: %s", e.Reason, e.Detail)
}

// flexFloat accepts a JSON number or a string containing one.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return fmt.Errorf("empty numeric string")
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexFloat(v)
	return nil
}

// looseFloat is a flexFloat for informational fields: a value that cannot be
// parsed, or a negative one, is treated as absent instead of failing the
// record. Garbage liquidity must never cost us a price we can read.
type looseFloat struct {
	value float64
	set   bool
}

func (f *looseFloat) UnmarshalJSON(data []byte) error {
	var v flexFloat
	if err := v.UnmarshalJSON(data); err != nil {
		return nil
	}
	if v < 0 {
		return nil
	}
	f.value = float64(v)
	f.set = true
	return nil
}

// flexString accepts a JSON string or number (some upstream shapes carry
// numeric ids).
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("not a string or number: %s", s)
	}
	*f = flexString(n.String())
	return nil
}

// priceValue is a flexFloat that additionally accepts percentage strings
// like "97.5%", which some upstream shapes use for prices.
type priceValue struct {
	value   float64
	percent bool
	set     bool
}

func (p *priceValue) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if strings.HasSuffix(str, "%") {
			v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(str, "%")), 64)
			if err != nil {
				return fmt.Errorf("not a percentage: %q", str)
			}
			p.value = v / 100
			p.percent = true
			p.set = true
			return nil
		}
		s = str
		if s == "" {
			return fmt.Errorf("empty price string")
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	p.value = v
	p.set = true
	return nil
}

// baseRecord holds the fields shared by every upstream shape. Id, liquidity,
// and volume each have several known spellings; the first present one wins.
type baseRecord struct {
	ID          flexString `json:"id"`
	MarketID    flexString `json:"marketId"`
	MarketIDAlt flexString `json:"market_id"`

	Question string `json:"question"`
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	URL      string `json:"url"`

	LiquidityNum  looseFloat `json:"liquidityNum"`
	Liquidity     looseFloat `json:"liquidity"`
	LiquidityClob looseFloat `json:"liquidityClob"`

	Volume24hr     looseFloat `json:"volume24hr"`
	Volume24hrClob looseFloat `json:"volume24hrClob"`
	Volume24h      looseFloat `json:"volume_24h"`
}

func (r *baseRecord) marketID() string {
	for _, id := range []flexString{r.ID, r.MarketID, r.MarketIDAlt} {
		if id != "" {
			return string(id)
		}
	}
	return ""
}

func (r *baseRecord) question() string {
	if r.Question != "" {
		return r.Question
	}
	return r.Title
}

func firstFloat(candidates ...looseFloat) float64 {
	for _, c := range candidates {
		if c.set {
			return c.value
		}
	}
	return 0
}

// directVariant covers records carrying the YES price as a top-level field.
type directVariant struct {
	YesPrice      *priceValue `json:"yesPrice"`
	YesPriceSnake *priceValue `json:"yes_price"`
	BestYesPrice  *priceValue `json:"bestYesPrice"`
}

func (v *directVariant) price() (float64, bool) {
	for _, p := range []*priceValue{v.YesPrice, v.YesPriceSnake, v.BestYesPrice} {
		if p != nil && p.set {
			return p.value, true
		}
	}
	return 0, false
}

// outcomesVariant covers the Gamma shape: parallel outcome name and price
// arrays, each either a real JSON array or a JSON-encoded string of one.
type outcomesVariant struct {
	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
}

func decodeStringArray(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("absent")
	}
	data := raw
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		data = []byte(inner)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (v *outcomesVariant) price() (float64, bool) {
	outcomes, err := decodeStringArray(v.Outcomes)
	if err != nil {
		return 0, false
	}
	prices, err := decodeStringArray(v.OutcomePrices)
	if err != nil {
		return 0, false
	}
	for i, outcome := range outcomes {
		if i >= len(prices) {
			break
		}
		if !strings.EqualFold(outcome, "Yes") {
			continue
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(prices[i]), 64)
		if err != nil {
			return 0, false
		}
		return p, true
	}
	return 0, false
}

// bookVariant derives a mid-price from the YES side of the order book when no
// direct price is present.
type bookVariant struct {
	BestYesBid *flexFloat `json:"bestYesBid"`
	BestYesAsk *flexFloat `json:"bestYesAsk"`
	BestBid    *flexFloat `json:"bestBid"`
	BestAsk    *flexFloat `json:"bestAsk"`
}

func (v *bookVariant) price() (float64, bool) {
	bid, ask := v.BestYesBid, v.BestYesAsk
	if bid == nil || ask == nil {
		bid, ask = v.BestBid, v.BestAsk
	}
	if bid == nil || ask == nil {
		return 0, false
	}
	b, a := float64(*bid), float64(*ask)
	if b <= 0 || a <= 0 {
		return 0, false
	}
	return (b + a) / 2, true
}

// Normalize converts one raw upstream record into a MarketSnapshot.
// A record with no usable id or price is rejected with a *Error; values are
// never clamped or defaulted.
func Normalize(raw json.RawMessage, now time.Time) (models.MarketSnapshot, error) {
	var base baseRecord
	if err := json.Unmarshal(raw, &base); err != nil {
		// Recover the id if at all possible: a dropped record with a known id
		// still counts as listed upstream, which keeps the engine from
		// clearing its alert state as vanished.
		return models.MarketSnapshot{}, &Error{Reason: ReasonBadRecord, MarketID: recoverID(raw), Detail: err.Error()}
	}

	id := base.marketID()
	if id == "" {
		return models.MarketSnapshot{}, &Error{Reason: ReasonMissingID, Detail: "record has no id field"}
	}

	price, ok, err := resolveYesPrice(raw)
	if err != nil {
		return models.MarketSnapshot{}, &Error{Reason: ReasonBadRecord, MarketID: id, Detail: err.Error()}
	}
	if !ok {
		return models.MarketSnapshot{}, &Error{Reason: ReasonNoPrice, MarketID: id, Detail: "no variant yielded a YES price"}
	}
	if price < 0.0 || price > 1.0 {
		return models.MarketSnapshot{}, &Error{
			Reason:   ReasonOutOfRange,
			MarketID: id,
			Detail:   fmt.Sprintf("yes price %v outside [0, 1]", price),
		}
	}

	url := base.URL
	if url == "" && base.Slug != "" {
		url = "https://polymarket.com/market/" + base.Slug
	}

	snap := models.MarketSnapshot{
		MarketID:  id,
		Question:  base.question(),
		Slug:      base.Slug,
		URL:       url,
		YesPrice:  price,
		Liquidity: firstFloat(base.LiquidityNum, base.Liquidity, base.LiquidityClob),
		Volume24h: firstFloat(base.Volume24hr, base.Volume24hrClob, base.Volume24h),
		FetchedAt: now,
	}
	if err := snap.Validate(); err != nil {
		return models.MarketSnapshot{}, &Error{Reason: ReasonBadRecord, MarketID: id, Detail: err.Error()}
	}
	return snap, nil
}

// recoverID extracts a market id from a record whose full decode failed.
func recoverID(raw json.RawMessage) string {
	var ids struct {
		ID          flexString `json:"id"`
		MarketID    flexString `json:"marketId"`
		MarketIDAlt flexString `json:"market_id"`
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		return ""
	}
	for _, id := range []flexString{ids.ID, ids.MarketID, ids.MarketIDAlt} {
		if id != "" {
			return string(id)
		}
	}
	return ""
}

// resolveYesPrice tries the record variants in order: direct price field,
// outcomes array, order-book mid-price. The first variant that matches the
// record's shape decides the price; out-of-range values are the caller's to
// reject, not a reason to fall through to the next variant.
func resolveYesPrice(raw json.RawMessage) (float64, bool, error) {
	var direct directVariant
	if err := json.Unmarshal(raw, &direct); err != nil {
		return 0, false, fmt.Errorf("direct price field: %w", err)
	}
	if p, ok := direct.price(); ok {
		return p, true, nil
	}

	var outcomes outcomesVariant
	if err := json.Unmarshal(raw, &outcomes); err != nil {
		return 0, false, fmt.Errorf("outcomes array: %w", err)
	}
	if p, ok := outcomes.price(); ok {
		return p, true, nil
	}

	var book bookVariant
	if err := json.Unmarshal(raw, &book); err != nil {
		return 0, false, fmt.Errorf("order book: %w", err)
	}
	if p, ok := book.price(); ok {
		return p, true, nil
	}

	return 0, false, nil
}
