// Package gamma provides a client for the Polymarket Gamma Markets API.
// Gamma is a read-only API for fetching market and event metadata.
package gamma

import (
	"encoding/json"
	"strconv"
	"time"
)

// Event represents a Polymarket event (container for multiple markets).
type Event struct {
	ID          string    `json:"id"`
	Ticker      string    `json:"ticker"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Active      bool      `json:"active"`
	Closed      bool      `json:"closed"`
	Archived    bool      `json:"archived"`
	Liquidity   JSONFloat `json:"liquidity"`
	Volume      JSONFloat `json:"volume"`
	Markets     []Market  `json:"markets,omitempty"`
}

// Market represents a single binary prediction market.
type Market struct {
	ID              string    `json:"id"`
	Question        string    `json:"question"`
	ConditionID     string    `json:"conditionId"`
	Slug            string    `json:"slug"`
	Description     string    `json:"description"`
	EndDate         time.Time `json:"endDate"`
	Active          bool      `json:"active"`
	Closed          bool      `json:"closed"`
	Archived        bool      `json:"archived"`
	AcceptingOrders bool      `json:"acceptingOrders"`

	// Outcomes and prices (JSON-encoded arrays)
	OutcomesRaw      string `json:"outcomes"`
	OutcomePricesRaw string `json:"outcomePrices"`

	// Top of book for the YES outcome
	BestBid        JSONFloat `json:"bestBid"`
	BestAsk        JSONFloat `json:"bestAsk"`
	LastTradePrice JSONFloat `json:"lastTradePrice"`

	Liquidity JSONFloat `json:"liquidity"`
	Volume    JSONFloat `json:"volume"`
}

// JSONFloat handles both numeric and string JSON values.
type JSONFloat float64

func (j *JSONFloat) UnmarshalJSON(data []byte) error {
	// Try as number first
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*j = JSONFloat(f)
		return nil
	}

	// Try as string
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	if s == "" {
		*j = 0
		return nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*j = JSONFloat(f)
	return nil
}

func (j JSONFloat) Float64() float64 {
	return float64(j)
}

// EventsFilter contains filter parameters for listing events.
type EventsFilter struct {
	Slug  string
	Limit int
}

// IsOpen returns true if the market is still quoting.
func (m *Market) IsOpen() bool {
	return m.Active && !m.Closed && !m.Archived
}

// OutcomePrices returns the parsed outcome prices.
func (m *Market) OutcomePrices() []float64 {
	var raw []string
	if m.OutcomePricesRaw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(m.OutcomePricesRaw), &raw); err != nil {
		return nil
	}

	prices := make([]float64, 0, len(raw))
	for _, s := range raw {
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		prices = append(prices, p)
	}
	return prices
}

// YesPrice returns the last YES price: the last trade if there was one,
// otherwise the first outcome price.
func (m *Market) YesPrice() float64 {
	if p := m.LastTradePrice.Float64(); p > 0 {
		return p
	}
	if prices := m.OutcomePrices(); len(prices) > 0 {
		return prices[0]
	}
	return 0
}

// OpenMarkets returns the event's markets that are still quoting.
func (e *Event) OpenMarkets() []Market {
	out := make([]Market, 0, len(e.Markets))
	for _, m := range e.Markets {
		if m.IsOpen() {
			out = append(out, m)
		}
	}
	return out
}
