package market

import (
	"time"

	"github.com/phenomenon0/polymarket-options-edge/pkg/polymarket/gamma"
)

// Quote is a binary outcome market as seen by the estimator: best bid and ask
// for YES in [0,1], the resolution date, and the text used to find the
// threshold.
type Quote struct {
	Slug       string    `json:"slug"`
	Question   string    `json:"question"`
	EventTitle string    `json:"event_title,omitempty"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Last       float64   `json:"last,omitempty"`
	EndDate    time.Time `json:"end_date"`
	Outcomes   []string  `json:"outcomes,omitempty"`
}

// FromGamma builds a Quote from a Gamma market and its event title. The
// returned error is an outcome-text parse failure; the quote is still usable.
func FromGamma(m *gamma.Market, eventTitle string) (*Quote, error) {
	outcomes, err := ParseOutcomes(m.OutcomesRaw)
	return &Quote{
		Slug:       m.Slug,
		Question:   m.Question,
		EventTitle: eventTitle,
		Bid:        m.BestBid.Float64(),
		Ask:        m.BestAsk.Float64(),
		Last:       m.YesPrice(),
		EndDate:    m.EndDate,
		Outcomes:   outcomes,
	}, err
}

// YearsUntilEnd returns the time to resolution in years (365-day), floored
// at zero.
func (q *Quote) YearsUntilEnd(now time.Time) float64 {
	d := q.EndDate.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Hours() / (24 * 365)
}
