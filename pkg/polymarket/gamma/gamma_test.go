package gamma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetEventBySlug(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			t.Errorf("Expected path /events, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("slug") != "bitcoin-above-on-december-27" {
			t.Errorf("Wrong slug: %s", r.URL.Query().Get("slug"))
		}
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("Expected limit=1, got %s", r.URL.Query().Get("limit"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{
			"id": "42",
			"slug": "bitcoin-above-on-december-27",
			"title": "Bitcoin above ___ on December 27?",
			"active": true,
			"markets": [
				{"id": "1", "question": "Bitcoin above $95,000 on December 27?", "slug": "btc-95k",
				 "bestBid": 0.61, "bestAsk": "0.63", "active": true, "outcomes": "[\"Yes\", \"No\"]",
				 "endDate": "2024-12-27T17:00:00Z"},
				{"id": "2", "question": "Bitcoin above $100,000 on December 27?", "slug": "btc-100k",
				 "active": true, "closed": true}
			]
		}]`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	event, err := client.GetEventBySlug(context.Background(), "bitcoin-above-on-december-27")
	if err != nil {
		t.Fatalf("GetEventBySlug failed: %v", err)
	}

	if len(event.Markets) != 2 {
		t.Fatalf("Expected 2 markets, got %d", len(event.Markets))
	}

	m := event.Markets[0]
	if m.BestBid.Float64() != 0.61 || m.BestAsk.Float64() != 0.63 {
		t.Errorf("Wrong book: bid %v ask %v", m.BestBid, m.BestAsk)
	}
	if !m.EndDate.Equal(time.Date(2024, time.December, 27, 17, 0, 0, 0, time.UTC)) {
		t.Errorf("Wrong end date: %v", m.EndDate)
	}

	open := event.OpenMarkets()
	if len(open) != 1 || open[0].Slug != "btc-95k" {
		t.Errorf("OpenMarkets = %+v", open)
	}
}

func TestGetEventBySlugNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Event{})
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	if _, err := client.GetEventBySlug(context.Background(), "missing"); err == nil {
		t.Error("Expected error for missing event")
	}
}

func TestMarketMethods(t *testing.T) {
	market := Market{
		OutcomePricesRaw: `["0.65", "0.35"]`,
		Active:           true,
	}

	if market.YesPrice() != 0.65 {
		t.Errorf("YesPrice wrong: %f", market.YesPrice())
	}
	if !market.IsOpen() {
		t.Error("Market should be open")
	}

	market.Closed = true
	if market.IsOpen() {
		t.Error("Closed market should not be open")
	}

	market.LastTradePrice = 0.61
	if market.YesPrice() != 0.61 {
		t.Errorf("YesPrice should prefer the last trade: %f", market.YesPrice())
	}

	market.LastTradePrice = 0
	market.OutcomePricesRaw = "not json"
	if market.YesPrice() != 0 {
		t.Errorf("YesPrice on bad prices = %f, want 0", market.YesPrice())
	}
}

func TestJSONFloat(t *testing.T) {
	var v struct {
		A JSONFloat `json:"a"`
		B JSONFloat `json:"b"`
		C JSONFloat `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": 0.5, "b": "0.25", "c": ""}`), &v); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if v.A != 0.5 || v.B != 0.25 || v.C != 0 {
		t.Errorf("got %+v", v)
	}
}

func TestClientWithOptions(t *testing.T) {
	customClient := &http.Client{Timeout: 60 * time.Second}

	client := NewClient(
		WithBaseURL("https://custom.api.com"),
		WithHTTPClient(customClient),
		WithRateLimit(5.0, 2),
	)

	if client.baseURL != "https://custom.api.com" {
		t.Errorf("Wrong base URL: %s", client.baseURL)
	}

	if client.httpClient != customClient {
		t.Error("Custom HTTP client not set")
	}
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Bad Request"))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	_, err := client.ListEvents(context.Background(), nil)
	if err == nil {
		t.Error("Expected error for bad request")
	}
}
