package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractPrices(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []float64
	}{
		{"dollar amount", "Prime plot for $250,000 near the lake", []float64{250000}},
		{"usd suffix", "asking 1,200,000 USD for the estate", []float64{1200000}},
		{"rupee symbol", "listed at ₹ 85,00,000", nil},
		{"rupee grouped", "Rs. 8,500,000 negotiable", []float64{8500000}},
		{"crore", "2.5 crore bungalow", []float64{2.5e7}},
		{"lakh", "45 lakh farmland", []float64{45e5}},
		{"pound", "cottage at £ 320,000", []float64{320000}},
		{"euro", "villa € 1,100,000", []float64{1100000}},
		{"too small", "$1,001 down payment is noise? no, it is in window", []float64{1001}},
		{"below window", "parking spot $500 only", nil},
		{"no price", "beautiful views and good schools", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractPrices(tc.text)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestTrimOutliersSmallSampleSorted(t *testing.T) {
	got := trimOutliers([]float64{300000, 100000})
	if len(got) != 2 || got[0] != 100000 || got[1] != 300000 {
		t.Fatalf("got %v", got)
	}
}

func TestTrimOutliersDropsExtremes(t *testing.T) {
	var prices []float64
	for i := 1; i <= 10; i++ {
		prices = append(prices, float64(i)*100000)
	}
	got := trimOutliers(prices)
	if len(got) != 8 {
		t.Fatalf("got %d prices, want 8", len(got))
	}
	if got[0] != 200000 || got[len(got)-1] != 900000 {
		t.Fatalf("got %v", got)
	}
}

func TestMedian(t *testing.T) {
	if m := median([]float64{100, 200, 300}); m != 200 {
		t.Fatalf("odd median = %v", m)
	}
	if m := median([]float64{100, 200, 300, 400}); m != 250 {
		t.Fatalf("even median = %v", m)
	}
	if m := median(nil); m != 0 {
		t.Fatalf("empty median = %v", m)
	}
}

func TestHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cx") != "cse-1" {
			t.Errorf("cx = %s", r.URL.Query().Get("cx"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{
				{"title": "Plot for $200,000", "snippet": "great area"},
				{"title": "House", "snippet": "priced at $300,000"},
				{"title": "No price here", "snippet": "call agent"},
			},
		})
	}))
	defer srv.Close()

	c := Client{APIKey: "key", CSEID: "cse-1", BaseURL: srv.URL}
	hint, err := c.Hint(context.Background(), 12.97, 77.59)
	if err != nil {
		t.Fatal(err)
	}
	if hint.MedianPrice != 250000 {
		t.Fatalf("median = %v", hint.MedianPrice)
	}
	if hint.SampleCount != 2 || hint.Source != "google-cse" {
		t.Fatalf("hint = %+v", hint)
	}
}

func TestHintNoPricesFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []map[string]string{}})
	}))
	defer srv.Close()
	c := Client{APIKey: "key", CSEID: "cse-1", BaseURL: srv.URL}
	if _, err := c.Hint(context.Background(), 0, 0); err == nil {
		t.Fatal("expected error with no comparable prices")
	}
}

func TestHintRequiresCredentials(t *testing.T) {
	c := Client{}
	if _, err := c.Hint(context.Background(), 0, 0); err == nil {
		t.Fatal("expected error without credentials")
	}
}
