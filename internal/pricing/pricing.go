package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AustinJeremiah05/Prop99/internal/domain"
)

// Client looks up comparable listed property prices around a coordinate
// through the Google Custom Search API. A failed or empty lookup simply
// omits the hint; pricing is never on the consensus-critical path.
type Client struct {
	APIKey     string
	CSEID      string
	BaseURL    string
	HTTPClient *http.Client
}

type searchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (c Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// Hint searches listing sites near the coordinate and reduces the prices
// it finds to a trimmed median.
func (c Client) Hint(ctx context.Context, latitude, longitude float64) (*domain.MarketHint, error) {
	if c.APIKey == "" || c.CSEID == "" {
		return nil, fmt.Errorf("pricing credentials not configured")
	}
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/customsearch/v1"
	}
	q := url.Values{}
	q.Set("key", c.APIKey)
	q.Set("cx", c.CSEID)
	q.Set("q", fmt.Sprintf("property land price near %.4f,%.4f", latitude, longitude))
	q.Set("num", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search status %d", res.StatusCode)
	}
	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	var prices []float64
	for _, item := range parsed.Items {
		prices = append(prices, ExtractPrices(item.Title+" "+item.Snippet)...)
	}
	prices = trimOutliers(prices)
	if len(prices) == 0 {
		return nil, fmt.Errorf("no comparable prices found")
	}
	return &domain.MarketHint{
		MedianPrice: median(prices),
		SampleCount: len(prices),
		Source:      "google-cse",
	}, nil
}

var pricePatterns = []struct {
	re         *regexp.Regexp
	multiplier float64
}{
	{regexp.MustCompile(`\$\s*(\d{1,3}(?:,\d{3})+(?:\.\d{2})?)`), 1},
	{regexp.MustCompile(`(?i)(\d{1,3}(?:,\d{3})+)\s*(?:USD|dollars?)`), 1},
	{regexp.MustCompile(`(?i)(?:rs\.?|inr|₹)\s*(\d{1,3}(?:,\d{3})+)`), 1},
	{regexp.MustCompile(`(?i)(\d+\.?\d*)\s*crores?`), 1e7},
	{regexp.MustCompile(`(?i)(\d+\.?\d*)\s*cr\.?\b`), 1e7},
	{regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(?:lakhs?|lac)`), 1e5},
	{regexp.MustCompile(`£\s*(\d{1,3}(?:,\d{3})+)`), 1},
	{regexp.MustCompile(`€\s*(\d{1,3}(?:,\d{3})+)`), 1},
}

// price sanity window: below it is noise, above it is not a property listing
const (
	minPlausiblePrice = 1_000
	maxPlausiblePrice = 500_000_000
)

// ExtractPrices pulls plausible property prices out of listing text.
func ExtractPrices(text string) []float64 {
	var prices []float64
	for _, p := range pricePatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			raw := strings.ReplaceAll(m[1], ",", "")
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			v *= p.multiplier
			if v >= minPlausiblePrice && v <= maxPlausiblePrice {
				prices = append(prices, v)
			}
		}
	}
	return prices
}

// trimOutliers drops the extreme 10% from each end when the sample is
// large enough to afford it.
func trimOutliers(prices []float64) []float64 {
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	if len(sorted) <= 2 {
		return sorted
	}
	trim := len(sorted) / 10
	if trim == 0 {
		return sorted
	}
	return sorted[trim : len(sorted)-trim]
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
