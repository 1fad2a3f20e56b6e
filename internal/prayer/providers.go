package prayer

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Params are the location/method query parameters shared by providers.
type Params struct {
	City    string
	Country string
	// Method selects the calculation authority (Aladhan numbering;
	// 5 = Egyptian General Authority of Survey).
	Method int
	School int
}

// Provider is one upstream prayer-times API. The provider set is a closed
// list (see DefaultProviders); adding a provider means adding a variant
// here, not registering one at runtime.
type Provider struct {
	Name     string
	Priority int
	Endpoint string
	Query    func(p Params) url.Values
	Parse    func(body []byte) (RawTimes, error)
}

// DefaultProviders returns the closed provider list ordered by priority.
func DefaultProviders() []Provider {
	return []Provider{
		{
			Name:     "aladhan",
			Priority: 1,
			Endpoint: "https://api.aladhan.com/v1/timingsByCity",
			Query: func(p Params) url.Values {
				return url.Values{
					"city":    {p.City},
					"country": {p.Country},
					"method":  {strconv.Itoa(p.Method)},
					"school":  {strconv.Itoa(p.School)},
				}
			},
			Parse: parseAladhan,
		},
		{
			Name:     "islamicfinder",
			Priority: 2,
			Endpoint: "https://www.islamicfinder.org/api/prayer_times",
			Query: func(p Params) url.Values {
				return url.Values{
					"city":     {p.City},
					"country":  {p.Country},
					"juristic": {strconv.Itoa(p.School)},
					"method":   {strconv.Itoa(p.Method)},
				}
			},
			Parse: parseIslamicFinder,
		},
		{
			Name:     "prayzone",
			Priority: 3,
			Endpoint: "https://api.pray.zone/v2/times/today.json",
			Query: func(p Params) url.Values {
				return url.Values{"city": {p.City}}
			},
			Parse: parsePrayZone,
		},
	}
}

func parseAladhan(body []byte) (RawTimes, error) {
	var resp struct {
		Code   int    `json:"code"`
		Status string `json:"status"`
		Data   struct {
			Timings map[string]string `json:"timings"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return RawTimes{}, fmt.Errorf("aladhan: %w", err)
	}
	if resp.Code != 200 || resp.Status != "OK" {
		return RawTimes{}, fmt.Errorf("aladhan: status %q (code %d)", resp.Status, resp.Code)
	}
	if len(resp.Data.Timings) == 0 {
		return RawTimes{}, fmt.Errorf("aladhan: empty timings")
	}
	return RawTimes{Times: resp.Data.Timings, Source: "aladhan"}, nil
}

func parseIslamicFinder(body []byte) (RawTimes, error) {
	var resp struct {
		Results map[string]string `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return RawTimes{}, fmt.Errorf("islamicfinder: %w", err)
	}
	if len(resp.Results) == 0 {
		return RawTimes{}, fmt.Errorf("islamicfinder: empty results")
	}
	return RawTimes{Times: resp.Results, Source: "islamicfinder"}, nil
}

func parsePrayZone(body []byte) (RawTimes, error) {
	var resp struct {
		Results struct {
			Datetime []struct {
				Times map[string]string `json:"times"`
			} `json:"datetime"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return RawTimes{}, fmt.Errorf("prayzone: %w", err)
	}
	if len(resp.Results.Datetime) == 0 || len(resp.Results.Datetime[0].Times) == 0 {
		return RawTimes{}, fmt.Errorf("prayzone: empty times")
	}
	return RawTimes{Times: resp.Results.Datetime[0].Times, Source: "prayzone"}, nil
}
