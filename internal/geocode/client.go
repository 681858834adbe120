// Package geocode resolves coordinates to human-readable addresses using a
// Nominatim-compatible reverse geocoding endpoint.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/internal/geo"
)

var (
	// ErrNoAddress means the service answered but had nothing for the point.
	ErrNoAddress = errors.New("no address for location")
	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("geocoder rate limit exceeded")
)

const maxBody = 1 << 20

// Client is a reverse geocoder.
type Client struct {
	baseURL    string
	userAgent  string
	language   string
	httpClient *http.Client
}

// New creates a client from the geocoder configuration.
func New(cfg config.GeocoderConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "parkspot/1.0"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  ua,
		language:   cfg.Language,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		HouseNumber  string `json:"house_number"`
		Road         string `json:"road"`
		Pedestrian   string `json:"pedestrian"`
		Suburb       string `json:"suburb"`
		CityDistrict string `json:"city_district"`
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Postcode     string `json:"postcode"`
		Country      string `json:"country"`
	} `json:"address"`
}

// short builds "Road Number, City" when the parts are known and falls back
// to the full display name.
func (r reverseResponse) short() string {
	a := r.Address
	street := a.Road
	if street == "" {
		street = a.Pedestrian
	}
	if street != "" && a.HouseNumber != "" {
		street += " " + a.HouseNumber
	}
	city := a.City
	if city == "" {
		city = a.Town
	}
	if city == "" {
		city = a.Village
	}
	switch {
	case street != "" && city != "":
		return street + ", " + city
	case street != "":
		return street
	}
	return strings.TrimSpace(r.DisplayName)
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.language != "" {
		req.Header.Set("Accept-Language", c.language)
	}
	return c.httpClient.Do(req)
}

// ReverseGeocode returns a short address for the coordinates.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	if !geo.ValidLatLng(lat, lng) {
		return "", geo.ErrInvalidCoordinates
	}
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	params.Set("zoom", "18")
	params.Set("addressdetails", "1")

	resp, err := c.get(ctx, "/reverse", params)
	if err != nil {
		return "", fmt.Errorf("reverse geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("reverse geocode returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("read reverse geocode response: %w", err)
	}
	var parsed reverseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("malformed reverse geocode response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrNoAddress, parsed.Error)
	}
	addr := parsed.short()
	if addr == "" {
		return "", ErrNoAddress
	}
	return addr, nil
}

// Healthcheck checks if the geocoder is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	resp, err := c.get(ctx, "/status", url.Values{"format": {"json"}})
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}
