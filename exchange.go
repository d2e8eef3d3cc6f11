package tardis

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// ExchangeSymbol describes one symbol's availability window on an exchange.
type ExchangeSymbol struct {
	ID             string `json:"id"`
	AvailableSince string `json:"availableSince"`
	AvailableTo    string `json:"availableTo,omitempty"`
}

// ExchangeDetails is the response shape of the exchange-details endpoint
// (spec.md §6: "GET {endpoint}/v1/exchanges/{exchange}").
type ExchangeDetails struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	AvailableChannels []string         `json:"availableChannels"`
	AvailableSymbols  []ExchangeSymbol `json:"availableSymbols"`
}

// ApiKeyAccessInfo describes one exchange's accessible range under the
// configured API key (spec.md §6: "array of {exchange, from, to, symbols}").
type ApiKeyAccessInfo struct {
	Exchange string   `json:"exchange"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Symbols  []string `json:"symbols"`
}

// GetExchangeDetails fetches exchange metadata (spec.md §6).
func GetExchangeDetails(exchange string) (*ExchangeDetails, error) {
	c := current()
	url := fmt.Sprintf("%s/v1/exchanges/%s", c.Endpoint, exchange)

	var details ExchangeDetails
	if err := getJSON(c, url, &details); err != nil {
		return nil, fmt.Errorf("get exchange details for %s: %w", exchange, err)
	}
	return &details, nil
}

// GetApiKeyAccessInfo fetches the accessible exchange/range/symbol set for
// the configured API key (spec.md §6).
func GetApiKeyAccessInfo() ([]ApiKeyAccessInfo, error) {
	c := current()
	url := fmt.Sprintf("%s/v1/api-key-info", c.Endpoint)

	var info []ApiKeyAccessInfo
	if err := getJSON(c, url, &info); err != nil {
		return nil, fmt.Errorf("get API key access info: %w", err)
	}
	return info, nil
}

func getJSON(c Config, url string, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
