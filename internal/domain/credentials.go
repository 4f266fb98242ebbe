package domain

import (
	"encoding/json"
	"fmt"
	"os"
)

// ApiCredentials are the L2 API key triple used for HMAC request signing.
type ApiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Valid reports whether all three fields are set.
func (c ApiCredentials) Valid() bool {
	return c.APIKey != "" && c.Secret != "" && c.Passphrase != ""
}

// LoadApiCredentials reads credentials from a JSON file.
func LoadApiCredentials(path string) (ApiCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ApiCredentials{}, fmt.Errorf("domain: read credentials: %w", err)
	}
	var c ApiCredentials
	if err := json.Unmarshal(data, &c); err != nil {
		return ApiCredentials{}, fmt.Errorf("domain: parse credentials: %w", err)
	}
	return c, nil
}

// String never prints the secret material.
func (c ApiCredentials) String() string {
	return fmt.Sprintf("ApiCredentials{APIKey: %s, Secret: ***, Passphrase: ***}", c.APIKey)
}
