package trigger

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ServiceURLs is the shape of SERVICE_CONFIG_B64, decoded from base64
// JSON at startup — lifted from original_source's
// configure.ServiceURLs, which the distilled spec only gestures at
// (§6 config table) (SPEC_FULL supplemented feature 1).
type ServiceURLs struct {
	Extractor     Endpoint `json:"extractor"`
	Cleaner       Endpoint `json:"cleaner"`
	Loader        Endpoint `json:"loader"`
	LoaderParquet Endpoint `json:"loader_parquet"`
}

type Endpoint struct {
	URL string `json:"url"`
}

// DecodeServiceConfig parses the base64-encoded JSON blob carried in
// SERVICE_CONFIG_B64.
func DecodeServiceConfig(b64 string) (ServiceURLs, error) {
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return ServiceURLs{}, fmt.Errorf("decode SERVICE_CONFIG_B64: %w", err)
	}
	var cfg ServiceURLs
	if err := json.Unmarshal(decoded, &cfg); err != nil {
		return ServiceURLs{}, fmt.Errorf("parse service config: %w", err)
	}
	return cfg, nil
}
