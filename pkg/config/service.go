package config

import (
	"fmt"
	"net/url"
)

// ServiceConfig points at the repository manager holding the tracking
// reports.
type ServiceConfig struct {
	URL string `mapstructure:"url" validate:"required,http_url"`
}

func (s ServiceConfig) Validate() error {
	return validateConfig(s)
}

func (s ServiceConfig) Endpoint() (url.URL, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return url.URL{}, fmt.Errorf("parsing service URL: %w", err)
	}
	return *u, nil
}
