package config

import (
	"fmt"
	"os"
)

type DirsConfig struct {
	// Reports holds raw report copies and mismatch files.
	Reports string `mapstructure:"reports" validate:"required"`
	// Cache holds downloaded content, one directory per report.
	Cache string `mapstructure:"cache" validate:"required"`
	// Storage is the repository manager's storage root. When set, recorded
	// sizes are also checked against the stored files.
	Storage string `mapstructure:"storage"`
}

func (d DirsConfig) Validate() error {
	return validateConfig(d)
}

// Ensure creates the reports and cache directories.
func (d DirsConfig) Ensure() error {
	for _, dir := range []string{d.Reports, d.Cache} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
