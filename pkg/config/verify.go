package config

type VerifyConfig struct {
	// Sidecars records the .md5/.sha1 files served next to each artifact.
	Sidecars bool `mapstructure:"sidecars"`
	SHA256   bool `mapstructure:"sha256"`
	// Extensions limits checking to artifacts with these suffixes. Empty
	// means the usual build outputs.
	Extensions []string `mapstructure:"extensions" validate:"dive,required"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,hostname_port"`
	Insecure bool   `mapstructure:"insecure"`
}
