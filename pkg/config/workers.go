package config

// WorkersConfig sizes the pipeline's worker pools. A stage left at zero gets
// Threads workers.
type WorkersConfig struct {
	Threads   int `mapstructure:"threads" validate:"min=1"`
	Loaders   int `mapstructure:"loaders" validate:"min=0"`
	Fetchers  int `mapstructure:"fetchers" validate:"min=0"`
	Verifiers int `mapstructure:"verifiers" validate:"min=0"`
}

func (w WorkersConfig) Validate() error {
	return validateConfig(w)
}

func (w WorkersConfig) LoaderCount() int   { return w.or(w.Loaders) }
func (w WorkersConfig) FetcherCount() int  { return w.or(w.Fetchers) }
func (w WorkersConfig) VerifierCount() int { return w.or(w.Verifiers) }

func (w WorkersConfig) or(n int) int {
	if n > 0 {
		return n
	}
	return w.Threads
}
