// Package cmdutil wires configuration into the pieces the folofix commands
// run.
package cmdutil

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/commonjava/folofix/pkg/bus"
	"github.com/commonjava/folofix/pkg/checksum"
	"github.com/commonjava/folofix/pkg/config"
	"github.com/commonjava/folofix/pkg/fetch"
	"github.com/commonjava/folofix/pkg/folo"
	"github.com/commonjava/folofix/pkg/pipeline"
	"github.com/commonjava/folofix/pkg/storage"
	"github.com/commonjava/folofix/pkg/verify"
)

// NewClient creates a tracking service client for the configured endpoint.
func NewClient(cfg config.ServiceConfig) (*folo.Client, error) {
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}
	return folo.NewClient(endpoint), nil
}

// NewPipeline assembles a verification pipeline on the OS filesystem.
func NewPipeline(cfg config.Config, b bus.Publisher) (*pipeline.Pipeline, error) {
	return NewPipelineFs(afero.NewOsFs(), cfg, b)
}

func NewPipelineFs(fsys afero.Fs, cfg config.Config, b bus.Publisher) (*pipeline.Pipeline, error) {
	client, err := NewClient(cfg.Service)
	if err != nil {
		return nil, err
	}

	opts := []verify.Option{
		verify.WithSidecars(cfg.Verify.Sidecars),
		verify.WithSHA256(cfg.Verify.SHA256),
	}
	if cfg.Dirs.Storage != "" {
		resolver, err := storage.NewResolver(fsys, cfg.Dirs.Storage)
		if err != nil {
			return nil, fmt.Errorf("opening storage %s: %w", cfg.Dirs.Storage, err)
		}
		opts = append(opts, verify.WithStorage(resolver))
	}

	planner := verify.NewPlanner(client, cfg.Dirs.Cache, cfg.Verify.Extensions...)
	return pipeline.New(pipeline.Options{
		Source:     client,
		Planner:    planner,
		Fetcher:    fetch.New(fsys, client.HTTPClient()),
		Verifier:   verify.New(fsys, planner, checksum.NewVerifier(fsys, client.HTTPClient()), cfg.Dirs.Reports, opts...),
		FS:         fsys,
		ReportsDir: cfg.Dirs.Reports,
		Loaders:    cfg.Workers.LoaderCount(),
		Fetchers:   cfg.Workers.FetcherCount(),
		Verifiers:  cfg.Workers.VerifierCount(),
		Bus:        b,
	})
}
