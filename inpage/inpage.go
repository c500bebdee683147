// Package inpage translates the visible text of an HTML document in place.
//
// A Translator discovers translatable elements, ships their content to a
// translation backend in priority order (viewport first, then off-screen,
// then hidden), reassembles multi-part answers, and writes the results back
// into the document in timed batches. Static documents run to quiescence
// (TranslateHTML); live pages are observed in a Chrome tab until the
// context ends (ObservePage).
package inpage

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/overlay/inpage/internal/backend"
	"github.com/hazyhaar/overlay/inpage/internal/config"
	"github.com/hazyhaar/overlay/inpage/internal/pipeline"
	"github.com/hazyhaar/overlay/inpage/internal/sink"
)

type (
	Config         = config.Config
	PipelineConfig = config.PipelineConfig
	BrowserConfig  = config.BrowserConfig
	ServerConfig   = config.ServerConfig
	PageConfig     = config.PageConfig
	SinkConfig     = config.SinkConfig
	BackendConfig  = backend.Config

	// Backend is the asynchronous translation service a pipeline talks to.
	Backend = pipeline.Backend
	// Stats are the cumulative counters of one pipeline run.
	Stats = pipeline.Stats
	// Sink receives commit batches and run summaries.
	Sink = sink.Sink
)

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) { return config.LoadFile(path) }

// ParseConfig decodes YAML configuration and applies defaults.
func ParseConfig(data []byte) (*Config, error) { return config.Parse(data) }

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config { return config.Default() }

// PagesSchema creates the inpage_pages table read by LoadPages.
const PagesSchema = config.PagesSchema

// LoadPages reads the active pages stored in db.
func LoadPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	return config.LoadPages(ctx, db)
}

// SavePage inserts or reactivates a page in db.
func SavePage(ctx context.Context, db *sql.DB, p PageConfig) error {
	return config.SavePage(ctx, db, p)
}
