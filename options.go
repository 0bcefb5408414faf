package verity

import (
	"context"
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	databaseURL     string
	logger          *slog.Logger
	version         string
	retrievers      []Retriever
	extraMigrations []fs.FS
}

// Retriever is the extension contract for external evidence providers.
// An unconfigured retriever contributes zero results without error.
type Retriever interface {
	Name() string
	IsConfigured() bool
	FetchEvidence(ctx context.Context, query RetrieverQuery) ([]EvidenceItem, error)
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported over MCP and in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithRetriever registers an additional evidence retriever alongside the
// built-in web search, fact-check, and corpus retrievers. Multiple
// retrievers may be registered; all run in parallel for every claim.
func WithRetriever(r Retriever) Option {
	return func(o *resolvedOptions) { o.retrievers = append(o.retrievers, r) }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run
// after the embedded migrations. Multiple filesystems may be registered;
// they are applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
