// Package inventory turns the watched directory into the current license inventory. It
// enumerates the directory, parses every tool dump in parallel, caches per-file results and
// publishes each complete pass to the configured store.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/goodtune/licensewatch/internal/license"
	"github.com/goodtune/licensewatch/internal/metrics"
	"github.com/goodtune/licensewatch/internal/snapshot"
	"github.com/goodtune/licensewatch/internal/storage"
)

// Config holds inventory service configuration
type Config struct {
	Dir           string
	IncludeHidden bool
	Workers       int
	CacheSize     int
}

// cacheKey identifies one version of one file. A rewrite that keeps name, mtime and size
// reuses the stale entry, the same blind spot the snapshot tracker has.
type cacheKey struct {
	name    string
	modTime int64
	size    int64
}

// Service manages the parsed inventory of one directory
type Service struct {
	dir           string
	includeHidden bool
	workers       int
	parser        *license.Parser
	cache         *lru.Cache[cacheKey, []license.Feature]
	store         storage.InventoryStore
	logger        zerolog.Logger
	now           func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithParser replaces the default license parser.
func WithParser(p *license.Parser) Option {
	return func(s *Service) {
		s.parser = p
	}
}

// WithClock overrides the pass timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new inventory service
func NewService(cfg Config, store storage.InventoryStore, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg.Dir == "" {
		return nil, errors.New("inventory directory is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}

	cache, err := lru.New[cacheKey, []license.Feature](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create parse cache: %w", err)
	}

	s := &Service{
		dir:           cfg.Dir,
		includeHidden: cfg.IncludeHidden,
		workers:       cfg.Workers,
		parser:        license.NewParser(),
		cache:         cache,
		store:         store,
		logger:        logger.With().Str("component", "inventory").Logger(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the watched directory.
func (s *Service) Dir() string {
	return s.dir
}

// toolFile is one regular file of the directory scheduled for parsing.
type toolFile struct {
	name  string
	tool  string
	state snapshot.FileState
}

// list enumerates the regular files to parse in name order.
func (s *Service) list() ([]toolFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", snapshot.ErrDirectoryUnavailable, s.dir, err)
	}

	files := make([]toolFile, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !s.includeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		// Follow symlinks so a linked dump counts as a regular file
		info, err := os.Stat(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Skipping file that cannot be stat'ed")
			metrics.FilesParsed.WithLabelValues(strings.ToLower(name), "error").Inc()
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, toolFile{
			name:  name,
			tool:  strings.ToLower(name),
			state: snapshot.FileState{ModTime: info.ModTime(), Size: info.Size()},
		})
	}
	return files, nil
}

// AvailableTools returns the tool ids present in the directory, in name order. An
// unreadable directory yields an empty list.
func (s *Service) AvailableTools() []string {
	files, err := s.list()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list tools")
		return []string{}
	}
	tools := make([]string, 0, len(files))
	for _, f := range files {
		tools = append(tools, f.tool)
	}
	return tools
}

// LoadAll parses every file of the directory and concatenates the results in name order.
// Failures are logged and degrade the result: an unreadable directory yields no features
// and an unreadable file contributes none. Only context cancellation is returned.
func (s *Service) LoadAll(ctx context.Context) ([]string, []license.Feature, error) {
	files, err := s.list()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read license directory")
		return []string{}, []license.Feature{}, nil
	}

	results := make([][]license.Feature, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.parseFile(f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	tools := make([]string, 0, len(files))
	seen := make(map[string]bool, len(files))
	features := []license.Feature{}
	for i, f := range files {
		if !seen[f.tool] {
			seen[f.tool] = true
			tools = append(tools, f.tool)
		}
		features = append(features, results[i]...)
	}
	return tools, features, nil
}

// parseFile returns the features of one file, from cache when the file is unchanged.
func (s *Service) parseFile(f toolFile) []license.Feature {
	key := cacheKey{name: f.name, modTime: f.state.ModTime.UnixNano(), size: f.state.Size}
	if cached, ok := s.cache.Get(key); ok {
		metrics.ParseCacheHits.Inc()
		metrics.FilesParsed.WithLabelValues(f.tool, "cached").Inc()
		return cached
	}
	metrics.ParseCacheMisses.Inc()

	start := time.Now()
	features, err := s.parser.ParseFile(filepath.Join(s.dir, f.name), f.tool)
	metrics.ParseDuration.WithLabelValues(f.tool).Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error().Err(err).Str("file", f.name).Msg("Failed to parse license file")
		metrics.FilesParsed.WithLabelValues(f.tool, "error").Inc()
		return nil
	}

	metrics.FilesParsed.WithLabelValues(f.tool, "ok").Inc()
	s.logger.Debug().
		Str("file", f.name).
		Int("features", len(features)).
		Dur("duration", time.Since(start)).
		Msg("Parsed license file")

	s.cache.Add(key, features)
	return features
}

// Refresh parses the directory and publishes the result as a new pass.
func (s *Service) Refresh(ctx context.Context) (*storage.Pass, error) {
	tools, features, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	pass := storage.Pass{
		ID:       uuid.NewString(),
		ParsedAt: s.now(),
		Tools:    tools,
		Features: features,
	}

	if err := s.store.Publish(ctx, pass); err != nil {
		return nil, fmt.Errorf("failed to publish inventory: %w", err)
	}
	recordPass(pass)

	s.logger.Info().
		Str("pass", pass.ID).
		Int("tools", len(tools)).
		Int("features", len(features)).
		Msg("Published license inventory")

	return &pass, nil
}

// Current returns the latest published pass, parsing the directory when nothing has been
// published yet or the published pass expired.
func (s *Service) Current(ctx context.Context) (*storage.Pass, error) {
	pass, err := s.store.Latest(ctx)
	if err == nil {
		return pass, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	return s.Refresh(ctx)
}

// ByTool returns the features of one tool, or of every tool when tool is empty or "all".
// Tool ids compare case-insensitively. A single tool is read from the store on its own.
func (s *Service) ByTool(ctx context.Context, tool string) ([]license.Feature, error) {
	if license.SelectsAll(tool) {
		pass, err := s.Current(ctx)
		if err != nil {
			return nil, err
		}
		return license.FilterByTool(pass.Features, tool), nil
	}

	features, err := s.store.Tool(ctx, strings.ToLower(tool))
	if err == nil {
		return features, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load tool %s: %w", tool, err)
	}

	pass, err := s.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return license.FilterByTool(pass.Features, tool), nil
}

// FeatureDetail finds a feature by exact name under a tool (case-insensitive) and returns
// its detail view. The boolean is false when no such feature exists.
func (s *Service) FeatureDetail(ctx context.Context, tool, feature string) (license.FeatureDetail, bool, error) {
	features, err := s.ByTool(ctx, tool)
	if err != nil {
		return license.FeatureDetail{}, false, err
	}
	for _, f := range features {
		if f.Name == feature && strings.EqualFold(f.Tool, tool) {
			return license.Detail(f), true, nil
		}
	}
	return license.FeatureDetail{}, false, nil
}

// recordPass exports the seat gauges of a published pass. Series of tools and features that
// disappeared are reset first.
func recordPass(pass storage.Pass) {
	metrics.Features.Reset()
	metrics.SeatsIssued.Reset()
	metrics.SeatsInUse.Reset()

	for _, tool := range pass.Tools {
		metrics.Features.WithLabelValues(tool).Set(0)
	}
	for _, f := range pass.Features {
		metrics.Features.WithLabelValues(f.Tool).Inc()
		metrics.SeatsIssued.WithLabelValues(f.Tool, f.Name).Set(float64(f.TotalLicenses))
		metrics.SeatsInUse.WithLabelValues(f.Tool, f.Name).Set(float64(f.InUse))
	}
}
