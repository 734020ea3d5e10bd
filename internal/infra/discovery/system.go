package discovery

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/telemetry"
)

// SystemOptions configures the discovery system.
type SystemOptions struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
}

// System aggregates sources into catalog snapshots. Name collisions
// resolve to the first registrant; later duplicates are logged and
// dropped, never silently overwritten.
type System struct {
	logger  *zap.Logger
	metrics domain.Metrics

	mu       sync.RWMutex
	sources  []Source
	byName   map[string]Source
	disabled map[string]bool
	counts   map[string]int
	snapshot *domain.Snapshot
	version  uint64
}

// SourceStats summarizes one source for the stats view.
type SourceStats struct {
	Name      string            `json:"name"`
	Type      domain.ToolOrigin `json:"type"`
	Tools     int               `json:"tools"`
	Enabled   bool              `json:"enabled"`
	Available bool              `json:"available"`
}

func NewSystem(opts SystemOptions) *System {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &System{
		logger:   logger.Named("discovery"),
		metrics:  metrics,
		byName:   make(map[string]Source),
		disabled: make(map[string]bool),
		counts:   make(map[string]int),
	}
}

// Register adds a source. Registration order decides collision
// priority, so callers register in trust order.
func (s *System) Register(source Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[source.Name()]; exists {
		return fmt.Errorf("register source %q: already registered", source.Name())
	}
	s.sources = append(s.sources, source)
	s.byName[source.Name()] = source
	s.logger.Info("source registered",
		telemetry.SourceField(source.Name()),
		zap.String("type", string(source.Type())))
	return nil
}

// SetEnabled toggles a source without unregistering it.
func (s *System) SetEnabled(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[name] = !enabled
}

// Refresh rebuilds the snapshot from every enabled, available source.
// A failing source is skipped with a log line; the rest still publish.
func (s *System) Refresh(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.Lock()
	sources := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		if !s.disabled[src.Name()] {
			sources = append(sources, src)
		}
	}
	s.mu.Unlock()

	seen := make(map[string]string)
	var merged []domain.ToolDefinition
	counts := make(map[string]int)

	for _, src := range sources {
		counts[src.Name()] = 0
		if !src.Available(ctx) {
			s.logger.Warn("source unavailable, skipped",
				telemetry.SourceField(src.Name()))
			continue
		}
		tools, err := src.Discover(ctx)
		if err != nil {
			s.logger.Warn("source discovery failed",
				telemetry.SourceField(src.Name()),
				zap.Error(err))
			continue
		}
		for _, tool := range tools {
			if owner, dup := seen[tool.Name]; dup {
				s.logger.Warn("tool name conflict, keeping first registrant",
					telemetry.EventField(telemetry.EventNameConflict),
					telemetry.ToolField(tool.Name),
					zap.String("kept", owner),
					zap.String("dropped", src.Name()))
				continue
			}
			seen[tool.Name] = src.Name()
			merged = append(merged, tool)
			counts[src.Name()]++
		}
	}

	s.mu.Lock()
	s.version++
	snapshot := domain.NewSnapshot(s.version, merged)
	s.snapshot = snapshot
	s.counts = counts
	s.mu.Unlock()

	for name, count := range counts {
		s.metrics.SetCatalogSize(name, count)
	}
	s.logger.Info("catalog refreshed",
		telemetry.EventField(telemetry.EventCatalogRefresh),
		zap.Uint64("version", snapshot.Version),
		zap.Int("tools", len(snapshot.Tools)))
	return snapshot, nil
}

// Snapshot returns the latest snapshot, refreshing once when none
// has been built yet.
func (s *System) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	s.mu.RLock()
	snapshot := s.snapshot
	s.mu.RUnlock()
	if snapshot != nil {
		return snapshot, nil
	}
	return s.Refresh(ctx)
}

// Invalidate rebuilds the snapshot in the background. Providers call
// this when their availability changes, so degraded servers drop out
// of catalog views until recovery.
func (s *System) Invalidate() {
	go func() {
		if _, err := s.Refresh(context.Background()); err != nil {
			s.logger.Warn("background refresh failed", zap.Error(err))
		}
	}()
}

// ListAll pages over the current snapshot with a stable name sort.
func (s *System) ListAll(ctx context.Context, offset, limit int) (domain.Page, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return domain.Page{}, err
	}
	return snapshot.Page(offset, limit), nil
}

// Search filters the snapshot by keyword and optional category.
func (s *System) Search(ctx context.Context, query, category string) ([]domain.ToolDefinition, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.ToolDefinition
	for _, tool := range snapshot.FilterCategory(category) {
		if tool.Matches(query) {
			out = append(out, tool)
		}
	}
	return out, nil
}

// Lookup finds one tool in the current snapshot.
func (s *System) Lookup(ctx context.Context, name string) (domain.ToolDefinition, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return domain.ToolDefinition{}, err
	}
	def, ok := snapshot.Lookup(name)
	if !ok {
		return domain.ToolDefinition{}, fmt.Errorf("lookup %s: %w", name, domain.ErrToolNotFound)
	}
	return def, nil
}

// Stats reports per-source counts in registration order.
func (s *System) Stats(ctx context.Context) []SourceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := make([]SourceStats, 0, len(s.sources))
	for _, src := range s.sources {
		stats = append(stats, SourceStats{
			Name:      src.Name(),
			Type:      src.Type(),
			Tools:     s.counts[src.Name()],
			Enabled:   !s.disabled[src.Name()],
			Available: src.Available(ctx),
		})
	}
	return stats
}
