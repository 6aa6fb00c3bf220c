package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/config"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/metrics"
	"github.com/edvin/tenantvault/internal/model"
)

// StrategyKey is the platform_config key holding the active failover strategy.
const StrategyKey = "storage.failover_strategy"

const pingTimeout = 5 * time.Second

// SettingsStore persists administrative settings.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Options configures a Gateway. Zero values disable persistence.
type Options struct {
	Strategy model.FailoverStrategy
	Prices   map[string]config.Prices
	Usage    UsageStore
	Settings SettingsStore
	Logger   zerolog.Logger
}

type role struct {
	name     string
	provider Provider
	prices   config.Prices
	usage    *counters
}

// Gateway fronts the primary and secondary providers. It owns the process-wide
// failover strategy and usage counters; both are safe for concurrent use.
type Gateway struct {
	primary   *role
	secondary *role
	usage     UsageStore
	settings  SettingsStore
	logger    zerolog.Logger

	mu       sync.RWMutex
	strategy model.FailoverStrategy
}

func NewGateway(primary, secondary Provider, opts Options) *Gateway {
	strategy := opts.Strategy
	if _, ok := model.ParseFailoverStrategy(string(strategy)); !ok {
		strategy = model.StrategySecondaryFallback
	}
	return &Gateway{
		primary:   &role{name: model.ProviderPrimary, provider: primary, prices: opts.Prices[primary.Kind()], usage: &counters{}},
		secondary: &role{name: model.ProviderSecondary, provider: secondary, prices: opts.Prices[secondary.Kind()], usage: &counters{}},
		usage:     opts.Usage,
		settings:  opts.Settings,
		logger:    opts.Logger.With().Str("component", "storage-gateway").Logger(),
		strategy:  strategy,
	}
}

// Init loads the persisted strategy and usage counters, if any.
func (g *Gateway) Init(ctx context.Context) error {
	if g.settings != nil {
		v, err := g.settings.Get(ctx, StrategyKey)
		if err != nil && !errs.Is(err, errs.KindNotFound) {
			return fmt.Errorf("load failover strategy: %w", err)
		}
		if s, ok := model.ParseFailoverStrategy(v); ok {
			g.mu.Lock()
			g.strategy = s
			g.mu.Unlock()
		}
	}
	if g.usage != nil {
		stats, err := g.usage.LoadUsage(ctx)
		if err != nil {
			return err
		}
		for _, st := range stats {
			if r, err := g.role(st.Provider); err == nil {
				r.usage.seed(st)
			}
		}
	}
	return nil
}

func (g *Gateway) Strategy() model.FailoverStrategy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.strategy
}

// SetStrategy changes the failover strategy for all subsequent uploads.
func (g *Gateway) SetStrategy(ctx context.Context, s model.FailoverStrategy) error {
	if _, ok := model.ParseFailoverStrategy(string(s)); !ok {
		return errs.Validation("set failover strategy", "unknown strategy %q", s)
	}
	if g.settings != nil {
		if err := g.settings.Set(ctx, StrategyKey, string(s)); err != nil {
			return fmt.Errorf("persist failover strategy: %w", err)
		}
	}
	g.mu.Lock()
	prev := g.strategy
	g.strategy = s
	g.mu.Unlock()
	g.logger.Info().Str("from", string(prev)).Str("to", string(s)).Msg("failover strategy changed")
	return nil
}

func (g *Gateway) role(name string) (*role, error) {
	switch name {
	case model.ProviderPrimary:
		return g.primary, nil
	case model.ProviderSecondary:
		return g.secondary, nil
	}
	return nil, errs.Validation("select provider", "unknown provider %q", name)
}

// ValidProvider reports whether name is a provider role.
func ValidProvider(name string) bool {
	return name == model.ProviderPrimary || name == model.ProviderSecondary
}

// Upload stores body under key according to the active strategy. Provider
// calls are sequential. The returned locations name every provider that
// holds the object.
func (g *Gateway) Upload(ctx context.Context, key string, body Body) ([]model.StorageLocation, error) {
	strategy := g.Strategy()
	var locations []model.StorageLocation
	var failures []error

	attempt := func(r *role) bool {
		if err := g.put(ctx, r, key, body); err != nil {
			failures = append(failures, err)
			return false
		}
		locations = append(locations, model.StorageLocation{Provider: r.name, Key: key, UploadedAt: time.Now().UTC()})
		return true
	}

	switch strategy {
	case model.StrategyPrimaryOnly:
		if !attempt(g.primary) {
			return nil, failures[0]
		}
	case model.StrategySecondaryFallback:
		if !attempt(g.primary) {
			g.logger.Warn().Err(failures[0]).Str("key", key).Msg("primary upload failed, falling back to secondary")
			attempt(g.secondary)
		}
	case model.StrategyDualUpload:
		attempt(g.primary)
		attempt(g.secondary)
		for _, f := range failures {
			g.logger.Warn().Err(f).Str("key", key).Msg("dual upload leg failed")
		}
	}

	if len(locations) == 0 {
		return nil, errs.StorageProvider("upload "+key, errors.Join(failures...))
	}
	return locations, nil
}

func (g *Gateway) put(ctx context.Context, r *role, key string, body Body) error {
	rc, err := body.Open()
	if err != nil {
		return fmt.Errorf("open upload body: %w", err)
	}
	defer rc.Close()

	if err := r.provider.Put(ctx, key, rc, body.Size()); err != nil {
		metrics.StorageOperationsTotal.WithLabelValues(r.name, "put", "error").Inc()
		return errs.StorageProvider("put "+r.name, err)
	}
	metrics.StorageOperationsTotal.WithLabelValues(r.name, "put", "ok").Inc()
	r.usage.recordPut(body.Size(), r.prices)
	return nil
}

// candidates returns the providers to read from: both, primary first, when
// provider is empty, otherwise only the named one.
func (g *Gateway) candidates(provider string) ([]*role, error) {
	if provider == "" {
		return []*role{g.primary, g.secondary}, nil
	}
	r, err := g.role(provider)
	if err != nil {
		return nil, err
	}
	return []*role{r}, nil
}

// Open streams the object stored under key. With an empty provider the
// primary is tried first and the secondary serves on failure. The role that
// served the object is returned alongside the reader.
func (g *Gateway) Open(ctx context.Context, key, provider string) (io.ReadCloser, string, error) {
	roles, err := g.candidates(provider)
	if err != nil {
		return nil, "", err
	}

	var failures []error
	missing := 0
	for _, r := range roles {
		rc, err := r.provider.Get(ctx, key)
		if err == nil {
			metrics.StorageOperationsTotal.WithLabelValues(r.name, "get", "ok").Inc()
			r.usage.recordRequest(r.prices)
			return rc, r.name, nil
		}
		if errors.Is(err, ErrNotExist) {
			missing++
			metrics.StorageOperationsTotal.WithLabelValues(r.name, "get", "not_found").Inc()
		} else {
			metrics.StorageOperationsTotal.WithLabelValues(r.name, "get", "error").Inc()
			g.logger.Warn().Err(err).Str("provider", r.name).Str("key", key).Msg("read failed")
		}
		failures = append(failures, fmt.Errorf("%s: %w", r.name, err))
	}

	if missing == len(roles) {
		return nil, "", errs.NotFound("open "+key, "object not found on %s", describeRoles(roles))
	}
	return nil, "", errs.StorageProvider("open "+key, errors.Join(failures...))
}

// Download reads the whole object, falling back to the secondary when the
// primary cannot serve it completely.
func (g *Gateway) Download(ctx context.Context, key string) ([]byte, error) {
	var failures []error
	missing := 0
	for _, r := range []*role{g.primary, g.secondary} {
		data, err := g.readAll(ctx, r, key)
		if err == nil {
			return data, nil
		}
		if errs.Is(err, errs.KindNotFound) {
			missing++
		}
		failures = append(failures, err)
	}
	if missing == 2 {
		return nil, errs.NotFound("download "+key, "object not found on any provider")
	}
	return nil, errs.StorageProvider("download "+key, errors.Join(failures...))
}

func (g *Gateway) readAll(ctx context.Context, r *role, key string) ([]byte, error) {
	rc, _, err := g.Open(ctx, key, r.name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errs.StorageProvider("read "+r.name, err)
	}
	return data, nil
}

// Delete removes key from both providers. A key missing on either provider
// counts as deleted, so the call is idempotent.
func (g *Gateway) Delete(ctx context.Context, key string) (bool, error) {
	var failures []error
	for _, r := range []*role{g.primary, g.secondary} {
		err := r.provider.Delete(ctx, key)
		if err != nil && !errors.Is(err, ErrNotExist) {
			metrics.StorageOperationsTotal.WithLabelValues(r.name, "delete", "error").Inc()
			failures = append(failures, fmt.Errorf("%s: %w", r.name, err))
			continue
		}
		metrics.StorageOperationsTotal.WithLabelValues(r.name, "delete", "ok").Inc()
		r.usage.recordRequest(r.prices)
	}
	if len(failures) > 0 {
		return false, errs.StorageProvider("delete "+key, errors.Join(failures...))
	}
	return true, nil
}

// List returns the union of both providers' objects under prefix. One
// unreachable provider is tolerated.
func (g *Gateway) List(ctx context.Context, prefix string) ([]model.ObjectInfo, error) {
	byKey := make(map[string]*model.ObjectInfo)
	var failures []error
	for _, r := range []*role{g.primary, g.secondary} {
		objects, err := r.provider.List(ctx, prefix)
		if err != nil {
			metrics.StorageOperationsTotal.WithLabelValues(r.name, "list", "error").Inc()
			g.logger.Warn().Err(err).Str("provider", r.name).Str("prefix", prefix).Msg("list failed")
			failures = append(failures, fmt.Errorf("%s: %w", r.name, err))
			continue
		}
		metrics.StorageOperationsTotal.WithLabelValues(r.name, "list", "ok").Inc()
		r.usage.recordRequest(r.prices)
		for _, o := range objects {
			if existing, ok := byKey[o.Key]; ok {
				existing.Providers = append(existing.Providers, r.name)
				continue
			}
			byKey[o.Key] = &model.ObjectInfo{Key: o.Key, Size: o.Size, Providers: []string{r.name}}
		}
	}
	if len(failures) == 2 {
		return nil, errs.StorageProvider("list "+prefix, errors.Join(failures...))
	}

	out := make([]model.ObjectInfo, 0, len(byKey))
	for _, o := range byKey {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Ping probes one provider. It never fails; unavailability is reported in
// the result.
func (g *Gateway) Ping(ctx context.Context, provider string) model.PingResult {
	r, err := g.role(provider)
	if err != nil {
		return model.PingResult{Provider: provider, Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	err = r.provider.Ping(ctx)
	res := model.PingResult{
		Provider:  r.name,
		Kind:      r.provider.Kind(),
		Available: err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
		metrics.StorageOperationsTotal.WithLabelValues(r.name, "ping", "error").Inc()
	} else {
		metrics.StorageOperationsTotal.WithLabelValues(r.name, "ping", "ok").Inc()
	}
	return res
}

// Usage returns a snapshot of both providers' counters.
func (g *Gateway) Usage() []model.StorageUsageStat {
	return []model.StorageUsageStat{
		g.primary.usage.snapshot(g.primary.name, g.primary.provider.Kind()),
		g.secondary.usage.snapshot(g.secondary.name, g.secondary.provider.Kind()),
	}
}

// ResetUsage zeroes every counter and persists the reset.
func (g *Gateway) ResetUsage(ctx context.Context) error {
	now := time.Now()
	g.primary.usage.reset(now)
	g.secondary.usage.reset(now)
	g.logger.Info().Msg("storage usage counters reset")
	return g.Flush(ctx)
}

// Flush writes the current counters to the usage store.
func (g *Gateway) Flush(ctx context.Context) error {
	if g.usage == nil {
		return nil
	}
	return g.usage.SaveUsage(ctx, g.Usage())
}

// RunFlusher flushes usage every interval until ctx is cancelled, then
// flushes once more.
func (g *Gateway) RunFlusher(ctx context.Context, interval time.Duration) {
	if g.usage == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := g.Flush(flushCtx); err != nil {
				g.logger.Error().Err(err).Msg("final usage flush failed")
			}
			cancel()
			return
		case <-ticker.C:
			if err := g.Flush(ctx); err != nil {
				g.logger.Error().Err(err).Msg("usage flush failed")
			}
		}
	}
}

func describeRoles(roles []*role) string {
	if len(roles) == 1 {
		return roles[0].name
	}
	return "any provider"
}
