// Package registry holds the active, versioned rule sets and supports
// atomic hot-swap with country fallback on lookup.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nkulkarni/authgate/internal/metrics"
	"github.com/nkulkarni/authgate/internal/rules"
)

// FallbackCountry is the default scope consulted when no country-specific
// rule set exists for a key.
const FallbackCountry = "global"

var (
	ErrNotFound           = errors.New("ruleset not found")
	ErrStorageUnavailable = errors.New("ruleset storage unavailable")
	ErrVersionNotLoaded   = errors.New("ruleset version not loaded")
)

// Loader is the artifact-store boundary: it materialises a rule-set artifact
// for (key, version, country) or fails with ErrNotFound /
// ErrStorageUnavailable.
type Loader interface {
	Load(key string, version int64, country string) (*rules.Artifact, error)
	Accessible() bool
}

// Spec identifies one rule set to load, as used by bulk load and preload.
type Spec struct {
	Key     string `yaml:"key" json:"key"`
	Version int64  `yaml:"version" json:"version"`
	Country string `yaml:"country" json:"country"`
}

// SwapResult reports the outcome of a hot-swap attempt.
type SwapResult struct {
	Success    bool
	Status     string // "swapped", "not_loaded", "version_conflict"
	Message    string
	OldVersion int64
}

type scope struct {
	country string
	key     string
}

// Registry maps (country, key) to an atomically swappable rule-set cell.
// The read path takes the read lock only to find the cell, then does an
// atomic load; hot-swap stores a new reference into the cell, so in-flight
// evaluations keep their immutable pre-swap Set.
type Registry struct {
	mu            sync.RWMutex
	cells         map[scope]*atomic.Pointer[rules.Set]
	staged        map[scope]map[int64]*rules.Set
	loader        Loader
	allowRollback bool
	logger        *slog.Logger
}

// New creates an empty registry backed by the given artifact loader.
// allowRollback permits swapping to a same-or-lower version number.
func New(loader Loader, allowRollback bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cells:         make(map[scope]*atomic.Pointer[rules.Set]),
		staged:        make(map[scope]map[int64]*rules.Set),
		loader:        loader,
		allowRollback: allowRollback,
		logger:        logger,
	}
}

// Lookup returns the active rule set for (country, key), falling back to the
// global scope for the same key. Returns nil when neither scope has one.
func (r *Registry) Lookup(country, key string) *rules.Set {
	if country != "" {
		if set := r.load(scope{country, key}); set != nil {
			return set
		}
	}
	return r.load(scope{FallbackCountry, key})
}

func (r *Registry) load(sc scope) *rules.Set {
	r.mu.RLock()
	cell := r.cells[sc]
	r.mu.RUnlock()
	if cell == nil {
		return nil
	}
	return cell.Load()
}

// HotSwap atomically activates a previously materialised version for
// (country, key). The swap is visible to all subsequent lookups immediately;
// evaluations in flight keep using the old immutable set.
func (r *Registry) HotSwap(country, key string, version int64) SwapResult {
	sc := normalize(country, key)

	r.mu.RLock()
	set := r.staged[sc][version]
	cell := r.cells[sc]
	r.mu.RUnlock()

	var oldVersion int64
	if cell != nil {
		if cur := cell.Load(); cur != nil {
			oldVersion = cur.Version
		}
	}

	if set == nil {
		metrics.RulesetSwaps.WithLabelValues("not_loaded").Inc()
		return SwapResult{
			Status:     "not_loaded",
			Message:    fmt.Sprintf("version %d of %s/%s is not materialised: %s", version, sc.country, sc.key, ErrVersionNotLoaded),
			OldVersion: oldVersion,
		}
	}
	if !r.allowRollback && oldVersion > 0 && version <= oldVersion {
		metrics.RulesetSwaps.WithLabelValues("version_conflict").Inc()
		return SwapResult{
			Status:     "version_conflict",
			Message:    fmt.Sprintf("version %d does not advance active version %d (rollback disabled)", version, oldVersion),
			OldVersion: oldVersion,
		}
	}

	r.activate(sc, set)
	metrics.RulesetSwaps.WithLabelValues("swapped").Inc()
	r.logger.Info("ruleset hot-swapped",
		"key", sc.key, "country", sc.country,
		"old_version", oldVersion, "new_version", version)
	return SwapResult{
		Success:    true,
		Status:     "swapped",
		Message:    fmt.Sprintf("activated %s/%s v%d", sc.country, sc.key, version),
		OldVersion: oldVersion,
	}
}

// LoadAndRegister fetches, compiles, stages and activates a rule set.
func (r *Registry) LoadAndRegister(country, key string, version int64) error {
	sc := normalize(country, key)

	art, err := r.loader.Load(sc.key, version, sc.country)
	if err != nil {
		return fmt.Errorf("load ruleset %s/%s v%d: %w", sc.country, sc.key, version, err)
	}
	set, err := rules.Build(art)
	if err != nil {
		return fmt.Errorf("build ruleset %s/%s v%d: %w", sc.country, sc.key, version, err)
	}

	r.mu.Lock()
	if r.staged[sc] == nil {
		r.staged[sc] = make(map[int64]*rules.Set)
	}
	r.staged[sc][version] = set
	r.mu.Unlock()

	r.activate(sc, set)
	r.logger.Info("ruleset loaded",
		"key", sc.key, "country", sc.country, "version", version, "rules", len(set.Rules))
	return nil
}

// BulkLoad loads each spec and returns how many succeeded. Individual
// failures are logged and skipped.
func (r *Registry) BulkLoad(specs []Spec) int {
	loaded := 0
	for _, s := range specs {
		if err := r.LoadAndRegister(s.Country, s.Key, s.Version); err != nil {
			r.logger.Warn("bulk load entry failed",
				"key", s.Key, "country", s.Country, "version", s.Version, "err", err)
			continue
		}
		loaded++
	}
	return loaded
}

func (r *Registry) activate(sc scope, set *rules.Set) {
	r.mu.Lock()
	cell := r.cells[sc]
	if cell == nil {
		cell = &atomic.Pointer[rules.Set]{}
		r.cells[sc] = cell
	}
	r.mu.Unlock()
	cell.Store(set)
}

// Countries lists the countries with at least one active rule set.
func (r *Registry) Countries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for sc, cell := range r.cells {
		if cell.Load() != nil {
			seen[sc.country] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Keys lists the rule-set keys active for a country.
func (r *Registry) Keys(country string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for sc, cell := range r.cells {
		if sc.country == country && cell.Load() != nil {
			out = append(out, sc.key)
		}
	}
	sort.Strings(out)
	return out
}

// Size returns the number of active rule sets across all scopes.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, cell := range r.cells {
		if cell.Load() != nil {
			n++
		}
	}
	return n
}

// StorageAccessible reports whether the artifact loader can reach its store.
func (r *Registry) StorageAccessible() bool {
	return r.loader != nil && r.loader.Accessible()
}

func normalize(country, key string) scope {
	if country == "" {
		country = FallbackCountry
	}
	return scope{country, key}
}
